package internal

import (
	"time"

	"sigs.k8s.io/yaml"
)

// Config is the connector configuration. The zero value is usable,
// Normalize fills in the defaults.
type Config struct {
	// StreamWindowSize is the initial per-stream flow-control window.
	StreamWindowSize uint32 `json:"stream_window_size"`
	// ConnWindowSize is the initial per-connection flow-control window.
	ConnWindowSize uint32 `json:"conn_window_size"`

	MaxIdlePerHost     int  `json:"max_idle_per_host"`
	IdleTimeoutSeconds uint `json:"idle_timeout_seconds"`
}

func (c Config) Normalize() Config {
	if c.MaxIdlePerHost <= 0 {
		c.MaxIdlePerHost = 2
	}
	if c.IdleTimeoutSeconds == 0 {
		c.IdleTimeoutSeconds = 90
	}
	return c
}

func (c Config) idleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// ParseConfig loads a Config from YAML (or JSON, which is a subset).
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c.Normalize(), nil
}
