package h2c

import (
	"sync"

	"golang.org/x/net/http2"
)

const (
	minMaxFrameSize = 1 << 14
	maxMaxFrameSize = 1<<24 - 1
)

// settings is one side's view of the six RFC 7540 settings.
type settings struct {
	mu sync.RWMutex
	v  [8]uint32 // http2.SettingID -> Val
}

func newSelfSettings(cfg Config) *settings {
	s := &settings{}
	s.v[http2.SettingHeaderTableSize] = 4096
	s.v[http2.SettingEnablePush] = 0 // the client role never accepts pushed streams
	s.v[http2.SettingMaxConcurrentStreams] = 1000
	s.v[http2.SettingInitialWindowSize] = cfg.StreamWindowSize
	s.v[http2.SettingMaxFrameSize] = 1 << 20
	s.v[http2.SettingMaxHeaderListSize] = 10 << 20
	return s
}

// newPeerSettings starts from the RFC defaults, the peer's SETTINGS
// frames overwrite these during and after the handshake.
func newPeerSettings() *settings {
	s := &settings{}
	s.v[http2.SettingHeaderTableSize] = 4096
	s.v[http2.SettingEnablePush] = 1
	s.v[http2.SettingMaxConcurrentStreams] = 1000
	s.v[http2.SettingInitialWindowSize] = 65535
	s.v[http2.SettingMaxFrameSize] = 16384
	s.v[http2.SettingMaxHeaderListSize] = 0xffffffff
	return s
}

func (s *settings) get(id http2.SettingID) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v[id]
}

func (s *settings) updateFrom(frame *http2.SettingsFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return frame.ForeachSetting(func(i http2.Setting) error {
		if int(i.ID) >= len(s.v) {
			// rfc7540 6.5.2, unknown settings MUST be ignored
			return nil
		}
		if err := i.Valid(); err != nil {
			return err
		}
		s.v[i.ID] = i.Val
		return nil
	})
}

// advertise lists the settings worth putting on the wire.
func (s *settings) advertise() []http2.Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]http2.Setting, 0, 6)
	for id := 1; id <= 6; id++ {
		setting := http2.Setting{ID: http2.SettingID(id), Val: s.v[id]}
		if setting.Valid() == nil {
			out = append(out, setting)
		}
	}
	return out
}

func (s *settings) maxFrameSize() uint32 {
	fs := s.get(http2.SettingMaxFrameSize)
	if fs < minMaxFrameSize {
		return minMaxFrameSize
	}
	if fs > maxMaxFrameSize {
		return maxMaxFrameSize
	}
	return fs
}
