package h2c

import (
	"io"
	"net"
	"sync"

	"golang.org/x/net/http2"

	"github.com/frankli0324/h2send/internal/obs"
)

// Config carries the two window options the connector recognizes.
type Config struct {
	// StreamWindowSize is the per-stream receive window advertised as
	// SETTINGS_INITIAL_WINDOW_SIZE.
	StreamWindowSize uint32
	// ConnWindowSize is the connection receive window, raised above the
	// protocol's 65535 default right after the preface.
	ConnWindowSize uint32
}

const (
	defaultStreamWindow = 2 << 20
	defaultConnWindow   = 8 << 20

	protoDefaultWindow = 65535
)

func (c Config) withDefaults() Config {
	if c.StreamWindowSize == 0 {
		c.StreamWindowSize = defaultStreamWindow
	}
	if c.ConnWindowSize == 0 {
		c.ConnWindowSize = defaultConnWindow
	}
	// the peer assumes the protocol default until the update frame
	// lands, never advertise less than that
	if c.ConnWindowSize < protoDefaultWindow {
		c.ConnWindowSize = protoDefaultWindow
	}
	if c.StreamWindowSize > maxFlowWindow {
		c.StreamWindowSize = maxFlowWindow
	}
	if c.ConnWindowSize > maxFlowWindow {
		c.ConnWindowSize = maxFlowWindow
	}
	return c
}

// Handshake negotiates a new multiplexed connection over nc: client
// preface, our SETTINGS (server push stays disabled, the client role
// never accepts peer initiated streams), the connection window update,
// then the server's SETTINGS. The returned connection does not read
// frames on its own, the caller owns scheduling of Serve.
func Handshake(nc net.Conn, cfg Config, log obs.Logger) (*Conn, error) {
	if log == nil {
		log = obs.NopLogger{}
	}
	cfg = cfg.withDefaults()

	c := &Conn{
		raw:          nc,
		log:          log,
		self:         newSelfSettings(cfg),
		peer:         newPeerSettings(),
		streams:      map[uint32]*Stream{},
		nextStreamID: 1,
		done:         make(chan struct{}),
	}
	c.condFlow = sync.NewCond(&c.muFlow)
	c.condStreams = sync.NewCond(&c.muStreams)
	c.framerMixin.init(nc)
	c.hpackMixin.init(func() uint32 {
		return c.peer.get(http2.SettingMaxHeaderListSize)
	})
	c.sendFlow.n = protoDefaultWindow
	c.recvFlow.init(cfg.ConnWindowSize)

	if _, err := io.WriteString(nc, http2.ClientPreface); err != nil {
		return nil, ioError{err}
	}
	if err := c.WriteSettings(c.self.advertise()...); err != nil {
		return nil, ioError{err}
	}
	if cfg.ConnWindowSize > protoDefaultWindow {
		if err := c.WriteWindowUpdate(0, cfg.ConnWindowSize-protoDefaultWindow); err != nil {
			return nil, ioError{err}
		}
	}

	// The server connection preface consists of a potentially empty
	// SETTINGS frame that MUST be the first frame the server sends.
	// https://httpwg.org/specs/rfc7540.html#rfc.section.3.5
	f, err := c.ReadFrame()
	if err != nil {
		return nil, ioError{err}
	}
	sf, ok := f.(*http2.SettingsFrame)
	if !ok || sf.IsAck() {
		c.GoAway(http2.ErrCodeProtocol)
		return nil, errServerPreface
	}
	if err := c.applyPeerSettings(sf); err != nil {
		c.GoAway(http2.ErrCodeProtocol)
		return nil, err
	}
	return c, nil
}
