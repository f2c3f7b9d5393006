package internal

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	nethttp "net/http"
	"strconv"

	"github.com/frankli0324/h2send/internal/h2"
	"github.com/frankli0324/h2send/internal/h2c"
	"github.com/frankli0324/h2send/internal/http"
	"github.com/frankli0324/h2send/internal/obs"
	"github.com/frankli0324/h2send/utils/netpool"
)

// DialFunc produces the raw transport stream a connection is
// negotiated over. The default dials TLS with the h2 ALPN token.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type Client struct {
	cfg   Config
	dial  DialFunc
	log   obs.Logger
	meter obs.Meter
	pool  *netpool.Pool
}

func New(cfg Config) *Client {
	c := &Client{
		cfg:   cfg.Normalize(),
		log:   obs.NopLogger{},
		meter: obs.NopMeter{},
	}
	c.pool = netpool.New(c.connect, c.cfg.MaxIdlePerHost, c.cfg.idleTimeout())
	return c
}

// UseDial replaces the transport dialer. Must be called before the
// first request.
func (c *Client) UseDial(d DialFunc) { c.dial = d }

// SetObserver wires logging and metrics. Must be called before the
// first request.
func (c *Client) SetObserver(log obs.Logger, meter obs.Meter) {
	if log != nil {
		c.log = log
	}
	if meter != nil {
		c.meter = meter
	}
	c.pool.SetObserver(log, meter)
}

// Close discards pooled connections.
func (c *Client) Close() { c.pool.Close() }

// connect is the pool's connection factory: dial, negotiate, and hand
// the frame driver over to the pool's goroutine.
func (c *Client) connect(ctx context.Context, key string) (netpool.Conn, netpool.Driver, error) {
	dial := c.dial
	if dial == nil {
		dial = defaultDial
	}
	nc, err := dial(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	hc, err := h2c.Handshake(nc, h2c.Config{
		StreamWindowSize: c.cfg.StreamWindowSize,
		ConnWindowSize:   c.cfg.ConnWindowSize,
	}, c.log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return hc, hc.Serve, nil
}

var errNotH2 = errors.New("peer did not negotiate h2")

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	d := &tls.Dialer{Config: &tls.Config{NextProtos: []string{"h2"}}}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if nc.(*tls.Conn).ConnectionState().NegotiatedProtocol != "h2" {
		nc.Close()
		return nil, errNotH2
	}
	return nc, nil
}

func (c *Client) CtxDo(ctx context.Context, req *http.Request) (*http.Response, error) {
	head, body, err := req.Prepare()
	if err != nil {
		return nil, err
	}
	key := head.U.Host
	if head.U.Port() == "" {
		key = net.JoinHostPort(key, "443")
	}
	c.log.Logf(obs.Debug, "sending client request: %s %s", head.Method, head.U)

	acquired, err := c.pool.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	rh, payload, err := h2.SendRequest(ctx, acquired, head, body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Proto:      rh.Proto,
		Status:     strconv.Itoa(rh.Status) + " " + nethttp.StatusText(rh.Status),
		StatusCode: rh.Status,
		Header:     rh.Header,
		Body:       payload,
	}, nil
}
