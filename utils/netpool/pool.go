// package netpool keeps healthy multiplexed connections around for
// reuse, keyed by host. It owns the driver goroutine of every
// connection it creates; the dispatch core only ever sees the
// release/close contract through its checkout token.
package netpool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/frankli0324/h2send/internal/h2"
	"github.com/frankli0324/h2send/internal/obs"
)

// Conn is what the pool stores: the send half consumed by dispatch
// plus the health and teardown hooks the pool itself needs.
type Conn interface {
	h2.Conn
	Err() error
	Shutdown() error
	Raw() net.Conn
}

// Driver performs a connection's ongoing frame I/O. The pool schedules
// it on a goroutine it owns.
type Driver func() error

// Factory dials and negotiates a new connection for key.
type Factory func(ctx context.Context, key string) (Conn, Driver, error)

type entry struct {
	conn     Conn
	lastUsed time.Time
}

type Pool struct {
	mu   sync.Mutex
	idle map[string][]*entry

	factory        Factory
	maxIdlePerHost int
	idleTimeout    time.Duration

	log   obs.Logger
	meter obs.Meter
}

func New(factory Factory, maxIdlePerHost int, idleTimeout time.Duration) *Pool {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 2
	}
	return &Pool{
		idle:           map[string][]*entry{},
		factory:        factory,
		maxIdlePerHost: maxIdlePerHost,
		idleTimeout:    idleTimeout,
		log:            obs.NopLogger{},
		meter:          obs.NopMeter{},
	}
}

// SetObserver must be called before the pool is used.
func (p *Pool) SetObserver(log obs.Logger, meter obs.Meter) {
	if log != nil {
		p.log = log
	}
	if meter != nil {
		p.meter = meter
	}
}

// Acquire checks a connection out of the pool, dialing a fresh one when
// no stored connection survives the health checks. The returned token
// must be resolved exactly once by the caller's dispatch attempt.
func (p *Pool) Acquire(ctx context.Context, key string) (*h2.Acquired, error) {
	for {
		p.mu.Lock()
		list := p.idle[key]
		var e *entry
		if n := len(list); n > 0 {
			e, p.idle[key] = list[n-1], list[:n-1]
		}
		p.mu.Unlock()
		if e == nil {
			break
		}
		if p.idleTimeout != 0 && time.Since(e.lastUsed) > p.idleTimeout {
			p.meter.Counter("netpool_idle_expired", 1)
			e.conn.Shutdown()
			continue
		}
		if e.conn.Err() != nil || !probeAlive(e.conn.Raw()) {
			p.meter.Counter("netpool_dead", 1)
			e.conn.Shutdown()
			continue
		}
		p.meter.Counter("netpool_reuse", 1)
		return h2.NewAcquired(keyed{p, key}, e.conn), nil
	}

	conn, driver, err := p.factory(ctx, key)
	if err != nil {
		return nil, err
	}
	p.meter.Counter("netpool_dial", 1)
	go func() {
		if err := driver(); err != nil {
			p.log.Logf(obs.Warn, "netpool: driver for %s exited: %v", key, err)
		}
	}()
	return h2.NewAcquired(keyed{p, key}, conn), nil
}

// Close shuts down every stored connection.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = map[string][]*entry{}
	p.mu.Unlock()
	for _, list := range idle {
		for _, e := range list {
			e.conn.Shutdown()
		}
	}
}

// keyed binds the release side of the pool contract to a host key; it
// is what the checkout token resolves against.
type keyed struct {
	p   *Pool
	key string
}

func (k keyed) Release(c h2.Conn, lastUsed time.Time) {
	conn, ok := c.(Conn)
	if !ok {
		return
	}
	if conn.Err() != nil {
		k.p.meter.Counter("netpool_dead", 1)
		conn.Shutdown()
		return
	}
	k.p.mu.Lock()
	list := k.p.idle[k.key]
	// concurrent requests share one multiplexed connection, it may
	// already have found its way back
	for _, e := range list {
		if e.conn == conn {
			if lastUsed.After(e.lastUsed) {
				e.lastUsed = lastUsed
			}
			k.p.mu.Unlock()
			return
		}
	}
	if len(list) >= k.p.maxIdlePerHost {
		k.p.mu.Unlock()
		k.p.meter.Counter("netpool_overflow", 1)
		conn.Shutdown()
		return
	}
	k.p.idle[k.key] = append(list, &entry{conn: conn, lastUsed: lastUsed})
	k.p.mu.Unlock()
}

func (k keyed) Close(c h2.Conn) {
	if conn, ok := c.(Conn); ok {
		k.p.meter.Counter("netpool_discard", 1)
		conn.Shutdown()
	}
}
