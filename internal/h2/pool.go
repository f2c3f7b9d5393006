package h2

import (
	"sync/atomic"
	"time"
)

// Pool is the coordinator a connection is checked out from. Release
// returns a healthy connection for reuse, recording its last-used time
// for idle-timeout eviction; Close discards a connection believed
// unhealthy.
type Pool interface {
	Release(c Conn, lastUsed time.Time)
	Close(c Conn)
}

// Acquired is the linear checkout token for one dispatch attempt.
// Exactly one of Release or Close must be called before control returns
// to the caller, on every code path. Resolving twice is a programming
// error and panics.
type Acquired struct {
	pool     Pool
	conn     Conn
	resolved uint32
}

func NewAcquired(p Pool, c Conn) *Acquired {
	return &Acquired{pool: p, conn: c}
}

// Conn returns the shared connection handle. The handle outlives the
// checkout; callers may keep using per-stream capabilities after the
// token is resolved.
func (a *Acquired) Conn() Conn { return a.conn }

// Release resolves the token by returning the connection to the pool.
func (a *Acquired) Release(lastUsed time.Time) {
	a.resolve()
	a.pool.Release(a.conn, lastUsed)
}

// Close resolves the token by discarding the connection.
func (a *Acquired) Close() {
	a.resolve()
	a.pool.Close(a.conn)
}

// Resolved reports whether the token has been consumed.
func (a *Acquired) Resolved() bool {
	return atomic.LoadUint32(&a.resolved) != 0
}

func (a *Acquired) resolve() {
	if !atomic.CompareAndSwapUint32(&a.resolved, 0, 1) {
		panic("h2: pool checkout resolved twice")
	}
}
