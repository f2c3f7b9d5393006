package h2c

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"

	"github.com/frankli0324/h2send/internal/h2"
	"github.com/frankli0324/h2send/internal/obs"
)

// Conn is a multiplexed client connection over a raw transport stream.
// It is shared by concurrent requests: Open hands out per-request
// stream capabilities while the pool keeps checking the handle in and
// out. Frame I/O is driven by Serve, which the pool runs on its own
// goroutine.
type Conn struct {
	raw net.Conn
	log obs.Logger

	framerMixin
	hpackMixin

	self, peer *settings

	muFlow   sync.Mutex
	condFlow *sync.Cond
	sendFlow outflow // connection send window
	recvFlow inflow  // connection receive window

	muStreams    sync.RWMutex
	condStreams  *sync.Cond
	streams      map[uint32]*Stream
	nextStreamID uint32 // odd, client initiated
	lastOpened   uint32

	// hpack encoder state must match the order HEADERS frames hit the
	// wire, so stream-id assignment and header writes happen under one
	// lock
	muOpen sync.Mutex

	done       chan struct{}
	doneOnce   sync.Once
	doneReason error
	closing    uint32
}

// Err returns the terminal reason once the connection can no longer
// take new streams.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		if c.doneReason == nil {
			return ErrReasonNil
		}
		return c.doneReason
	default:
		return nil
	}
}

// Raw exposes the transport stream, the pool probes it for liveness.
func (c *Conn) Raw() net.Conn { return c.raw }

// Ready blocks until a new stream may be opened. The peer's
// MAX_CONCURRENT_STREAMS setting bounds how many requests may be in
// flight, so this is a suspension point under backpressure.
func (c *Conn) Ready(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.condStreams.Broadcast)
	defer stop()
	c.muStreams.Lock()
	defer c.muStreams.Unlock()
	for {
		if err := c.Err(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if uint32(len(c.streams)) < c.peer.get(http2.SettingMaxConcurrentStreams) {
			return nil
		}
		c.condStreams.Wait()
	}
}

// Open sends the request headers on a fresh stream and returns the
// per-request capabilities. endStream marks a request without a body
// phase.
func (c *Conn) Open(ctx context.Context, req *h2.Request, endStream bool) (h2.ResponseFuture, h2.SendStream, error) {
	if err := c.Err(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := newStream(c, endStream)

	c.muOpen.Lock()
	defer c.muOpen.Unlock()
	blob, err := c.encodeHeaders(func(f func(k, v string)) {
		f(":method", req.Method)
		f(":authority", req.Authority)
		if req.Scheme != "" {
			f(":scheme", req.Scheme)
		}
		if req.Path != "" {
			f(":path", req.Path)
		}
		for _, kv := range req.Fields {
			f(kv.Name, kv.Value)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	// the stream must be registered before the first byte hits the
	// wire, the response could race the register otherwise
	c.muStreams.Lock()
	s.id = c.nextStreamID
	c.nextStreamID += 2
	c.streams[s.id] = s
	c.muStreams.Unlock()
	atomic.StoreUint32(&c.lastOpened, s.id)

	if err := c.writeHeaderBlock(s.id, blob, endStream); err != nil {
		werr := ErrFramerWrite(s.id).Wrap(ioError{err})
		s.closeStream(werr)
		return nil, nil, werr
	}
	return s, s, nil
}

// writeHeaderBlock splits the block fragment into HEADERS plus
// CONTINUATION frames bounded by the peer's max frame size.
func (c *Conn) writeHeaderBlock(streamID uint32, data []byte, endStream bool) error {
	first := true
	for first || len(data) > 0 {
		var chunk []byte
		max := int(c.peer.maxFrameSize())
		endHeaders := len(data) <= max
		if !endHeaders {
			chunk, data = data[:max], data[max:]
		} else {
			chunk, data = data, nil
		}
		var err error
		if first {
			err = c.WriteHeaders(http2.HeadersFrameParam{
				StreamID:      streamID,
				BlockFragment: chunk,
				EndStream:     endStream,
				EndHeaders:    endHeaders,
			})
			first = false
		} else {
			err = c.WriteContinuation(streamID, endHeaders, chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Serve is the connection driver: it reads and dispatches frames until
// the transport fails or the connection is shut down. Ownership of the
// goroutine running Serve belongs to whoever manages the connection's
// lifetime, not to any single request.
func (c *Conn) Serve() error {
	for atomic.LoadUint32(&c.closing) == 0 {
		f, err := c.ReadFrame()
		if err != nil {
			if atomic.LoadUint32(&c.closing) == 0 {
				c.fatal(ioError{err})
				return err
			}
			return nil
		}
		switch frame := f.(type) {
		case *http2.SettingsFrame:
			if frame.IsAck() {
				continue
			}
			if err := c.applyPeerSettings(frame); err != nil {
				c.log.Logf(obs.Warn, "h2c: invalid settings from peer: %v", err)
				c.GoAway(http2.ErrCodeProtocol)
				return err
			}
		case *http2.MetaHeadersFrame:
			c.withStream(frame.StreamID, func(s *Stream) { s.handleHeaders(frame) })
		case *http2.DataFrame:
			c.handleData(frame)
		case *http2.WindowUpdateFrame:
			c.handleWindowUpdate(frame)
		case *http2.RSTStreamFrame:
			c.withStream(frame.StreamID, func(s *Stream) { s.handleReset(frame.ErrCode) })
		case *http2.PingFrame:
			if !frame.IsAck() {
				c.WritePing(true, frame.Data)
			}
		case *http2.GoAwayFrame:
			c.handleGoAway(frame)
		}
	}
	return nil
}

// applyPeerSettings merges a SETTINGS frame and acks it. A change to
// INITIAL_WINDOW_SIZE re-bases the send window of every open stream
// (rfc7540 6.9.2), possibly driving some negative.
func (c *Conn) applyPeerSettings(frame *http2.SettingsFrame) error {
	old := c.peer.get(http2.SettingInitialWindowSize)
	if err := c.peer.updateFrom(frame); err != nil {
		return err
	}
	if now := c.peer.get(http2.SettingInitialWindowSize); now != old {
		delta := int32(now) - int32(old)
		c.muStreams.RLock()
		c.muFlow.Lock()
		for _, s := range c.streams {
			s.sendFlow.put(delta)
		}
		c.muFlow.Unlock()
		c.muStreams.RUnlock()
		c.condFlow.Broadcast()
	}
	return c.WriteSettingsAck()
}

func (c *Conn) stream(id uint32) *Stream {
	c.muStreams.RLock()
	s := c.streams[id]
	c.muStreams.RUnlock()
	return s
}

// withStream runs f synchronously from the frame loop; frames for
// already-forgotten streams are dropped.
func (c *Conn) withStream(id uint32, f func(*Stream)) {
	if s := c.stream(id); s != nil {
		f(s)
	}
}

func (c *Conn) releaseStream(s *Stream) {
	c.muStreams.Lock()
	delete(c.streams, s.id)
	c.muStreams.Unlock()
	c.condStreams.Signal()
}

func (c *Conn) handleData(frame *http2.DataFrame) {
	length := frame.Header().Length // padding is flow controlled too
	c.muFlow.Lock()
	ok := c.recvFlow.stage(length)
	c.muFlow.Unlock()
	if !ok {
		c.GoAway(http2.ErrCodeFlowControl)
		return
	}
	s := c.stream(frame.StreamID)
	if s == nil {
		// stream already forgotten, just make the window whole
		c.refundConnWindow(length)
		return
	}
	s.handleData(frame.Data(), length, frame.StreamEnded())
}

func (c *Conn) handleWindowUpdate(frame *http2.WindowUpdateFrame) {
	if frame.StreamID == 0 {
		c.muFlow.Lock()
		ok := c.sendFlow.put(int32(frame.Increment))
		c.muFlow.Unlock()
		if !ok {
			c.GoAway(http2.ErrCodeFlowControl)
			return
		}
		c.condFlow.Broadcast()
		return
	}
	c.withStream(frame.StreamID, func(s *Stream) { s.handleWindowUpdate(frame.Increment) })
}

func (c *Conn) handleGoAway(frame *http2.GoAwayFrame) {
	debug := frame.DebugData()
	reason := &ReasonGoAway{
		code:   frame.ErrCode,
		debug:  append([]byte(nil), debug...),
		remote: true,
		last:   frame.LastStreamID,
	}
	c.doneOnce.Do(func() {
		c.doneReason = reason
		close(c.done)
	})
	c.log.Logf(obs.Info, "h2c: %v", reason)
	// the peer promises to still process streams at or below last,
	// only the rest are torn down
	c.closeStreamsAbove(frame.LastStreamID, reason)
	c.condStreams.Broadcast()
}

func (c *Conn) refundConnWindow(n uint32) {
	c.muFlow.Lock()
	inc := c.recvFlow.grant(n)
	c.muFlow.Unlock()
	if inc > 0 {
		c.WriteWindowUpdate(0, inc)
	}
}

func (c *Conn) closeStreamsAbove(last uint32, reason error) {
	c.muStreams.RLock()
	snapshot := make([]*Stream, 0, len(c.streams))
	for id, s := range c.streams {
		if id > last {
			snapshot = append(snapshot, s)
		}
	}
	c.muStreams.RUnlock()
	for _, s := range snapshot {
		s.closeStream(reason)
	}
}

// fatal tears the connection down after a transport failure.
func (c *Conn) fatal(reason error) {
	c.doneOnce.Do(func() {
		c.doneReason = reason
		close(c.done)
	})
	c.closeStreamsAbove(0, reason)
	c.condStreams.Broadcast()
	c.condFlow.Broadcast()
}

// GoAway actively discards the connection: GOAWAY frame, transport
// close, and failure of any stream still in flight.
func (c *Conn) GoAway(code http2.ErrCode) error {
	err := ErrMultipleGoAway
	var reason *ReasonGoAway
	c.doneOnce.Do(func() {
		reason = &ReasonGoAway{code: code, remote: false, last: atomic.LoadUint32(&c.lastOpened)}
		c.doneReason = reason
		close(c.done)
		err = c.WriteGoAway(reason.last, code, nil)
		atomic.StoreUint32(&c.closing, 1)
		c.raw.Close()
	})
	if reason != nil {
		c.closeStreamsAbove(0, reason)
	}
	c.condStreams.Broadcast()
	c.condFlow.Broadcast()
	return err
}

// Shutdown permanently discards the connection. The pool calls this
// for connections believed unhealthy or idled out.
func (c *Conn) Shutdown() error {
	err := c.GoAway(http2.ErrCodeNo)
	if err == ErrMultipleGoAway {
		// already terminal, e.g. the peer sent GOAWAY first; the
		// transport still has to go
		atomic.StoreUint32(&c.closing, 1)
		c.raw.Close()
		return nil
	}
	return err
}
