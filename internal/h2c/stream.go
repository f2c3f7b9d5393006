package h2c

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/frankli0324/h2send/internal/h2"
)

// Stream is the per-request capability pair: the send half implements
// h2.SendStream, the receive half h2.ResponseFuture. It stays valid
// after the connection went back to the pool.
type Stream struct {
	conn *Conn
	id   uint32

	// guarded by conn.muFlow
	sendFlow    outflow
	recvFlow    inflow
	reserved    int
	peerDidRST  bool
	peerRSTCode http2.ErrCode

	recv   *recvBuffer
	respCh chan *http2.MetaHeadersFrame

	localEOS   uint32 // end-of-stream sent (or none was ever due)
	remoteEOS  uint32 // peer ended its side
	rstOnce    sync.Once
	doneOnce   sync.Once
	doneReason error
	done       chan struct{}
}

func newStream(c *Conn, endStream bool) *Stream {
	s := &Stream{
		conn:   c,
		respCh: make(chan *http2.MetaHeadersFrame, 1),
		done:   make(chan struct{}),
	}
	if endStream {
		s.localEOS = 1
	}
	s.recv = newRecvBuffer(s.refundWindows, s.abandonBody)
	c.muFlow.Lock()
	s.sendFlow.n = int32(c.peer.get(http2.SettingInitialWindowSize))
	s.recvFlow.init(c.self.get(http2.SettingInitialWindowSize))
	c.muFlow.Unlock()
	return s
}

func (s *Stream) ID() uint32 { return s.id }

// Reserve records the sender's outstanding demand. Capacity only hands
// out grants against it.
func (s *Stream) Reserve(n int) {
	s.conn.muFlow.Lock()
	s.reserved = n
	s.conn.muFlow.Unlock()
}

// Capacity blocks until some send capacity is available for the current
// reservation. The grant is carved out of both the stream and the
// connection window before returning, bounded by the peer's max frame
// size, so a following Send of that many bytes cannot over-send.
//
// A 0, nil return means sending is over: either nothing is reserved, or
// the peer closed the stream early, which ends outbound streaming
// silently.
func (s *Stream) Capacity(ctx context.Context) (int, error) {
	c := s.conn
	stop := context.AfterFunc(ctx, c.condFlow.Broadcast)
	defer stop()
	c.muFlow.Lock()
	defer c.muFlow.Unlock()
	for {
		select {
		case <-s.done:
			if s.closedBenignLocked() {
				return 0, nil
			}
			return 0, s.doneReason
		default:
		}
		if err := ctx.Err(); err != nil {
			return 0, ErrStreamCancelled(s.id).Wrap(err)
		}
		if s.reserved == 0 {
			return 0, nil
		}
		avail := s.sendFlow.available()
		if connAvail := c.sendFlow.available(); connAvail < avail {
			avail = connAvail
		}
		if max := int32(c.peer.maxFrameSize()); avail > max {
			avail = max
		}
		if int(avail) > s.reserved {
			avail = int32(s.reserved)
		}
		if avail > 0 {
			s.sendFlow.take(avail)
			c.sendFlow.take(avail)
			s.reserved -= int(avail)
			return int(avail), nil
		}
		c.condFlow.Wait()
	}
}

// Cancel aborts the request body. The peer would otherwise wait for
// the rest of the stream forever, holding a concurrency slot on both
// sides.
func (s *Stream) Cancel() {
	s.reset(http2.ErrCodeCancel)
}

// closedBenignLocked reports whether the stream ended in a way that
// should not fail the sender: a clean close, or a peer reset that just
// means "stop sending".
func (s *Stream) closedBenignLocked() bool {
	if s.doneReason == nil {
		return true
	}
	return s.peerDidRST && (s.peerRSTCode == http2.ErrCodeNo || s.peerRSTCode == http2.ErrCodeCancel)
}

// Send emits one data frame. p is never larger than the last grant.
func (s *Stream) Send(p []byte, endStream bool) error {
	select {
	case <-s.done:
		s.conn.muFlow.Lock()
		benign := s.closedBenignLocked()
		s.conn.muFlow.Unlock()
		if benign {
			return nil // stream is gone, nobody wants the frame
		}
		return s.doneReason
	default:
	}
	if err := s.conn.WriteData(s.id, endStream, p); err != nil {
		return ErrFramerWrite(s.id).Wrap(ioError{err})
	}
	if endStream {
		atomic.StoreUint32(&s.localEOS, 1)
		s.maybeFinish()
	}
	return nil
}

// Response resolves once the response headers frame arrives.
func (s *Stream) Response(ctx context.Context) (*h2.Response, error) {
	select {
	case mf := <-s.respCh:
		return s.buildResponse(mf)
	default:
	}
	select {
	case mf := <-s.respCh:
		return s.buildResponse(mf)
	case <-ctx.Done():
		s.reset(http2.ErrCodeCancel)
		return nil, ErrStreamCancelled(s.id).Wrap(ctx.Err())
	case <-s.done:
		// the headers may have raced the close
		select {
		case mf := <-s.respCh:
			return s.buildResponse(mf)
		default:
		}
		if s.doneReason != nil {
			return nil, s.doneReason
		}
		return nil, ErrNoResponse(s.id)
	}
}

func (s *Stream) buildResponse(mf *http2.MetaHeadersFrame) (*h2.Response, error) {
	status, err := strconv.Atoi(mf.PseudoValue("status"))
	if err != nil {
		s.reset(http2.ErrCodeProtocol)
		return nil, ErrNoResponse(s.id).Wrap(err)
	}
	fields := make([]hpack.HeaderField, 0, len(mf.RegularFields()))
	fields = append(fields, mf.RegularFields()...)
	return &h2.Response{Status: status, Fields: fields, Body: s.recv}, nil
}

// handleHeaders runs on the frame loop. Informational responses are
// skipped; a second headers block is the trailers, which are dropped.
func (s *Stream) handleHeaders(mf *http2.MetaHeadersFrame) {
	if status := mf.PseudoValue("status"); status != "" && status[0] == '1' {
		if mf.StreamEnded() {
			s.endRemote()
		}
		return
	}
	select {
	case s.respCh <- mf:
	default: // trailers
	}
	if mf.StreamEnded() {
		s.endRemote()
	}
}

func (s *Stream) handleData(data []byte, length uint32, ended bool) {
	c := s.conn
	c.muFlow.Lock()
	ok := s.recvFlow.stage(length)
	c.muFlow.Unlock()
	if !ok {
		c.refundConnWindow(length)
		s.reset(http2.ErrCodeFlowControl)
		return
	}
	if pad := length - uint32(len(data)); pad > 0 {
		// padding never reaches the consumer, refund it right away
		c.refundConnWindow(pad)
		s.refundStreamWindow(pad)
	}
	s.recv.put(data)
	if ended {
		s.endRemote()
	}
}

func (s *Stream) handleWindowUpdate(incr uint32) {
	c := s.conn
	c.muFlow.Lock()
	ok := s.sendFlow.put(int32(incr))
	c.muFlow.Unlock()
	if !ok {
		s.reset(http2.ErrCodeFlowControl)
		return
	}
	c.condFlow.Broadcast()
}

func (s *Stream) handleReset(code http2.ErrCode) {
	s.conn.muFlow.Lock()
	s.peerDidRST, s.peerRSTCode = true, code
	s.conn.muFlow.Unlock()
	s.rstOnce.Do(func() {}) // never answer a reset with a reset
	s.closeStream(ErrStreamResetRemote(s.id, code))
}

// refundWindows returns consumed body bytes to the peer's windows.
func (s *Stream) refundWindows(n int) {
	s.conn.refundConnWindow(uint32(n))
	s.refundStreamWindow(uint32(n))
}

func (s *Stream) refundStreamWindow(n uint32) {
	c := s.conn
	c.muFlow.Lock()
	inc := s.recvFlow.grant(n)
	c.muFlow.Unlock()
	if inc > 0 && atomic.LoadUint32(&s.remoteEOS) == 0 {
		c.WriteWindowUpdate(s.id, inc)
	}
}

// abandonBody fires when the response body reader gives up before the
// stream ended.
func (s *Stream) abandonBody() {
	s.reset(http2.ErrCodeCancel)
}

// reset is a locally initiated reset.
func (s *Stream) reset(code http2.ErrCode) {
	s.rstOnce.Do(func() {
		s.conn.WriteRSTStream(s.id, code)
	})
	s.closeStream(ErrStreamResetLocal(s.id, code))
}

func (s *Stream) endRemote() {
	atomic.StoreUint32(&s.remoteEOS, 1)
	s.recv.closeWith(nil)
	s.maybeFinish()
}

func (s *Stream) maybeFinish() {
	if atomic.LoadUint32(&s.localEOS) == 1 && atomic.LoadUint32(&s.remoteEOS) == 1 {
		s.closeStream(nil)
	}
}

func (s *Stream) closeStream(reason error) {
	s.doneOnce.Do(func() {
		s.doneReason = reason
		close(s.done)
		s.recv.closeWith(reason)
		s.conn.releaseStream(s)
		s.conn.condFlow.Broadcast()
	})
}
