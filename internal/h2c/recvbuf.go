package h2c

import (
	"io"
	"sync"

	"github.com/eapache/queue"
)

// recvBuffer decouples the frame read loop from the response body
// reader: the loop appends chunks and never blocks on a slow consumer.
// Flow-control windows are refunded only for bytes the consumer
// actually took.
type recvBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	q    *queue.Queue // of []byte
	head []byte       // partially consumed front chunk

	err    error // terminal state, io.EOF on a clean end of stream
	closed bool  // reader abandoned the body

	onConsume func(n int)
	onCancel  func()
}

func newRecvBuffer(onConsume func(n int), onCancel func()) *recvBuffer {
	b := &recvBuffer{
		q:         queue.New(),
		onConsume: onConsume,
		onCancel:  onCancel,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// put queues a copy of p for the reader. Data arriving after the
// terminal state or after the reader gave up is dropped.
func (b *recvBuffer) put(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	if b.err == nil && !b.closed {
		b.q.Add(append([]byte(nil), p...))
		b.cond.Signal()
	}
	b.mu.Unlock()
}

// closeWith sets the terminal state. Queued chunks are still delivered
// before err surfaces. A nil err means a clean end of stream.
func (b *recvBuffer) closeWith(err error) {
	if err == nil {
		err = io.EOF
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *recvBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	for b.head == nil && b.q.Length() == 0 && b.err == nil && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		b.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if b.head == nil && b.q.Length() > 0 {
		b.head = b.q.Remove().([]byte)
	}
	if b.head != nil {
		n := copy(p, b.head)
		if b.head = b.head[n:]; len(b.head) == 0 {
			b.head = nil
		}
		b.mu.Unlock()
		if b.onConsume != nil {
			b.onConsume(n)
		}
		return n, nil
	}
	err := b.err
	b.mu.Unlock()
	return 0, err
}

// Close abandons the body. Anything still queued counts as consumed so
// the peer's windows are made whole.
func (b *recvBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pending := 0
	if b.head != nil {
		pending += len(b.head)
		b.head = nil
	}
	for b.q.Length() > 0 {
		pending += len(b.q.Remove().([]byte))
	}
	terminal := b.err != nil
	b.cond.Broadcast()
	b.mu.Unlock()

	if pending > 0 && b.onConsume != nil {
		b.onConsume(pending)
	}
	if !terminal && b.onCancel != nil {
		b.onCancel()
	}
	return nil
}
