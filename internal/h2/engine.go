package h2

import (
	"context"
	"io"

	"golang.org/x/net/http2/hpack"
)

// Request is the protocol shaped request descriptor produced by
// [Translate]. Field names are already lowercased for the wire.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string

	// Fields holds the merged regular headers in emission order.
	Fields []hpack.HeaderField
}

// Response is the engine level response, before it is converted back
// into the generic head + payload form.
type Response struct {
	Status int
	Fields []hpack.HeaderField
	Body   io.ReadCloser
}

// Conn is the send half of a multiplexed connection. It is shared by
// every request in flight on that connection; dispatch never assumes
// exclusive ownership of it.
type Conn interface {
	// Ready blocks until a new stream may be opened, typically bounded
	// by the peer's concurrent stream limit. An error means the
	// connection can no longer take requests.
	Ready(ctx context.Context) error

	// Open sends the request headers on a fresh stream. endStream marks
	// the request as having no body phase. The returned capabilities
	// stay valid independent of the pool checkout state.
	Open(ctx context.Context, req *Request, endStream bool) (ResponseFuture, SendStream, error)
}

// SendStream is the per-request capability for the outbound body.
type SendStream interface {
	// Reserve records how many bytes the sender wants to transmit next.
	// Reserve(0) drops any outstanding reservation.
	Reserve(n int)

	// Capacity blocks until the peer grants send capacity for the
	// current reservation. A grant of 0 with a nil error means no more
	// capacity will ever come (e.g. the peer half-closed the stream);
	// the caller stops sending without error.
	Capacity(ctx context.Context) (int, error)

	// Send emits one data frame. p never exceeds the last grant
	// returned by Capacity. The terminal empty frame is sent with
	// endStream set and an empty p.
	Send(p []byte, endStream bool) error

	// Cancel aborts outbound streaming without a clean end of stream,
	// resetting the stream so the peer stops waiting for body data and
	// the connection frees the stream slot. Idempotent, and a no-op on
	// a stream that already ended.
	Cancel()
}

// ResponseFuture resolves once the response headers frame arrives.
type ResponseFuture interface {
	Response(ctx context.Context) (*Response, error)
}
