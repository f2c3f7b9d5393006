package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// SizeKind tags the BodySize variants.
type SizeKind uint8

const (
	// SizeNone means the request carries no body at all.
	SizeNone SizeKind = iota
	// SizeEmpty means the body is known to be empty.
	SizeEmpty
	// SizeSized means the body length is known in advance.
	SizeSized
	// SizeStream means the body length is unknown until exhaustion.
	SizeStream
)

// BodySize describes how much payload a Body will produce. It decides
// whether a content-length header is emitted and whether the request is
// dispatched with a body phase at all.
type BodySize struct {
	Kind SizeKind
	Len  int64
}

// Eof reports whether dispatch can end the stream at the headers frame.
func (s BodySize) Eof() bool {
	switch s.Kind {
	case SizeNone, SizeEmpty:
		return true
	case SizeSized:
		return s.Len == 0
	case SizeStream:
		return false
	}
	panic(fmt.Sprintf("http: unknown body size kind %d", s.Kind))
}

// Body produces the request payload as an ordered, finite chunk
// sequence. Next returns io.EOF after the final chunk; a returned chunk
// is only valid until the following Next call. A Body is never
// restarted.
type Body interface {
	Size() BodySize
	Next(ctx context.Context) ([]byte, error)
}

// NoBody is the Body of requests without a body phase.
var NoBody Body = noBody{}

type noBody struct{}

func (noBody) Size() BodySize                       { return BodySize{Kind: SizeNone} }
func (noBody) Next(context.Context) ([]byte, error) { return nil, io.EOF }

type bytesBody struct {
	data []byte
	read uint32
}

func (b *bytesBody) Size() BodySize {
	if len(b.data) == 0 {
		return BodySize{Kind: SizeSized, Len: 0}
	}
	return BodySize{Kind: SizeSized, Len: int64(len(b.data))}
}

func (b *bytesBody) Next(context.Context) ([]byte, error) {
	if atomic.CompareAndSwapUint32(&b.read, 0, 1) {
		return b.data, nil
	}
	return nil, io.EOF
}

const readerChunk = 32 << 10

type readerBody struct {
	r    io.Reader
	size BodySize
	buf  []byte
	done bool
}

func (b *readerBody) Size() BodySize { return b.size }

func (b *readerBody) Next(ctx context.Context) ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.buf == nil {
		b.buf = make([]byte, readerChunk)
	}
	for {
		n, err := b.r.Read(b.buf)
		if n > 0 {
			if err == io.EOF {
				b.done = true
			}
			return b.buf[:n], nil
		}
		if err == io.EOF {
			b.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}

// BodyOf adapts the user supplied body value into a Body producer,
// deriving the BodySize the same way net/http.NewRequest peeks at
// well-known reader types.
func BodyOf(body interface{}) (Body, error) {
	switch b := body.(type) {
	case nil:
		return NoBody, nil
	case string:
		return &bytesBody{data: []byte(b)}, nil
	case []byte:
		return &bytesBody{data: b}, nil
	case *bytes.Buffer:
		return &bytesBody{data: b.Bytes()}, nil
	case *bytes.Reader:
		return &readerBody{r: b, size: BodySize{Kind: SizeSized, Len: int64(b.Len())}}, nil
	case *strings.Reader:
		return &readerBody{r: b, size: BodySize{Kind: SizeSized, Len: int64(b.Len())}}, nil
	case Body:
		return b, nil
	case io.Reader:
		if sizer, ok := b.(interface{ Size() int64 }); ok {
			return &readerBody{r: b, size: BodySize{Kind: SizeSized, Len: sizer.Size()}}, nil
		}
		return &readerBody{r: b, size: BodySize{Kind: SizeStream}}, nil
	default:
		return nil, fmt.Errorf("unsupported body type: %T", body)
	}
}
