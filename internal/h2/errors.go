package h2

import (
	"errors"
	"io"
	"net"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	// KindNotReady: the wait for connection send-readiness failed.
	KindNotReady Kind = iota
	// KindDispatch: opening the stream / sending headers failed.
	KindDispatch
	// KindIO: a transport level failure.
	KindIO
	// KindBodyProducer: the request body source failed mid-stream.
	KindBodyProducer
	// KindProtocol: the engine reported a protocol level failure.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNotReady:
		return "connection not ready"
	case KindDispatch:
		return "dispatch failed"
	case KindIO:
		return "io failure"
	case KindBodyProducer:
		return "request body failure"
	case KindProtocol:
		return "protocol error"
	}
	return "unknown"
}

// RequestError is the terminal error of a dispatch attempt.
type RequestError struct {
	kind Kind
	error
}

func (e *RequestError) Kind() Kind { return e.kind }

func (e *RequestError) Error() string {
	msg := e.kind.String()
	if e.error != nil {
		msg += ": " + e.error.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.error }

func (e *RequestError) Is(err error) bool {
	if err, ok := err.(*RequestError); ok {
		return e.kind == err.kind
	}
	return false
}

func reqErr(kind Kind, err error) *RequestError {
	return &RequestError{kind, err}
}

// IOError marks engine errors caused by the transport rather than the
// protocol state machine.
type IOError interface {
	error
	IO() bool
}

// isIO reports whether err originates from transport level I/O, which
// decides between KindIO and the phase specific kind.
func isIO(err error) bool {
	var ioErr IOError
	if errors.As(err, &ioErr) {
		return ioErr.IO()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// classify wraps an engine error, preferring KindIO over the phase kind
// for transport level failures.
func classify(err error, phase Kind) *RequestError {
	if isIO(err) {
		return reqErr(KindIO, err)
	}
	return reqErr(phase, err)
}
