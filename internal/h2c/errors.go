package h2c

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/net/http2"
)

var (
	ErrMultipleGoAway = errors.New("connection already seen GOAWAY")
	ErrReasonNil      = errors.New("connection closed without reason, this is unexpected")

	errServerPreface = errors.New("h2c: connection error, first frame sent by server not settings")
)

// ioError marks transport level failures so the dispatch layer can tell
// them apart from protocol state errors.
type ioError struct {
	error
}

func (e ioError) IO() bool      { return true }
func (e ioError) Unwrap() error { return e.error }

// ReasonGoAway is the terminal state of a connection that saw GOAWAY.
type ReasonGoAway struct {
	code   http2.ErrCode
	debug  []byte
	remote bool
	last   uint32
}

func (r *ReasonGoAway) Error() string {
	return fmt.Sprintf("GOAWAY seen on connection, err:%s, sent by remote peer:%t, last:%d", r.code.String(), r.remote, r.last)
}

// StreamError annotates a failure with the stream it happened on.
type StreamError struct {
	msg      string
	streamID uint32
	error
}

func (e StreamError) Error() string {
	msg := e.msg + " at stream " + strconv.FormatInt(int64(e.streamID), 10)
	if e.error != nil {
		msg += ", error: " + e.error.Error()
	}
	return msg
}

func (e StreamError) Wrap(err error) StreamError {
	if err == nil {
		return e
	}
	return StreamError{e.msg, e.streamID, err}
}

func (e StreamError) Unwrap() error { return e.error }

func (e StreamError) Is(err error) bool {
	if err, ok := err.(StreamError); ok {
		return e.msg == err.msg
	}
	return false
}

func reg(msg string) func(streamID uint32) StreamError {
	return func(streamID uint32) StreamError { return StreamError{msg: msg, streamID: streamID} }
}

var (
	ErrStreamCancelled = reg("stream cancelled by context")
	ErrFramerWrite     = reg("internal: framer write error")
	ErrNoResponse      = reg("stream closed before response headers")
)

type h2Code http2.ErrCode

func (c h2Code) Error() string {
	return http2.ErrCode(c).String()
}

var (
	ErrStreamResetRemote = func(streamID uint32, code http2.ErrCode) StreamError {
		return StreamError{"remote stream reset", streamID, h2Code(code)}
	}
	ErrStreamResetLocal = func(streamID uint32, code http2.ErrCode) StreamError {
		return StreamError{"local stream reset", streamID, h2Code(code)}
	}
)
