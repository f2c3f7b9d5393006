package h2

import (
	"context"
	"io"
	"time"

	"github.com/frankli0324/h2send/internal/http"
)

// SendRequest dispatches one request over the checked out connection
// and resolves the checkout token on every path.
//
// The token is released as soon as the stream is open: the connection
// multiplexes, so other callers can reuse it while this request's
// stream keeps running on its own send/response capabilities. Any
// failure before that point discards the connection instead.
func SendRequest(ctx context.Context, acquired *Acquired, head *http.RequestHead, body http.Body) (*http.ResponseHead, io.ReadCloser, error) {
	req, eof := Translate(head, body.Size())
	conn := acquired.Conn()

	if err := conn.Ready(ctx); err != nil {
		acquired.Close()
		return nil, nil, classify(err, KindNotReady)
	}
	fut, send, err := conn.Open(ctx, req, eof)
	if err != nil {
		acquired.Close()
		return nil, nil, classify(err, KindDispatch)
	}
	acquired.Release(time.Now())

	if !eof {
		if err := sendBody(ctx, body, send); err != nil {
			return nil, nil, err
		}
	}
	resp, err := fut.Response(ctx)
	if err != nil {
		return nil, nil, classify(err, KindProtocol)
	}
	rh, payload := buildResponse(resp, head.Method == "HEAD")
	return rh, payload, nil
}
