package h2

import (
	"io"
	nethttp "net/http"

	"github.com/frankli0324/h2send/internal/http"
)

// buildResponse splits the engine response into the generic head plus
// payload. HEAD responses carry no semantic body even when the peer
// frames one, so the payload is forced empty and the framed body is
// discarded.
func buildResponse(resp *Response, headReq bool) (*http.ResponseHead, io.ReadCloser) {
	head := &http.ResponseHead{
		Status: resp.Status,
		Proto:  "HTTP/2.0",
	}
	for _, f := range resp.Fields {
		head.Header.Add(f.Name, f.Value)
	}
	if headReq {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return head, nethttp.NoBody
	}
	if resp.Body == nil {
		return head, nethttp.NoBody
	}
	return head, resp.Body
}
