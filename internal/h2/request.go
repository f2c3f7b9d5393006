package h2

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/frankli0324/h2send/internal/http"
)

// Translate builds the protocol request descriptor from the generic
// head plus its overlay, and reports whether the request has no body
// phase (eof).
//
// "connection" and "transfer-encoding" never make it onto the wire, an
// HTTP/2 peer treats them as malformed. A caller supplied
// content-length is dropped unless the body size is Stream: for known
// sizes this layer synthesizes the value itself, for SizeNone there is
// nothing the header could describe, but an unknown-length body keeps
// whatever length the caller claimed.
func Translate(head *http.RequestHead, size http.BodySize) (*Request, bool) {
	req := &Request{
		Method:    head.Method,
		Authority: head.Authority,
	}
	if head.Method != "CONNECT" {
		req.Scheme = head.U.Scheme
		req.Path = head.U.RequestURI()
	}

	var eof, skipLen bool
	switch size.Kind {
	case http.SizeNone:
		eof, skipLen = true, true
	case http.SizeEmpty:
		eof, skipLen = true, true
		req.Fields = append(req.Fields, hpack.HeaderField{Name: "content-length", Value: "0"})
	case http.SizeSized:
		eof, skipLen = size.Len == 0, true
		req.Fields = append(req.Fields, hpack.HeaderField{
			Name: "content-length", Value: strconv.FormatInt(size.Len, 10),
		})
	case http.SizeStream:
		eof, skipLen = false, false
	default:
		panic(fmt.Sprintf("h2: unknown body size kind %d", size.Kind))
	}

	appendField := func(kv http.Field) {
		name := strings.ToLower(kv.Name)
		switch name {
		case "connection", "transfer-encoding":
			return // HTTP/1.x only
		case "content-length":
			if skipLen {
				return
			}
		}
		req.Fields = append(req.Fields, hpack.HeaderField{Name: name, Value: kv.Value})
	}
	for _, kv := range head.Header {
		if head.Extra.Has(kv.Name) {
			continue // overridden below
		}
		appendField(kv)
	}
	for _, kv := range head.Extra {
		appendField(kv)
	}
	return req, eof
}
