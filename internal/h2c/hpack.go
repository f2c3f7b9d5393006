package h2c

import (
	"bytes"
	"errors"

	"golang.org/x/net/http2/hpack"
)

// hpackMixin owns the request header encoder. Encoder state must match
// the order HEADERS frames hit the wire, callers serialize through the
// connection's open lock.
type hpackMixin struct {
	hpEnc *hpack.Encoder
	wBuf  *bytes.Buffer

	maxWriteHeaderListSize func() uint32
}

func (h *hpackMixin) init(maxSize func() uint32) {
	h.wBuf = &bytes.Buffer{}
	h.hpEnc = hpack.NewEncoder(h.wBuf)
	h.maxWriteHeaderListSize = maxSize
}

var errHeaderListTooLarge = errors.New("h2c: request header list larger than peer's advertised limit")

// encodeHeaders encodes a HEADERS block fragment. The returned slice is
// only valid until the next call.
func (h *hpackMixin) encodeHeaders(enumHeaders func(func(k, v string))) ([]byte, error) {
	h.wBuf.Reset()

	total := uint32(0)
	enumHeaders(func(name, value string) {
		total += (hpack.HeaderField{Name: name, Value: value}).Size()
	})
	if max := h.maxWriteHeaderListSize(); max != 0 && total > max {
		return nil, errHeaderListTooLarge
	}
	enumHeaders(func(name, value string) {
		h.hpEnc.WriteField(hpack.HeaderField{Name: name, Value: value})
	})
	return h.wBuf.Bytes(), nil
}
