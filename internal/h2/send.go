package h2

import (
	"context"
	"io"

	"github.com/frankli0324/h2send/internal/http"
)

// sendBody drives the outbound flow-control loop: pull a chunk from the
// producer, reserve capacity for all of it, then emit data frames as
// the peer grants windows. The terminal empty end-of-stream frame is
// never coalesced with data, it is sent on its own once the producer is
// exhausted.
//
// Every failure cancels the stream: the peer is still waiting for the
// rest of a body that will never come, and an abandoned half-open
// stream would hold its concurrency slot forever.
func sendBody(ctx context.Context, body http.Body, send SendStream) error {
	var buf []byte
	for {
		if buf == nil {
			chunk, err := body.Next(ctx)
			if err == io.EOF {
				if err := send.Send(nil, true); err != nil {
					send.Cancel()
					return classify(err, KindProtocol)
				}
				send.Reserve(0)
				return nil
			}
			if err != nil {
				// frames already sent are not rolled back
				send.Cancel()
				return reqErr(KindBodyProducer, err)
			}
			if len(chunk) == 0 {
				continue
			}
			send.Reserve(len(chunk))
			buf = chunk
		}

		grant, err := send.Capacity(ctx)
		if err != nil {
			send.Cancel()
			return classify(err, KindProtocol)
		}
		if grant == 0 {
			// peer closed its window for good, the rest of the body is
			// silently dropped
			return nil
		}
		n := grant
		if n > len(buf) {
			n = len(buf)
		}
		if err := send.Send(buf[:n], false); err != nil {
			send.Cancel()
			return classify(err, KindProtocol)
		}
		if buf = buf[n:]; len(buf) > 0 {
			send.Reserve(len(buf))
		} else {
			buf = nil
		}
	}
}
