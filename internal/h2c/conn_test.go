package h2c

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/frankli0324/h2send/internal/h2"
)

// The framer invalidates returned frames on the next ReadFrame, so the
// peer's read loop snapshots what the tests assert on.
type peerHeaders struct {
	streamID uint32
	fields   []hpack.HeaderField
	ended    bool
}

type peerData struct {
	streamID uint32
	data     string
	ended    bool
}

type peerWindowUpdate struct {
	streamID uint32
	incr     uint32
}

type peerReset struct {
	streamID uint32
	code     http2.ErrCode
}

// serverPeer scripts the server side of a connection over net.Pipe. The
// pipe is fully synchronous, so reads and writes each get a goroutine of
// their own; tests queue writes and receive frame snapshots off
// channels.
type serverPeer struct {
	t    *testing.T
	conn net.Conn

	writes chan func(*http2.Framer) error

	settings      chan []http2.Setting
	settingsAcked chan struct{}
	headers       chan peerHeaders
	data          chan peerData
	windowUpdates chan peerWindowUpdate
	resets        chan peerReset

	// hpack state, only ever touched from the write loop
	henc *hpack.Encoder
	hbuf bytes.Buffer
}

func startPeer(t *testing.T, conn net.Conn) *serverPeer {
	p := &serverPeer{
		t: t, conn: conn,
		writes:        make(chan func(*http2.Framer) error, 16),
		settings:      make(chan []http2.Setting, 2),
		settingsAcked: make(chan struct{}, 8),
		headers:       make(chan peerHeaders, 8),
		data:          make(chan peerData, 64),
		windowUpdates: make(chan peerWindowUpdate, 64),
		resets:        make(chan peerReset, 8),
	}
	p.henc = hpack.NewEncoder(&p.hbuf)
	go p.writeLoop()
	go p.readLoop()
	return p
}

func (p *serverPeer) write(w func(*http2.Framer) error) { p.writes <- w }

func (p *serverPeer) writeLoop() {
	fr := http2.NewFramer(p.conn, nil)
	for w := range p.writes {
		if err := w(fr); err != nil {
			return
		}
	}
}

func (p *serverPeer) readLoop() {
	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(p.conn, preface); err != nil {
		return
	}
	if string(preface) != http2.ClientPreface {
		p.t.Errorf("bad client preface %q", preface)
		return
	}
	fr := http2.NewFramer(nil, p.conn)
	fr.ReadMetaHeaders = hpack.NewDecoder(4096, nil)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return
		}
		switch f := f.(type) {
		case *http2.SettingsFrame:
			if f.IsAck() {
				select {
				case p.settingsAcked <- struct{}{}:
				default:
				}
				continue
			}
			var ss []http2.Setting
			f.ForeachSetting(func(s http2.Setting) error { ss = append(ss, s); return nil })
			select {
			case p.settings <- ss:
			default:
			}
			p.write(func(fr *http2.Framer) error { return fr.WriteSettings() })
			p.write(func(fr *http2.Framer) error { return fr.WriteSettingsAck() })
		case *http2.MetaHeadersFrame:
			fields := append([]hpack.HeaderField(nil), f.Fields...)
			p.headers <- peerHeaders{f.StreamID, fields, f.StreamEnded()}
		case *http2.DataFrame:
			p.data <- peerData{f.StreamID, string(f.Data()), f.StreamEnded()}
		case *http2.WindowUpdateFrame:
			select {
			case p.windowUpdates <- peerWindowUpdate{f.StreamID, f.Increment}:
			default:
			}
		case *http2.RSTStreamFrame:
			select {
			case p.resets <- peerReset{f.StreamID, f.ErrCode}:
			default:
			}
		}
	}
}

// respond writes a response headers frame, optionally followed by one
// data frame.
func (p *serverPeer) respond(streamID uint32, status, body string, endStream bool) {
	p.write(func(fr *http2.Framer) error {
		p.hbuf.Reset()
		p.henc.WriteField(hpack.HeaderField{Name: ":status", Value: status})
		p.henc.WriteField(hpack.HeaderField{Name: "x-served-by", Value: "peer"})
		if err := fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      streamID,
			BlockFragment: p.hbuf.Bytes(),
			EndStream:     endStream && body == "",
			EndHeaders:    true,
		}); err != nil {
			return err
		}
		if body != "" {
			return fr.WriteData(streamID, endStream, []byte(body))
		}
		return nil
	})
}

const peerWait = 5 * time.Second

func awaitHeaders(t *testing.T, p *serverPeer) peerHeaders {
	t.Helper()
	select {
	case h := <-p.headers:
		return h
	case <-time.After(peerWait):
		t.Fatal("timed out waiting for a headers frame")
		return peerHeaders{}
	}
}

func awaitData(t *testing.T, p *serverPeer) peerData {
	t.Helper()
	select {
	case d := <-p.data:
		return d
	case <-time.After(peerWait):
		t.Fatal("timed out waiting for a data frame")
		return peerData{}
	}
}

func awaitAck(t *testing.T, p *serverPeer) {
	t.Helper()
	select {
	case <-p.settingsAcked:
	case <-time.After(peerWait):
		t.Fatal("timed out waiting for a settings ack")
	}
}

func newTestConn(t *testing.T, cfg Config) (*Conn, *serverPeer) {
	t.Helper()
	cli, srv := net.Pipe()
	p := startPeer(t, srv)
	hc, err := Handshake(cli, cfg, nil)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	go hc.Serve()
	awaitAck(t, p) // the client acks the server preface settings
	t.Cleanup(func() {
		hc.Shutdown()
		srv.Close()
	})
	return hc, p
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), peerWait)
	t.Cleanup(cancel)
	return ctx
}

func getReq() *h2.Request {
	return &h2.Request{
		Method: "GET", Scheme: "https", Authority: "example.com", Path: "/",
		Fields: []hpack.HeaderField{{Name: "x-test", Value: "1"}},
	}
}

func TestHandshakeAdvertise(t *testing.T) {
	_, p := newTestConn(t, Config{StreamWindowSize: 1 << 20, ConnWindowSize: 4 << 20})

	var ss []http2.Setting
	select {
	case ss = <-p.settings:
	case <-time.After(peerWait):
		t.Fatal("no settings received")
	}
	got := map[http2.SettingID]uint32{}
	for _, s := range ss {
		got[s.ID] = s.Val
	}
	if v, ok := got[http2.SettingEnablePush]; !ok || v != 0 {
		t.Error("server push must be disabled")
	}
	if got[http2.SettingInitialWindowSize] != 1<<20 {
		t.Errorf("initial window size = %d", got[http2.SettingInitialWindowSize])
	}

	select {
	case wu := <-p.windowUpdates:
		if wu.streamID != 0 || wu.incr != 4<<20-65535 {
			t.Errorf("window update = %+v", wu)
		}
	case <-time.After(peerWait):
		t.Fatal("connection window never raised")
	}
}

func TestRoundTrip(t *testing.T) {
	hc, p := newTestConn(t, Config{})
	ctx := testCtx(t)

	fut, _, err := hc.Open(ctx, getReq(), true)
	if err != nil {
		t.Fatal(err)
	}
	h := awaitHeaders(t, p)
	if h.streamID != 1 || !h.ended {
		t.Errorf("headers frame = id %d ended %v", h.streamID, h.ended)
	}
	want := map[string]string{
		":method": "GET", ":authority": "example.com",
		":scheme": "https", ":path": "/", "x-test": "1",
	}
	for _, f := range h.fields {
		if v, ok := want[f.Name]; ok && v != f.Value {
			t.Errorf("%s = %q, want %q", f.Name, f.Value, v)
		}
		delete(want, f.Name)
	}
	if len(want) != 0 {
		t.Errorf("missing header fields: %v", want)
	}

	p.respond(1, "200", "hello", true)
	resp, err := fut.Response(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Errorf("status = %d", resp.Status)
	}
	var served bool
	for _, f := range resp.Fields {
		served = served || f.Name == "x-served-by"
	}
	if !served {
		t.Errorf("regular fields = %v", resp.Fields)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil || string(body) != "hello" {
		t.Errorf("body = %q, %v", body, err)
	}

	// a second request multiplexes onto the next odd stream id
	if _, _, err := hc.Open(ctx, getReq(), true); err != nil {
		t.Fatal(err)
	}
	if h := awaitHeaders(t, p); h.streamID != 3 {
		t.Errorf("second stream id = %d", h.streamID)
	}
}

func TestSendRespectsStreamWindow(t *testing.T) {
	hc, p := newTestConn(t, Config{})
	ctx := testCtx(t)

	p.write(func(fr *http2.Framer) error {
		return fr.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: 4})
	})
	awaitAck(t, p)

	fut, send, err := hc.Open(ctx, getReq(), false)
	if err != nil {
		t.Fatal(err)
	}
	awaitHeaders(t, p)

	payload := "0123456789"
	send.Reserve(len(payload))
	for sent := 0; sent < len(payload); {
		n, err := send.Capacity(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n > 4 {
			t.Fatalf("grant of %d exceeds the stream window", n)
		}
		last := sent+n == len(payload)
		if err := send.Send([]byte(payload[sent:sent+n]), last); err != nil {
			t.Fatal(err)
		}
		d := awaitData(t, p)
		if d.data != payload[sent:sent+n] || d.ended != last {
			t.Fatalf("data frame = %+v", d)
		}
		sent += n
		p.write(func(fr *http2.Framer) error { return fr.WriteWindowUpdate(1, uint32(n)) })
	}

	p.respond(1, "204", "", true)
	resp, err := fut.Response(ctx)
	if err != nil || resp.Status != 204 {
		t.Fatalf("response = %+v, %v", resp, err)
	}
}

func TestPeerResetEndsSending(t *testing.T) {
	for _, tt := range []struct {
		name   string
		code   http2.ErrCode
		benign bool
	}{
		{"cancel is benign", http2.ErrCodeCancel, true},
		{"internal error fails", http2.ErrCodeInternal, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			hc, p := newTestConn(t, Config{})
			ctx := testCtx(t)

			// zero send window keeps Capacity parked until the reset lands
			p.write(func(fr *http2.Framer) error {
				return fr.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: 0})
			})
			awaitAck(t, p)

			fut, send, err := hc.Open(ctx, getReq(), false)
			if err != nil {
				t.Fatal(err)
			}
			awaitHeaders(t, p)
			p.write(func(fr *http2.Framer) error { return fr.WriteRSTStream(1, tt.code) })

			send.Reserve(8)
			n, err := send.Capacity(ctx)
			if n != 0 {
				t.Errorf("grant = %d after a reset", n)
			}
			if tt.benign {
				if err != nil {
					t.Errorf("benign reset surfaced as %v", err)
				}
			} else {
				if !errors.Is(err, ErrStreamResetRemote(1, tt.code)) {
					t.Errorf("err = %v", err)
				}
				if _, err := fut.Response(ctx); err == nil {
					t.Error("response resolved on a reset stream")
				}
			}
		})
	}
}

func TestServeToleratesUnknownSettings(t *testing.T) {
	hc, p := newTestConn(t, Config{})
	ctx := testCtx(t)

	p.write(func(fr *http2.Framer) error {
		return fr.WriteSettings(http2.Setting{ID: 0x8, Val: 1})
	})
	awaitAck(t, p)
	if err := hc.Ready(ctx); err != nil {
		t.Errorf("Ready = %v, unknown settings must be ignored", err)
	}
}

func TestCancelFreesStreamSlot(t *testing.T) {
	hc, p := newTestConn(t, Config{})
	ctx := testCtx(t)

	_, send, err := hc.Open(ctx, getReq(), false)
	if err != nil {
		t.Fatal(err)
	}
	awaitHeaders(t, p)

	send.Cancel()
	select {
	case r := <-p.resets:
		if r.streamID != 1 || r.code != http2.ErrCodeCancel {
			t.Errorf("reset = %+v", r)
		}
	case <-time.After(peerWait):
		t.Fatal("no RST_STREAM after cancelling the body")
	}
	if hc.stream(1) != nil {
		t.Error("cancelled stream still holds its slot")
	}
	if err := hc.Ready(ctx); err != nil {
		t.Errorf("Ready = %v after the slot was freed", err)
	}
	// idempotent, a second cancel is a no-op
	send.Cancel()
	select {
	case r := <-p.resets:
		t.Errorf("second cancel reset the stream again: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoteGoAway(t *testing.T) {
	hc, p := newTestConn(t, Config{})
	ctx := testCtx(t)

	p.write(func(fr *http2.Framer) error { return fr.WriteGoAway(0, http2.ErrCodeNo, nil) })
	deadline := time.Now().Add(peerWait)
	for hc.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("connection never recorded the GOAWAY")
		}
		time.Sleep(time.Millisecond)
	}

	var reason *ReasonGoAway
	if err := hc.Err(); !errors.As(err, &reason) {
		t.Fatalf("Err() = %v", err)
	}
	if err := hc.Ready(ctx); err == nil {
		t.Error("Ready succeeded on a dead connection")
	}
	if _, _, err := hc.Open(ctx, getReq(), true); err == nil {
		t.Error("Open succeeded on a dead connection")
	}
}

func TestReadyHonorsConcurrencyLimit(t *testing.T) {
	hc, p := newTestConn(t, Config{})
	ctx := testCtx(t)

	p.write(func(fr *http2.Framer) error {
		return fr.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 1})
	})
	awaitAck(t, p)

	if _, _, err := hc.Open(ctx, getReq(), true); err != nil {
		t.Fatal(err)
	}
	awaitHeaders(t, p)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := hc.Ready(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ready = %v, want a deadline error while at the limit", err)
	}

	// finishing the stream frees the slot
	p.respond(1, "204", "", true)
	if err := hc.Ready(ctx); err != nil {
		t.Errorf("Ready = %v after the stream closed", err)
	}
}

func TestHandshakeRejectsBadServerPreface(t *testing.T) {
	cli, srv := net.Pipe()
	defer srv.Close()
	go io.Copy(io.Discard, srv)
	go func() {
		fr := http2.NewFramer(srv, nil)
		fr.WritePing(false, [8]byte{})
	}()

	_, err := Handshake(cli, Config{}, nil)
	if err != errServerPreface {
		t.Errorf("err = %v, want errServerPreface", err)
	}
}
