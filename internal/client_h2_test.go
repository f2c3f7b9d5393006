package internal_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/frankli0324/h2send/internal"
	"github.com/frankli0324/h2send/internal/http"
)

func startH2Server(t *testing.T, handler nethttp.Handler) (*httptest.Server, *internal.Client) {
	t.Helper()
	server := httptest.NewUnstartedServer(handler)
	server.EnableHTTP2 = true
	server.StartTLS()
	t.Cleanup(server.Close)

	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())
	client := internal.New(internal.Config{})
	client.UseDial(func(ctx context.Context, addr string) (net.Conn, error) {
		d := &tls.Dialer{Config: &tls.Config{RootCAs: roots, NextProtos: []string{"h2"}}}
		return d.DialContext(ctx, "tcp", addr)
	})
	t.Cleanup(client.Close)
	return server, client
}

func TestClientGet(t *testing.T) {
	server, client := startH2Server(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Proto != "HTTP/2.0" {
			t.Errorf("server saw %s", r.Proto)
		}
		if r.Header.Get("x-test") != "1" {
			t.Errorf("server header = %q", r.Header.Get("x-test"))
		}
		w.Header().Set("X-Reply", "pong")
		io.WriteString(w, "hello")
	}))

	resp, err := client.CtxDo(context.Background(), &http.Request{
		Method: "GET", URL: server.URL,
		Header: http.Fields{{Name: "X-Test", Value: "1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 || resp.Proto != "HTTP/2.0" {
		t.Errorf("response = %s %s", resp.Proto, resp.Status)
	}
	if resp.Header.Get("x-reply") != "pong" {
		t.Errorf("x-reply = %q", resp.Header.Get("x-reply"))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil || string(body) != "hello" {
		t.Errorf("body = %q, %v", body, err)
	}
}

func TestClientPostEcho(t *testing.T) {
	server, client := startH2Server(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.ContentLength != 11 {
			t.Errorf("content length = %d", r.ContentLength)
		}
		io.Copy(w, r.Body)
	}))

	resp, err := client.CtxDo(context.Background(), &http.Request{
		Method: "POST", URL: server.URL, Body: "hello world",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || string(body) != "hello world" {
		t.Errorf("body = %q, %v", body, err)
	}
}

func TestClientStreamedBody(t *testing.T) {
	payload := strings.Repeat("data!", 100_000)
	server, client := startH2Server(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		n, err := io.Copy(io.Discard, r.Body)
		if err != nil || n != int64(len(payload)) {
			t.Errorf("server read %d bytes, %v", n, err)
		}
		w.WriteHeader(204)
	}))

	// an opaque reader forces the unknown-length streaming path
	resp, err := client.CtxDo(context.Background(), &http.Request{
		Method: "POST", URL: server.URL,
		Body: struct{ io.Reader }{strings.NewReader(payload)},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 204 {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestClientHead(t *testing.T) {
	server, client := startH2Server(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(200)
	}))

	resp, err := client.CtxDo(context.Background(), &http.Request{Method: "HEAD", URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) != 0 {
		t.Errorf("HEAD body = %q, %v", body, err)
	}
}

func TestClientReusesConnection(t *testing.T) {
	remotes := make(chan string, 8)
	server, client := startH2Server(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		remotes <- r.RemoteAddr
		w.WriteHeader(200)
	}))

	for i := 0; i < 3; i++ {
		resp, err := client.CtxDo(context.Background(), &http.Request{Method: "GET", URL: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	first := <-remotes
	for i := 0; i < 2; i++ {
		if addr := <-remotes; addr != first {
			t.Errorf("request served over %s, want the pooled connection %s", addr, first)
		}
	}
}
