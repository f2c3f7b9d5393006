package http

import (
	"errors"
	"net/url"
)

// ErrNoHost reports a request whose target names no host to connect to.
var ErrNoHost = errors.New("http: no host in request url")

// Prepare parses the request target and splits the user request into an
// immutable head plus a body producer.
func (r *Request) Prepare() (*RequestHead, Body, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, nil, err
	}

	headers := r.Header.Clone()
	host := u.Host
	// user defined host has higher priority, HTTP/2 emits it as :authority
	if v := headers.Get("Host"); v != "" {
		host = v
	}
	headers.Del("Host")
	if host == "" {
		return nil, nil, ErrNoHost
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	body, err := BodyOf(r.Body)
	if err != nil {
		return nil, nil, err
	}
	head := &RequestHead{
		Method:    r.Method,
		U:         u,
		Authority: host,
		Header:    headers,
		Extra:     r.Extra.Clone(),
	}
	if head.Method == "" {
		head.Method = "GET"
	}
	return head, body, nil
}
