package http

import (
	"io"
	"net/url"
	"strings"
)

// Field is a single header name/value pair.
type Field struct {
	Name, Value string
}

// Fields is an ordered header collection. Lookups are case-insensitive,
// insertion order is preserved.
type Fields []Field

func (f Fields) Get(name string) string {
	for _, kv := range f {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

func (f Fields) Has(name string) bool {
	for _, kv := range f {
		if strings.EqualFold(kv.Name, name) {
			return true
		}
	}
	return false
}

func (f *Fields) Add(name, value string) {
	*f = append(*f, Field{name, value})
}

// Del removes every value for name, preserving the order of the rest.
func (f *Fields) Del(name string) {
	kept := (*f)[:0]
	for _, kv := range *f {
		if !strings.EqualFold(kv.Name, name) {
			kept = append(kept, kv)
		}
	}
	*f = kept
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return append(Fields(nil), f...)
}

type Request struct {
	Method string
	URL    string
	Body   interface{}
	Header Fields

	// Extra overrides Header name-wise during dispatch. A name present
	// in both is emitted once, with the Extra value.
	Extra Fields
}

// RequestHead is the prepared request head. It is immutable for the
// duration of a dispatch.
type RequestHead struct {
	Method    string
	U         *url.URL
	Authority string

	Header Fields
	Extra  Fields
}

type Response struct {
	Proto      string
	Status     string
	StatusCode int
	Header     Fields

	Body io.ReadCloser
}

// ResponseHead is the response line plus headers, populated once the
// peer's headers frame arrives.
type ResponseHead struct {
	Status int
	Proto  string
	Header Fields
}
