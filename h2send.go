// package h2send is a client-side dispatch engine for HTTP/2: it
// adapts a generic request/response representation onto the multiplexed
// flow-controlled transport, streaming request bodies under peer
// granted capacity and sharing pooled connections between requests.
package h2send

import (
	"github.com/frankli0324/h2send/internal"
	"github.com/frankli0324/h2send/internal/http"
	"github.com/frankli0324/h2send/internal/obs"
)

type Client = internal.Client
type Config = internal.Config
type DialFunc = internal.DialFunc

type Request = http.Request
type Response = http.Response
type Field = http.Field
type Fields = http.Fields
type Body = http.Body
type BodySize = http.BodySize

type Logger = obs.Logger
type Meter = obs.Meter

func New(cfg Config) *Client { return internal.New(cfg) }

func ParseConfig(data []byte) (Config, error) { return internal.ParseConfig(data) }
