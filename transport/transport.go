// Package transport carries HTTP requests for connectors that talk to remote
// endpoints. Adapters are selected by protocol kind.
package transport

import (
	"context"
	"time"
)

// Request is a protocol-neutral outbound call.
type Request struct {
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

// Response is what an adapter read back.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Adapter interface {
	Kind() string
	Do(ctx context.Context, req Request) (Response, error)
}
