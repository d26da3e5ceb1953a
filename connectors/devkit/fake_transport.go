// Package devkit holds fakes and conformance checks for connector authors.
package devkit

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/transport"
)

// TransportScript is one scripted reply. A zero Response with a nil Err
// answers 200 with an empty body.
type TransportScript struct {
	Response transport.Response
	Err      error
}

// FakeTransportAdapter replays scripts in order and keeps repeating the
// last one. Every request is recorded.
type FakeTransportAdapter struct {
	kind string

	mu       sync.Mutex
	scripts  []TransportScript
	requests []transport.Request
}

func NewFakeTransportAdapter(kind string, scripts ...TransportScript) *FakeTransportAdapter {
	return &FakeTransportAdapter{
		kind:    strings.ToLower(strings.TrimSpace(kind)),
		scripts: slices.Clone(scripts),
	}
}

func (a *FakeTransportAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *FakeTransportAdapter) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	if a == nil {
		return transport.Response{}, fmt.Errorf("devkit: fake transport adapter is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	turn := len(a.requests)
	a.requests = append(a.requests, copyRequest(req))
	if len(a.scripts) == 0 {
		return a.reply(transport.Response{}), nil
	}
	script := a.scripts[min(turn, len(a.scripts)-1)]
	return a.reply(script.Response), script.Err
}

// Requests returns copies of the recorded requests in arrival order.
func (a *FakeTransportAdapter) Requests() []transport.Request {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]transport.Request, len(a.requests))
	for i, req := range a.requests {
		out[i] = copyRequest(req)
	}
	return out
}

func (a *FakeTransportAdapter) reply(in transport.Response) transport.Response {
	out := in
	if out.StatusCode == 0 {
		out.StatusCode = http.StatusOK
	}
	out.Body = slices.Clone(in.Body)
	out.Headers = cloneOrEmpty(in.Headers)
	out.Metadata = cloneOrEmpty(in.Metadata)
	if _, ok := out.Metadata["kind"]; !ok {
		out.Metadata["kind"] = a.kind
	}
	return out
}

// FakeAdapterRegistry returns a registry whose only kind builds adapter.
func FakeAdapterRegistry(adapter *FakeTransportAdapter) *transport.Registry {
	registry := transport.NewRegistry()
	_ = registry.Register(adapter.Kind(), func(transport.HTTPDoer, map[string]any) (transport.Adapter, error) {
		return adapter, nil
	})
	return registry
}

func copyRequest(in transport.Request) transport.Request {
	out := in
	out.Body = slices.Clone(in.Body)
	out.Query = cloneOrEmpty(in.Query)
	out.Headers = cloneOrEmpty(in.Headers)
	out.Metadata = cloneOrEmpty(in.Metadata)
	return out
}

func cloneOrEmpty[V any](in map[string]V) map[string]V {
	if in == nil {
		return map[string]V{}
	}
	return maps.Clone(in)
}

var _ transport.Adapter = (*FakeTransportAdapter)(nil)
