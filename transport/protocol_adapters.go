package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	KindSOAP   = "soap"
	KindBulk   = "bulk"
	KindStream = "stream"
	KindFile   = "file"
)

// protocolProfile is the method and headers a protocol sends when the
// request leaves them unset.
type protocolProfile struct {
	method  string
	headers map[string]string
}

var protocolProfiles = map[string]protocolProfile{
	KindSOAP:   {http.MethodPost, map[string]string{"Content-Type": "text/xml; charset=utf-8"}},
	KindBulk:   {http.MethodPost, map[string]string{"Content-Type": "application/json", "Accept": "application/json"}},
	KindStream: {http.MethodGet, map[string]string{"Accept": "text/event-stream"}},
	KindFile:   {http.MethodPost, map[string]string{"Content-Type": "application/octet-stream"}},
}

// ProtocolAdapter is a REST adapter with a protocol profile applied.
type ProtocolAdapter struct {
	kind    string
	profile protocolProfile
	rest    *RESTAdapter
}

func NewSOAPAdapter(client HTTPDoer) *ProtocolAdapter {
	return newProtocolAdapter(KindSOAP, client)
}

func NewBulkAdapter(client HTTPDoer) *ProtocolAdapter {
	return newProtocolAdapter(KindBulk, client)
}

func NewStreamAdapter(client HTTPDoer) *ProtocolAdapter {
	return newProtocolAdapter(KindStream, client)
}

func NewFileAdapter(client HTTPDoer) *ProtocolAdapter {
	return newProtocolAdapter(KindFile, client)
}

func newProtocolAdapter(kind string, client HTTPDoer) *ProtocolAdapter {
	kind = normalizeKind(kind)
	return &ProtocolAdapter{kind: kind, profile: protocolProfiles[kind], rest: NewRESTAdapter(client)}
}

func (a *ProtocolAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *ProtocolAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.rest == nil {
		return Response{}, transportError("transport: protocol adapter is nil", core.ErrorKindInternal, nil)
	}
	if strings.TrimSpace(req.Method) == "" {
		req.Method = a.profile.method
	}
	headers := cloneHeaders(a.profile.headers)
	for key, value := range cloneHeaders(req.Headers) {
		headers[key] = value
	}
	req.Headers = headers

	response, err := a.rest.Do(ctx, req)
	if err != nil {
		return Response{}, err
	}
	response.Metadata = cloneMetadata(response.Metadata)
	response.Metadata["kind"] = a.kind
	return response, nil
}

// UnsupportedAdapter stands in for a protocol that is known but not wired.
type UnsupportedAdapter struct {
	kind   string
	reason string
}

func NewUnsupportedAdapter(kind string, reason string) *UnsupportedAdapter {
	return &UnsupportedAdapter{kind: normalizeKind(kind), reason: strings.TrimSpace(reason)}
}

func (a *UnsupportedAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *UnsupportedAdapter) Do(context.Context, Request) (Response, error) {
	if a == nil {
		return Response{}, transportError("transport: adapter is nil", core.ErrorKindInternal, nil)
	}
	message := "transport: no " + a.kind + " adapter"
	if a.reason != "" {
		message += " (" + a.reason + ")"
	}
	return Response{}, transportError(message, core.ErrorKindNotImplemented, map[string]any{"adapter": a.kind})
}

func cloneHeaders(input map[string]string) map[string]string {
	out := make(map[string]string, len(input))
	for key, value := range input {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			out[trimmed] = strings.TrimSpace(value)
		}
	}
	return out
}

func cloneMetadata(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
