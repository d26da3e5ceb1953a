package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
)

type staticAdapter struct {
	kind string
}

func (a staticAdapter) Kind() string { return a.kind }

func (a staticAdapter) Do(context.Context, Request) (Response, error) {
	return Response{StatusCode: 200}, nil
}

func TestRegistry_KindsAreSortedAndDuplicatesRejected(t *testing.T) {
	registry := NewRegistry()
	factory := func(HTTPDoer, map[string]any) (Adapter, error) { return staticAdapter{kind: "x"}, nil }
	if err := registry.Register("rest", factory); err != nil {
		t.Fatalf("register rest: %v", err)
	}
	if err := registry.Register(" GraphQL ", factory); err != nil {
		t.Fatalf("register graphql: %v", err)
	}
	if got := registry.Kinds(); !reflect.DeepEqual(got, []string{"graphql", "rest"}) {
		t.Fatalf("expected sorted kinds, got %v", got)
	}
	if err := registry.Register("REST", factory); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if !registry.Has("Rest") {
		t.Fatalf("expected case-insensitive Has")
	}
}

func TestRegistry_BuildPassesConfig(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("custom", func(_ HTTPDoer, config map[string]any) (Adapter, error) {
		return staticAdapter{kind: metadataString(config, "kind")}, nil
	}); err != nil {
		t.Fatalf("register adapter factory: %v", err)
	}
	adapter, err := registry.Build("custom", nil, map[string]any{"kind": "bulk"})
	if err != nil {
		t.Fatalf("build adapter: %v", err)
	}
	if adapter.Kind() != "bulk" {
		t.Fatalf("expected bulk adapter from factory, got %q", adapter.Kind())
	}
}

func TestRegistry_UnknownKindIsNotImplementedOnUse(t *testing.T) {
	adapter, err := NewDefaultRegistry().Build("ftp", nil, nil)
	if err != nil {
		t.Fatalf("build unknown adapter: %v", err)
	}
	_, err = adapter.Do(context.Background(), Request{URL: "ftp://example"})
	if !core.IsKind(err, core.ErrorKindNotImplemented) {
		t.Fatalf("expected not implemented error, got %v", err)
	}
}

func TestRESTAdapter_DoSendsMethodHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "search" {
			t.Errorf("expected query value, got %q", got)
		}
		if got := r.Header.Get("X-Test"); got != "value" {
			t.Errorf("expected header value, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("expected request body payload, got %q", body)
		}
		w.Header().Set("X-Server", "ok")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("done"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	result, err := adapter.Do(context.Background(), Request{
		Method:  "post",
		URL:     server.URL,
		Query:   map[string]string{"q": "search"},
		Headers: map[string]string{"X-Test": "value"},
		Body:    []byte("payload"),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("perform rest request: %v", err)
	}
	if result.StatusCode != http.StatusAccepted || !result.OK() {
		t.Fatalf("expected accepted status, got %d", result.StatusCode)
	}
	if string(result.Body) != "done" {
		t.Fatalf("unexpected response body: %q", string(result.Body))
	}
	if result.Headers["X-Server"] != "ok" {
		t.Fatalf("expected response header")
	}
}

func TestNewRESTAdapter_DefaultClientTimeout(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	httpClient, ok := adapter.Client.(*http.Client)
	if !ok {
		t.Fatalf("expected default http client implementation")
	}
	if httpClient.Timeout != defaultClientTimeout {
		t.Fatalf("expected default timeout %s, got %s", defaultClientTimeout, httpClient.Timeout)
	}
	if adapter.MaxResponseBodyBytes != defaultResponseBodyLimit {
		t.Fatalf("expected default body limit %d, got %d", defaultResponseBodyLimit, adapter.MaxResponseBodyBytes)
	}
}

func TestRESTAdapter_ResponseLimitIsExecutionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 1024

	_, err := adapter.Do(context.Background(), Request{URL: server.URL, MaxResponseBodyBytes: 4})
	if !core.IsKind(err, core.ErrorKindExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "response body exceeds limit of 4 bytes") {
		t.Fatalf("unexpected error: %v", err)
	}
	if core.MetadataOf(err)["response_limit_b"] != int64(4) {
		t.Fatalf("expected limit metadata, got %#v", core.MetadataOf(err))
	}
}

func TestRESTAdapter_CancelledContextIsCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewRESTAdapter(server.Client()).Do(ctx, Request{URL: server.URL})
	if !core.IsKind(err, core.ErrorKindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestProtocolAdapter_AppliesDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST default, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "text/xml; charset=utf-8" {
			t.Errorf("expected soap content type, got %q", got)
		}
		_, _ = w.Write([]byte("<ok/>"))
	}))
	defer server.Close()

	result, err := NewSOAPAdapter(server.Client()).Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("soap request: %v", err)
	}
	if result.Metadata["kind"] != KindSOAP {
		t.Fatalf("expected soap kind metadata, got %v", result.Metadata["kind"])
	}
}

func TestProtocolAdapter_NilIsInternal(t *testing.T) {
	var adapter *ProtocolAdapter
	_, err := adapter.Do(context.Background(), Request{})
	if !core.IsKind(err, core.ErrorKindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestGraphQLAdapter_UsesMetadataQueryAndVariables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode graphql payload: %v", err)
		}
		if payload["query"] != "query Ping { ping }" {
			t.Errorf("unexpected graphql query %v", payload["query"])
		}
		if vars, _ := payload["variables"].(map[string]any); vars["id"] != "123" {
			t.Errorf("expected variables id=123, got %v", payload["variables"])
		}
		_, _ = w.Write([]byte(`{"data":{"ping":"pong"}}`))
	}))
	defer server.Close()

	result, err := NewGraphQLAdapter(server.URL, server.Client()).Do(context.Background(), Request{
		Metadata: map[string]any{
			"query":     "query Ping { ping }",
			"variables": map[string]any{"id": "123"},
		},
	})
	if err != nil {
		t.Fatalf("perform graphql request: %v", err)
	}
	if !strings.Contains(string(result.Body), "pong") {
		t.Fatalf("unexpected graphql response body: %q", string(result.Body))
	}
	if result.Metadata["kind"] != KindGraphQL {
		t.Fatalf("expected graphql metadata kind")
	}
}

func TestGraphQLAdapter_MissingQueryIsValidation(t *testing.T) {
	_, err := NewGraphQLAdapter("http://localhost", nil).Do(context.Background(), Request{})
	if !core.IsKind(err, core.ErrorKindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGraphQLAdapter_AnnotatesInBandErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"field missing"},{"message":"other"}]}`))
	}))
	defer server.Close()

	result, err := NewGraphQLAdapter(server.URL, server.Client()).Do(context.Background(), Request{Body: []byte("{ broken }")})
	if err != nil {
		t.Fatalf("perform graphql request: %v", err)
	}
	if result.Metadata["graphql_errors"] != 2 || result.Metadata["graphql_error"] != "field missing" {
		t.Fatalf("expected graphql error metadata, got %#v", result.Metadata)
	}
}

func TestRegistry_DuplicateKindIsDuplicateError(t *testing.T) {
	registry := NewDefaultRegistry()
	err := registry.Register(KindSOAP, func(HTTPDoer, map[string]any) (Adapter, error) { return staticAdapter{}, nil })
	if !core.IsKind(err, core.ErrorKindDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	for _, kind := range []string{KindREST, KindGraphQL, KindSOAP, KindBulk, KindStream, KindFile} {
		if !registry.Has(kind) {
			t.Fatalf("expected default registry to know %q", kind)
		}
	}
}
