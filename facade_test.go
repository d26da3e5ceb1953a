package connectors

import (
	"context"
	"strings"
	"testing"

	gocmd "github.com/goliatone/go-command"
	connectorcmd "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/configstore"
	"github.com/goliatone/go-connectors/connectors/secretconn"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/query"
)

func newTestProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	all := append([]Option{
		WithConfigStore(configstore.NewStaticStore(map[string]core.RawConfig{
			"vault": {"typeName": secretconn.TypeName, "connectionString": "facade-key"},
		})),
	}, opts...)
	provider, err := New(DefaultConfig(), all...)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := provider.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return provider
}

func TestNew_RegistersBuiltins(t *testing.T) {
	provider := newTestProvider(t)
	names := map[string]bool{}
	for _, descriptor := range provider.Descriptors() {
		names[descriptor.Name] = true
	}
	for _, want := range []string{"sql", "rest", "appkey-secrets"} {
		if !names[want] {
			t.Fatalf("expected built-in %q, got %v", want, names)
		}
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	facade, err := NewFacade(newTestProvider(t))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	collector := gocmd.NewResult[any]()
	if err := facade.Commands().Execute.Execute(gocmd.ContextWithResult(ctx, collector), connectorcmd.ExecuteMessage{
		Target:  connectorcmd.Target{Name: "vault"},
		Command: NewCommand(secretconn.KindEncrypt, "", Param("value", "s3cr3t")),
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sealed, ok := collector.Load()
	if !ok {
		t.Fatalf("expected sealed value in collector")
	}

	plain, err := facade.Queries().Fetch.Query(ctx, query.FetchMessage{
		Name:    "vault",
		Command: NewCommand(secretconn.KindDecrypt, "", Param("value", sealed)),
	})
	if err != nil || plain != "s3cr3t" {
		t.Fatalf("expected decrypted value, got %#v err=%v", plain, err)
	}

	secrets, err := facade.Queries().ListDescriptors.Query(ctx, query.ListDescriptorsMessage{Capability: "secrets"})
	if err != nil || len(secrets) != 1 {
		t.Fatalf("expected one secrets descriptor, got %+v err=%v", secrets, err)
	}
}

func TestNewFacade_RequiresProvider(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil || facade != nil {
		t.Fatalf("expected nil provider error, got facade=%v err=%v", facade, err)
	}
}

func TestProvider_ConnectorValidationFailureSurfacesAsValidation(t *testing.T) {
	provider := newTestProvider(t)
	cfg := secretconn.DefaultConfig()
	cfg.Active.Material = "k"
	cfg.Retired = []secretconn.Key{{Material: "k", KeyID: "app-key", Version: 1}}

	result := provider.Resolve(context.Background(), cfg)
	if !core.IsKind(result.Err(), core.ErrorKindValidation) {
		t.Fatalf("expected validation error for colliding key slots, got %s: %v", result.Kind(), result.Err())
	}
	if strings.Contains(result.Err().Error(), "panicked") {
		t.Fatalf("expected a plain validation failure, got %v", result.Err())
	}
}
