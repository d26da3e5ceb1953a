package query

import (
	"context"
	"testing"

	"github.com/goliatone/go-connectors/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubLister []core.Descriptor

func (s stubLister) Descriptors() []core.Descriptor { return s }

type stubResolver struct {
	closed int
	by     string
}

func (s *stubResolver) instance() core.Result[core.Instance] {
	return core.Success[core.Instance](core.NewRuntime("stub",
		core.WithHandler("get", func(_ context.Context, cmd core.Command) (any, error) {
			return "value:" + cmd.Target(), nil
		}),
		core.WithCloseHook(func(context.Context) error {
			s.closed++
			return nil
		}),
	))
}

func (s *stubResolver) ResolveByName(_ context.Context, name string) core.Result[core.Instance] {
	s.by = "name:" + name
	return s.instance()
}

func (s *stubResolver) ResolveByID(_ context.Context, id string) core.Result[core.Instance] {
	s.by = "id:" + id
	return s.instance()
}

func TestListDescriptorsQuery_FiltersByCapability(t *testing.T) {
	lister := stubLister{
		{ID: 1, Name: "sql", Capability: "database"},
		{ID: 2, Name: "rest", Capability: "http"},
		{ID: 3, Name: "pg", Capability: "Database"},
	}
	all, err := NewListDescriptorsQuery(lister).Query(context.Background(), ListDescriptorsMessage{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all descriptors, got %d err=%v", len(all), err)
	}
	databases, err := NewListDescriptorsQuery(lister).Query(context.Background(), ListDescriptorsMessage{Capability: "database"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(databases) != 2 || databases[0].Name != "sql" || databases[1].Name != "pg" {
		t.Fatalf("unexpected filtered descriptors %+v", databases)
	}
}

func TestFetchQuery_ResolvesRunsAndCloses(t *testing.T) {
	resolver := &stubResolver{}
	value, err := NewFetchQuery(resolver).Query(context.Background(), FetchMessage{
		ID:      "cfg-1",
		Command: core.NewCommand("get", "users"),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if value != "value:users" || resolver.by != "id:cfg-1" {
		t.Fatalf("unexpected value %v via %q", value, resolver.by)
	}
	if resolver.closed != 1 {
		t.Fatalf("expected instance closed, got %d", resolver.closed)
	}
}

func TestFetchMessage_Validate(t *testing.T) {
	cases := map[string]FetchMessage{
		"no target":   {Command: core.NewCommand("get", "x")},
		"two targets": {Name: "a", ID: "b", Command: core.NewCommand("get", "x")},
		"no command":  {Name: "a"},
		"mutating":    {Name: "a", Command: core.NewCommand("post", "x", core.Mutating())},
	}
	for name, msg := range cases {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %v", name, err)
		}
		if rich.TextCode != string(core.ErrorKindValidation) {
			t.Fatalf("%s: expected validation text code, got %q", name, rich.TextCode)
		}
	}
}

func TestQueries_NilDependencies(t *testing.T) {
	if _, err := NewListDescriptorsQuery(nil).Query(context.Background(), ListDescriptorsMessage{}); err == nil {
		t.Fatalf("expected dependency error")
	}
	var fetch *FetchQuery
	if _, err := fetch.Query(context.Background(), FetchMessage{}); err == nil {
		t.Fatalf("expected dependency error")
	}
}
