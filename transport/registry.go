package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/core"
)

// AdapterFactory builds an adapter around the given HTTP client. config
// carries connector settings such as "endpoint".
type AdapterFactory func(client HTTPDoer, config map[string]any) (Adapter, error)

// Registry maps protocol kinds to adapter factories. Kinds are matched
// case-insensitively.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]AdapterFactory{}}
}

// NewDefaultRegistry knows rest, graphql and the protocol profiles (soap,
// bulk, stream, file).
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.Register(KindREST, func(client HTTPDoer, _ map[string]any) (Adapter, error) {
		return NewRESTAdapter(client), nil
	})
	_ = registry.Register(KindGraphQL, func(client HTTPDoer, config map[string]any) (Adapter, error) {
		return NewGraphQLAdapter(metadataString(config, "endpoint"), client), nil
	})
	for kind := range protocolProfiles {
		profile := kind
		_ = registry.Register(profile, func(client HTTPDoer, _ map[string]any) (Adapter, error) {
			return newProtocolAdapter(profile, client), nil
		})
	}
	return registry
}

// Register fails with a Duplicate error when kind is taken.
func (r *Registry) Register(kind string, factory AdapterFactory) error {
	if r == nil {
		return core.NewError(core.ErrorKindInternal, "transport: registry is nil", nil)
	}
	kind = normalizeKind(kind)
	switch {
	case kind == "":
		return core.NewError(core.ErrorKindValidation, "transport: adapter kind is required", nil)
	case factory == nil:
		return core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("transport: adapter factory for %q is nil", kind), map[string]any{"adapter": kind})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.factories[kind]; taken {
		return core.NewError(core.ErrorKindDuplicate,
			fmt.Sprintf("transport: adapter kind %q already registered", kind), map[string]any{"adapter": kind})
	}
	r.factories[kind] = factory
	return nil
}

// Build returns a new adapter for kind. Unknown kinds yield an
// UnsupportedAdapter so the failure surfaces as NotImplemented on first use.
func (r *Registry) Build(kind string, client HTTPDoer, config map[string]any) (Adapter, error) {
	if r == nil {
		return nil, core.NewError(core.ErrorKindInternal, "transport: registry is nil", nil)
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return nil, core.NewError(core.ErrorKindValidation, "transport: adapter kind is required", nil)
	}
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return NewUnsupportedAdapter(kind, "no adapter registered"), nil
	}

	adapter, err := factory(client, cloneMetadata(config))
	if err != nil {
		return nil, core.WrapError(err, core.ErrorKindConstruction,
			fmt.Sprintf("transport: build %q adapter", kind), map[string]any{"adapter": kind})
	}
	if adapter == nil {
		return nil, core.NewError(core.ErrorKindConstruction,
			fmt.Sprintf("transport: factory for %q returned no adapter", kind), map[string]any{"adapter": kind})
	}
	return adapter, nil
}

func (r *Registry) Has(kind string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeKind(kind)]
	return ok
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	r.mu.RUnlock()
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
