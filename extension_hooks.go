package connectors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DescriptorPack is a named group of descriptors contributed by a
// downstream module.
type DescriptorPack struct {
	Name        string
	Descriptors []Descriptor
}

type CommandQueryBundleFactory func(provider CommandQueryProvider) (any, error)

// ExtensionHooks collects descriptor packs and command/query bundles before
// a provider is built. Packs apply in name order.
type ExtensionHooks struct {
	mu sync.RWMutex

	packs   map[string]DescriptorPack
	bundles map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		packs:   map[string]DescriptorPack{},
		bundles: map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterDescriptorPack(pack DescriptorPack) error {
	if h == nil {
		return fmt.Errorf("connectors: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("connectors: descriptor pack name is required")
	}
	if len(pack.Descriptors) == 0 {
		return fmt.Errorf("connectors: descriptor pack %q has no descriptors", name)
	}
	for _, descriptor := range pack.Descriptors {
		if err := descriptor.Validate(); err != nil {
			return fmt.Errorf("connectors: descriptor pack %q: %w", name, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("connectors: descriptor pack %q already registered", name)
	}
	h.packs[name] = DescriptorPack{
		Name:        name,
		Descriptors: append([]Descriptor(nil), pack.Descriptors...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("connectors: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("connectors: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("connectors: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("connectors: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

func (h *ExtensionHooks) DescriptorPacks() []DescriptorPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DescriptorPack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		out = append(out, DescriptorPack{
			Name:        pack.Name,
			Descriptors: append([]Descriptor(nil), pack.Descriptors...),
		})
	}
	return out
}

// Manifest lists base first and then every pack. Name and id clashes
// surface when the registry is built.
func (h *ExtensionHooks) Manifest(base ...Descriptor) Manifest {
	return func() []Descriptor {
		out := append([]Descriptor(nil), base...)
		for _, pack := range h.DescriptorPacks() {
			out = append(out, pack.Descriptors...)
		}
		return out
	}
}

// Option returns a provider option registering the built-in descriptors
// plus every pack.
func (h *ExtensionHooks) Option() Option {
	return WithManifest(h.Manifest(BuiltinDescriptors()...))
}

func (h *ExtensionHooks) BuildCommandQueryBundles(provider CommandQueryProvider) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if provider == nil {
		return nil, fmt.Errorf("connectors: provider is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](provider)
		if err != nil {
			return nil, fmt.Errorf("connectors: build bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](in map[string]V) []string {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
