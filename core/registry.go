package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type registryIndex struct {
	ordered []Descriptor
	names   []string
	byName  map[string]int
	byID    map[int]int
	maxID   int
}

func emptyRegistryIndex() *registryIndex {
	return &registryIndex{
		byName: map[string]int{},
		byID:   map[int]int{},
	}
}

// Registry holds the descriptors known to a process. Writes are serialized
// and publish a fresh index; reads load the current index atomically and
// never take a lock. Once sealed the registry rejects every write.
type Registry struct {
	mu     sync.Mutex
	sealed atomic.Bool
	index  atomic.Pointer[registryIndex]
}

// NewRegistry returns an open registry holding the manifest entries.
func NewRegistry(manifest ...Descriptor) (*Registry, error) {
	r := &Registry{}
	r.index.Store(emptyRegistryIndex())
	for _, descriptor := range manifest {
		if err := r.Register(descriptor); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewSealedRegistry registers the manifest and seals the registry.
func NewSealedRegistry(manifest ...Descriptor) (*Registry, error) {
	r, err := NewRegistry(manifest...)
	if err != nil {
		return nil, err
	}
	r.Seal()
	return r, nil
}

// NewRegistryFromManifest is NewRegistry for a manifest function.
func NewRegistryFromManifest(manifest Manifest) (*Registry, error) {
	if manifest == nil {
		return NewRegistry()
	}
	return NewRegistry(manifest()...)
}

func (r *Registry) Register(descriptor Descriptor) error {
	if r == nil {
		return NewError(ErrorKindInternal, "core: registry is nil", nil)
	}
	descriptor = normalizeDescriptor(descriptor)
	if err := descriptor.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return NewError(
			ErrorKindInvalidState,
			fmt.Sprintf("core: registry is sealed, cannot register %q", descriptor.Name),
			map[string]any{"type_name": descriptor.Name},
		)
	}

	current := r.current()
	key := normalizeName(descriptor.Name)
	if pos, exists := current.byName[key]; exists {
		return NewError(
			ErrorKindDuplicate,
			fmt.Sprintf("core: descriptor name %q already registered", descriptor.Name),
			map[string]any{
				"type_name":     descriptor.Name,
				"descriptor_id": current.ordered[pos].ID,
			},
		)
	}
	if descriptor.ID == 0 {
		descriptor.ID = current.maxID + 1
	}
	if pos, exists := current.byID[descriptor.ID]; exists {
		return NewError(
			ErrorKindDuplicate,
			fmt.Sprintf(
				"core: descriptor id %d already registered by %q",
				descriptor.ID,
				current.ordered[pos].Name,
			),
			map[string]any{"type_name": descriptor.Name, "descriptor_id": descriptor.ID},
		)
	}

	next := &registryIndex{
		ordered: make([]Descriptor, 0, len(current.ordered)+1),
		names:   make([]string, 0, len(current.names)+1),
		byName:  make(map[string]int, len(current.byName)+1),
		byID:    make(map[int]int, len(current.byID)+1),
		maxID:   max(current.maxID, descriptor.ID),
	}
	next.ordered = append(next.ordered, current.ordered...)
	next.ordered = append(next.ordered, descriptor)
	next.names = append(next.names, current.names...)
	next.names = append(next.names, descriptor.Name)
	for name, pos := range current.byName {
		next.byName[name] = pos
	}
	for id, pos := range current.byID {
		next.byID[id] = pos
	}
	next.byName[key] = len(next.ordered) - 1
	next.byID[descriptor.ID] = len(next.ordered) - 1
	r.index.Store(next)
	return nil
}

// Seal freezes the registry. Sealing twice is a no-op.
func (r *Registry) Seal() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

func (r *Registry) Sealed() bool {
	return r != nil && r.sealed.Load()
}

func (r *Registry) LookupByName(name string) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, NewError(ErrorKindInternal, "core: registry is nil", nil)
	}
	idx := r.current()
	pos, ok := idx.byName[normalizeName(name)]
	if !ok {
		return Descriptor{}, NewError(
			ErrorKindNotFound,
			fmt.Sprintf("core: no descriptor registered with name %q", name),
			map[string]any{"type_name": name},
		)
	}
	return idx.ordered[pos], nil
}

func (r *Registry) LookupByID(id int) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, NewError(ErrorKindInternal, "core: registry is nil", nil)
	}
	idx := r.current()
	pos, ok := idx.byID[id]
	if !ok {
		return Descriptor{}, NewError(
			ErrorKindNotFound,
			fmt.Sprintf("core: no descriptor registered with id %d", id),
			map[string]any{"descriptor_id": id},
		)
	}
	return idx.ordered[pos], nil
}

// All returns the descriptors in registration order.
func (r *Registry) All() []Descriptor {
	if r == nil {
		return []Descriptor{}
	}
	return append([]Descriptor(nil), r.current().ordered...)
}

// Names returns the registered names in registration order, as declared.
func (r *Registry) Names() []string {
	if r == nil {
		return []string{}
	}
	return append([]string(nil), r.current().names...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.current().ordered)
}

func (r *Registry) current() *registryIndex {
	idx := r.index.Load()
	if idx == nil {
		return emptyRegistryIndex()
	}
	return idx
}
