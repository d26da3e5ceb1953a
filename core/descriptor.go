package core

import (
	"context"
	"fmt"
	"strings"
)

// ShapeTag names the configuration structure an implementation accepts.
type ShapeTag string

// FactoryKind names the Factory the container resolves for an implementation.
type FactoryKind string

// RegisterHook wires supporting services for one implementation. It runs once
// during Provider.Bootstrap, before the registry is sealed.
type RegisterHook func(ctx context.Context, container ContainerRegistrar) error

// Descriptor is the metadata for one named implementation of a capability.
// Registries store descriptors by value, so a registered descriptor cannot be
// changed through a copy returned from a lookup.
type Descriptor struct {
	// ID is stable across runs when declared in the manifest. Zero asks the
	// registry to assign the next free id.
	ID          int
	Name        string
	Capability  string
	Description string
	Shape       ShapeTag
	FactoryKind FactoryKind
	Register    RegisterHook
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return NewError(ErrorKindValidation, "core: descriptor name is required", nil)
	}
	if d.ID < 0 {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: descriptor %q has negative id %d", d.Name, d.ID),
			map[string]any{"type_name": d.Name, "descriptor_id": d.ID},
		)
	}
	if strings.TrimSpace(string(d.Shape)) == "" {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: descriptor %q requires a configuration shape", d.Name),
			map[string]any{"type_name": d.Name},
		)
	}
	if strings.TrimSpace(string(d.FactoryKind)) == "" {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: descriptor %q requires a factory kind", d.Name),
			map[string]any{"type_name": d.Name},
		)
	}
	return nil
}

// Manifest supplies the fixed descriptor list registered at startup.
type Manifest func() []Descriptor

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeDescriptor(d Descriptor) Descriptor {
	d.Name = strings.TrimSpace(d.Name)
	d.Capability = strings.TrimSpace(d.Capability)
	d.Description = strings.TrimSpace(d.Description)
	d.Shape = ShapeTag(strings.TrimSpace(string(d.Shape)))
	d.FactoryKind = FactoryKind(strings.TrimSpace(string(d.FactoryKind)))
	return d
}
