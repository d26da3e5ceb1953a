package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Container resolves the Factory registered for a factory kind.
type Container interface {
	ResolveFactory(kind FactoryKind) (Factory, error)
}

// ContainerRegistrar is the write side handed to descriptor register hooks.
type ContainerRegistrar interface {
	Container
	RegisterFactory(kind FactoryKind, factory Factory) error
	Provide(name string, service any) error
	Service(name string) (any, bool)
}

// ServiceContainer is the default container. It is safe for concurrent use.
type ServiceContainer struct {
	mu        sync.RWMutex
	factories map[FactoryKind]Factory
	services  map[string]any
}

func NewServiceContainer() *ServiceContainer {
	return &ServiceContainer{
		factories: map[FactoryKind]Factory{},
		services:  map[string]any{},
	}
}

func (c *ServiceContainer) RegisterFactory(kind FactoryKind, factory Factory) error {
	if c == nil {
		return NewError(ErrorKindInternal, "core: service container is nil", nil)
	}
	kind = normalizeFactoryKind(kind)
	if kind == "" {
		return NewError(ErrorKindValidation, "core: factory kind is required", nil)
	}
	if factory == nil {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: factory for kind %q is nil", kind),
			map[string]any{"factory_kind": string(kind)},
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.factories == nil {
		c.factories = map[FactoryKind]Factory{}
	}
	if _, exists := c.factories[kind]; exists {
		return NewError(
			ErrorKindDuplicate,
			fmt.Sprintf("core: factory kind %q already registered", kind),
			map[string]any{"factory_kind": string(kind)},
		)
	}
	c.factories[kind] = factory
	return nil
}

func (c *ServiceContainer) ResolveFactory(kind FactoryKind) (Factory, error) {
	if c == nil {
		return nil, NewError(ErrorKindInternal, "core: service container is nil", nil)
	}
	kind = normalizeFactoryKind(kind)
	c.mu.RLock()
	factory, ok := c.factories[kind]
	c.mu.RUnlock()
	if !ok || factory == nil {
		return nil, NewError(
			ErrorKindNotFound,
			fmt.Sprintf("core: no factory registered for kind %q", kind),
			map[string]any{"factory_kind": string(kind)},
		)
	}
	return factory, nil
}

// Provide stores a supporting service under name. Names are unique.
func (c *ServiceContainer) Provide(name string, service any) error {
	if c == nil {
		return NewError(ErrorKindInternal, "core: service container is nil", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return NewError(ErrorKindValidation, "core: service name is required", nil)
	}
	if service == nil {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: service %q is nil", name),
			map[string]any{"service": name},
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services == nil {
		c.services = map[string]any{}
	}
	if _, exists := c.services[name]; exists {
		return NewError(
			ErrorKindDuplicate,
			fmt.Sprintf("core: service %q already provided", name),
			map[string]any{"service": name},
		)
	}
	c.services[name] = service
	return nil
}

func (c *ServiceContainer) Service(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	service, ok := c.services[strings.TrimSpace(name)]
	return service, ok
}

// ServiceAs returns the named service when it has type T.
func ServiceAs[T any](container ContainerRegistrar, name string) (T, bool) {
	var zero T
	if container == nil {
		return zero, false
	}
	service, ok := container.Service(name)
	if !ok {
		return zero, false
	}
	typed, ok := service.(T)
	return typed, ok
}

// FactoryKinds lists registered kinds in sorted order.
func (c *ServiceContainer) FactoryKinds() []FactoryKind {
	if c == nil {
		return []FactoryKind{}
	}
	c.mu.RLock()
	kinds := make([]FactoryKind, 0, len(c.factories))
	for kind := range c.factories {
		kinds = append(kinds, kind)
	}
	c.mu.RUnlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func normalizeFactoryKind(kind FactoryKind) FactoryKind {
	return FactoryKind(strings.ToLower(strings.TrimSpace(string(kind))))
}
