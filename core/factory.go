package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Factory builds a live instance from a validated configuration.
type Factory interface {
	Create(ctx context.Context, cfg Configuration) Result[Instance]
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, cfg Configuration) Result[Instance]

func (f FactoryFunc) Create(ctx context.Context, cfg Configuration) Result[Instance] {
	if f == nil {
		return Failure[Instance](NewError(ErrorKindInternal, "core: factory func is nil", nil))
	}
	return f(ctx, cfg)
}

// Scope tracks resources acquired while an instance is being built. A failed
// or cancelled build releases everything tracked, newest first. A successful
// build hands the scope to the instance, usually with WithScope.
type Scope struct {
	mu       sync.Mutex
	releases []func(context.Context) error
	released bool
}

func NewScope() *Scope {
	return &Scope{}
}

// Track registers a closer. Tracking on a released scope closes c at once.
func (s *Scope) Track(c io.Closer) {
	if c == nil {
		return
	}
	s.Defer(func(context.Context) error { return c.Close() })
}

func (s *Scope) Defer(fn func(context.Context) error) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = fn(context.Background())
		return
	}
	s.releases = append(s.releases, fn)
	s.mu.Unlock()
}

// Len reports how many releases are pending.
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases)
}

// Release runs every pending release once, newest first.
func (s *Scope) Release(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	pending := s.releases
	s.releases = nil
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		// release must not be skipped because the build context is done
		ctx = context.WithoutCancel(orBackground(ctx))
	}
	var errs []error
	for i := len(pending) - 1; i >= 0; i-- {
		if err := pending[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildFunc constructs an instance of a typed configuration.
type BuildFunc[C Configuration] func(ctx context.Context, cfg C, scope *Scope) (Instance, error)

// TypedFactory checks that the configuration is a C, validates it, and runs
// build under a Scope so that failed builds never leak resources.
type TypedFactory[C Configuration] struct {
	shape ShapeTag
	build BuildFunc[C]
}

func NewTypedFactory[C Configuration](shape ShapeTag, build BuildFunc[C]) *TypedFactory[C] {
	return &TypedFactory[C]{shape: shape, build: build}
}

func (f *TypedFactory[C]) Shape() ShapeTag {
	if f == nil {
		return ""
	}
	return f.shape
}

func (f *TypedFactory[C]) Create(ctx context.Context, cfg Configuration) (result Result[Instance]) {
	if f == nil || f.build == nil {
		return Failure[Instance](NewError(ErrorKindInternal, "core: typed factory is not configured", nil))
	}
	ctx = orBackground(ctx)

	typed, err := f.coerce(cfg)
	if err != nil {
		return Failure[Instance](err)
	}
	meta := map[string]any{"type_name": typed.TypeName(), "shape": string(f.shape)}
	if err := validateShape(&typed); err != nil {
		return Failure[Instance](ensureKind(err, ErrorKindValidation, "core: invalid configuration", meta))
	}
	if err := ctx.Err(); err != nil {
		return Failure[Instance](WrapError(err, ErrorKindCancelled, "core: construction cancelled", meta))
	}

	scope := NewScope()
	defer func() {
		if recovered := recover(); recovered != nil {
			_ = scope.Release(ctx)
			result = Failure[Instance](NewError(
				ErrorKindConstruction,
				fmt.Sprintf("core: construction of %q panicked: %v", typed.TypeName(), recovered),
				meta,
			))
		}
	}()

	instance, err := f.build(ctx, typed, scope)
	if isNilValue(instance) {
		instance = nil
	}
	if err != nil {
		if instance != nil {
			_ = instance.Close(context.WithoutCancel(ctx))
		}
		if releaseErr := scope.Release(ctx); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
		return Failure[Instance](constructionFailure(ctx, err, typed.TypeName(), meta))
	}
	if instance == nil {
		_ = scope.Release(ctx)
		return Failure[Instance](NewError(
			ErrorKindConstruction,
			fmt.Sprintf("core: factory for %q returned nil instance", typed.TypeName()),
			meta,
		))
	}
	if err := ctx.Err(); err != nil {
		_ = instance.Close(context.WithoutCancel(ctx))
		_ = scope.Release(ctx)
		return Failure[Instance](WrapError(err, ErrorKindCancelled, "core: construction cancelled", meta))
	}
	return Success(instance)
}

func (f *TypedFactory[C]) coerce(cfg Configuration) (C, error) {
	var zero C
	switch typed := cfg.(type) {
	case nil:
		return zero, NewError(ErrorKindValidation, "core: configuration is required", nil)
	case C:
		if err := f.checkShape(typed); err != nil {
			return zero, err
		}
		return typed, nil
	default:
		if pointer, ok := any(cfg).(*C); ok {
			if pointer == nil {
				return zero, NewError(ErrorKindValidation, "core: configuration is required", nil)
			}
			if err := f.checkShape(*pointer); err != nil {
				return zero, err
			}
			return *pointer, nil
		}
		return zero, NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: configuration %T does not match shape %q (want %T)", cfg, f.shape, zero),
			map[string]any{
				"type_name": cfg.TypeName(),
				"shape":     string(f.shape),
			},
		)
	}
}

func (f *TypedFactory[C]) checkShape(cfg C) error {
	reporter, ok := any(cfg).(ShapeReporter)
	if !ok || f.shape == "" {
		return nil
	}
	if got := reporter.Shape(); got != "" && got != f.shape {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: configuration shape %q does not match %q", got, f.shape),
			map[string]any{"type_name": cfg.TypeName(), "shape": string(f.shape)},
		)
	}
	return nil
}

func constructionFailure(ctx context.Context, err error, typeName string, meta map[string]any) error {
	if ctx.Err() != nil || isContextError(err) {
		return WrapError(err, ErrorKindCancelled, fmt.Sprintf("core: construction of %q cancelled", typeName), meta)
	}
	if KindOf(err) == ErrorKindValidation {
		return err
	}
	return WrapError(err, ErrorKindConstruction, fmt.Sprintf("core: construct %q: %v", typeName, err), meta)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

var _ Factory = (*TypedFactory[ConnectionConfig])(nil)
