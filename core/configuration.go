package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-config/cfgx"
)

// Configuration is a value matching one descriptor's shape. TypeName is the
// discriminator used to find the descriptor.
type Configuration interface {
	TypeName() string
}

// ShapeReporter is implemented by configurations that declare their shape.
type ShapeReporter interface {
	Shape() ShapeTag
}

// Validator is implemented by configurations with field level rules.
type Validator interface {
	Validate() error
}

// ConnectionConfig carries the fields shared by every implementation. Shapes
// embed it with `mapstructure:",squash"` to add their own fields.
type ConnectionConfig struct {
	Type                  string         `koanf:"typeName" mapstructure:"typeName" json:"typeName"`
	ConnectionString      string         `koanf:"connectionString" mapstructure:"connectionString" json:"connectionString,omitempty"`
	CommandTimeoutSeconds int            `koanf:"commandTimeoutSeconds" mapstructure:"commandTimeoutSeconds" json:"commandTimeoutSeconds,omitempty"`
	MaxRetryCount         int            `koanf:"maxRetryCount" mapstructure:"maxRetryCount" json:"maxRetryCount,omitempty"`
	Options               map[string]any `koanf:"options" mapstructure:"options" json:"options,omitempty"`
}

func (c ConnectionConfig) TypeName() string {
	return strings.TrimSpace(c.Type)
}

func (c ConnectionConfig) Validate() error {
	if c.TypeName() == "" {
		return NewError(ErrorKindValidation, "core: typeName is required", nil)
	}
	if c.CommandTimeoutSeconds < 0 {
		return NewError(
			ErrorKindValidation,
			"core: commandTimeoutSeconds must not be negative",
			map[string]any{"type_name": c.TypeName()},
		)
	}
	if c.MaxRetryCount < 0 {
		return NewError(
			ErrorKindValidation,
			"core: maxRetryCount must not be negative",
			map[string]any{"type_name": c.TypeName()},
		)
	}
	return nil
}

// Clone returns a copy that does not alias the Options map.
func (c ConnectionConfig) Clone() ConnectionConfig {
	c.Options = copyAnyMap(c.Options)
	return c
}

// RawConfig is an unbound configuration section.
type RawConfig map[string]any

// TypeName reads the discriminator from the section. typeName,
// connectionTypeName and type_name are accepted in that order. An exact key
// wins over a case-insensitive match; ties between case variants resolve in
// sorted key order.
func (r RawConfig) TypeName() string {
	candidates := []string{"typeName", "connectionTypeName", "type_name"}
	for _, candidate := range candidates {
		if text, ok := r[candidate].(string); ok {
			return strings.TrimSpace(text)
		}
	}
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, candidate := range candidates {
		for _, key := range keys {
			if !strings.EqualFold(strings.TrimSpace(key), candidate) {
				continue
			}
			if text, ok := r[key].(string); ok {
				return strings.TrimSpace(text)
			}
		}
	}
	return ""
}

func (r RawConfig) Clone() RawConfig {
	return RawConfig(copyAnyMap(r))
}

// ErrSectionNotFound is returned by configuration stores for unknown names.
var ErrSectionNotFound = errors.New("core: configuration section not found")

// ConfigStore loads named configuration sections.
type ConfigStore interface {
	GetSection(ctx context.Context, name string) (RawConfig, error)
}

// IdentifierStore loads configuration sections by stored identifier.
type IdentifierStore interface {
	GetByID(ctx context.Context, id string) (RawConfig, error)
}

// ConfigBinder binds a raw section to the structure identified by shape.
type ConfigBinder interface {
	Bind(raw RawConfig, shape ShapeTag) (Configuration, error)
}

// BindFunc binds one shape.
type BindFunc func(raw RawConfig) (Configuration, error)

// BinderServiceName is the container key under which Bootstrap provides the
// provider's ShapeBinder to register hooks.
const BinderServiceName = "connectors.binder"

// ShapeBinder is a ConfigBinder keyed by shape. Unknown shapes fall back to
// ConnectionConfig.
type ShapeBinder struct {
	mu     sync.RWMutex
	shapes map[ShapeTag]BindFunc
}

func NewShapeBinder() *ShapeBinder {
	return &ShapeBinder{shapes: map[ShapeTag]BindFunc{}}
}

func (b *ShapeBinder) RegisterFunc(shape ShapeTag, bind BindFunc) error {
	if b == nil {
		return NewError(ErrorKindInternal, "core: shape binder is nil", nil)
	}
	shape = ShapeTag(strings.TrimSpace(string(shape)))
	if shape == "" {
		return NewError(ErrorKindValidation, "core: shape tag is required", nil)
	}
	if bind == nil {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: bind function for shape %q is nil", shape),
			map[string]any{"shape": string(shape)},
		)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shapes == nil {
		b.shapes = map[ShapeTag]BindFunc{}
	}
	if _, exists := b.shapes[shape]; exists {
		return NewError(
			ErrorKindDuplicate,
			fmt.Sprintf("core: shape %q already registered", shape),
			map[string]any{"shape": string(shape)},
		)
	}
	b.shapes[shape] = bind
	return nil
}

func (b *ShapeBinder) Bind(raw RawConfig, shape ShapeTag) (Configuration, error) {
	if b == nil {
		return nil, NewError(ErrorKindInternal, "core: shape binder is nil", nil)
	}
	b.mu.RLock()
	bind, ok := b.shapes[ShapeTag(strings.TrimSpace(string(shape)))]
	b.mu.RUnlock()
	if !ok {
		bind = bindShape(ConnectionConfig{})
	}
	return bind(raw.Clone())
}

// RegisterShape registers C as the structure for shape. C must be a struct
// value type; defaults seed fields absent from the raw section.
func RegisterShape[C Configuration](binder *ShapeBinder, shape ShapeTag, defaults C) error {
	return binder.RegisterFunc(shape, bindShape(defaults))
}

// RegisterShapeIn registers C on the binder the provider placed in the
// container. Register hooks use it to declare their shape.
func RegisterShapeIn[C Configuration](container ContainerRegistrar, shape ShapeTag, defaults C) error {
	binder, ok := ServiceAs[*ShapeBinder](container, BinderServiceName)
	if !ok || binder == nil {
		return NewError(
			ErrorKindNotFound,
			"core: no shape binder provided to the container",
			map[string]any{"shape": string(shape)},
		)
	}
	return RegisterShape(binder, shape, defaults)
}

func bindShape[C Configuration](defaults C) BindFunc {
	return func(raw RawConfig) (Configuration, error) {
		cfg, err := cfgx.Build[C](map[string]any(raw),
			cfgx.WithDefaults(defaults),
			cfgx.WithValidator[C](validateShape[C]),
		)
		if err != nil {
			return nil, ensureKind(err, ErrorKindValidation, "core: bind configuration", nil)
		}
		return cfg, nil
	}
}

func validateShape[C Configuration](cfg *C) error {
	if cfg == nil {
		return NewError(ErrorKindValidation, "core: configuration is nil", nil)
	}
	if validator, ok := any(*cfg).(Validator); ok {
		return validator.Validate()
	}
	if validator, ok := any(cfg).(Validator); ok {
		return validator.Validate()
	}
	return nil
}
