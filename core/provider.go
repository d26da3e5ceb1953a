package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider resolves configurations into live instances. It holds no instance
// state: every successful resolution returns a new instance owned by the
// caller.
type Provider struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	tracer          trace.Tracer
	errorMapper     ErrorMapper
	registry        *Registry
	container       ContainerRegistrar
	configStore     ConfigStore
	identifierStore IdentifierStore
	binder          ConfigBinder

	bootstrapOnce sync.Once
	bootstrapErr  error
}

type ProviderDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	Tracer          trace.Tracer
	ErrorMapper     ErrorMapper
	Registry        *Registry
	Container       ContainerRegistrar
	ConfigStore     ConfigStore
	IdentifierStore IdentifierStore
	Binder          ConfigBinder
}

func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	builder := defaultProviderBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	if err := errors.Join(builder.buildErrs...); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	provider, logger := glog.Resolve("connectors", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connectors"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.tracer == nil {
		builder.tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	if builder.registry == nil {
		registry, err := NewRegistry()
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
		builder.registry = registry
	}
	if builder.container == nil {
		builder.container = NewServiceContainer()
	}
	if builder.binder == nil {
		builder.binder = NewShapeBinder()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Provider{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		tracer:          builder.tracer,
		errorMapper:     builder.errorMapper,
		registry:        builder.registry,
		container:       builder.container,
		configStore:     builder.configStore,
		identifierStore: builder.identifierStore,
		binder:          builder.binder,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if hasKind(err) || mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (p *Provider) Config() Config {
	if p == nil {
		return Config{}
	}
	return p.config
}

func (p *Provider) Dependencies() ProviderDependencies {
	if p == nil {
		return ProviderDependencies{}
	}
	return ProviderDependencies{
		Logger:          p.logger,
		LoggerProvider:  p.loggerProvider,
		MetricsRecorder: p.metricsRecorder,
		Tracer:          p.tracer,
		ErrorMapper:     p.errorMapper,
		Registry:        p.registry,
		Container:       p.container,
		ConfigStore:     p.configStore,
		IdentifierStore: p.identifierStore,
		Binder:          p.binder,
	}
}

// Descriptors lists registered descriptors in registration order.
func (p *Provider) Descriptors() []Descriptor {
	if p == nil {
		return []Descriptor{}
	}
	return p.registry.All()
}

// Bootstrap runs every descriptor's register hook once, in registration
// order, then seals the registry. Later calls return the first outcome.
func (p *Provider) Bootstrap(ctx context.Context) error {
	if p == nil {
		return NewError(ErrorKindInternal, "core: provider is nil", nil)
	}
	p.bootstrapOnce.Do(func() {
		startedAt := time.Now()
		fields := map[string]any{"descriptors": p.registry.Len()}
		ctx, span := p.startSpan(orBackground(ctx), "bootstrap", fields)
		p.bootstrapErr = p.bootstrap(ctx)
		p.observeOperation(ctx, span, startedAt, "bootstrap", p.bootstrapErr, fields)
	})
	return p.bootstrapErr
}

func (p *Provider) bootstrap(ctx context.Context) error {
	if binder, ok := p.binder.(*ShapeBinder); ok {
		if _, exists := p.container.Service(BinderServiceName); !exists {
			if err := p.container.Provide(BinderServiceName, binder); err != nil {
				return err
			}
		}
	}
	for _, descriptor := range p.registry.All() {
		if descriptor.Register == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return WrapError(err, ErrorKindCancelled, "core: bootstrap cancelled", nil)
		}
		if err := runRegisterHook(ctx, descriptor, p.container); err != nil {
			return err
		}
	}
	p.registry.Seal()
	return nil
}

func runRegisterHook(ctx context.Context, descriptor Descriptor, container ContainerRegistrar) (err error) {
	meta := descriptorMetadata(descriptor)
	defer func() {
		if recovered := recover(); recovered != nil {
			err = NewError(
				ErrorKindConstruction,
				fmt.Sprintf("core: register hook for %q panicked: %v", descriptor.Name, recovered),
				meta,
			)
		}
	}()
	if hookErr := descriptor.Register(ctx, container); hookErr != nil {
		return ensureKind(hookErr, ErrorKindConstruction, fmt.Sprintf("core: register hook for %q", descriptor.Name), meta)
	}
	return nil
}

// Resolve builds a new instance from cfg.
func (p *Provider) Resolve(ctx context.Context, cfg Configuration) Result[Instance] {
	if p == nil {
		return Failure[Instance](NewError(ErrorKindInternal, "core: provider is nil", nil))
	}
	startedAt := time.Now()
	fields := map[string]any{"type_name": safeTypeName(cfg)}
	ctx, span := p.startSpan(orBackground(ctx), "resolve", fields)
	result := p.resolve(ctx, cfg)
	p.observeOperation(ctx, span, startedAt, "resolve", result.Err(), fields)
	return result
}

// ResolveByName loads the named section from the config store, binds it to
// the shape of its declared type and resolves it.
func (p *Provider) ResolveByName(ctx context.Context, name string) Result[Instance] {
	if p == nil {
		return Failure[Instance](NewError(ErrorKindInternal, "core: provider is nil", nil))
	}
	startedAt := time.Now()
	name = strings.TrimSpace(name)
	fields := map[string]any{"config_name": name}
	ctx, span := p.startSpan(orBackground(ctx), "resolve_by_name", fields)
	result := p.resolveByName(ctx, name, fields)
	p.observeOperation(ctx, span, startedAt, "resolve_by_name", result.Err(), fields)
	return result
}

// ResolveByID loads a stored section by identifier. Without an identifier
// store it reports ErrorKindNotImplemented.
func (p *Provider) ResolveByID(ctx context.Context, id string) Result[Instance] {
	if p == nil {
		return Failure[Instance](NewError(ErrorKindInternal, "core: provider is nil", nil))
	}
	startedAt := time.Now()
	id = strings.TrimSpace(id)
	fields := map[string]any{"config_id": id}
	ctx, span := p.startSpan(orBackground(ctx), "resolve_by_id", fields)
	result := p.resolveByID(ctx, id, fields)
	p.observeOperation(ctx, span, startedAt, "resolve_by_id", result.Err(), fields)
	return result
}

func (p *Provider) resolve(ctx context.Context, cfg Configuration) Result[Instance] {
	if isNilConfiguration(cfg) {
		return Failure[Instance](NewError(ErrorKindValidation, "core: configuration is required", nil))
	}
	typeName := safeTypeName(cfg)
	if typeName == "" {
		return Failure[Instance](NewError(
			ErrorKindValidation,
			"core: configuration typeName is required",
			map[string]any{"configuration_type": fmt.Sprintf("%T", cfg)},
		))
	}

	descriptor, err := p.lookup(typeName)
	if err != nil {
		return Failure[Instance](err)
	}
	meta := descriptorMetadata(descriptor)

	factory, err := p.resolveFactory(descriptor)
	if err != nil {
		return Failure[Instance](ensureKind(err, ErrorKindNotFound,
			fmt.Sprintf("core: resolve factory %q for type %q", descriptor.FactoryKind, typeName), meta))
	}

	instance, err := p.create(ctx, factory, cfg, descriptor).Unwrap()
	if err != nil {
		return Failure[Instance](ensureKind(err, ErrorKindConstruction,
			fmt.Sprintf("core: construct %q", typeName), meta))
	}
	if instance == nil {
		return Failure[Instance](NewError(
			ErrorKindConstruction,
			fmt.Sprintf("core: factory for %q returned nil instance", typeName),
			meta,
		))
	}
	return Success[Instance](p.observe(instance))
}

func (p *Provider) resolveByName(ctx context.Context, name string, fields map[string]any) Result[Instance] {
	if name == "" {
		return Failure[Instance](NewError(ErrorKindValidation, "core: configuration name is required", nil))
	}
	if p.configStore == nil {
		return Failure[Instance](NewError(
			ErrorKindNotImplemented,
			fmt.Sprintf("core: no configuration store wired, cannot resolve %q", name),
			map[string]any{"config_name": name},
		))
	}
	meta := map[string]any{"config_name": name}
	raw, err := p.loadSection(ctx, meta, func(ctx context.Context) (RawConfig, error) {
		return p.configStore.GetSection(ctx, name)
	})
	if err != nil {
		return Failure[Instance](err)
	}
	return p.resolveRaw(ctx, raw, meta, fields)
}

func (p *Provider) resolveByID(ctx context.Context, id string, fields map[string]any) Result[Instance] {
	if p.identifierStore == nil {
		return Failure[Instance](NewError(
			ErrorKindNotImplemented,
			fmt.Sprintf("core: resolution by identifier is not available, cannot resolve %q", id),
			map[string]any{"config_id": id},
		))
	}
	if id == "" {
		return Failure[Instance](NewError(ErrorKindValidation, "core: configuration id is required", nil))
	}
	meta := map[string]any{"config_id": id}
	raw, err := p.loadSection(ctx, meta, func(ctx context.Context) (RawConfig, error) {
		return p.identifierStore.GetByID(ctx, id)
	})
	if err != nil {
		return Failure[Instance](err)
	}
	return p.resolveRaw(ctx, raw, meta, fields)
}

func (p *Provider) loadSection(
	ctx context.Context,
	meta map[string]any,
	load func(context.Context) (RawConfig, error),
) (raw RawConfig, err error) {
	label := fmt.Sprint(meta["config_name"])
	if _, ok := meta["config_name"]; !ok {
		label = fmt.Sprint(meta["config_id"])
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			raw = nil
			err = NewError(
				ErrorKindInternal,
				fmt.Sprintf("core: loading configuration %q panicked: %v", label, recovered),
				meta,
			)
		}
	}()
	raw, err = load(ctx)
	if err != nil {
		if errors.Is(err, ErrSectionNotFound) {
			return nil, WrapError(err, ErrorKindNotFound,
				fmt.Sprintf("core: configuration %q not found", label), meta)
		}
		return nil, ensureKind(err, ErrorKindInternal, fmt.Sprintf("core: load configuration %q", label), meta)
	}
	if raw == nil {
		return nil, NewError(ErrorKindNotFound, fmt.Sprintf("core: configuration %q not found", label), meta)
	}
	return raw, nil
}

func (p *Provider) resolveRaw(ctx context.Context, raw RawConfig, meta map[string]any, fields map[string]any) Result[Instance] {
	label := fmt.Sprint(meta["config_name"])
	if _, ok := meta["config_name"]; !ok {
		label = fmt.Sprint(meta["config_id"])
	}
	typeName := raw.TypeName()
	if typeName == "" {
		return Failure[Instance](NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: configuration %q declares no typeName", label),
			meta,
		))
	}
	fields["type_name"] = typeName

	descriptor, err := p.lookup(typeName)
	if err != nil {
		return Failure[Instance](err)
	}
	cfg, err := p.bind(raw, descriptor)
	if err != nil {
		bindMeta := copyAnyMap(meta)
		for key, value := range descriptorMetadata(descriptor) {
			bindMeta[key] = value
		}
		return Failure[Instance](WrapError(err, ErrorKindValidation,
			fmt.Sprintf("core: bind configuration %q to shape %q: %v", label, descriptor.Shape, err), bindMeta))
	}
	return p.resolve(ctx, cfg)
}

func (p *Provider) lookup(typeName string) (Descriptor, error) {
	descriptor, err := p.registry.LookupByName(typeName)
	if err == nil {
		return descriptor, nil
	}
	meta := map[string]any{"type_name": typeName}
	message := fmt.Sprintf("no implementation registered for type %q", typeName)
	if p.config.ListRegisteredOnMiss {
		names := p.registeredNames()
		meta["registered"] = names
		message = fmt.Sprintf("%s (registered: %s)", message, strings.Join(names, ", "))
	}
	return Descriptor{}, WrapError(err, ErrorKindNotFound, message, meta)
}

func (p *Provider) registeredNames() []string {
	names := p.registry.Names()
	limit := p.config.MaxListedNames
	if limit > 0 && len(names) > limit {
		extra := len(names) - limit
		names = append(names[:limit:limit], fmt.Sprintf("... %d more", extra))
	}
	return names
}

func (p *Provider) resolveFactory(descriptor Descriptor) (factory Factory, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			factory = nil
			err = NewError(
				ErrorKindInternal,
				fmt.Sprintf("core: container panicked resolving %q: %v", descriptor.FactoryKind, recovered),
				descriptorMetadata(descriptor),
			)
		}
	}()
	return p.container.ResolveFactory(descriptor.FactoryKind)
}

func (p *Provider) bind(raw RawConfig, descriptor Descriptor) (cfg Configuration, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			cfg = nil
			err = fmt.Errorf("binder panicked: %v", recovered)
		}
	}()
	cfg, err = p.binder.Bind(raw, descriptor.Shape)
	if err == nil && isNilConfiguration(cfg) {
		err = fmt.Errorf("binder returned no configuration")
	}
	return cfg, err
}

func (p *Provider) create(ctx context.Context, factory Factory, cfg Configuration, descriptor Descriptor) (result Result[Instance]) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Failure[Instance](NewError(
				ErrorKindConstruction,
				fmt.Sprintf("core: factory for %q panicked: %v", descriptor.Name, recovered),
				descriptorMetadata(descriptor),
			))
		}
	}()
	return factory.Create(ctx, cfg)
}

// MapError converts err with the provider's error mapper.
func (p *Provider) MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return rich
	}
	mapper := defaultErrorMapper
	if p != nil && p.errorMapper != nil {
		mapper = p.errorMapper
	}
	return mapper(err)
}

func descriptorMetadata(descriptor Descriptor) map[string]any {
	return map[string]any{
		"type_name":     descriptor.Name,
		"descriptor_id": descriptor.ID,
		"factory_kind":  string(descriptor.FactoryKind),
	}
}

func safeTypeName(cfg Configuration) (name string) {
	if isNilConfiguration(cfg) {
		return ""
	}
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	return strings.TrimSpace(cfg.TypeName())
}

func isNilConfiguration(cfg Configuration) bool {
	return isNilValue(cfg)
}

// isNilValue also catches interfaces holding a typed nil.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	value := reflect.ValueOf(v)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice, reflect.Func:
		return value.IsNil()
	default:
		return false
	}
}
