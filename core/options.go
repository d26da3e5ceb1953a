package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type providerBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	tracer          trace.Tracer
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        *Registry
	container       ContainerRegistrar
	configStore     ConfigStore
	identifierStore IdentifierStore
	binder          ConfigBinder
	buildErrs       []error
}

type Option func(*providerBuilder)

func WithLogger(logger Logger) Option {
	return func(b *providerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *providerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *providerBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(b *providerBuilder) {
		b.tracer = tracer
	}
}

// WithTracerProvider takes the tracer named after this package from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *providerBuilder) {
		if tp != nil {
			b.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *providerBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *providerBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *providerBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRegistry(registry *Registry) Option {
	return func(b *providerBuilder) {
		b.registry = registry
	}
}

// WithManifest registers the manifest on a fresh registry.
func WithManifest(manifest Manifest) Option {
	return func(b *providerBuilder) {
		if manifest == nil {
			return
		}
		registry, err := NewRegistryFromManifest(manifest)
		if err != nil {
			b.registry = nil
			b.manifestErr(err)
			return
		}
		b.registry = registry
	}
}

func WithContainer(container ContainerRegistrar) Option {
	return func(b *providerBuilder) {
		b.container = container
	}
}

func WithConfigStore(store ConfigStore) Option {
	return func(b *providerBuilder) {
		b.configStore = store
	}
}

func WithIdentifierStore(store IdentifierStore) Option {
	return func(b *providerBuilder) {
		b.identifierStore = store
	}
}

func WithBinder(binder ConfigBinder) Option {
	return func(b *providerBuilder) {
		b.binder = binder
	}
}

const tracerName = "github.com/goliatone/go-connectors"

func defaultProviderBuilder(runtime Config) providerBuilder {
	loggerProvider, logger := glog.Resolve("connectors", nil, nil)
	return providerBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		tracer:          noop.NewTracerProvider().Tracer(tracerName),
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func (b *providerBuilder) manifestErr(err error) {
	b.buildErrs = append(b.buildErrs, err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

// NewStaticRawConfigLoader serves values as the loaded provider config.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: copyAnyMap(values)}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides, in
// that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build options stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge options: %w", err)
	}
	return cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// configToLayerMap keeps zero values only for the defaults layer, so an
// unset runtime field never masks a loaded one. Booleans can therefore only
// be switched on by upper layers.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.DefaultCommandTimeoutSeconds > 0 {
		layer["default_command_timeout_seconds"] = cfg.DefaultCommandTimeoutSeconds
	}
	if includeZero || cfg.ListRegisteredOnMiss {
		layer["list_registered_on_miss"] = cfg.ListRegisteredOnMiss
	}
	if includeZero || cfg.MaxListedNames > 0 {
		layer["max_listed_names"] = cfg.MaxListedNames
	}
	return layer
}
