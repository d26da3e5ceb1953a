package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.values), nil
}

const (
	fakeShape   ShapeTag    = "fake"
	fakeFactory FactoryKind = "fake.factory"
)

type fakeConfig struct {
	ConnectionConfig `koanf:",squash" mapstructure:",squash"`
	FailBuild        string `koanf:"failBuild" mapstructure:"failBuild"`
	FailOpen         bool   `koanf:"failOpen" mapstructure:"failOpen"`
	Resources        int    `koanf:"resources" mapstructure:"resources"`
}

func (c fakeConfig) Shape() ShapeTag {
	return fakeShape
}

func (c fakeConfig) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ConnectionString) == "" {
		return NewError(ErrorKindValidation, "fake: connectionString is required", nil)
	}
	return nil
}

func newFakeConfig(typeName string) fakeConfig {
	return fakeConfig{ConnectionConfig: ConnectionConfig{Type: typeName, ConnectionString: "fake://local"}}
}

type otherConfig struct {
	Type string
}

func (c otherConfig) TypeName() string { return c.Type }

// resourceCounter tracks handles opened by fake factories.
type resourceCounter struct {
	open   atomic.Int64
	opened atomic.Int64
}

type countedResource struct {
	counter *resourceCounter
	closed  atomic.Bool
}

func (c *resourceCounter) acquire() *countedResource {
	c.open.Add(1)
	c.opened.Add(1)
	return &countedResource{counter: c}
}

func (r *countedResource) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.counter.open.Add(-1)
	}
	return nil
}

// fakeLedger records the commands applied by fake instances.
type fakeLedger struct {
	mu      sync.Mutex
	applied []string
}

func (l *fakeLedger) record(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied = append(l.applied, entry)
}

func (l *fakeLedger) entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.applied...)
}

type fakeHarness struct {
	counter resourceCounter
	ledger  fakeLedger
	started chan struct{}
	block   bool
}

func newFakeHarness() *fakeHarness {
	return &fakeHarness{started: make(chan struct{}, 16)}
}

func (h *fakeHarness) factory() *TypedFactory[fakeConfig] {
	return NewTypedFactory(fakeShape, func(ctx context.Context, cfg fakeConfig, scope *Scope) (Instance, error) {
		for i := 0; i < max(cfg.Resources, 1); i++ {
			scope.Track(h.counter.acquire())
		}
		if h.block {
			h.started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if cfg.FailBuild != "" {
			return nil, errors.New(cfg.FailBuild)
		}
		opts := []RuntimeOption{
			WithScope(scope),
			WithHandler("append", func(_ context.Context, cmd Command) (any, error) {
				h.ledger.record(cmd.Target())
				return cmd.Target(), nil
			}),
			WithHandler("fail", func(_ context.Context, cmd Command) (any, error) {
				return nil, fmt.Errorf("fake: %s rejected", cmd.Target())
			}),
			WithHandler("panic", func(context.Context, Command) (any, error) {
				panic("fake handler exploded")
			}),
			WithHandler("wait", func(ctx context.Context, _ Command) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
			WithHandler("count", func(context.Context, Command) (any, error) {
				return 42, nil
			}),
		}
		if cfg.FailOpen {
			opts = append(opts, WithOpenHook(func(context.Context) error {
				return errors.New("fake: open refused")
			}))
		}
		return NewRuntime(cfg.TypeName(), opts...), nil
	})
}

func fakeDescriptor(name string, id int) Descriptor {
	return Descriptor{
		ID:          id,
		Name:        name,
		Capability:  "test",
		Shape:       fakeShape,
		FactoryKind: fakeFactory,
	}
}

func newFakeProvider(t *testing.T, h *fakeHarness, opts ...Option) *Provider {
	t.Helper()
	registry, err := NewRegistry(fakeDescriptor("Fake", 1), fakeDescriptor("MsSql", 2))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	container := NewServiceContainer()
	if err := container.RegisterFactory(fakeFactory, h.factory()); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	binder := NewShapeBinder()
	if err := RegisterShape(binder, fakeShape, fakeConfig{}); err != nil {
		t.Fatalf("register shape: %v", err)
	}
	base := []Option{
		WithRegistry(registry),
		WithContainer(container),
		WithBinder(binder),
		WithLogger(stubLogger{}),
	}
	provider, err := NewProvider(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

type memoryConfigStore struct {
	sections map[string]RawConfig
	err      error
	panics   bool
}

func (s memoryConfigStore) GetSection(_ context.Context, name string) (RawConfig, error) {
	if s.panics {
		panic("store exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	section, ok := s.sections[name]
	if !ok {
		return nil, ErrSectionNotFound
	}
	return section.Clone(), nil
}

type memoryIdentifierStore struct {
	sections map[string]RawConfig
}

func (s memoryIdentifierStore) GetByID(_ context.Context, id string) (RawConfig, error) {
	section, ok := s.sections[id]
	if !ok {
		return nil, ErrSectionNotFound
	}
	return section.Clone(), nil
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
