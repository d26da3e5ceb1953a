// Package connectors resolves named connector configurations into live,
// caller-owned instances and runs commands against them. The root package
// re-exports the core contracts and wires the built-in connectors by
// default.
package connectors

import (
	"github.com/goliatone/go-connectors/connectors/builtin"
	"github.com/goliatone/go-connectors/core"
)

type Config = core.Config

type Option = core.Option

type Provider = core.Provider

type ProviderDependencies = core.ProviderDependencies

type Descriptor = core.Descriptor
type Manifest = core.Manifest
type Registry = core.Registry
type Factory = core.Factory
type Instance = core.Instance
type Configuration = core.Configuration
type ConnectionConfig = core.ConnectionConfig
type RawConfig = core.RawConfig
type ConfigStore = core.ConfigStore
type IdentifierStore = core.IdentifierStore

type Command = core.Command
type CommandOption = core.CommandOption
type Values = core.Values
type ResultType = core.ResultType
type BatchReport = core.BatchReport

type ErrorKind = core.ErrorKind

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithTracer          = core.WithTracer
	WithTracerProvider  = core.WithTracerProvider
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithRegistry        = core.WithRegistry
	WithManifest        = core.WithManifest
	WithContainer       = core.WithContainer
	WithConfigStore     = core.WithConfigStore
	WithIdentifierStore = core.WithIdentifierStore
	WithBinder          = core.WithBinder
)

var (
	NewCommand = core.NewCommand
	Param      = core.Param
	Filter     = core.Filter
	Meta       = core.Meta
	Expect     = core.Expect
	Mutating   = core.Mutating
	Timeout    = core.Timeout
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// New builds a provider that knows the built-in connectors. A WithManifest
// or WithRegistry option replaces them.
func New(cfg Config, opts ...Option) (*Provider, error) {
	all := make([]Option, 0, len(opts)+1)
	all = append(all, core.WithManifest(builtin.Manifest()))
	all = append(all, opts...)
	return core.NewProvider(cfg, all...)
}

// BuiltinDescriptors lists "sql", "rest" and "appkey-secrets".
func BuiltinDescriptors(opts ...builtin.Option) []Descriptor {
	return builtin.Descriptors(opts...)
}
