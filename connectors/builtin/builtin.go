// Package builtin assembles the manifest of connectors shipped with this
// module: "sql", "rest" and "appkey-secrets".
package builtin

import (
	"github.com/goliatone/go-connectors/connectors/restconn"
	"github.com/goliatone/go-connectors/connectors/secretconn"
	"github.com/goliatone/go-connectors/connectors/sqlconn"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
	"github.com/uptrace/bun"
)

type Option func(*options)

type options struct {
	logger      core.Logger
	httpClient  transport.HTTPDoer
	queryHooks  []bun.QueryHook
	restOptions []restconn.Option
}

// WithLogger is handed to every connector that logs.
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithQueryHook(hook bun.QueryHook) Option {
	return func(o *options) {
		if hook != nil {
			o.queryHooks = append(o.queryHooks, hook)
		}
	}
}

func WithRESTOptions(opts ...restconn.Option) Option {
	return func(o *options) {
		o.restOptions = append(o.restOptions, opts...)
	}
}

// Descriptors returns the built-in descriptors in id order.
func Descriptors(opts ...Option) []core.Descriptor {
	resolved := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}

	sqlOpts := []sqlconn.Option{}
	secretOpts := []secretconn.Option{}
	if resolved.logger != nil {
		sqlOpts = append(sqlOpts, sqlconn.WithLogger(resolved.logger))
		secretOpts = append(secretOpts, secretconn.WithLogger(resolved.logger))
	}
	for _, hook := range resolved.queryHooks {
		sqlOpts = append(sqlOpts, sqlconn.WithQueryHook(hook))
	}
	restOpts := append([]restconn.Option{}, resolved.restOptions...)
	if resolved.httpClient != nil {
		restOpts = append(restOpts, restconn.WithHTTPClient(resolved.httpClient))
	}

	return []core.Descriptor{
		sqlconn.Descriptor(sqlOpts...),
		restconn.Descriptor(restOpts...),
		secretconn.Descriptor(secretOpts...),
	}
}

// Manifest wraps Descriptors for core.WithManifest.
func Manifest(opts ...Option) core.Manifest {
	return func() []core.Descriptor {
		return Descriptors(opts...)
	}
}
