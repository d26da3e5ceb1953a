// Package restconn is the built-in "rest" connector. Command targets are
// paths resolved against the configured base URL.
package restconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/auth"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/ratelimit"
	"github.com/goliatone/go-connectors/transport"
)

const (
	TypeName     = "rest"
	DescriptorID = 2

	Shape       core.ShapeTag    = "connectors.rest"
	FactoryKind core.FactoryKind = "connectors.rest"
)

const (
	KindGet     = "get"
	KindPost    = "post"
	KindPut     = "put"
	KindPatch   = "patch"
	KindDelete  = "delete"
	KindRequest = "request"
	KindGraphQL = "graphql"
)

// Config is the "rest" shape. ConnectionString holds the base URL.
type Config struct {
	core.ConnectionConfig `koanf:",squash" mapstructure:",squash"`
	Protocol              string            `koanf:"protocol" mapstructure:"protocol" json:"protocol,omitempty"`
	Headers               map[string]string `koanf:"headers" mapstructure:"headers" json:"headers,omitempty"`
	GraphQLPath           string            `koanf:"graphqlPath" mapstructure:"graphqlPath" json:"graphqlPath,omitempty"`
	MaxResponseBodyBytes  int64             `koanf:"maxResponseBodyBytes" mapstructure:"maxResponseBodyBytes" json:"maxResponseBodyBytes,omitempty"`
	Auth                  auth.Settings     `koanf:"auth" mapstructure:"auth" json:"auth,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: core.ConnectionConfig{Type: TypeName},
		Protocol:         transport.KindREST,
		GraphQLPath:      "/graphql",
	}
}

func (Config) Shape() core.ShapeTag {
	return Shape
}

func (c Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if _, err := c.BaseURL(); err != nil {
		return err
	}
	if c.MaxResponseBodyBytes < 0 {
		return core.NewError(core.ErrorKindValidation, "restconn: maxResponseBodyBytes must not be negative", nil)
	}
	return c.Auth.Validate()
}

// BaseURL parses the connection string. Only absolute http and https URLs
// are accepted.
func (c Config) BaseURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.ConnectionString)
	if raw == "" {
		return nil, core.NewError(core.ErrorKindValidation, "restconn: connectionString (base url) is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, core.WrapError(err, core.ErrorKindValidation, "restconn: invalid base url",
			map[string]any{"connection_string": raw})
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return nil, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("restconn: base url %q must be an absolute http(s) url", raw),
			map[string]any{"connection_string": raw})
	}
	return parsed, nil
}

type Option func(*factoryOptions)

type factoryOptions struct {
	client   transport.HTTPDoer
	adapters *transport.Registry
	limits   *ratelimit.Policy
}

// WithHTTPClient replaces the client built per instance.
func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(o *factoryOptions) {
		o.client = client
	}
}

func WithAdapterRegistry(registry *transport.Registry) Option {
	return func(o *factoryOptions) {
		if registry != nil {
			o.adapters = registry
		}
	}
}

// WithRateLimitPolicy shares one throttling policy across instances. By
// default each instance tracks its own buckets.
func WithRateLimitPolicy(policy *ratelimit.Policy) Option {
	return func(o *factoryOptions) {
		o.limits = policy
	}
}

func NewFactory(opts ...Option) *core.TypedFactory[Config] {
	options := factoryOptions{adapters: transport.NewDefaultRegistry()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return core.NewTypedFactory(Shape, func(_ context.Context, cfg Config, scope *core.Scope) (core.Instance, error) {
		c, err := newConnector(cfg, options, scope)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Descriptor returns the "rest" descriptor. Its hook registers the factory
// and the shape in the container.
func Descriptor(opts ...Option) core.Descriptor {
	return core.Descriptor{
		ID:          DescriptorID,
		Name:        TypeName,
		Capability:  "http",
		Description: "HTTP endpoints addressed by path (rest, graphql, soap, bulk, stream, file)",
		Shape:       Shape,
		FactoryKind: FactoryKind,
		Register: func(_ context.Context, container core.ContainerRegistrar) error {
			if err := container.RegisterFactory(FactoryKind, NewFactory(opts...)); err != nil {
				return err
			}
			return core.RegisterShapeIn(container, Shape, DefaultConfig())
		},
	}
}

type connector struct {
	*core.Runtime
	cfg      Config
	base     *url.URL
	adapter  transport.Adapter
	graphql  *transport.GraphQLAdapter
	limits   *ratelimit.Policy
	attempts int
}

func newConnector(cfg Config, options factoryOptions, scope *core.Scope) (*connector, error) {
	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	client := options.client
	if client == nil {
		httpClient := &http.Client{}
		if cfg.CommandTimeoutSeconds > 0 {
			httpClient.Timeout = time.Duration(cfg.CommandTimeoutSeconds) * time.Second
		}
		scope.Defer(func(context.Context) error {
			httpClient.CloseIdleConnections()
			return nil
		})
		client = httpClient
	}
	authenticator, err := auth.New(cfg.Auth, client)
	if err != nil {
		return nil, err
	}
	client = auth.Client(client, authenticator)

	protocol := strings.TrimSpace(cfg.Protocol)
	if protocol == "" {
		protocol = transport.KindREST
	}
	adapter, err := options.adapters.Build(protocol, client, map[string]any{"endpoint": base.String()})
	if err != nil {
		return nil, err
	}

	c := &connector{
		cfg:      cfg,
		base:     base,
		adapter:  adapter,
		graphql:  transport.NewGraphQLAdapter(resolvePath(base, cfg.GraphQLPath), client),
		limits:   options.limits,
		attempts: 1 + max(cfg.MaxRetryCount, 0),
	}
	if c.limits == nil {
		c.limits = ratelimit.NewPolicy(nil)
	}
	c.graphql.REST.MaxResponseBodyBytes = cfg.MaxResponseBodyBytes

	c.Runtime = core.NewRuntime(cfg.TypeName(),
		core.WithScope(scope),
		core.WithDefaultTimeout(time.Duration(cfg.CommandTimeoutSeconds)*time.Second),
		core.WithHandler(KindGet, c.method(http.MethodGet)),
		core.WithHandler(KindPost, c.method(http.MethodPost)),
		core.WithHandler(KindPut, c.method(http.MethodPut)),
		core.WithHandler(KindPatch, c.method(http.MethodPatch)),
		core.WithHandler(KindDelete, c.method(http.MethodDelete)),
		core.WithHandler(KindRequest, c.request),
		core.WithHandler(KindGraphQL, c.query),
	)
	return c, nil
}

func (c *connector) method(method string) core.HandlerFunc {
	return func(ctx context.Context, cmd core.Command) (any, error) {
		return c.do(ctx, method, cmd)
	}
}

// request reads the HTTP method from the "method" parameter.
func (c *connector) request(ctx context.Context, cmd core.Command) (any, error) {
	method, _ := cmd.Parameter("method")
	text := strings.ToUpper(strings.TrimSpace(fmt.Sprint(valueOr(method, ""))))
	if text == "" {
		return nil, core.NewError(core.ErrorKindValidation,
			"restconn: request command requires a method parameter",
			map[string]any{"command_target": cmd.Target()})
	}
	return c.do(ctx, text, cmd)
}

func (c *connector) query(ctx context.Context, cmd core.Command) (any, error) {
	query, _ := cmd.Parameter("query")
	text := strings.TrimSpace(fmt.Sprint(valueOr(query, cmd.Target())))
	meta := map[string]any{"query": text, "variables": cmd.Filters().Map()}
	if name, ok := cmd.Parameter("operationName"); ok {
		meta["operation_name"] = name
	}
	headers, err := c.headers(cmd)
	if err != nil {
		return nil, err
	}
	response, err := c.send(ctx, c.graphql, transport.Request{Headers: headers, Metadata: meta})
	if err != nil {
		return nil, err
	}
	return c.shapeResponse(cmd, http.MethodPost, response)
}

func (c *connector) do(ctx context.Context, method string, cmd core.Command) (any, error) {
	req, err := c.buildRequest(method, cmd)
	if err != nil {
		return nil, err
	}
	attempts := 1
	if method == http.MethodGet && !cmd.IsMutating() {
		attempts = c.attempts
	}
	var response transport.Response
	for attempt := 1; ; attempt++ {
		response, err = c.send(ctx, c.adapter, req)
		if err == nil || attempt >= attempts || !core.IsKind(err, core.ErrorKindExecution) || ctx.Err() != nil {
			break
		}
		if _, throttled := ratelimit.RetryAfter(err); throttled {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return c.shapeResponse(cmd, method, response)
}

// send runs req through adapter unless the host is throttled, then records
// the rate limit headers of the response.
func (c *connector) send(ctx context.Context, adapter transport.Adapter, req transport.Request) (transport.Response, error) {
	bucket := c.base.Host
	if err := c.limits.Admit(ctx, bucket); err != nil {
		var throttled ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			return transport.Response{}, throttled.ToError()
		}
		return transport.Response{}, err
	}
	response, err := adapter.Do(ctx, req)
	if err != nil {
		return response, err
	}
	if err := c.limits.Observe(ctx, bucket, response); err != nil {
		return response, core.WrapError(err, core.ErrorKindInternal, "restconn: record rate limit state", nil)
	}
	return response, nil
}

func (c *connector) buildRequest(method string, cmd core.Command) (transport.Request, error) {
	query := map[string]string{}
	cmd.Filters().Range(func(key string, value any) bool {
		query[key] = fmt.Sprint(value)
		return true
	})
	headers, err := c.headers(cmd)
	if err != nil {
		return transport.Request{}, err
	}
	body, contentType, err := encodeBody(cmd)
	if err != nil {
		return transport.Request{}, err
	}
	if contentType != "" && !hasHeader(headers, "Content-Type") {
		headers["Content-Type"] = contentType
	}
	return transport.Request{
		Method:               method,
		URL:                  resolvePath(c.base, cmd.Target()),
		Query:                query,
		Headers:              headers,
		Body:                 body,
		Metadata:             cmd.Metadata().Map(),
		MaxResponseBodyBytes: c.cfg.MaxResponseBodyBytes,
	}, nil
}

func (c *connector) headers(cmd core.Command) (map[string]string, error) {
	headers := make(map[string]string, len(c.cfg.Headers))
	for key, value := range c.cfg.Headers {
		headers[key] = value
	}
	raw, ok := cmd.Parameter("headers")
	if !ok || raw == nil {
		return headers, nil
	}
	switch typed := raw.(type) {
	case map[string]string:
		for key, value := range typed {
			headers[key] = value
		}
	case map[string]any:
		for key, value := range typed {
			headers[key] = fmt.Sprint(value)
		}
	default:
		return nil, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("restconn: headers parameter must be a map, got %T", raw), nil)
	}
	return headers, nil
}

func (c *connector) shapeResponse(cmd core.Command, method string, response transport.Response) (any, error) {
	if !response.OK() {
		return nil, core.NewError(core.ErrorKindExecution,
			fmt.Sprintf("restconn: %s %s returned status %d", method, cmd.Target(), response.StatusCode),
			map[string]any{
				"status_code":    response.StatusCode,
				"command_kind":   cmd.Kind(),
				"command_target": cmd.Target(),
				"body":           truncate(string(response.Body), 256),
			})
	}
	switch cmd.ExpectedResultType() {
	case core.ResultTypeNone:
		return nil, nil
	case core.ResultTypeBytes:
		return response.Body, nil
	case core.ResultTypeScalar:
		return string(response.Body), nil
	case core.ResultTypeDocument:
		if len(response.Body) == 0 {
			return nil, nil
		}
		var document any
		if err := json.Unmarshal(response.Body, &document); err != nil {
			return nil, core.WrapError(err, core.ErrorKindExecution, "restconn: decode json response",
				map[string]any{"command_target": cmd.Target()})
		}
		return document, nil
	default:
		return response, nil
	}
}

// encodeBody reads the "body" parameter. Strings and bytes are sent as is,
// anything else is encoded as JSON.
func encodeBody(cmd core.Command) ([]byte, string, error) {
	raw, ok := cmd.Parameter("body")
	if !ok || raw == nil {
		return nil, "", nil
	}
	switch typed := raw.(type) {
	case []byte:
		return typed, "", nil
	case string:
		return []byte(typed), "", nil
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return nil, "", core.WrapError(err, core.ErrorKindValidation, "restconn: encode json body",
				map[string]any{"command_target": cmd.Target()})
		}
		return data, "application/json", nil
	}
}

func resolvePath(base *url.URL, target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return base.String()
	}
	if ref, err := url.Parse(target); err == nil && ref.IsAbs() {
		return ref.String()
	}
	joined := *base
	joined.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(target, "/")
	return joined.String()
}

func hasHeader(headers map[string]string, name string) bool {
	for key := range headers {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}

func valueOr(value any, fallback any) any {
	if value == nil {
		return fallback
	}
	return value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

var _ core.Instance = (*connector)(nil)
