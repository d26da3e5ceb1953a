package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

const KindREST = "rest"

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 10 << 20
)

// HTTPDoer is the part of *http.Client adapters need. Authenticating
// wrappers and test clients satisfy it too.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter sends Request as a plain HTTP call. DefaultHeaders go out on
// every request; request headers win on conflict. Non-2xx statuses are
// returned as responses, not errors.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, transportError("transport: rest adapter has no http client",
			core.ErrorKindInternal, map[string]any{"adapter": KindREST})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newHTTPRequest(ctx, req)
	if err != nil {
		return Response{}, err
	}
	meta := map[string]any{"adapter": KindREST, "method": httpReq.Method, "url": httpReq.URL.String()}

	started := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindExecution, "transport: http request failed", meta)
	}
	defer httpRes.Body.Close()

	limit := responseBodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes)
	body, exceeded, err := readLimited(httpRes.Body, limit)
	meta["status_code"] = httpRes.StatusCode
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindExecution, "transport: read http response", meta)
	}
	if exceeded {
		meta["response_limit_b"] = limit
		return Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit), core.ErrorKindExecution, meta)
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"kind":        KindREST,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	}, nil
}

// newHTTPRequest merges req.Query into the URL query and applies headers.
// The method defaults to GET.
func (a *RESTAdapter) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, transportError("transport: request url is required",
			core.ErrorKindValidation, map[string]any{"adapter": KindREST})
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, transportWrapError(err, core.ErrorKindValidation, "transport: invalid request url",
			map[string]any{"adapter": KindREST, "url": raw})
	}
	if len(req.Query) > 0 {
		values := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = values.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, transportWrapError(err, core.ErrorKindValidation, "transport: build http request",
			map[string]any{"adapter": KindREST, "method": method, "url": target.String()})
	}
	for _, headers := range []map[string]string{a.DefaultHeaders, req.Headers} {
		for key, value := range headers {
			if key = strings.TrimSpace(key); key != "" {
				httpReq.Header.Set(key, strings.TrimSpace(value))
			}
		}
	}
	return httpReq, nil
}

// readLimited reads at most limit bytes and reports whether the body was
// longer.
func readLimited(body io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, false, err
	}
	return data, int64(len(data)) > limit, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func responseBodyLimit(requestLimit, adapterLimit int64) int64 {
	switch {
	case requestLimit > 0:
		return requestLimit
	case adapterLimit > 0:
		return adapterLimit
	default:
		return defaultResponseBodyLimit
	}
}
