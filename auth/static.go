package auth

import (
	"context"
	"net/http"
	"strings"
)

type Bearer struct {
	token string
}

func NewBearer(token string) *Bearer {
	return &Bearer{token: strings.TrimSpace(token)}
}

func (*Bearer) Kind() string { return KindBearer }

func (b *Bearer) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

type Basic struct {
	username string
	password string
}

func NewBasic(username, password string) *Basic {
	return &Basic{username: strings.TrimSpace(username), password: password}
}

func (*Basic) Kind() string { return KindBasic }

func (b *Basic) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.username, b.password)
	return nil
}

// APIKeyConfig places a static key in a header or, when QueryParam is set,
// in the query string.
type APIKeyConfig struct {
	Key        string
	Header     string
	Prefix     string
	QueryParam string
}

type APIKey struct {
	config APIKeyConfig
}

func NewAPIKey(cfg APIKeyConfig) *APIKey {
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKey{config: APIKeyConfig{
		Key:        strings.TrimSpace(cfg.Key),
		Header:     header,
		Prefix:     strings.TrimSpace(cfg.Prefix),
		QueryParam: strings.TrimSpace(cfg.QueryParam),
	}}
}

func (*APIKey) Kind() string { return KindAPIKey }

func (a *APIKey) Apply(_ context.Context, req *http.Request) error {
	if a.config.QueryParam != "" {
		query := req.URL.Query()
		query.Set(a.config.QueryParam, a.config.Key)
		req.URL.RawQuery = query.Encode()
		return nil
	}
	value := a.config.Key
	if a.config.Prefix != "" {
		value = a.config.Prefix + " " + value
	}
	req.Header.Set(a.config.Header, value)
	return nil
}
