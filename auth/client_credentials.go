package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
)

const (
	defaultTokenTTL    = time.Hour
	defaultRenewBefore = 2 * time.Minute
)

type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	RenewBefore  time.Duration
	Now          func() time.Time
}

// ClientCredentials fetches an OAuth2 access token with the client
// credentials grant and reuses it until RenewBefore ahead of its expiry.
type ClientCredentials struct {
	config ClientCredentialsConfig
	client transport.HTTPDoer

	mu        sync.Mutex
	token     string
	tokenType string
	expiresAt time.Time
}

func NewClientCredentials(cfg ClientCredentialsConfig, client transport.HTTPDoer) *ClientCredentials {
	if client == nil {
		client = http.DefaultClient
	}
	renewBefore := cfg.RenewBefore
	if renewBefore <= 0 {
		renewBefore = defaultRenewBefore
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	scopes := make([]string, 0, len(cfg.Scopes))
	for _, scope := range cfg.Scopes {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return &ClientCredentials{
		config: ClientCredentialsConfig{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			TokenURL:     strings.TrimSpace(cfg.TokenURL),
			Scopes:       scopes,
			RenewBefore:  renewBefore,
			Now:          now,
		},
		client: client,
	}
}

func (*ClientCredentials) Kind() string { return KindOAuth2ClientCredentials }

func (c *ClientCredentials) Apply(ctx context.Context, req *http.Request) error {
	token, tokenType, err := c.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", tokenType+" "+token)
	return nil
}

// Token returns the cached access token, fetching a new one when none is
// cached or the cached one is inside the renewal window.
func (c *ClientCredentials) Token(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.config.Now()
	if c.token != "" && now.Before(c.expiresAt.Add(-c.config.RenewBefore)) {
		return c.token, c.tokenType, nil
	}
	fetched, err := c.fetch(ctx)
	if err != nil {
		return "", "", err
	}
	ttl := time.Duration(fetched.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	c.token = fetched.AccessToken
	c.tokenType = normalizeTokenType(fetched.TokenType)
	c.expiresAt = now.Add(ttl)
	return c.token, c.tokenType, nil
}

// Invalidate drops the cached token so the next request fetches a new one.
func (c *ClientCredentials) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *ClientCredentials) fetch(ctx context.Context) (tokenResponse, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if len(c.config.Scopes) > 0 {
		form.Set("scope", strings.Join(c.config.Scopes, " "))
	}
	meta := map[string]any{"token_url": c.config.TokenURL, "client_id": c.config.ClientID}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, core.WrapError(err, core.ErrorKindValidation, "auth: build token request", meta)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(c.config.ClientSecret))

	resp, err := c.client.Do(req)
	if err != nil {
		return tokenResponse{}, core.WrapError(err, core.ErrorKindExecution, "auth: token request failed", meta)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenResponse{}, core.WrapError(err, core.ErrorKindExecution, "auth: read token response", meta)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		meta["status_code"] = resp.StatusCode
		return tokenResponse{}, core.NewError(core.ErrorKindExecution,
			fmt.Sprintf("auth: token endpoint returned status %d", resp.StatusCode), meta)
	}
	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return tokenResponse{}, core.WrapError(err, core.ErrorKindExecution, "auth: decode token response", meta)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return tokenResponse{}, core.NewError(core.ErrorKindExecution, "auth: token response has no access_token", meta)
	}
	return token, nil
}

func normalizeTokenType(tokenType string) string {
	if strings.EqualFold(strings.TrimSpace(tokenType), "bearer") || strings.TrimSpace(tokenType) == "" {
		return "Bearer"
	}
	return strings.TrimSpace(tokenType)
}
