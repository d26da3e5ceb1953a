// Package auth signs outbound HTTP requests for connectors that talk to
// remote APIs. An Authenticator mutates each request before it is sent;
// Client wraps any transport.HTTPDoer with one.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
)

const (
	KindNone                    = "none"
	KindBearer                  = "bearer"
	KindBasic                   = "basic"
	KindAPIKey                  = "apikey"
	KindHMAC                    = "hmac"
	KindOAuth2ClientCredentials = "oauth2_client_credentials"
)

// Settings is the "auth" section of an HTTP connector configuration. Which
// fields apply depends on Type.
type Settings struct {
	Type string `koanf:"type" mapstructure:"type" json:"type,omitempty"`

	Token string `koanf:"token" mapstructure:"token" json:"token,omitempty"`

	Username string `koanf:"username" mapstructure:"username" json:"username,omitempty"`
	Password string `koanf:"password" mapstructure:"password" json:"password,omitempty"`

	Header     string `koanf:"header" mapstructure:"header" json:"header,omitempty"`
	Prefix     string `koanf:"prefix" mapstructure:"prefix" json:"prefix,omitempty"`
	QueryParam string `koanf:"queryParam" mapstructure:"queryParam" json:"queryParam,omitempty"`

	KeyID           string `koanf:"keyId" mapstructure:"keyId" json:"keyId,omitempty"`
	Secret          string `koanf:"secret" mapstructure:"secret" json:"secret,omitempty"`
	SignatureHeader string `koanf:"signatureHeader" mapstructure:"signatureHeader" json:"signatureHeader,omitempty"`
	TimestampHeader string `koanf:"timestampHeader" mapstructure:"timestampHeader" json:"timestampHeader,omitempty"`

	ClientID           string   `koanf:"clientId" mapstructure:"clientId" json:"clientId,omitempty"`
	ClientSecret       string   `koanf:"clientSecret" mapstructure:"clientSecret" json:"clientSecret,omitempty"`
	TokenURL           string   `koanf:"tokenUrl" mapstructure:"tokenUrl" json:"tokenUrl,omitempty"`
	Scopes             []string `koanf:"scopes" mapstructure:"scopes" json:"scopes,omitempty"`
	RenewBeforeSeconds int      `koanf:"renewBeforeSeconds" mapstructure:"renewBeforeSeconds" json:"renewBeforeSeconds,omitempty"`
}

// Kind returns the normalized type. An empty type means KindNone.
func (s Settings) Kind() string {
	kind := strings.ToLower(strings.TrimSpace(s.Type))
	switch kind {
	case "":
		return KindNone
	case "api_key", "api-key":
		return KindAPIKey
	case "client_credentials", "oauth2":
		return KindOAuth2ClientCredentials
	}
	return kind
}

func (s Settings) Validate() error {
	missing := func(field string) error {
		return core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("auth: %s requires %s", s.Kind(), field),
			map[string]any{"auth_kind": s.Kind()})
	}
	switch s.Kind() {
	case KindNone:
	case KindBearer:
		if strings.TrimSpace(s.Token) == "" {
			return missing("token")
		}
	case KindBasic:
		if strings.TrimSpace(s.Username) == "" {
			return missing("username")
		}
	case KindAPIKey:
		if strings.TrimSpace(s.Token) == "" {
			return missing("token")
		}
	case KindHMAC:
		if strings.TrimSpace(s.Secret) == "" {
			return missing("secret")
		}
	case KindOAuth2ClientCredentials:
		if strings.TrimSpace(s.ClientID) == "" {
			return missing("clientId")
		}
		if strings.TrimSpace(s.TokenURL) == "" {
			return missing("tokenUrl")
		}
		if s.RenewBeforeSeconds < 0 {
			return core.NewError(core.ErrorKindValidation, "auth: renewBeforeSeconds must not be negative", nil)
		}
	default:
		return core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("auth: unsupported auth type %q", s.Type),
			map[string]any{"auth_kind": s.Type})
	}
	return nil
}

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	Kind() string
	Apply(ctx context.Context, req *http.Request) error
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the clock used for signatures and token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds the authenticator for settings. client is used for token
// requests and is never wrapped by the returned authenticator. KindNone
// returns a nil Authenticator.
func New(settings Settings, client transport.HTTPDoer, opts ...Option) (Authenticator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	switch settings.Kind() {
	case KindBearer:
		return NewBearer(settings.Token), nil
	case KindBasic:
		return NewBasic(settings.Username, settings.Password), nil
	case KindAPIKey:
		return NewAPIKey(APIKeyConfig{
			Key:        settings.Token,
			Header:     settings.Header,
			Prefix:     settings.Prefix,
			QueryParam: settings.QueryParam,
		}), nil
	case KindHMAC:
		return NewHMAC(HMACConfig{
			KeyID:           settings.KeyID,
			Secret:          settings.Secret,
			SignatureHeader: settings.SignatureHeader,
			TimestampHeader: settings.TimestampHeader,
			Now:             o.now,
		}), nil
	case KindOAuth2ClientCredentials:
		return NewClientCredentials(ClientCredentialsConfig{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			TokenURL:     settings.TokenURL,
			Scopes:       settings.Scopes,
			RenewBefore:  time.Duration(settings.RenewBeforeSeconds) * time.Second,
			Now:          o.now,
		}, client), nil
	}
	return nil, nil
}

// Client applies authenticator to every request before handing it to next.
func Client(next transport.HTTPDoer, authenticator Authenticator) transport.HTTPDoer {
	if authenticator == nil {
		return next
	}
	return &authenticatedClient{next: next, authenticator: authenticator}
}

type authenticatedClient struct {
	next          transport.HTTPDoer
	authenticator Authenticator
}

func (c *authenticatedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.authenticator.Apply(req.Context(), req); err != nil {
		return nil, err
	}
	return c.next.Do(req)
}
