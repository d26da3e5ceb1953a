// Package secretconn is the built-in "appkey-secrets" connector. It seals
// and opens values with application keys and keeps retired keys readable.
package secretconn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/security"
)

const (
	TypeName     = "appkey-secrets"
	DescriptorID = 3

	Shape       core.ShapeTag    = "connectors.appkey_secrets"
	FactoryKind core.FactoryKind = "connectors.appkey_secrets"
)

const (
	KindEncrypt = "encrypt"
	KindDecrypt = "decrypt"
	KindInspect = "inspect"
	KindKeys    = "keys"
)

// Key is one key slot. NotBefore and NotAfter are RFC 3339 timestamps
// bounding when the key may encrypt.
type Key struct {
	Material  string `koanf:"material" mapstructure:"material" json:"material"`
	KeyID     string `koanf:"keyId" mapstructure:"keyId" json:"keyId"`
	Version   int    `koanf:"version" mapstructure:"version" json:"version"`
	NotBefore string `koanf:"notBefore" mapstructure:"notBefore" json:"notBefore,omitempty"`
	NotAfter  string `koanf:"notAfter" mapstructure:"notAfter" json:"notAfter,omitempty"`
}

// Config is the "appkey-secrets" shape. The active key material is read from
// ConnectionString when Active.Material is empty.
type Config struct {
	core.ConnectionConfig `koanf:",squash" mapstructure:",squash"`
	Active                Key   `koanf:"active" mapstructure:"active" json:"active"`
	Retired               []Key `koanf:"retired" mapstructure:"retired" json:"retired,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: core.ConnectionConfig{Type: TypeName},
		Active:           Key{KeyID: "app-key", Version: 1},
	}
}

func (Config) Shape() core.ShapeTag {
	return Shape
}

func (c Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.activeKey().Material) == "" {
		return core.NewError(core.ErrorKindValidation, "secretconn: active key material is required", nil)
	}
	for index, key := range append([]Key{c.activeKey()}, c.Retired...) {
		if strings.TrimSpace(key.Material) == "" {
			return core.NewError(core.ErrorKindValidation,
				fmt.Sprintf("secretconn: retired key %d has no material", index-1),
				map[string]any{"key_id": key.KeyID})
		}
		if _, err := key.window(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) activeKey() Key {
	key := c.Active
	if strings.TrimSpace(key.Material) == "" {
		key.Material = c.ConnectionString
	}
	return key
}

func (k Key) window() (security.KeyRotationWindow, error) {
	window := security.KeyRotationWindow{}
	for _, bound := range []struct {
		name  string
		raw   string
		field *time.Time
	}{
		{"notBefore", k.NotBefore, &window.NotBefore},
		{"notAfter", k.NotAfter, &window.NotAfter},
	} {
		if strings.TrimSpace(bound.raw) == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(bound.raw))
		if err != nil {
			return window, core.WrapError(err, core.ErrorKindValidation,
				fmt.Sprintf("secretconn: %s of key %q is not RFC 3339", bound.name, k.KeyID),
				map[string]any{"key_id": k.KeyID})
		}
		*bound.field = parsed
	}
	return window, nil
}

func (k Key) provider() (*security.AppKeySecretProvider, error) {
	window, err := k.window()
	if err != nil {
		return nil, err
	}
	return security.NewAppKeySecretProviderFromString(k.Material,
		security.WithKeyID(k.KeyID),
		security.WithVersion(k.Version),
		security.WithRotationWindow(window),
	)
}

type Option func(*factoryOptions)

type factoryOptions struct {
	logger core.Logger
}

// WithLogger receives a line whenever a retired key opens a value.
func WithLogger(logger core.Logger) Option {
	return func(o *factoryOptions) {
		o.logger = logger
	}
}

func NewFactory(opts ...Option) *core.TypedFactory[Config] {
	options := factoryOptions{}
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

func Descriptor(opts ...Option) core.Descriptor {
	return core.Descriptor{
		ID:          DescriptorID,
		Name:        TypeName,
		Capability:  "secrets",
		Description: "AES-GCM sealing with rotating application keys",
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
	keyring *security.Keyring
}

func newConnector(cfg Config, options factoryOptions, scope *core.Scope) (*connector, error) {
	active, err := cfg.activeKey().provider()
	if err != nil {
		return nil, err
	}
	keyringOpts := []security.KeyringOption{}
	for _, key := range cfg.Retired {
		retired, err := key.provider()
		if err != nil {
			return nil, err
		}
		keyringOpts = append(keyringOpts, security.WithRetiredKey(retired))
	}
	if logger := options.logger; logger != nil {
		keyringOpts = append(keyringOpts, security.WithKeyringDiagnostics(func(event security.KeyringDiagnostic) {
			logger.Warn("secretconn: value opened with retired key",
				"key_id", event.KeyID, "version", event.Version, "outcome", event.Outcome)
		}))
	}
	keyring, err := security.NewKeyring(active, keyringOpts...)
	if err != nil {
		return nil, core.WrapError(err, core.ErrorKindValidation, "secretconn: build keyring", nil)
	}

	c := &connector{keyring: keyring}
	c.Runtime = core.NewRuntime(cfg.TypeName(),
		core.WithScope(scope),
		core.WithDefaultTimeout(time.Duration(cfg.CommandTimeoutSeconds)*time.Second),
		core.WithHandler(KindEncrypt, c.encrypt),
		core.WithHandler(KindDecrypt, c.decrypt),
		core.WithHandler(KindInspect, c.inspect),
		core.WithHandler(KindKeys, func(context.Context, core.Command) (any, error) {
			return c.keyring.Keys(), nil
		}),
	)
	return c, nil
}

// encrypt seals the "value" parameter. Values never travel in the target,
// which is logged.
func (c *connector) encrypt(ctx context.Context, cmd core.Command) (any, error) {
	plaintext, err := payload(cmd)
	if err != nil {
		return nil, err
	}
	sealed, err := c.keyring.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, secretError(err, "encrypt", cmd)
	}
	return string(sealed), nil
}

func (c *connector) decrypt(ctx context.Context, cmd core.Command) (any, error) {
	ciphertext, err := payload(cmd)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.keyring.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, secretError(err, "decrypt", cmd)
	}
	if cmd.ExpectedResultType() == core.ResultTypeBytes {
		return plaintext, nil
	}
	return string(plaintext), nil
}

func (c *connector) inspect(_ context.Context, cmd core.Command) (any, error) {
	ciphertext, err := payload(cmd)
	if err != nil {
		return nil, err
	}
	meta, err := security.ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, secretError(err, "inspect", cmd)
	}
	return core.NewValues("keyId", meta.KeyID, "version", meta.Version, "algorithm", meta.Algorithm), nil
}

func payload(cmd core.Command) ([]byte, error) {
	raw, _ := cmd.Parameter("value")
	var data []byte
	switch typed := raw.(type) {
	case []byte:
		data = typed
	case string:
		data = []byte(typed)
	case nil:
	default:
		return nil, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("secretconn: value must be a string or bytes, got %T", raw), nil)
	}
	if len(data) == 0 {
		return nil, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("secretconn: %s requires a value", cmd.Kind()), nil)
	}
	return data, nil
}

// secretError keeps bad input apart from key problems: a malformed envelope
// is a validation failure, anything else failed while executing.
func secretError(err error, operation string, cmd core.Command) error {
	kind := core.ErrorKindExecution
	if errors.Is(err, security.ErrInvalidEnvelope) {
		kind = core.ErrorKindValidation
	}
	return core.WrapError(err, kind, "secretconn: "+operation+": "+err.Error(),
		map[string]any{"command_kind": cmd.Kind(), "key_error": security.IsKeyError(err)})
}

var _ core.Instance = (*connector)(nil)
