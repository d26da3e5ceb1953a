// Package security seals secret values with application keys.
package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// SecretProvider encrypts and decrypts opaque values.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Option func(*AppKeySecretProvider)

// AppKeySecretProvider seals values with AES-GCM under one versioned key.
type AppKeySecretProvider struct {
	aead    cipher.AEAD
	keyID   string
	version int
	window  KeyRotationWindow
	now     func() time.Time
}

func WithKeyID(id string) Option {
	return func(p *AppKeySecretProvider) {
		if id = strings.TrimSpace(id); id != "" {
			p.keyID = id
		}
	}
}

func WithVersion(version int) Option {
	return func(p *AppKeySecretProvider) {
		if version > 0 {
			p.version = version
		}
	}
}

// WithRotationWindow bounds when the key may encrypt.
func WithRotationWindow(window KeyRotationWindow) Option {
	return func(p *AppKeySecretProvider) { p.window = window }
}

func WithClock(now func() time.Time) Option {
	return func(p *AppKeySecretProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewAppKeySecretProvider accepts 16, 24 or 32 byte keys as is. Any other
// length is stretched to 32 bytes with SHA-256.
func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	switch len(material) {
	case 16, 24, 32:
	default:
		sum := sha256.Sum256(material)
		material = sum[:]
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}

	p := &AppKeySecretProvider{
		aead:    aead,
		keyID:   "app-key",
		version: 1,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	switch {
	case p == nil:
		return nil, fmt.Errorf("security: secret provider is nil")
	case len(plaintext) == 0:
		return nil, fmt.Errorf("security: plaintext is required")
	case !p.window.Allows(p.now()):
		return nil, fmt.Errorf("%w: %s", ErrKeyNotUsable, keySlot(p))
	}

	header, err := envelopeHeader(EnvelopeMetadata{KeyID: p.keyID, Version: p.version, Algorithm: envelopeAlgorithm})
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	return closeEnvelope(header, nonce, p.aead.Seal(nil, nonce, plaintext, header)), nil
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	value, err := openEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	return p.open(value)
}

func (p *AppKeySecretProvider) open(value sealedValue) ([]byte, error) {
	if !p.matches(value.KeyID, value.Version) {
		return nil, fmt.Errorf("%w: got %s:%d, want %s", ErrKeyMismatch, value.KeyID, value.Version, keySlot(p))
	}
	if len(value.nonce) != p.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce has %d bytes", ErrInvalidEnvelope, len(value.nonce))
	}
	plaintext, err := p.aead.Open(nil, value.nonce, value.ciphertext, value.header)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func (p *AppKeySecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func (p *AppKeySecretProvider) matches(keyID string, version int) bool {
	if keyID != "" && keyID != p.keyID {
		return false
	}
	return version <= 0 || version == p.version
}
