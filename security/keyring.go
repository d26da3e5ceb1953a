package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyringDiagnostic is reported when decryption falls through to a retired key.
type KeyringDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	KeyID      string
	Version    int
	Outcome    string
}

type KeyringDiagnosticHook func(event KeyringDiagnostic)

// Keyring encrypts with the active key and decrypts with whichever key the
// envelope names, so values sealed before a rotation stay readable.
type Keyring struct {
	active  *AppKeySecretProvider
	retired []*AppKeySecretProvider
	hook    KeyringDiagnosticHook
}

type KeyringOption func(*Keyring)

func WithRetiredKey(provider *AppKeySecretProvider) KeyringOption {
	return func(k *Keyring) {
		if provider != nil {
			k.retired = append(k.retired, provider)
		}
	}
}

func WithKeyringDiagnostics(hook KeyringDiagnosticHook) KeyringOption {
	return func(k *Keyring) {
		k.hook = hook
	}
}

func NewKeyring(active *AppKeySecretProvider, opts ...KeyringOption) (*Keyring, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active key is required")
	}
	ring := &Keyring{active: active}
	for _, opt := range opts {
		if opt != nil {
			opt(ring)
		}
	}
	seen := map[string]bool{keySlot(active): true}
	for _, retired := range ring.retired {
		slot := keySlot(retired)
		if seen[slot] {
			return nil, fmt.Errorf("security: key %s registered twice", slot)
		}
		seen[slot] = true
	}
	return ring, nil
}

func (k *Keyring) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	return k.active.Encrypt(ctx, plaintext)
}

func (k *Keyring) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	value, err := openEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if k.active.matches(value.KeyID, value.Version) {
		return k.active.open(value)
	}
	for _, retired := range k.retired {
		if !retired.matches(value.KeyID, value.Version) {
			continue
		}
		plaintext, err := retired.open(value)
		outcome := "retired_key_used"
		if err != nil {
			outcome = "retired_key_failed"
		}
		k.emit("decrypt", retired, outcome)
		return plaintext, err
	}
	return nil, fmt.Errorf("%w: no key for %s:%d", ErrKeyMismatch, value.KeyID, value.Version)
}

// Metadata reports the active key.
func (k *Keyring) Metadata() (string, int) {
	if k == nil {
		return "", 0
	}
	return k.active.Metadata()
}

// Keys lists active then retired key slots as "id:version".
func (k *Keyring) Keys() []string {
	if k == nil {
		return []string{}
	}
	out := []string{keySlot(k.active)}
	for _, retired := range k.retired {
		out = append(out, keySlot(retired))
	}
	return out
}

func (k *Keyring) emit(operation string, key *AppKeySecretProvider, outcome string) {
	if k.hook == nil {
		return
	}
	k.hook(KeyringDiagnostic{
		OccurredAt: time.Now().UTC(),
		Operation:  operation,
		KeyID:      key.KeyID(),
		Version:    key.Version(),
		Outcome:    outcome,
	})
}

func keySlot(p *AppKeySecretProvider) string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(p.KeyID()), p.Version())
}

// IsKeyError reports whether err stems from key selection rather than from
// corrupt input.
func IsKeyError(err error) bool {
	return errors.Is(err, ErrKeyMismatch) || errors.Is(err, ErrKeyNotUsable)
}

var (
	_ SecretProvider = (*AppKeySecretProvider)(nil)
	_ SecretProvider = (*Keyring)(nil)
)
