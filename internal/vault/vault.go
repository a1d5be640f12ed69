// internal/vault/vault.go
//
// Credential cipher for campus API secrets.
//
// Context
// -------
//   - Campus API keys and secrets are stored encrypted at rest in
//     sync_config.  This file owns the cipher: AES-256-GCM with a random
//     nonce per sealing, emitted as base64url(nonce || ciphertext).
//   - The 256-bit key is resolved in order: explicit hex key from
//     configuration, then a KV-v2 secret when credentials.kv_path is set,
//     then a generated throwaway key.  The throwaway path logs a warning
//     and raises the caresync_credential_key_ephemeral gauge, because
//     previously stored credentials cannot be decrypted after a restart.
//   - Decrypt failures come back as *CredentialError so callers can tell
//     a bad stored blob (operator must re-enter credentials) apart from
//     infrastructure errors.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/metrics"
)

// KeySource records where the cipher key came from, surfaced on /healthz so
// operators notice an ephemeral-key deployment before storing credentials.
type KeySource string

const (
	KeyFromConfig KeySource = "config"
	KeyFromKV     KeySource = "kv"
	KeyGenerated  KeySource = "generated"
)

const keyLen = 32 // AES-256.

// CredentialError wraps cipher failures with the operation that failed.
// Op is one of "key", "encrypt", or "decrypt".
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ErrBadBlob is wrapped by Decrypt when a stored blob fails authentication
// or is structurally invalid.  It means the blob was written under another
// key, or tampered with, and the credentials must be re-entered.
var ErrBadBlob = errors.New("credential blob cannot be decrypted")

// Vault seals and opens credential strings.  Safe for concurrent use.
type Vault struct {
	aead   cipher.AEAD
	source KeySource
}

// New resolves the cipher key and returns a ready Vault.  keyHex takes
// precedence, then kvPath/kvField, then a generated key.
func New(ctx context.Context, keyHex, kvPath, kvField string) (*Vault, error) {
	key, source, err := resolveKey(ctx, keyHex, kvPath, kvField)
	if err != nil {
		return nil, &CredentialError{Op: "key", Err: err}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CredentialError{Op: "key", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CredentialError{Op: "key", Err: err}
	}

	if source == KeyGenerated {
		metrics.CredentialKeyEphemeral.Set(1)
		zap.S().Warnw("credential key generated at startup; stored credentials will not survive a restart",
			"hint", "set credentials.key or credentials.kv_path")
	} else {
		metrics.CredentialKeyEphemeral.Set(0)
	}

	return &Vault{aead: aead, source: source}, nil
}

func resolveKey(ctx context.Context, keyHex, kvPath, kvField string) ([]byte, KeySource, error) {
	switch {
	case keyHex != "":
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, "", fmt.Errorf("credentials.key is not hex: %w", err)
		}
		if len(key) != keyLen {
			return nil, "", fmt.Errorf("credentials.key must be %d bytes, got %d", keyLen, len(key))
		}
		return key, KeyFromConfig, nil

	case kvPath != "":
		if kvField == "" {
			kvField = "key"
		}
		kv, err := NewKV(ctx, zap.S().Infof)
		if err != nil {
			return nil, "", err
		}
		val, err := kv.Get(ctx, kvPath, kvField, 5*time.Minute)
		if err != nil {
			return nil, "", err
		}
		key, err := hex.DecodeString(val)
		if err != nil {
			return nil, "", fmt.Errorf("KV secret %s#%s is not hex: %w", kvPath, kvField, err)
		}
		if len(key) != keyLen {
			return nil, "", fmt.Errorf("KV secret %s#%s must be %d bytes, got %d", kvPath, kvField, keyLen, len(key))
		}
		return key, KeyFromKV, nil

	default:
		key := make([]byte, keyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, "", err
		}
		return key, KeyGenerated, nil
	}
}

// Source reports where the active key came from.
func (v *Vault) Source() KeySource { return v.source }

// Encrypt seals plaintext under the active key.  Each call uses a fresh
// nonce, so encrypting the same value twice yields different blobs.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &CredentialError{Op: "encrypt", Err: err}
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.  Any structural or
// authentication failure returns a *CredentialError wrapping ErrBadBlob.
func (v *Vault) Decrypt(blob string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Err: fmt.Errorf("%w: %v", ErrBadBlob, err)}
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns {
		return "", &CredentialError{Op: "decrypt", Err: fmt.Errorf("%w: blob shorter than nonce", ErrBadBlob)}
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Err: fmt.Errorf("%w: %v", ErrBadBlob, err)}
	}
	return string(plain), nil
}
