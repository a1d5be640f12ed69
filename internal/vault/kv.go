// kv.go wraps the HashiCorp Vault SDK with the two behaviors the rest of
// the app needs: per-key read caching, and a background token-renewal loop
// so long-lived daemons do not silently lose access.
//
// It is used in two places.  The config loader resolves "vault:" value
// references in global.yaml through it, and the credential cipher fetches
// its AES key from KV when credentials.kv_path is set.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

// KV is safe for concurrent use.  Construct once at startup with NewKV and
// share it.  The zero value is invalid.
type KV struct {
	api   *vaultapi.Client
	logFn func(string, ...any)

	mu    sync.RWMutex
	cache map[string]cachedSecret // "path#field" -> value and expiry.
}

type cachedSecret struct {
	val string
	exp time.Time
}

// NewKV builds a Vault client from the standard environment (VAULT_ADDR,
// VAULT_TOKEN, optionally ~/.vault-token) and starts a token-renewal loop
// that runs until ctx is canceled.  logFn may be nil.
func NewKV(ctx context.Context, logFn func(string, ...any)) (*KV, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vaultapi.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	api, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}

	kv := &KV{
		api:   api,
		logFn: logFn,
		cache: make(map[string]cachedSecret),
	}
	go kv.renewLoop(ctx)
	return kv, nil
}

// Get reads one field from a KV-v2 secret.  With ttl > 0 the value is
// cached and later callers inside the window skip the network round trip.
func (k *KV) Get(ctx context.Context, secretPath, field string, ttl time.Duration) (string, error) {
	if secretPath == "" || field == "" {
		return "", errors.New("vault: secret path and field must be non-empty")
	}

	key := secretPath + "#" + field

	if ttl > 0 {
		k.mu.RLock()
		if cv, ok := k.cache[key]; ok && time.Now().Before(cv.exp) {
			k.mu.RUnlock()
			return cv.val, nil
		}
		k.mu.RUnlock()
	}

	mount, rel := splitMount(secretPath)
	sec, err := k.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[field]
	if !ok {
		return "", fmt.Errorf("vault: field %q not found in secret %q", field, secretPath)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault: value at %s#%s is not a string", secretPath, field)
	}

	if ttl > 0 {
		k.mu.Lock()
		k.cache[key] = cachedSecret{val: val, exp: time.Now().Add(ttl)}
		k.mu.Unlock()
	}
	return val, nil
}

// renewLoop keeps the client token alive.  Each pass probes the token, and
// when it is renewable hands it to the SDK lifetime watcher until that
// watcher gives up, then probes again after a short backoff.
func (k *KV) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := k.api.Auth().Token().RenewSelf(0)
		if err != nil {
			k.logFn("vault: token renew-self failed: %v", err)
			sleepCtx(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			k.logFn("vault: token is not renewable, next probe in 1h")
			sleepCtx(ctx, time.Hour)
			continue
		}

		watcher, err := k.api.NewLifetimeWatcher(&vaultapi.LifetimeWatcherInput{
			Secret: sec,
			Grace:  15 * time.Second,
		})
		if err != nil {
			k.logFn("vault: lifetime watcher init: %v", err)
			sleepCtx(ctx, 30*time.Second)
			continue
		}
		go watcher.Start()

		k.watch(ctx, watcher)
		sleepCtx(ctx, 15*time.Second)
	}
}

// watch drains a single lifetime watcher until it stops or ctx ends.
func (k *KV) watch(ctx context.Context, w *vaultapi.LifetimeWatcher) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				k.logFn("vault: token renewal stopped: %v", err)
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				k.logFn("vault: token renewed, ttl=%ds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

// splitMount separates the KV mount from the path below it, so
// "secret/caresync/keys" becomes ("secret", "caresync/keys").
func splitMount(p string) (mount, rel string) {
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
