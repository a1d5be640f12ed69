// internal/config/model.go
//
// Typed configuration model for caresyncd.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `conf/.env`                       – dotenv values,
//   • `conf/global.yaml`                         – primary static file,
//   • `CARESYNC_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved through
// the HashiCorp Vault client *before* unmarshalling, so the model never
// stores Vault URIs, only plain strings.
//
// Validation happens immediately after unmarshal; the daemon fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`; Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`
}

//
// Database section
//

// Database holds the shared roster DSN.  The secret portion may be supplied
// as a `vault:` reference and is materialized by the loader.
type Database struct {
	DSN string `koanf:"dsn" validate:"required"`
}

//
// Credentials section
//

// Credentials controls where the credential-vault cipher key comes from.
// All three fields may be empty: the vault then generates an ephemeral key
// and flags the process as degraded (see internal/vault).
type Credentials struct {
	Key     string `koanf:"key"`      // hex, 32 bytes (64 chars) once decoded
	KVPath  string `koanf:"kv_path"`  // HashiCorp KV-v2 path, e.g. "secret/caresync"
	KVField string `koanf:"kv_field"` // field within the secret, e.g. "cipher_key"
}

//
// Sync section
//

// Sync carries engine-wide tunables.  Per-campus settings (interval, rules,
// remote endpoints) live in the sync_config table, not here.
type Sync struct {
	PageSize      int           `koanf:"page_size" validate:"min=1,max=500"`
	FetchTimeout  time.Duration `koanf:"fetch_timeout"`
	LeaseTTL      time.Duration `koanf:"lease_ttl"`
	Workers       int           `koanf:"workers" validate:"min=1,max=64"`
	DefaultRegion string        `koanf:"default_region" validate:"omitempty,len=2"`
}

//
// GeoIP section
//

// GeoIP points at an optional MaxMind database used to annotate webhook
// audit rows with a country code.  Empty path disables the lookup.
type GeoIP struct {
	DBPath string `koanf:"db_path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or CARESYNC_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // CARESYNC_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP        HTTP        `koanf:"http"`
	Database    Database    `koanf:"database"`
	Credentials Credentials `koanf:"credentials"`
	Sync        Sync        `koanf:"sync"`
	GeoIP       GeoIP       `koanf:"geoip"`
	Paths       Paths       `koanf:"-"` // not loaded from config files
}
