// internal/syncconfig/model.go
//
// Per-campus sync configuration.
//
// Context
// -------
//   - One row per campus in `sync_config`: where the core system lives, how
//     to authenticate, how often to poll, which members to keep, and the
//     webhook secret the core signs pushes with.
//   - Credentials are a JSON pair sealed by the credential cipher before
//     they touch the row; the model never holds them in plaintext beyond a
//     login call.
//   - Saving is the only write path, and it validates everything (struct
//     tags plus per-rule checks) so runs never meet a malformed config.
package syncconfig

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/campuscare/caresync/internal/config"
	"github.com/campuscare/caresync/internal/filter"
	"github.com/campuscare/caresync/internal/vault"
)

// Method selects how member data reaches us: we pull on a timer, or the
// core system pushes deltas.  Daily reconciliation pulls in both modes.
type Method string

const (
	MethodPolling Method = "polling"
	MethodWebhook Method = "webhook"
)

// RuleList stores the ordered filter rules as one JSON column.
type RuleList []filter.Rule

func (rl RuleList) Value() (driver.Value, error) {
	if rl == nil {
		rl = RuleList{}
	}
	return json.Marshal(rl)
}

func (rl *RuleList) Scan(src any) error {
	var raw []byte
	switch t := src.(type) {
	case nil:
		*rl = nil
		return nil
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return fmt.Errorf("filter_rules: cannot scan %T", src)
	}
	if len(raw) == 0 {
		*rl = nil
		return nil
	}
	return json.Unmarshal(raw, rl)
}

// Config mirrors one row in `sync_config`.
type Config struct {
	CampusID             uint64      `db:"campus_id"              json:"campus_id"`
	Method               Method      `db:"sync_method"            json:"sync_method"            validate:"required,oneof=polling webhook"`
	BaseURL              string      `db:"base_url"               json:"base_url"               validate:"required,url"`
	LoginPath            string      `db:"login_path"             json:"login_path"             validate:"required,startswith=/"`
	MembersPath          string      `db:"members_path"           json:"members_path"           validate:"required,startswith=/"`
	CredentialsEnc       string      `db:"credentials_enc"        json:"-"`
	PollingIntervalHours int         `db:"polling_interval_hours" json:"polling_interval_hours" validate:"min=1,max=168"`
	Enabled              bool        `db:"is_enabled"             json:"is_enabled"`
	FilterMode           filter.Mode `db:"filter_mode"            json:"filter_mode"            validate:"required,oneof=include exclude"`
	Rules                RuleList    `db:"filter_rules"           json:"filter_rules"`
	ReconciliationTime   string      `db:"reconciliation_time"    json:"reconciliation_time"    validate:"required"`
	WebhookSecret        string      `db:"webhook_secret"         json:"-"`
	PhoneRegion          string      `db:"phone_region"           json:"phone_region"           validate:"omitempty,len=2,alpha"`
	CreatedAt            time.Time   `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"             json:"updated_at"`
}

// Validate runs the struct tags, the HH:MM clock check, and every filter
// rule.  Called on save; a config that fails here is never stored.
func (c *Config) Validate() error {
	if err := config.Validate(c); err != nil {
		return err
	}
	if _, err := time.Parse("15:04", c.ReconciliationTime); err != nil {
		return fmt.Errorf("reconciliation_time must be HH:MM: %w", err)
	}
	return filter.ValidateRules(c.Rules)
}

// PollingInterval converts the stored hours to a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalHours) * time.Hour
}

// ReconcileClock returns the daily reconciliation wall-clock time.  A row
// predating validation falls back to 03:00.
func (c *Config) ReconcileClock() (hour, min int) {
	t, err := time.Parse("15:04", c.ReconciliationTime)
	if err != nil {
		return 3, 0
	}
	return t.Hour(), t.Minute()
}

// Credentials is the plaintext credential pair for the core system.  It is
// JSON-encoded and sealed before storage, and only ever reconstructed for
// the duration of a login.
type Credentials struct {
	APIKey    string `json:"api_key"    validate:"required"`
	APISecret string `json:"api_secret" validate:"required"`
}

// Seal encrypts the pair for storage in credentials_enc.
func (cr Credentials) Seal(v *vault.Vault) (string, error) {
	raw, err := json.Marshal(cr)
	if err != nil {
		return "", err
	}
	return v.Encrypt(string(raw))
}

// OpenCredentials decrypts a credentials_enc blob.  Failures surface the
// cipher's typed error so runs can fail fast with an operator-actionable
// message.
func OpenCredentials(v *vault.Vault, blob string) (*Credentials, error) {
	plain, err := v.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	var cr Credentials
	if err := json.Unmarshal([]byte(plain), &cr); err != nil {
		return nil, &vault.CredentialError{Op: "decrypt", Err: fmt.Errorf("%w: not a credential pair", vault.ErrBadBlob)}
	}
	return &cr, nil
}

// MaskTail blanks a secret except its last four characters, for config
// echoes and log lines.
func MaskTail(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// NewWebhookSecret returns a fresh 256-bit secret, hex encoded.  The core
// system signs webhook bodies with it; rotation invalidates the old secret
// immediately.
func NewWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
