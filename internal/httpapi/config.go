// internal/httpapi/config.go
//
// Sync configuration endpoints.
//
// Context
// -------
//   - Credentials travel in plaintext exactly once, inside the save body,
//     and are sealed before the row is written.  Every echo masks them.
//   - A re-save without a credentials object keeps the stored blob, so
//     the dashboard can round-trip the masked echo it was given.
//   - The webhook secret survives saves untouched; only the dedicated
//     rotation endpoint replaces it, and that response is the one time
//     the plaintext secret is shown.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/config"
	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/tenant"
)

const defaultIntervalHours = 6

type configRequest struct {
	syncconfig.Config
	Credentials *syncconfig.Credentials `json:"credentials"`
}

type maskedCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type configEcho struct {
	*syncconfig.Config
	Credentials    *maskedCredentials `json:"credentials,omitempty"`
	HasCredentials bool               `json:"has_credentials"`
	WebhookSecret  string             `json:"webhook_secret,omitempty"`
}

func echoConfig(cfg *syncconfig.Config, creds *syncconfig.Credentials) configEcho {
	e := configEcho{
		Config:         cfg,
		HasCredentials: cfg.CredentialsEnc != "",
		WebhookSecret:  syncconfig.MaskTail(cfg.WebhookSecret),
	}
	if creds != nil {
		e.Credentials = &maskedCredentials{
			APIKey:    syncconfig.MaskTail(creds.APIKey),
			APISecret: syncconfig.MaskTail(creds.APISecret),
		}
	}
	return e
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ten, _ := tenant.FromContext(r.Context())
	if ten.Sync == nil {
		respondError(w, http.StatusNotFound, syncconfig.ErrNotConfigured.Error())
		return
	}

	var creds *syncconfig.Credentials
	if ten.Sync.CredentialsEnc != "" {
		c, err := syncconfig.OpenCredentials(a.Vault, ten.Sync.CredentialsEnc)
		if err != nil {
			// Key rotation or corruption; the echo degrades to the
			// has_credentials flag.
			zap.S().Warnw("stored credentials cannot be opened",
				"campus_id", ten.Meta.ID, "error", err)
		} else {
			creds = c
		}
	}

	respond(w, http.StatusOK, echoConfig(ten.Sync, creds))
}

func (a *API) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	ten, _ := tenant.FromContext(r.Context())

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	cfg := req.Config
	cfg.CampusID = ten.Meta.ID
	if cfg.PollingIntervalHours == 0 {
		cfg.PollingIntervalHours = defaultIntervalHours
	}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = a.DefaultRegion
	}

	switch {
	case req.Credentials != nil:
		if err := config.Validate(req.Credentials); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "credentials: api_key and api_secret are required")
			return
		}
		blob, err := req.Credentials.Seal(a.Vault)
		if err != nil {
			zap.S().Errorw("credential seal failed", "campus_id", ten.Meta.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "could not encrypt credentials")
			return
		}
		cfg.CredentialsEnc = blob
	case ten.Sync != nil && ten.Sync.CredentialsEnc != "":
		cfg.CredentialsEnc = ten.Sync.CredentialsEnc
	default:
		respondError(w, http.StatusUnprocessableEntity, "credentials are required on first save")
		return
	}

	if ten.Sync != nil && ten.Sync.WebhookSecret != "" {
		cfg.WebhookSecret = ten.Sync.WebhookSecret
	} else {
		secret, err := syncconfig.NewWebhookSecret()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "could not generate webhook secret")
			return
		}
		cfg.WebhookSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := syncconfig.Save(r.Context(), a.DB, &cfg); err != nil {
		zap.S().Errorw("config save failed", "campus_id", ten.Meta.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not save configuration")
		return
	}
	a.Tenants.Invalidate(ten.Meta.ID)

	// An enabled save nudges the scheduler so the first import starts
	// now instead of at the next timer boundary.
	if cfg.Enabled && a.Kick != nil {
		a.Kick(ten.Meta.ID)
	}

	zap.S().Infow("sync config saved",
		"campus_id", ten.Meta.ID, "method", cfg.Method, "enabled", cfg.Enabled)
	respond(w, http.StatusOK, echoConfig(&cfg, req.Credentials))
}

func (a *API) handleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	ten, _ := tenant.FromContext(r.Context())

	secret, err := syncconfig.NewWebhookSecret()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not generate webhook secret")
		return
	}
	if err := syncconfig.SetSecret(r.Context(), a.DB, ten.Meta.ID, secret); err != nil {
		if errors.Is(err, syncconfig.ErrNotConfigured) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		zap.S().Errorw("secret rotation failed", "campus_id", ten.Meta.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not rotate webhook secret")
		return
	}
	a.Tenants.Invalidate(ten.Meta.ID)

	zap.S().Infow("webhook secret rotated", "campus_id", ten.Meta.ID)
	// Plaintext goes out exactly once; afterwards only the masked tail.
	respond(w, http.StatusOK, map[string]string{"webhook_secret": secret})
}
