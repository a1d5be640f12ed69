// internal/httpapi/actions.go
//
// Probe and pull endpoints.
//
// Context
// -------
// test-connection and discover-fields serve the dashboard while an
// administrator is still filling in the form, so both accept endpoint
// and credential overrides in the body and fall back to the saved
// config for anything omitted.  The pull endpoint runs a full sync
// in-request and hands back the audit row it produced.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/coreapi"
	"github.com/campuscare/caresync/internal/engine"
	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/synclog"
	"github.com/campuscare/caresync/internal/tenant"
)

var errProbeUnderspecified = errors.New(
	"base_url, login_path, and credentials are required, in the body or the saved config")

type connectionRequest struct {
	BaseURL     string                  `json:"base_url"`
	LoginPath   string                  `json:"login_path"`
	MembersPath string                  `json:"members_path"`
	Credentials *syncconfig.Credentials `json:"credentials"`
}

type connectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// resolveProbe merges body overrides over the stored config and opens
// stored credentials when the body brought none.
func (a *API) resolveProbe(ten *tenant.Tenant, req *connectionRequest) (coreapi.Endpoint, *syncconfig.Credentials, error) {
	var ep coreapi.Endpoint
	if ten.Sync != nil {
		ep = coreapi.Endpoint{
			BaseURL:     ten.Sync.BaseURL,
			LoginPath:   ten.Sync.LoginPath,
			MembersPath: ten.Sync.MembersPath,
		}
	}
	if req.BaseURL != "" {
		ep.BaseURL = req.BaseURL
	}
	if req.LoginPath != "" {
		ep.LoginPath = req.LoginPath
	}
	if req.MembersPath != "" {
		ep.MembersPath = req.MembersPath
	}

	creds := req.Credentials
	if creds == nil && ten.Sync != nil && ten.Sync.CredentialsEnc != "" {
		c, err := syncconfig.OpenCredentials(a.Vault, ten.Sync.CredentialsEnc)
		if err != nil {
			return ep, nil, err
		}
		creds = c
	}

	if ep.BaseURL == "" || ep.LoginPath == "" || creds == nil {
		return ep, nil, errProbeUnderspecified
	}
	return ep, creds, nil
}

func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (a *API) probe(w http.ResponseWriter, r *http.Request) (*coreapi.Client, *syncconfig.Credentials, bool) {
	ten, _ := tenant.FromContext(r.Context())

	var req connectionRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return nil, nil, false
	}

	ep, creds, err := a.resolveProbe(ten, &req)
	if err != nil {
		if errors.Is(err, errProbeUnderspecified) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		} else {
			zap.S().Errorw("stored credentials cannot be opened",
				"campus_id", ten.Meta.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "stored credentials cannot be opened")
		}
		return nil, nil, false
	}
	return coreapi.New(ep, a.HTTPClient, a.PageSize), creds, true
}

func (a *API) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	client, creds, ok := a.probe(w, r)
	if !ok {
		return
	}

	if _, err := client.Login(r.Context(), creds.APIKey, creds.APISecret); err != nil {
		// The probe itself worked; the verdict travels in the body.
		respond(w, http.StatusOK, connectionResult{Success: false, Message: err.Error()})
		return
	}
	respond(w, http.StatusOK, connectionResult{Success: true, Message: "authentication succeeded"})
}

func (a *API) handleDiscoverFields(w http.ResponseWriter, r *http.Request) {
	client, creds, ok := a.probe(w, r)
	if !ok {
		return
	}

	session, err := client.Login(r.Context(), creds.APIKey, creds.APISecret)
	if err != nil {
		respondError(w, http.StatusBadGateway, "login failed: "+err.Error())
		return
	}
	fields, err := client.DiscoverFields(r.Context(), session)
	if err != nil {
		respondError(w, http.StatusBadGateway, "field discovery failed: "+err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]any{"fields": fields})
}

func (a *API) handlePull(w http.ResponseWriter, r *http.Request) {
	ten, _ := tenant.FromContext(r.Context())
	if ten.Sync == nil {
		respondError(w, http.StatusNotFound, syncconfig.ErrNotConfigured.Error())
		return
	}

	run, err := a.Runner.Run(r.Context(), ten.Sync, synclog.TriggerManual)
	if err != nil {
		if errors.Is(err, engine.ErrSyncInFlight) {
			respond(w, http.StatusConflict, map[string]string{
				"status":  "skipped",
				"message": "a sync for this campus is already running",
			})
			return
		}
		zap.S().Errorw("manual pull failed", "campus_id", ten.Meta.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "sync run could not be recorded")
		return
	}
	respond(w, http.StatusOK, echoRun(run))
}
