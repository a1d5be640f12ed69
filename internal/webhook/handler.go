// internal/webhook/handler.go
//
// Webhook Handler
// ---------------
// The one endpoint the core system pushes to.  Shared across campuses and
// self-routing: the campus comes out of the payload's church_id, the HMAC
// is recomputed with that campus's own secret, and only then does the
// delta reach the upsert engine.
//
// Notes:
// - Every delivery attempt leaves a webhook_log row, including the ones
//   rejected before processing.  Rows for deliveries that cannot be
//   attributed to a campus carry a NULL campus_id.
// - The audit row is inserted before the mutation and patched to its
//   terminal outcome after, so a crash mid-delta still leaves a trace.
// - A mutating delta also appends a one-count sync_run_log row, which puts
//   push activity on the same operator timeline as full runs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/coreapi"
	"github.com/campuscare/caresync/internal/engine"
	"github.com/campuscare/caresync/internal/filter"
	"github.com/campuscare/caresync/internal/member"
	"github.com/campuscare/caresync/internal/metrics"
	"github.com/campuscare/caresync/internal/requestinfo"
	"github.com/campuscare/caresync/internal/synclog"
	"github.com/campuscare/caresync/internal/tenant"
)

const defaultMaxBody = 1 << 20 // 1 MiB

// Known event names.  Anything else is acknowledged and ignored, new event
// types on the remote side must not break existing campuses.
const (
	eventPing          = "ping"
	eventMemberCreated = "member.created"
	eventMemberUpdated = "member.updated"
	eventMemberDeleted = "member.deleted"
)

type envelope struct {
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	ChurchID  string          `json:"church_id"`
	Data      map[string]any  `json:"data"`
}

// churchID prefers the identifier inside data, falling back to the
// top-level field older remote versions send.
func (e *envelope) churchID() string {
	if v, ok := e.Data["church_id"].(string); ok && v != "" {
		return v
	}
	return e.ChurchID
}

// record reads the member payload out of data.  Extra keys like church_id
// fall away; the attributes object survives as-is.
func (e *envelope) record() coreapi.Record {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return coreapi.Record{}
	}
	var rec coreapi.Record
	_ = json.Unmarshal(raw, &rec)
	return rec
}

// Handler serves POST /sync/webhook.
type Handler struct {
	DB      *sqlx.DB
	Tenants *tenant.Cache
	MaxBody int64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, country := requestinfo.Audit(r)

	maxBody := h.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.reject(ctx, w, http.StatusBadRequest, "unreadable body", &synclog.WebhookLog{
			Outcome: synclog.WebhookError, RemoteIP: ip, Country: country,
		})
		return
	}

	env, err := parseEnvelope(body)
	if err != nil {
		h.reject(ctx, w, http.StatusBadRequest, err.Error(), &synclog.WebhookLog{
			Outcome: synclog.WebhookError, RemoteIP: ip, Country: country,
			Payload: json.RawMessage(body),
		})
		return
	}

	churchID := env.churchID()
	if churchID == "" {
		h.reject(ctx, w, http.StatusBadRequest, "payload carries no church_id", &synclog.WebhookLog{
			Event: env.Event, Outcome: synclog.WebhookError,
			RemoteIP: ip, Country: country, Payload: json.RawMessage(body),
		})
		return
	}

	ten, err := h.Tenants.GetByChurchID(ctx, churchID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			// No campus, no secret, no verification.  The row keeps the
			// payload so an operator can chase the stray sender.
			h.reject(ctx, w, http.StatusUnauthorized, "unknown origin", &synclog.WebhookLog{
				Event: env.Event, Outcome: synclog.WebhookUnknownOrigin,
				RemoteIP: ip, Country: country, Payload: json.RawMessage(body),
			})
			return
		}
		zap.S().Errorw("webhook campus lookup failed", "church_id", churchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "campus lookup failed"})
		return
	}
	campusID := ten.Meta.ID

	if ten.Sync == nil || ten.Sync.WebhookSecret == "" {
		h.reject(ctx, w, http.StatusUnauthorized, "sync not configured", &synclog.WebhookLog{
			CampusID: &campusID, Event: env.Event, Outcome: synclog.WebhookNoConfig,
			RemoteIP: ip, Country: country, Payload: json.RawMessage(body),
		})
		return
	}

	if !validSignature(body, r.Header.Get("X-Signature"), ten.Sync.WebhookSecret) {
		h.reject(ctx, w, http.StatusUnauthorized, "invalid signature", &synclog.WebhookLog{
			CampusID: &campusID, Event: env.Event,
			Outcome: synclog.WebhookInvalidSignature,
			RemoteIP: ip, Country: country, Payload: json.RawMessage(body),
		})
		return
	}

	wl := &synclog.WebhookLog{
		CampusID: &campusID, Event: env.Event, SignatureValid: true,
		Outcome: synclog.WebhookReceived, RemoteIP: ip, Country: country,
		Payload: json.RawMessage(body),
	}
	if err := synclog.AppendWebhook(ctx, h.DB, wl); err != nil {
		// Audit before mutation; a delta we cannot record is a delta we
		// do not apply.
		zap.S().Errorw("webhook audit insert failed", "campus_id", campusID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit unavailable"})
		return
	}

	outcome, status, resp := h.process(ctx, ten, env)
	if err := synclog.PatchWebhookOutcome(ctx, h.DB, wl.ID, outcome); err != nil {
		zap.S().Warnw("webhook outcome patch failed", "id", wl.ID, "error", err)
	}
	metrics.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, status, resp)
}

// process dispatches one verified delivery.  Valid-signature deliveries
// answer 200 unless storage itself failed.
func (h *Handler) process(ctx context.Context, ten *tenant.Tenant, env *envelope) (outcome string, status int, resp any) {
	cfg := ten.Sync
	campusID := ten.Meta.ID

	switch env.Event {
	case eventPing:
		return synclog.WebhookIgnored, http.StatusOK, map[string]string{"status": "ok"}

	case eventMemberDeleted:
		rec := env.record()
		if rec.ID == "" {
			return synclog.WebhookError, http.StatusOK, map[string]string{"status": "ignored"}
		}
		flipped, err := member.Archive(ctx, h.DB, campusID, rec.ID)
		if err != nil {
			zap.S().Errorw("webhook archive failed", "campus_id", campusID, "external_member_id", rec.ID, "error", err)
			return synclog.WebhookError, http.StatusInternalServerError, map[string]string{"error": "storage failure"}
		}
		if flipped {
			h.appendDelta(ctx, campusID, func(run *synclog.Run) { run.Archived = 1 })
		}
		return synclog.WebhookProcessed, http.StatusOK, map[string]string{"status": "processed"}

	case eventMemberCreated, eventMemberUpdated:
		rec := env.record()
		if rec.ID == "" {
			return synclog.WebhookError, http.StatusOK, map[string]string{"status": "ignored"}
		}
		matched, evalErr := filter.Included(cfg.Rules, cfg.FilterMode, rec.Fields())
		if evalErr != nil {
			// Same rule as full runs: an unevaluable record is
			// non-matching, so a pushed member it concerns gets archived
			// rather than half-created.
			zap.S().Warnw("webhook filter evaluation failed",
				"campus_id", campusID, "external_member_id", rec.ID, "error", evalErr)
			matched = false
		}
		out, err := engine.ReconcileOne(ctx, h.DB, cfg, rec, matched)
		if err != nil {
			var ne *engine.NormalizeError
			if errors.As(err, &ne) {
				h.appendDelta(ctx, campusID, func(run *synclog.Run) {
					run.Skipped = 1
					run.Status = synclog.StatusPartial
					detail := ne.Error()
					run.ErrorDetail = &detail
				})
				return synclog.WebhookIgnored, http.StatusOK, map[string]string{"status": "ignored"}
			}
			zap.S().Errorw("webhook reconcile failed", "campus_id", campusID, "external_member_id", rec.ID, "error", err)
			return synclog.WebhookError, http.StatusInternalServerError, map[string]string{"error": "storage failure"}
		}
		switch out {
		case engine.OutcomeCreated:
			h.appendDelta(ctx, campusID, func(run *synclog.Run) { run.Created = 1 })
		case engine.OutcomeUpdated:
			h.appendDelta(ctx, campusID, func(run *synclog.Run) { run.Updated = 1 })
		case engine.OutcomeArchived:
			h.appendDelta(ctx, campusID, func(run *synclog.Run) { run.Archived = 1 })
		}
		return synclog.WebhookProcessed, http.StatusOK, map[string]string{"status": "processed"}

	default:
		return synclog.WebhookIgnored, http.StatusOK, map[string]string{"status": "ignored"}
	}
}

// appendDelta puts one webhook mutation on the run timeline.
func (h *Handler) appendDelta(ctx context.Context, campusID uint64, fill func(*synclog.Run)) {
	now := time.Now()
	run := &synclog.Run{
		CampusID:   campusID,
		Trigger:    synclog.TriggerWebhook,
		Fetched:    1,
		Status:     synclog.StatusSuccess,
		StartedAt:  now,
		FinishedAt: now,
	}
	fill(run)
	if err := synclog.Append(ctx, h.DB, run); err != nil {
		zap.S().Warnw("webhook delta log failed", "campus_id", campusID, "error", err)
	}
}

// reject records a delivery that never reached processing and answers.
func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, status int, msg string, wl *synclog.WebhookLog) {
	if err := synclog.AppendWebhook(ctx, h.DB, wl); err != nil {
		zap.S().Errorw("webhook audit insert failed", "outcome", wl.Outcome, "error", err)
	}
	metrics.WebhookRequestsTotal.WithLabelValues(wl.Outcome).Inc()
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseEnvelope(body []byte) (*envelope, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, errors.New("body is not JSON")
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return nil, errors.New("payload does not match the webhook envelope")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.New("payload does not match the webhook envelope")
	}
	return &env, nil
}

// validSignature compares the X-Signature header against a fresh
// HMAC-SHA256 of the raw body in constant time.
func validSignature(body []byte, header, secret string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(sig) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
