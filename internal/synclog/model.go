// internal/synclog/model.go
//
// Sync Audit Models
// -----------------
// Two append-only trails: sync_run_log rows summarize whole runs (and
// single webhook deltas), webhook_log rows record every delivery attempt
// including the ones that never reached processing.
package synclog

import (
	"encoding/json"
	"time"
)

// Trigger values for sync_run_log rows.
const (
	TriggerScheduled      = "scheduled"
	TriggerManual         = "manual"
	TriggerWebhook        = "webhook"
	TriggerReconciliation = "reconciliation"
)

// Run statuses.  A run is partial when it finished but had to skip records,
// failed when it aborted before applying anything.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one sync_run_log row.
type Run struct {
	ID          uint64    `db:"id"           json:"id"`
	CampusID    uint64    `db:"campus_id"    json:"campus_id"`
	Trigger     string    `db:"trigger_type" json:"trigger"`
	Fetched     int       `db:"fetched"      json:"fetched"`
	Created     int       `db:"created"      json:"created"`
	Updated     int       `db:"updated"      json:"updated"`
	Archived    int       `db:"archived"     json:"archived"`
	Skipped     int       `db:"skipped"      json:"skipped"`
	Status      string    `db:"status"       json:"status"`
	ErrorDetail *string   `db:"error_detail" json:"error_detail,omitempty"`
	StartedAt   time.Time `db:"started_at"   json:"started_at"`
	FinishedAt  time.Time `db:"finished_at"  json:"finished_at"`
}

// Duration is how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Webhook delivery outcomes.  A row starts as received and is patched to a
// terminal value once the handler knows how the delivery ended; deliveries
// rejected before processing get their terminal value at insert.
const (
	WebhookReceived         = "received"
	WebhookProcessed        = "processed"
	WebhookIgnored          = "ignored"
	WebhookInvalidSignature = "invalid_signature"
	WebhookUnknownOrigin    = "unknown_origin"
	WebhookNoConfig         = "no_config"
	WebhookError            = "error"
)

// WebhookLog is one webhook_log row.  CampusID stays NULL when the delivery
// could not be attributed to a campus.
type WebhookLog struct {
	ID             string          `db:"id"              json:"id"`
	CampusID       *uint64         `db:"campus_id"       json:"campus_id,omitempty"`
	Event          string          `db:"event"           json:"event"`
	SignatureValid bool            `db:"signature_valid" json:"signature_valid"`
	Outcome        string          `db:"outcome"         json:"outcome"`
	RemoteIP       string          `db:"remote_ip"       json:"remote_ip"`
	Country        string          `db:"country"         json:"country"`
	Payload        json.RawMessage `db:"payload"         json:"payload,omitempty"`
	ReceivedAt     time.Time       `db:"received_at"     json:"received_at"`
}
