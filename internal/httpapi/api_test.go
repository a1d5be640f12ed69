// internal/httpapi/api_test.go
//
// Endpoint tests over httptest and sqlmock.  Every admin request rides
// the real chi router, including the tenant resolver, so the scripts
// start with the cold-cache campus load.
//
// Run: go test ./internal/httpapi -v
package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/campuscare/caresync/internal/coreapi"
	"github.com/campuscare/caresync/internal/engine"
	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/tenant"
	"github.com/campuscare/caresync/internal/vault"
)

const apiKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

var campusColumns = []string{
	"id", "name", "core_church_id", "suspended_at", "deleted_at",
	"created_at", "updated_at",
}

var configColumns = []string{
	"campus_id", "sync_method", "base_url", "login_path", "members_path",
	"credentials_enc", "polling_interval_hours", "is_enabled", "filter_mode",
	"filter_rules", "reconciliation_time", "webhook_secret", "phone_region",
	"created_at", "updated_at",
}

var runColumns = []string{
	"id", "campus_id", "trigger_type", "fetched", "created", "updated",
	"archived", "skipped", "status", "error_detail", "started_at",
	"finished_at",
}

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func newVault(t *testing.T, keyHex string) *vault.Vault {
	t.Helper()
	v, err := vault.New(context.Background(), keyHex, "", "")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return v
}

type fixture struct {
	api    *API
	mock   sqlmock.Sqlmock
	vault  *vault.Vault
	router http.Handler
	kicked []uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock := mockDB(t)
	v := newVault(t, apiKeyHex)
	tc := tenant.New(db, tenant.IdleTTL, tenant.MaxEntries)
	t.Cleanup(tc.Stop)

	f := &fixture{mock: mock, vault: v}
	f.api = &API{
		DB:      db,
		Vault:   v,
		Tenants: tc,
		Runner: &engine.Runner{
			DB: db, Vault: v,
			PageSize: 50, FetchTimeout: 5 * time.Second, LeaseTTL: time.Hour,
		},
		Webhooks: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"stub"}`))
		}),
		Kick:          func(id uint64) { f.kicked = append(f.kicked, id) },
		DefaultRegion: "US",
	}
	f.router = f.api.Router()
	return f
}

// sealedCreds returns a credentials_enc blob the fixture vault can open.
func sealedCreds(t *testing.T, v *vault.Vault, key, secret string) string {
	t.Helper()
	blob, err := syncconfig.Credentials{APIKey: key, APISecret: secret}.Seal(v)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return blob
}

func (f *fixture) expectCampus(id uint64) {
	now := time.Now()
	f.mock.ExpectQuery(`FROM\s+campus\s+WHERE\s+id = \?`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(campusColumns).
			AddRow(id, "North Campus", "church_8821", nil, nil, now, now))
}

func (f *fixture) expectNoConfig(id uint64) {
	f.mock.ExpectQuery(`FROM\s+sync_config\s+WHERE\s+campus_id = \?`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
}

func (f *fixture) expectConfig(id uint64, blob, baseURL, secret string) {
	now := time.Now()
	f.mock.ExpectQuery(`FROM\s+sync_config\s+WHERE\s+campus_id = \?`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(configColumns).
			AddRow(id, "polling", baseURL, "/api/login", "/api/members",
				blob, 6, true, "include", []byte(`[]`), "03:00", secret, "US",
				now, now))
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(tenant.HeaderCampusID, "3")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return out
}

func fakeCore(t *testing.T, members string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["api_key"] != "ck_ok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok_1","expires_in":3600}`))
	})
	mux.HandleFunc("/api/members", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(members))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveConfigSealsCredentialsAndEchoesMasked(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)
	f.mock.ExpectExec(`INSERT INTO sync_config`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(http.MethodPost, "/sync/config", map[string]any{
		"sync_method":  "polling",
		"base_url":     "https://core.example.org",
		"login_path":   "/api/login",
		"members_path": "/api/members",
		"credentials": map[string]string{
			"api_key": "ck_live_4412", "api_secret": "cs_live_8890",
		},
		"is_enabled":          true,
		"filter_mode":         "include",
		"reconciliation_time": "03:00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "cs_live_8890") {
		t.Fatal("plaintext secret leaked into the echo")
	}

	resp := decodeBody(t, rec)
	if resp["polling_interval_hours"] != float64(6) {
		t.Errorf("polling_interval_hours = %v, want defaulted 6", resp["polling_interval_hours"])
	}
	if resp["phone_region"] != "US" {
		t.Errorf("phone_region = %v, want defaulted US", resp["phone_region"])
	}
	if resp["has_credentials"] != true {
		t.Error("has_credentials missing from echo")
	}
	creds, _ := resp["credentials"].(map[string]any)
	if creds["api_key"] != "********4412" {
		t.Errorf("api_key echo = %v, want masked tail", creds["api_key"])
	}
	secret, _ := resp["webhook_secret"].(string)
	if !regexp.MustCompile(`^\*{60}[0-9a-f]{4}$`).MatchString(secret) {
		t.Errorf("webhook_secret echo = %q, want 60 stars and a hex tail", secret)
	}

	if len(f.kicked) != 1 || f.kicked[0] != 3 {
		t.Errorf("scheduler kicks = %v, want [3]", f.kicked)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSaveConfigKeepsStoredCredentialsAndSecret(t *testing.T) {
	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_ok", "cs_old")

	f.expectCampus(3)
	f.expectConfig(3, blob, "https://core.example.org", "ws_keep_1234")
	f.mock.ExpectExec(`INSERT INTO sync_config`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	// No credentials object: the stored blob must survive the re-save.
	rec := f.do(http.MethodPost, "/sync/config", map[string]any{
		"sync_method":            "webhook",
		"base_url":               "https://core.example.org",
		"login_path":             "/api/login",
		"members_path":           "/api/members",
		"is_enabled":             false,
		"filter_mode":            "exclude",
		"polling_interval_hours": 12,
		"reconciliation_time":    "04:30",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody(t, rec)
	if resp["has_credentials"] != true {
		t.Error("stored credentials were dropped on re-save")
	}
	if got, _ := resp["webhook_secret"].(string); !strings.HasSuffix(got, "1234") {
		t.Errorf("webhook_secret echo = %q, want the preserved secret's tail", got)
	}
	if len(f.kicked) != 0 {
		t.Errorf("disabled save must not kick the scheduler, got %v", f.kicked)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSaveConfigFirstSaveRequiresCredentials(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)

	rec := f.do(http.MethodPost, "/sync/config", map[string]any{
		"sync_method":         "polling",
		"base_url":            "https://core.example.org",
		"login_path":          "/api/login",
		"members_path":        "/api/members",
		"filter_mode":         "include",
		"reconciliation_time": "03:00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestSaveConfigRejectsInvalidRule(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)

	rec := f.do(http.MethodPost, "/sync/config", map[string]any{
		"sync_method":  "polling",
		"base_url":     "https://core.example.org",
		"login_path":   "/api/login",
		"members_path": "/api/members",
		"credentials": map[string]string{
			"api_key": "k", "api_secret": "s",
		},
		"filter_mode": "include",
		"filter_rules": []map[string]any{
			{"field": "age", "operator": "between", "value": []any{18}},
		},
		"reconciliation_time": "03:00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	// Nothing may reach the database on a validation failure.
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestGetConfigMasksEverySecret(t *testing.T) {
	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_live_4412", "cs_live_8890")

	f.expectCampus(3)
	f.expectConfig(3, blob, "https://core.example.org", "ws_live_7788")

	rec := f.do(http.MethodGet, "/sync/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, plain := range []string{"cs_live_8890", "ws_live_7788", blob} {
		if strings.Contains(body, plain) {
			t.Fatalf("secret %q leaked into the echo", plain)
		}
	}

	resp := decodeBody(t, rec)
	creds, _ := resp["credentials"].(map[string]any)
	if creds["api_key"] != "********4412" {
		t.Errorf("api_key echo = %v, want masked tail", creds["api_key"])
	}
	if got, _ := resp["webhook_secret"].(string); !strings.HasSuffix(got, "7788") {
		t.Errorf("webhook_secret echo = %q, want masked tail 7788", got)
	}
}

func TestGetConfigUnconfigured(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)

	rec := f.do(http.MethodGet, "/sync/config", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestRegenerateSecretShownOnce(t *testing.T) {
	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_ok", "cs")

	f.expectCampus(3)
	f.expectConfig(3, blob, "https://core.example.org", "ws_old")
	f.mock.ExpectExec(`UPDATE sync_config SET webhook_secret = \?`).
		WithArgs(sqlmock.AnyArg(), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(http.MethodPost, "/sync/regenerate-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	secret, _ := decodeBody(t, rec)["webhook_secret"].(string)
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(secret) {
		t.Fatalf("webhook_secret = %q, want 256-bit hex", secret)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestRegenerateSecretUnconfigured(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)
	f.mock.ExpectExec(`UPDATE sync_config SET webhook_secret = \?`).
		WithArgs(sqlmock.AnyArg(), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := f.do(http.MethodPost, "/sync/regenerate-secret", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestTestConnectionVerdicts(t *testing.T) {
	srv := fakeCore(t, `{"members":[],"next_cursor":null}`)

	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_ok", "cs_ok")

	// Stored credentials pass.
	f.expectCampus(3)
	f.expectConfig(3, blob, srv.URL, "ws")
	rec := f.do(http.MethodPost, "/sync/test-connection", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody(t, rec); resp["success"] != true {
		t.Fatalf("success = %v, want true (%v)", resp["success"], resp["message"])
	}

	// Body overrides with a bad key fail, still as a 200 verdict.
	rec = f.do(http.MethodPost, "/sync/test-connection", map[string]any{
		"credentials": map[string]string{"api_key": "ck_bad", "api_secret": "x"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody(t, rec); resp["success"] != false {
		t.Fatal("bad credentials must produce success=false")
	}
}

func TestTestConnectionUnderspecified(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)

	rec := f.do(http.MethodPost, "/sync/test-connection", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestDiscoverFields(t *testing.T) {
	srv := fakeCore(t, `{"members":[
		{"id":"m_1","name":"Ada","phone":"+15125550101","birth_date":"1991-04-12",
		 "gender":"female","attributes":{"visits":3}}
	],"next_cursor":null}`)

	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_ok", "cs_ok")

	f.expectCampus(3)
	f.expectConfig(3, blob, srv.URL, "ws")

	rec := f.do(http.MethodPost, "/sync/discover-fields", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Fields []coreapi.FieldInfo `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	names := make(map[string]string, len(resp.Fields))
	for _, fi := range resp.Fields {
		names[fi.Name] = fi.Type
	}
	if names["id"] != "string" || names["visits"] != "number" || names["birth_date"] != "date" {
		t.Fatalf("discovered fields = %v", names)
	}
}

func TestPullRunsSynchronously(t *testing.T) {
	srv := fakeCore(t, `{"members":[],"next_cursor":null}`)

	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_ok", "cs_ok")

	f.expectCampus(3)
	f.expectConfig(3, blob, srv.URL, "ws")
	// Lease, empty-roster sweep, audit row, release.
	f.mock.ExpectExec(`DELETE FROM sync_lease WHERE campus_id = \? AND expires_at < \?`).
		WithArgs(uint64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec(`INSERT INTO sync_lease`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE member SET is_archived = 1\s+WHERE\s+campus_id = \?\s+AND\s+is_archived = 0\s+AND\s+external_member_id IS NOT NULL$`).
		WithArgs(uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec(`INSERT INTO sync_run_log`).
		WillReturnResult(sqlmock.NewResult(77, 1))
	f.mock.ExpectExec(`DELETE FROM sync_lease WHERE campus_id = \? AND owner = \?`).
		WithArgs(uint64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(http.MethodPost, "/sync/members/pull", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["status"] != "success" || resp["trigger"] != "manual" {
		t.Fatalf("run echo = %v", resp)
	}
	if _, ok := resp["duration_seconds"]; !ok {
		t.Fatal("duration_seconds missing from run echo")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestPullConflictWhenLeaseHeld(t *testing.T) {
	f := newFixture(t)
	blob := sealedCreds(t, f.vault, "ck_ok", "cs_ok")

	f.expectCampus(3)
	f.expectConfig(3, blob, "https://core.example.org", "ws")
	f.mock.ExpectExec(`DELETE FROM sync_lease WHERE campus_id = \? AND expires_at < \?`).
		WithArgs(uint64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec(`INSERT INTO sync_lease`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "duplicate"})

	rec := f.do(http.MethodPost, "/sync/members/pull", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody(t, rec); resp["status"] != "skipped" {
		t.Fatalf("status field = %v, want skipped", resp["status"])
	}
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.expectCampus(3)
	f.expectNoConfig(3)

	started := time.Date(2026, 8, 22, 3, 0, 0, 0, time.UTC)
	f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sync_run_log WHERE campus_id = \?`).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"cnt"}).AddRow(1))
	f.mock.ExpectQuery(`FROM\s+sync_run_log\s+WHERE\s+campus_id = \?`).
		WithArgs(uint64(3), 20, 0).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow(uint64(91), uint64(3), "scheduled", 40, 1, 2, 3, 0, "success",
				nil, started, started.Add(25*time.Second)))

	rec := f.do(http.MethodGet, "/sync/logs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Runs []struct {
			ID              uint64  `json:"id"`
			Trigger         string  `json:"trigger"`
			Archived        int     `json:"archived"`
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"runs"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Runs) != 1 {
		t.Fatalf("total = %d, runs = %d", resp.Total, len(resp.Runs))
	}
	if resp.Runs[0].ID != 91 || resp.Runs[0].Archived != 3 || resp.Runs[0].DurationSeconds != 25 {
		t.Fatalf("run echo = %+v", resp.Runs[0])
	}
}

func TestAdminRoutesRequireCampusHeader(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/sync/config", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookMountSkipsResolver(t *testing.T) {
	f := newFixture(t)

	// No X-Campus-ID header; the stub answering proves the webhook sits
	// outside the resolver group.
	req := httptest.NewRequest(http.MethodPost, "/sync/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "stub") {
		t.Fatalf("webhook mount did not reach the handler: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthzReportsKeyProvenance(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["credential_key"] != "config" || resp["degraded"] != false {
		t.Fatalf("health = %v", resp)
	}
}

func TestHealthzDegradedOnGeneratedKey(t *testing.T) {
	db, _ := mockDB(t)
	tc := tenant.New(db, tenant.IdleTTL, tenant.MaxEntries)
	t.Cleanup(tc.Stop)

	api := &API{
		DB:      db,
		Vault:   newVault(t, ""), // no key configured, generated at startup
		Tenants: tc,
		Webhooks: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CredentialKey != "generated" || !resp.Degraded {
		t.Fatalf("health = %+v, want generated+degraded", resp)
	}
}
