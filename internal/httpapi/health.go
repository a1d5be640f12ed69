// internal/httpapi/health.go
//
// Readiness probe.  Reports the database and the credential-key
// provenance; a generated key means sealed credentials die with the
// process, so that state is surfaced here instead of hiding in a log
// line.
package httpapi

import (
	"net/http"

	"github.com/campuscare/caresync/internal/vault"
)

type healthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	CredentialKey string `json:"credential_key"`
	Degraded      bool   `json:"degraded"`
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Database:      "ok",
		CredentialKey: string(a.Vault.Source()),
		Degraded:      a.Vault.Source() == vault.KeyGenerated,
	}
	status := http.StatusOK

	if err := a.DB.PingContext(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	respond(w, status, resp)
}
