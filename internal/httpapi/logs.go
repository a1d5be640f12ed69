// internal/httpapi/logs.go
//
// Sync history endpoint.
package httpapi

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/synclog"
	"github.com/campuscare/caresync/internal/tenant"
)

type runEcho struct {
	*synclog.Run
	DurationSeconds float64 `json:"duration_seconds"`
}

func echoRun(run *synclog.Run) runEcho {
	return runEcho{Run: run, DurationSeconds: run.Duration().Seconds()}
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	ten, _ := tenant.FromContext(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, total, err := synclog.List(r.Context(), a.DB, ten.Meta.ID, page, limit)
	if err != nil {
		zap.S().Errorw("sync log query failed", "campus_id", ten.Meta.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not load sync history")
		return
	}

	echoes := make([]runEcho, len(runs))
	for i := range runs {
		echoes[i] = echoRun(&runs[i])
	}
	respond(w, http.StatusOK, map[string]any{
		"runs":  echoes,
		"total": total,
	})
}
