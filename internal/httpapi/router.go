// internal/httpapi/router.go
//
// HTTP surface of the sync service.
//
// Context
// -------
// Two kinds of traffic share one listener.  Admin endpoints arrive from
// the campus dashboard with an X-Campus-ID header that the tenant
// resolver turns into a cached *Tenant; the webhook endpoint is shared
// by every campus and routes itself on the church id inside the signed
// payload, so it mounts outside the resolver.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuscare/caresync/internal/engine"
	"github.com/campuscare/caresync/internal/middleware"
	"github.com/campuscare/caresync/internal/requestinfo"
	"github.com/campuscare/caresync/internal/tenant"
	"github.com/campuscare/caresync/internal/vault"
)

// API aggregates the dependencies the handlers need.  Kick is the
// scheduler's manual-trigger hook; it may be nil (tests, one-shot
// tools), saves then simply skip the nudge.
type API struct {
	DB            *sqlx.DB
	Vault         *vault.Vault
	Tenants       *tenant.Cache
	Runner        *engine.Runner
	Webhooks      http.Handler
	Kick          func(campusID uint64)
	HTTPClient    *http.Client
	PageSize      int
	DefaultRegion string
}

// Router assembles the chi mux.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Security)

	r.Get("/healthz", a.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.With(requestinfo.Enrich).
		Method(http.MethodPost, "/sync/webhook", a.Webhooks)

	r.Group(func(admin chi.Router) {
		admin.Use(tenant.Resolver(a.Tenants))

		admin.Get("/sync/config", a.handleGetConfig)
		admin.Post("/sync/config", a.handleSaveConfig)
		admin.Post("/sync/regenerate-secret", a.handleRegenerateSecret)
		admin.Post("/sync/test-connection", a.handleTestConnection)
		admin.Post("/sync/discover-fields", a.handleDiscoverFields)
		admin.Post("/sync/members/pull", a.handlePull)
		admin.Get("/sync/logs", a.handleLogs)
	})

	return r
}
