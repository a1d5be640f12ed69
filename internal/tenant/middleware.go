// internal/tenant/middleware.go
//
// Request-scoped campus resolution.
//
// Context
// -------
// An upstream gateway authenticates administrators and forwards the
// campus identifier in the X-Campus-ID header.  Resolver turns that
// header into a cached *Tenant on the request context; handlers read it
// back with FromContext.  The webhook endpoint does not use this path;
// it self-routes on the church id inside the payload.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// HeaderCampusID is set by the gateway on every admin request.
const HeaderCampusID = "X-Campus-ID"

type ctxKey struct{}

// WithTenant returns a context carrying the resolved tenant.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the tenant stored by Resolver.
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(*Tenant)
	return t, ok
}

// Resolver is chi middleware that resolves X-Campus-ID through the cache.
// Requests without a resolvable live campus end here.
func Resolver(c *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderCampusID)
			if raw == "" {
				http.Error(w, "missing "+HeaderCampusID+" header", http.StatusBadRequest)
				return
			}
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "malformed "+HeaderCampusID+" header", http.StatusBadRequest)
				return
			}

			ten, err := c.Get(r.Context(), id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					http.Error(w, "unknown campus", http.StatusNotFound)
					return
				}
				zap.L().Error("campus resolution failed",
					zap.Uint64("campus_id", id), zap.Error(err))
				http.Error(w, "campus resolution failed", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), ten)))
		})
	}
}
