// internal/tenant/entry.go
//
// Campus cache entry and aggregate.
//
// Context
// -------
// A live Tenant aggregates what request handlers and the webhook router
// need to serve one campus: its `campus` row and the parsed sync
// configuration.  The cache stores a pointer to Tenant inside `entry`,
// along with a `lastSeen` UnixNano timestamp used by the evictor for idle
// and LRU eviction.
//
// Notes
// -----
//   - Tenant is immutable after load.  Config saves go through the
//     repository and then Invalidate the cache entry, so the next lookup
//     sees the new rules and secret.
package tenant

import (
	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/tenant/campus"
)

//
// Cache entry
//

type entry struct {
	tenant   *Tenant
	lastSeen int64 // UnixNano
}

//
// Tenant aggregate
//

// Tenant groups the per-campus runtime state shared by handlers.
type Tenant struct {
	Meta campus.Record      // Row from `campus`
	Sync *syncconfig.Config // nil until an administrator saves one
}

// Configured reports whether the campus has a saved sync configuration.
func (t *Tenant) Configured() bool { return t.Sync != nil }
