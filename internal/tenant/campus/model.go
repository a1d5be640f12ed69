package campus

import "time"

// Record mirrors one row in the `campus` table.  Operational state is
// captured by two nullable timestamps:
//
//   - SuspendedAt – campus is temporarily disabled (e.g., billing).
//   - DeletedAt   – campus is permanently removed.
//
// Either timestamp being non-NULL hides the campus from the scheduler,
// the admin API, and webhook routing.
type Record struct {
	ID           uint64     `db:"id"`
	Name         string     `db:"name"`
	CoreChurchID string     `db:"core_church_id"`
	SuspendedAt  *time.Time `db:"suspended_at"`
	DeletedAt    *time.Time `db:"deleted_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Live reports whether the campus may sync and serve requests.
func (r *Record) Live() bool { return r.SuspendedAt == nil && r.DeletedAt == nil }
