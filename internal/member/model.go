// internal/member/model.go
//
// Member Row Model
// ----------------
// One row per person per campus.  Rows that came from the core system carry
// an external_member_id (unique per campus); rows created by hand leave it
// NULL and are never touched by sync runs.
//
// Context:
// - Sync never deletes.  A member who drops out of the remote roster is
//   archived (is_archived = 1) and revived in place when they reappear.
package member

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Attributes holds the free-form remote fields that have no column of their
// own.  Stored as a JSON document; NULL when the map is nil.
type Attributes map[string]any

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Attributes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("member: cannot scan attributes from %T", src)
	}
}

// Record is one member row.
type Record struct {
	ID               uint64     `db:"id"`
	CampusID         uint64     `db:"campus_id"`
	ExternalMemberID *string    `db:"external_member_id"`
	Name             string     `db:"name"`
	Phone            string     `db:"phone"`
	BirthDate        *time.Time `db:"birth_date"`
	Age              *int       `db:"age"`
	Gender           string     `db:"gender"`
	Photo            []byte     `db:"photo"`
	Attributes       Attributes `db:"attributes"`
	IsArchived       bool       `db:"is_archived"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}
