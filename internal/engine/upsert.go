// internal/engine/upsert.go
//
// Upsert Engine
// -------------
// ReconcileOne converges one remote record with its member row.  Both the
// polling runner and the webhook handler terminate here, so the transition
// table lives in exactly one place:
//
//	matched  + no row        -> created
//	matched  + row differs   -> updated (changed columns only)
//	matched  + row archived  -> updated (revived in place)
//	matched  + row identical -> unchanged
//	unmatched + active row   -> archived
//	unmatched + no/archived  -> unchanged
//
// Applying the same record twice is a no-op the second time.
package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campuscare/caresync/internal/coreapi"
	"github.com/campuscare/caresync/internal/database"
	"github.com/campuscare/caresync/internal/member"
	"github.com/campuscare/caresync/internal/metrics"
	"github.com/campuscare/caresync/internal/syncconfig"
)

// Outcome is what ReconcileOne did to the row.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeArchived  Outcome = "archived"
	OutcomeUnchanged Outcome = "unchanged"
)

// ReconcileOne applies one remote record under the campus's configuration.
// matched is the filter verdict; the record's own fields decide the rest.
func ReconcileOne(ctx context.Context, db *sqlx.DB, cfg *syncconfig.Config, rec coreapi.Record, matched bool) (Outcome, error) {
	outcome, err := reconcile(ctx, db, cfg, rec, matched)
	if err == nil {
		metrics.MembersReconciled.WithLabelValues(string(outcome)).Inc()
	}
	return outcome, err
}

func reconcile(ctx context.Context, db *sqlx.DB, cfg *syncconfig.Config, rec coreapi.Record, matched bool) (Outcome, error) {
	existing, err := member.ByExternalID(ctx, db, cfg.CampusID, rec.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return OutcomeUnchanged, err
	}

	if !matched {
		if existing == nil || existing.IsArchived {
			return OutcomeUnchanged, nil
		}
		flipped, err := member.Archive(ctx, db, cfg.CampusID, rec.ID)
		if err != nil {
			return OutcomeUnchanged, err
		}
		if !flipped {
			// Lost a race to another writer; the end state is the same.
			return OutcomeUnchanged, nil
		}
		return OutcomeArchived, nil
	}

	row, err := normalize(cfg.CampusID, cfg.PhoneRegion, rec, time.Now())
	if err != nil {
		return OutcomeUnchanged, err
	}

	if existing == nil {
		if err := member.Create(ctx, db, row); err != nil {
			if !database.Duplicate(err) {
				return OutcomeUnchanged, err
			}
			// A concurrent writer inserted the same (campus, external id)
			// first; converge onto their row.
			existing, err = member.ByExternalID(ctx, db, cfg.CampusID, rec.ID)
			if err != nil {
				return OutcomeUnchanged, err
			}
		} else {
			return OutcomeCreated, nil
		}
	}

	fields := diff(existing, row)
	if existing.IsArchived {
		fields["is_archived"] = false
	}
	if len(fields) == 0 {
		return OutcomeUnchanged, nil
	}
	if err := member.UpdateFields(ctx, db, existing.ID, fields); err != nil {
		return OutcomeUnchanged, err
	}
	return OutcomeUpdated, nil
}

// diff lists the columns whose stored value differs from the incoming row.
func diff(existing, incoming *member.Record) map[string]any {
	fields := map[string]any{}
	if existing.Name != incoming.Name {
		fields["name"] = incoming.Name
	}
	if existing.Phone != incoming.Phone {
		fields["phone"] = incoming.Phone
	}
	if existing.Gender != incoming.Gender {
		fields["gender"] = incoming.Gender
	}
	if !sameDate(existing.BirthDate, incoming.BirthDate) {
		fields["birth_date"] = incoming.BirthDate
	}
	if !sameInt(existing.Age, incoming.Age) {
		fields["age"] = incoming.Age
	}
	if !bytes.Equal(existing.Photo, incoming.Photo) {
		fields["photo"] = incoming.Photo
	}
	if !attrsEqual(existing.Attributes, incoming.Attributes) {
		fields["attributes"] = incoming.Attributes
	}
	return fields
}

// sameDate compares calendar days.  The DATE column comes back in the
// server location while parsed input is UTC, so instant comparison would
// report phantom changes.
func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// attrsEqual treats absent and empty the same; both sides decoded from
// JSON, so DeepEqual compares like with like.
func attrsEqual(a, b member.Attributes) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
