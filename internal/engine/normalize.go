// internal/engine/normalize.go
//
// Record Normalization
// --------------------
// Turns a raw remote record into a storable member row.  Phone numbers are
// normalized to E.164 with the campus's region hint, age is derived from
// birth_date, photos arrive base64-encoded.
//
// Failure tiers:
// - unparsable birth_date is a *NormalizeError: the record cannot be stored
//   coherently this run and is skipped (counted, non-fatal).
// - unparsable phone or undecodable photo degrade in place (raw phone kept,
//   photo dropped) with a warning.
package engine

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/coreapi"
	"github.com/campuscare/caresync/internal/member"
)

// NormalizeError marks a remote record that cannot be stored this run.
type NormalizeError struct {
	ExternalID string
	Field      string
	Reason     string
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("record %s: %s %s", e.ExternalID, e.Field, e.Reason)
}

var birthDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// normalize builds the member row a remote record should be stored as.
// The row carries no ID; callers decide between insert and update.
func normalize(campusID uint64, region string, rec coreapi.Record, now time.Time) (*member.Record, error) {
	row := &member.Record{
		CampusID: campusID,
		Name:     rec.Name,
		Gender:   rec.Gender,
		Phone:    normalizePhone(rec.Phone, region, rec.ID),
	}
	extID := rec.ID
	row.ExternalMemberID = &extID

	if rec.BirthDate != "" {
		born, err := parseBirthDate(rec.BirthDate)
		if err != nil {
			return nil, &NormalizeError{ExternalID: rec.ID, Field: "birth_date", Reason: fmt.Sprintf("%q is not a date", rec.BirthDate)}
		}
		age := ageAt(born, now)
		row.BirthDate = &born
		row.Age = &age
	}

	if rec.Photo != "" {
		photo, err := decodePhoto(rec.Photo)
		if err != nil {
			zap.S().Warnw("member photo dropped",
				"campus_id", campusID, "external_member_id", rec.ID, "error", err)
		} else {
			row.Photo = photo
		}
	}

	if len(rec.Attributes) > 0 {
		row.Attributes = member.Attributes(rec.Attributes)
	}
	return row, nil
}

// normalizePhone formats raw to E.164, reading bare national numbers
// against the campus's region.  Anything libphonenumber rejects is kept
// verbatim so no contact data is lost to a formatting quirk.
func normalizePhone(raw, region, externalID string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		zap.S().Warnw("phone kept unnormalized",
			"external_member_id", externalID, "region", region)
		return trimmed
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func parseBirthDate(s string) (time.Time, error) {
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ageAt is full years between birth and now.  Never negative, so a clock
// skew or a typoed future date cannot produce an impossible row.
func ageAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() ||
		(now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years
}

func decodePhoto(s string) ([]byte, error) {
	// Some systems ship data-URI photos; the payload after the comma is
	// plain base64 either way.
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, nil
}
