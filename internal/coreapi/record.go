// internal/coreapi/record.go
//
// Member payload of the core system, plus field discovery.
//
// Context
// -------
//   - Records arrive as JSON with five well-known fields and a free-form
//     attributes map holding each church's custom fields.  Filter rules
//     may target either, so Fields flattens both into one map.
//   - DiscoverFields powers the rule-builder UI: it samples one listing
//     page and reports every field name with an inferred type and a few
//     example values.
package coreapi

import (
	"sort"
	"strconv"
	"time"
)

// Record is one member as the core system sends it.
type Record struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone"`
	BirthDate  string         `json:"birth_date"`
	Gender     string         `json:"gender"`
	Photo      string         `json:"photo,omitempty"` // base64
	Attributes map[string]any `json:"attributes,omitempty"`
}

// coreFields is the presentation order of the well-known fields.
var coreFields = []string{"id", "name", "phone", "birth_date", "gender"}

// Fields flattens the record for rule evaluation.  Well-known fields win
// over attributes of the same name.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.Attributes)+len(coreFields))
	for k, v := range r.Attributes {
		out[k] = v
	}
	out["id"] = r.ID
	out["name"] = r.Name
	out["phone"] = r.Phone
	out["birth_date"] = r.BirthDate
	out["gender"] = r.Gender
	return out
}

// FieldInfo describes one discovered remote field.
type FieldInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // string, number, boolean, or date
	Samples []string `json:"sample_values,omitempty"`
}

const maxSamples = 5

// inferFields folds sampled records into per-field type and sample
// information.  Well-known fields lead, attributes follow alphabetically;
// fields whose type varies across records widen to string.
func inferFields(recs []Record) []FieldInfo {
	type agg struct {
		typ     string
		samples []string
		seen    map[string]struct{}
	}
	byName := make(map[string]*agg)

	for i := range recs {
		for name, val := range recs[i].Fields() {
			if val == nil {
				continue
			}
			a := byName[name]
			if a == nil {
				a = &agg{typ: inferType(val), seen: make(map[string]struct{})}
				byName[name] = a
			} else if t := inferType(val); t != a.typ {
				a.typ = "string"
			}
			if s := sampleString(val); s != "" && len(a.samples) < maxSamples {
				if _, dup := a.seen[s]; !dup {
					a.seen[s] = struct{}{}
					a.samples = append(a.samples, s)
				}
			}
		}
	}

	var attrNames []string
	for name := range byName {
		if !isCoreField(name) {
			attrNames = append(attrNames, name)
		}
	}
	sort.Strings(attrNames)

	out := make([]FieldInfo, 0, len(byName))
	for _, name := range append(append([]string{}, coreFields...), attrNames...) {
		if a, ok := byName[name]; ok {
			out = append(out, FieldInfo{Name: name, Type: a.typ, Samples: a.samples})
		}
	}
	return out
}

func isCoreField(name string) bool {
	for _, f := range coreFields {
		if f == name {
			return true
		}
	}
	return false
}

func inferType(v any) string {
	switch t := v.(type) {
	case bool:
		return "boolean"
	case float64, float32, int, int64:
		return "number"
	case string:
		if _, err := time.Parse("2006-01-02", t); err == nil {
			return "date"
		}
		if _, err := time.Parse(time.RFC3339, t); err == nil {
			return "date"
		}
		return "string"
	default:
		return "string"
	}
}

func sampleString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
