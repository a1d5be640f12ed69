// internal/filter/rule.go
//
// Filter rule model.
//
// Context
// -------
//   - A campus's sync config carries an ordered list of rules that decide
//     which remote members belong to the sync set.  Rules are authored in
//     an external UI, stored as JSON, and must be rejected at save time
//     when malformed, never at evaluation time in the middle of a run.
//   - Value is a small tagged union (scalar or list) instead of raw JSON,
//     so every operator can state the shape it needs and Validate can
//     check it.
package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Operator is the closed set of comparison operators a rule may use.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
	OpIsTrue      Operator = "is_true"
	OpIsFalse     Operator = "is_false"
)

// Operators lists every operator the config API accepts, in the order the
// authoring UI presents them.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpIn, OpNotIn,
	OpGreaterThan, OpLessThan, OpBetween, OpIsTrue, OpIsFalse,
}

// Mode selects what a full rule match means: include keeps matching
// records, exclude drops them.
type Mode string

const (
	ModeInclude Mode = "include"
	ModeExclude Mode = "exclude"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeInclude || m == ModeExclude }

// ScalarKind discriminates the JSON scalar types a rule value may hold.
type ScalarKind uint8

const (
	KindString ScalarKind = iota
	KindNumber
	KindBool
)

func (k ScalarKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "string"
	}
}

// Scalar is one JSON scalar: a string, a number, or a boolean.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  float64
	Bool bool
}

// String renders the scalar the way contains and log lines need it.
func (s Scalar) String() string {
	switch s.Kind {
	case KindNumber:
		return strconv.FormatFloat(s.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(s.Bool)
	default:
		return s.Str
	}
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		s.Kind, s.Str = KindString, t
	case float64:
		s.Kind, s.Num = KindNumber, t
	case bool:
		s.Kind, s.Bool = KindBool, t
	default:
		return fmt.Errorf("rule value must be a string, number, or boolean, got %T", v)
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindNumber:
		return json.Marshal(s.Num)
	case KindBool:
		return json.Marshal(s.Bool)
	default:
		return json.Marshal(s.Str)
	}
}

// Value is the typed payload of a rule: a single scalar for comparison
// operators, a list for in/not_in, and an inclusive [min, max] pair for
// between.  is_true and is_false carry no value at all.
type Value struct {
	Scalar *Scalar
	List   []Scalar
}

// IsZero reports whether the value carries neither a scalar nor a list.
func (v Value) IsZero() bool { return v.Scalar == nil && v.List == nil }

func (v *Value) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(b, &v.List)
	}
	var s Scalar
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v.Scalar = &s
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.List != nil:
		return json.Marshal(v.List)
	case v.Scalar != nil:
		return json.Marshal(*v.Scalar)
	default:
		return []byte("null"), nil
	}
}

// Rule compares one named field of a candidate record against a value.
// Rules in a config combine with AND.
type Rule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// dateLayouts are the formats ordered comparisons accept for date-valued
// fields and bounds.  birth_date arrives as the first form.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Validate rejects a malformed rule.  Called when a config is saved, so a
// bad rule never reaches a live run.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Field) == "" {
		return errors.New("rule field is required")
	}

	switch r.Operator {
	case OpEquals, OpNotEquals:
		if r.Value.Scalar == nil {
			return fmt.Errorf("field %q: %s needs a single value", r.Field, r.Operator)
		}

	case OpContains:
		if r.Value.Scalar == nil || r.Value.Scalar.Kind != KindString {
			return fmt.Errorf("field %q: contains needs a string value", r.Field)
		}

	case OpGreaterThan, OpLessThan:
		s := r.Value.Scalar
		if s == nil {
			return fmt.Errorf("field %q: %s needs a single value", r.Field, r.Operator)
		}
		if err := validateBound(r.Field, r.Operator, *s); err != nil {
			return err
		}

	case OpIn, OpNotIn:
		if len(r.Value.List) == 0 {
			return fmt.Errorf("field %q: %s needs a non-empty list", r.Field, r.Operator)
		}

	case OpBetween:
		if len(r.Value.List) != 2 {
			return fmt.Errorf("field %q: between needs a [min, max] pair", r.Field)
		}
		lo, hi := r.Value.List[0], r.Value.List[1]
		if lo.Kind != hi.Kind {
			return fmt.Errorf("field %q: between bounds must share a type, got %s and %s",
				r.Field, lo.Kind, hi.Kind)
		}
		for _, b := range []Scalar{lo, hi} {
			if err := validateBound(r.Field, r.Operator, b); err != nil {
				return err
			}
		}
		if boundsInverted(lo, hi) {
			return fmt.Errorf("field %q: between min exceeds max", r.Field)
		}

	case OpIsTrue, OpIsFalse:
		if !r.Value.IsZero() {
			return fmt.Errorf("field %q: %s takes no value", r.Field, r.Operator)
		}

	default:
		return fmt.Errorf("field %q: unknown operator %q", r.Field, r.Operator)
	}
	return nil
}

// validateBound checks that an ordering bound is a number or a date string.
func validateBound(field string, op Operator, s Scalar) error {
	switch s.Kind {
	case KindNumber:
		return nil
	case KindString:
		if _, ok := parseDate(s.Str); ok {
			return nil
		}
		return fmt.Errorf("field %q: %s string bounds must be dates (YYYY-MM-DD)", field, op)
	default:
		return fmt.Errorf("field %q: %s needs a number or date value", field, op)
	}
}

func boundsInverted(lo, hi Scalar) bool {
	if lo.Kind == KindNumber {
		return lo.Num > hi.Num
	}
	lt, lok := parseDate(lo.Str)
	ht, hok := parseDate(hi.Str)
	return lok && hok && lt.After(ht)
}

// ValidateRules validates every rule of a config, reporting the position of
// the first bad one so the UI can point at it.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
	}
	return nil
}
