// internal/filter/eval.go
//
// Rule evaluation.
//
// Context
// -------
//   - Pure functions, no I/O.  The engine and the webhook handler both call
//     Included with the field map of a remote record; the answer decides
//     create/update versus archive.
//   - A rule that cannot be evaluated against a record (type mismatch,
//     missing ordered field) yields a *EvalError.  The record is dropped
//     from the sync set regardless of mode; callers log it, count it, and
//     keep the run alive.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EvalError describes a single-record evaluation failure.  Record-level by
// contract: never fatal to a run.
type EvalError struct {
	Field    string
	Operator Operator
	Reason   string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("filter %s on %q: %s", e.Operator, e.Field, e.Reason)
}

func evalErr(r Rule, reason string) *EvalError {
	return &EvalError{Field: r.Field, Operator: r.Operator, Reason: reason}
}

// Included reports whether a record belongs to the sync set.
//
// All rules AND together; mode then decides: include keeps full matches,
// exclude keeps everything except full matches.  An empty rule list
// therefore matches everything under include and nothing under exclude.
// Evaluation short-circuits on the first definitive non-match.  On the
// first *EvalError the record is excluded outright and the error returned.
func Included(rules []Rule, mode Mode, fields map[string]any) (bool, error) {
	all := true
	for _, r := range rules {
		ok, err := r.match(fields)
		if err != nil {
			return false, err
		}
		if !ok {
			all = false
			break
		}
	}

	if mode == ModeExclude {
		return !all, nil
	}
	return all, nil
}

// match evaluates one rule against the record's field map.
func (r Rule) match(fields map[string]any) (bool, error) {
	field, present := fields[r.Field]
	if field == nil {
		present = false
	}

	switch r.Operator {
	case OpEquals:
		return present && scalarEqual(field, *r.Value.Scalar), nil

	case OpNotEquals:
		return !present || !scalarEqual(field, *r.Value.Scalar), nil

	case OpContains:
		if !present {
			return false, nil
		}
		hay, ok := stringify(field)
		if !ok {
			return false, evalErr(r, "field has no string form")
		}
		return strings.Contains(strings.ToLower(hay), strings.ToLower(r.Value.Scalar.Str)), nil

	case OpIn, OpNotIn:
		hit := false
		if present {
			for _, s := range r.Value.List {
				if scalarEqual(field, s) {
					hit = true
					break
				}
			}
		}
		if r.Operator == OpNotIn {
			return !hit, nil
		}
		return hit, nil

	case OpGreaterThan, OpLessThan:
		if !present {
			return false, evalErr(r, "field is missing")
		}
		c, err := compareOrdered(field, *r.Value.Scalar)
		if err != nil {
			return false, evalErr(r, err.Error())
		}
		if r.Operator == OpGreaterThan {
			return c > 0, nil
		}
		return c < 0, nil

	case OpBetween:
		if !present {
			return false, evalErr(r, "field is missing")
		}
		lo, err := compareOrdered(field, r.Value.List[0])
		if err != nil {
			return false, evalErr(r, err.Error())
		}
		hi, err := compareOrdered(field, r.Value.List[1])
		if err != nil {
			return false, evalErr(r, err.Error())
		}
		return lo >= 0 && hi <= 0, nil

	case OpIsTrue, OpIsFalse:
		b, err := toBool(field)
		if err != nil {
			return false, evalErr(r, err.Error())
		}
		if r.Operator == OpIsFalse {
			return !b, nil
		}
		return b, nil

	default:
		// Unknown operators are rejected at save time; reaching here means
		// the stored config predates a vocabulary change.
		return false, evalErr(r, "unknown operator")
	}
}

// scalarEqual is exact equality: same scalar type, same value.  Strings
// compare case-sensitively.
func scalarEqual(field any, s Scalar) bool {
	switch s.Kind {
	case KindString:
		fs, ok := field.(string)
		return ok && fs == s.Str
	case KindNumber:
		fn, ok := toNumber(field)
		return ok && fn == s.Num
	case KindBool:
		fb, ok := field.(bool)
		return ok && fb == s.Bool
	}
	return false
}

// compareOrdered returns -1, 0, or 1 for field versus bound.  Numbers and
// dates are the only ordered domains; anything else is an error.
func compareOrdered(field any, bound Scalar) (int, error) {
	switch bound.Kind {
	case KindNumber:
		fn, ok := toNumber(field)
		if !ok {
			return 0, fmt.Errorf("field value %v is not numeric", field)
		}
		switch {
		case fn < bound.Num:
			return -1, nil
		case fn > bound.Num:
			return 1, nil
		}
		return 0, nil

	case KindString:
		bt, ok := parseDate(bound.Str)
		if !ok {
			return 0, fmt.Errorf("bound %q is not a date", bound.Str)
		}
		ft, err := toDate(field)
		if err != nil {
			return 0, err
		}
		switch {
		case ft.Before(bt):
			return -1, nil
		case ft.After(bt):
			return 1, nil
		}
		return 0, nil

	default:
		return 0, fmt.Errorf("%s bound is not ordered", bound.Kind)
	}
}

// toNumber widens the numeric shapes JSON decoding and Go literals
// produce.  Numeric strings count, since remote attribute maps often carry
// numbers as text.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if d, ok := parseDate(t); ok {
			return d, nil
		}
		return time.Time{}, fmt.Errorf("field value %q is not a date", t)
	default:
		return time.Time{}, fmt.Errorf("field value %v is not a date", v)
	}
}

// toBool coerces the shapes remote systems use for flags.  Missing fields
// coerce to false so is_false matches records that lack the flag.
func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y":
			return true, nil
		case "false", "0", "no", "n", "":
			return false, nil
		}
		return false, fmt.Errorf("field value %q is not boolean", t)
	default:
		return false, fmt.Errorf("field value %v is not boolean", v)
	}
}

// stringify renders a field for substring matching.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
