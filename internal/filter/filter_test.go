package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *Scalar  { return &Scalar{Kind: KindString, Str: s} }
func num(f float64) *Scalar { return &Scalar{Kind: KindNumber, Num: f} }
func boolean(b bool) *Scalar {
	return &Scalar{Kind: KindBool, Bool: b}
}

func rule(field string, op Operator, v Value) Rule {
	return Rule{Field: field, Operator: op, Value: v}
}

func scalarVal(s *Scalar) Value  { return Value{Scalar: s} }
func listVal(ss ...Scalar) Value { return Value{List: ss} }

func TestOperatorTruthTable(t *testing.T) {
	fields := map[string]any{
		"name":       "Dana Whitfield",
		"gender":     "female",
		"age":        34,
		"birth_date": "1991-04-12",
		"zip":        "78704",
		"is_member":  true,
		"tags":       "choir,volunteer",
		"visits":     "12",
	}

	cases := []struct {
		name    string
		rule    Rule
		want    bool
		wantErr bool
	}{
		{"equals match", rule("gender", OpEquals, scalarVal(str("female"))), true, false},
		{"equals mismatch", rule("gender", OpEquals, scalarVal(str("male"))), false, false},
		{"equals is case sensitive", rule("gender", OpEquals, scalarVal(str("Female"))), false, false},
		{"equals number coerces numeric string field", rule("zip", OpEquals, scalarVal(num(78704))), true, false},
		{"equals number", rule("age", OpEquals, scalarVal(num(34))), true, false},
		{"equals bool", rule("is_member", OpEquals, scalarVal(boolean(true))), true, false},
		{"equals missing field", rule("nope", OpEquals, scalarVal(str("x"))), false, false},

		{"not_equals mismatch", rule("gender", OpNotEquals, scalarVal(str("male"))), true, false},
		{"not_equals match", rule("gender", OpNotEquals, scalarVal(str("female"))), false, false},
		{"not_equals missing field", rule("nope", OpNotEquals, scalarVal(str("x"))), true, false},

		{"contains case insensitive", rule("name", OpContains, scalarVal(str("whit"))), true, false},
		{"contains miss", rule("name", OpContains, scalarVal(str("zzz"))), false, false},
		{"contains stringifies numbers", rule("age", OpContains, scalarVal(str("4"))), true, false},
		{"contains missing field", rule("nope", OpContains, scalarVal(str("x"))), false, false},

		{"in hit", rule("gender", OpIn, listVal(*str("female"), *str("male"))), true, false},
		{"in miss", rule("gender", OpIn, listVal(*str("other"))), false, false},
		{"not_in miss is match", rule("gender", OpNotIn, listVal(*str("male"))), true, false},
		{"not_in hit is non-match", rule("gender", OpNotIn, listVal(*str("female"))), false, false},
		{"not_in missing field matches", rule("nope", OpNotIn, listVal(*str("x"))), true, false},

		{"greater_than int field", rule("age", OpGreaterThan, scalarVal(num(30))), true, false},
		{"greater_than equal is false", rule("age", OpGreaterThan, scalarVal(num(34))), false, false},
		{"greater_than numeric string field", rule("visits", OpGreaterThan, scalarVal(num(10))), true, false},
		{"greater_than non-numeric field errors", rule("name", OpGreaterThan, scalarVal(num(1))), false, true},
		{"greater_than missing field errors", rule("nope", OpGreaterThan, scalarVal(num(1))), false, true},
		{"less_than date", rule("birth_date", OpLessThan, scalarVal(str("2000-01-01"))), true, false},
		{"less_than date miss", rule("birth_date", OpLessThan, scalarVal(str("1980-01-01"))), false, false},
		{"less_than non-date field errors", rule("tags", OpLessThan, scalarVal(str("2000-01-01"))), false, true},

		{"between inside", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 18}, Scalar{Kind: KindNumber, Num: 40})), true, false},
		{"between lower bound inclusive", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 34}, Scalar{Kind: KindNumber, Num: 40})), true, false},
		{"between upper bound inclusive", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 18}, Scalar{Kind: KindNumber, Num: 34})), true, false},
		{"between outside", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 40}, Scalar{Kind: KindNumber, Num: 50})), false, false},
		{"between dates", rule("birth_date", OpBetween, listVal(*str("1990-01-01"), *str("1995-12-31"))), true, false},

		{"is_true bool", rule("is_member", OpIsTrue, Value{}), true, false},
		{"is_false bool", rule("is_member", OpIsFalse, Value{}), false, false},
		{"is_false missing field", rule("nope", OpIsFalse, Value{}), true, false},
		{"is_true garbage string errors", rule("tags", OpIsTrue, Value{}), false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.rule.match(fields)
			if tc.wantErr {
				require.Error(t, err)
				var ee *EvalError
				assert.ErrorAs(t, err, &ee)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBoolCoercionShapes(t *testing.T) {
	truthy := map[string]any{"a": "yes", "b": "1", "c": 1, "d": true, "e": "TRUE"}
	for f := range truthy {
		got, err := rule(f, OpIsTrue, Value{}).match(truthy)
		require.NoError(t, err, f)
		assert.True(t, got, f)
	}

	falsy := map[string]any{"a": "no", "b": "0", "c": 0, "d": false, "e": ""}
	for f := range falsy {
		got, err := rule(f, OpIsFalse, Value{}).match(falsy)
		require.NoError(t, err, f)
		assert.True(t, got, f)
	}
}

func TestIncludedModeAlgebra(t *testing.T) {
	fields := map[string]any{"gender": "female", "age": 34}
	allMatch := []Rule{
		rule("gender", OpEquals, scalarVal(str("female"))),
		rule("age", OpGreaterThan, scalarVal(num(18))),
	}
	partial := []Rule{
		rule("gender", OpEquals, scalarVal(str("female"))),
		rule("age", OpGreaterThan, scalarVal(num(50))),
	}

	got, err := Included(allMatch, ModeInclude, fields)
	require.NoError(t, err)
	assert.True(t, got, "include keeps a full match")

	got, err = Included(allMatch, ModeExclude, fields)
	require.NoError(t, err)
	assert.False(t, got, "exclude drops a full match")

	got, err = Included(partial, ModeInclude, fields)
	require.NoError(t, err)
	assert.False(t, got, "include drops a partial match")

	got, err = Included(partial, ModeExclude, fields)
	require.NoError(t, err)
	assert.True(t, got, "exclude keeps a partial match")
}

func TestIncludedEmptyRules(t *testing.T) {
	fields := map[string]any{"anything": 1}

	got, err := Included(nil, ModeInclude, fields)
	require.NoError(t, err)
	assert.True(t, got, "empty rules with include match everything")

	got, err = Included(nil, ModeExclude, fields)
	require.NoError(t, err)
	assert.False(t, got, "empty rules with exclude match nothing")
}

func TestIncludedDropsRecordOnEvalError(t *testing.T) {
	rules := []Rule{rule("name", OpGreaterThan, scalarVal(num(10)))}
	fields := map[string]any{"name": "not a number"}

	for _, mode := range []Mode{ModeInclude, ModeExclude} {
		got, err := Included(rules, mode, fields)
		require.Error(t, err, mode)
		assert.False(t, got, "record with eval error is dropped under %s", mode)
	}
}

func TestNonMatchShortCircuits(t *testing.T) {
	// The second rule would error, but the first already decided the AND.
	rules := []Rule{
		rule("gender", OpEquals, scalarVal(str("male"))),
		rule("name", OpGreaterThan, scalarVal(num(10))),
	}
	fields := map[string]any{"gender": "female", "name": "text"}

	got, err := Included(rules, ModeInclude, fields)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRuleValidate(t *testing.T) {
	bad := []struct {
		name string
		rule Rule
	}{
		{"empty field", rule("", OpEquals, scalarVal(str("x")))},
		{"unknown operator", rule("age", Operator("matches"), scalarVal(str("x")))},
		{"equals without value", rule("age", OpEquals, Value{})},
		{"contains with number", rule("name", OpContains, scalarVal(num(3)))},
		{"in with empty list", rule("gender", OpIn, Value{List: []Scalar{}})},
		{"between wrong arity", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 1}))},
		{"between mixed kinds", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 1}, *str("2000-01-01")))},
		{"between inverted bounds", rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 9}, Scalar{Kind: KindNumber, Num: 3}))},
		{"greater_than with bool", rule("age", OpGreaterThan, scalarVal(boolean(true)))},
		{"greater_than with non-date string", rule("age", OpGreaterThan, scalarVal(str("tall")))},
		{"is_true with value", rule("flag", OpIsTrue, scalarVal(boolean(true)))},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.rule.Validate())
		})
	}

	good := []Rule{
		rule("gender", OpEquals, scalarVal(str("female"))),
		rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 18}, Scalar{Kind: KindNumber, Num: 30})),
		rule("birth_date", OpLessThan, scalarVal(str("2008-01-01"))),
		rule("is_member", OpIsTrue, Value{}),
		rule("zip", OpIn, listVal(*str("78704"), *str("78745"))),
	}
	assert.NoError(t, ValidateRules(good))
}

func TestValidateRulesReportsPosition(t *testing.T) {
	rules := []Rule{
		rule("gender", OpEquals, scalarVal(str("female"))),
		rule("", OpEquals, scalarVal(str("x"))),
	}
	err := ValidateRules(rules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 2")
}

func TestRulesSurviveJSONStorage(t *testing.T) {
	original := []Rule{
		rule("age", OpBetween, listVal(Scalar{Kind: KindNumber, Num: 18}, Scalar{Kind: KindNumber, Num: 30})),
		rule("name", OpContains, scalarVal(str("an"))),
		rule("is_member", OpIsTrue, Value{}),
	}

	blob, err := json.Marshal(original)
	require.NoError(t, err)

	var restored []Rule
	require.NoError(t, json.Unmarshal(blob, &restored))
	require.NoError(t, ValidateRules(restored))

	fields := map[string]any{"age": 25, "name": "Anders", "is_member": true}
	a, err := Included(original, ModeInclude, fields)
	require.NoError(t, err)
	b, err := Included(restored, ModeInclude, fields)
	require.NoError(t, err)
	assert.Equal(t, a, b, "stored rules must evaluate identically")
	assert.True(t, b)
}
