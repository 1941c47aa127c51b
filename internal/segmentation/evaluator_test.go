package segmentation

import (
	"testing"
	"time"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/stretchr/testify/assert"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		field any
		op    domain.Operator
		value any
		want  bool
	}{
		// equality
		{"equal strings", "qualified", domain.OpEquals, "qualified", true},
		{"equal is case sensitive", "Qualified", domain.OpEquals, "qualified", false},
		{"equal int vs json float", 40, domain.OpEquals, float64(40), true},
		{"equal int vs numeric string", 40, domain.OpEquals, "40", true},
		{"equal nil vs value", nil, domain.OpEquals, "x", false},
		{"equal nil vs nil", nil, domain.OpEquals, nil, true},
		{"not equal", "new", domain.OpNotEquals, "lost", true},
		{"not equal same", "new", domain.OpNotEquals, "new", false},

		// ordering
		{"gt number", 75, domain.OpGt, 50, true},
		{"gt equal number", 50, domain.OpGt, 50, false},
		{"gte equal number", 50, domain.OpGte, float64(50), true},
		{"lt number", 10, domain.OpLt, "20", true},
		{"lte number", 20, domain.OpLte, 20, true},
		{"gt string lexicographic", "beta", domain.OpGt, "alpha", true},
		{"gt time", ts("2024-05-01T00:00:00Z"), domain.OpGt, "2024-04-30", true},
		{"gt mismatched types", 50, domain.OpGt, "abc", false},
		{"gt nil field", nil, domain.OpGt, 1, false},
		{"lt tags", []string{"vip"}, domain.OpLt, "z", false},

		// text
		{"contains", "Acme Corporation", domain.OpContains, "Corp", true},
		{"contains missing", "Acme", domain.OpContains, "Corp", false},
		{"contains non string field", 42, domain.OpContains, "4", false},
		{"not contains", "Acme", domain.OpNotContains, "Corp", true},
		{"not contains non string field", 42, domain.OpNotContains, "7", false},
		{"starts with", "maria@acme.com", domain.OpStartsWith, "maria", true},
		{"ends with", "maria@acme.com", domain.OpEndsWith, "@acme.com", true},
		{"ends with nil value", "maria@acme.com", domain.OpEndsWith, nil, false},

		// lists
		{"in", "referral", domain.OpIn, []any{"event", "referral"}, true},
		{"in absent", "cold_call", domain.OpIn, []any{"event", "referral"}, false},
		{"in non array", "referral", domain.OpIn, "referral", false},
		{"not in", "cold_call", domain.OpNotIn, []any{"event", "referral"}, true},
		{"not in non array", "cold_call", domain.OpNotIn, "event", false},
		{"in numbers", 20, domain.OpIn, []any{float64(10), float64(20)}, true},
		{"in tags any", []string{"vip", "lead"}, domain.OpIn, []string{"vip"}, true},
		{"not in tags none", []string{"lead"}, domain.OpNotIn, []string{"vip"}, true},
		{"not in tags some", []string{"lead", "vip"}, domain.OpNotIn, []string{"vip"}, false},

		// null and empty
		{"is null", nil, domain.OpIsNull, nil, true},
		{"is null with value", "x", domain.OpIsNull, nil, false},
		{"is not null", "x", domain.OpIsNotNull, nil, true},
		{"is empty blank", "   ", domain.OpIsEmpty, nil, true},
		{"is empty nil", nil, domain.OpIsEmpty, nil, true},
		{"is empty tags", []string{}, domain.OpIsEmpty, nil, true},
		{"is empty zero number", 0, domain.OpIsEmpty, nil, false},
		{"is not empty", "Acme", domain.OpIsNotEmpty, nil, true},

		// regex
		{"regex", "(11) 3456-7890", domain.OpRegex, `^\(\d{2}\) \d{4}-\d{4}$`, true},
		{"regex delimited with flag", "ACME Ltda", domain.OpRegex, "/^acme/i", true},
		{"regex invalid pattern", "anything", domain.OpRegex, "([", false},
		{"regex non string field", 123, domain.OpRegex, `\d+`, false},
		{"regex non string pattern", "123", domain.OpRegex, 123, false},

		// dates
		{"date equals same day", ts("2024-03-15T18:30:00Z"), domain.OpDateEquals, "2024-03-15", true},
		{"date equals other day", ts("2024-03-16T00:00:00Z"), domain.OpDateEquals, "2024-03-15", false},
		{"date after", ts("2024-03-15T10:00:00Z"), domain.OpDateAfter, "2024-03-15", true},
		{"date before", ts("2024-03-14T23:59:59Z"), domain.OpDateBefore, "2024-03-15", true},
		{"date before unparsable", ts("2024-03-14T00:00:00Z"), domain.OpDateBefore, "yesterday", false},
		{"date string field", "2024-03-15 08:00:00", domain.OpDateAfter, "2024-03-01", true},
		{"date nil field", nil, domain.OpDateAfter, "2024-03-01", false},
		{"date between", "2024-03-15", domain.OpDateBetween, map[string]any{"start": "2024-01-01", "end": "2024-12-31"}, true},
		{"date between start inclusive", ts("2024-01-01T00:00:00Z"), domain.OpDateBetween, map[string]any{"start": "2024-01-01", "end": "2024-12-31"}, true},
		{"date between end day inclusive", ts("2024-12-31T22:00:00Z"), domain.OpDateBetween, map[string]any{"start": "2024-01-01", "end": "2024-12-31"}, true},
		{"date between outside", ts("2025-01-01T00:00:00Z"), domain.OpDateBetween, map[string]any{"start": "2024-01-01", "end": "2024-12-31"}, false},
		{"date between missing end", "2024-03-15", domain.OpDateBetween, map[string]any{"start": "2024-01-01"}, false},
		{"date between scalar", "2024-03-15", domain.OpDateBetween, "2024-01-01", false},

		// unknown
		{"unknown operator", "x", domain.Operator("like"), "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.field, tt.op, tt.value))
		})
	}
}

func TestEvaluate_NotEqualsIsNegationOfEquals(t *testing.T) {
	values := []any{nil, "a", 1, 2.5, true, ts("2024-01-01T00:00:00Z"), []string{"vip"}}
	for _, a := range values {
		for _, b := range values {
			assert.NotEqual(t, Evaluate(a, domain.OpEquals, b), Evaluate(a, domain.OpNotEquals, b), "%v vs %v", a, b)
		}
	}
}

func TestEvaluate_NeverPanicsOnOddOperands(t *testing.T) {
	odd := []any{nil, map[string]any{}, []any{nil}, struct{}{}, make(chan int), func() {}}
	ops := make([]domain.Operator, 0)
	for _, meta := range GetOperatorMetadata() {
		ops = append(ops, meta.Operator)
	}
	for _, op := range ops {
		for _, a := range odd {
			for _, b := range odd {
				assert.NotPanics(t, func() { Evaluate(a, op, b) })
			}
		}
	}
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "(?i)^acme", normalizePattern("/^acme/i"))
	assert.Equal(t, "^acme", normalizePattern("/^acme/"))
	assert.Equal(t, "/^acme/x", normalizePattern("/^acme/x"))
	assert.Equal(t, "^acme", normalizePattern("^acme"))
}

func TestCompiledPatternsExpire(t *testing.T) {
	pattern := "/^cache-check/i"
	assert.True(t, Evaluate("Cache-Check lead", domain.OpRegex, pattern))

	_, expires, ok := regexCache.GetWithExpiration(pattern)
	assert.True(t, ok)
	assert.False(t, expires.IsZero())
	assert.WithinDuration(t, time.Now().Add(regexCacheTTL), expires, time.Minute)

	assert.False(t, Evaluate("x", domain.OpRegex, "(["))
	invalid, ok := regexCache.Get("([")
	assert.True(t, ok)
	assert.Nil(t, invalid)
}
