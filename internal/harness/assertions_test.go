package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/engine"
	"github.com/roach88/aggql/internal/hydrate"
)

func executedResult() *Result {
	total := int64(2)
	r := NewResult()
	r.Explanation = &engine.Explanation{SQL: `SELECT a FROM t LEFT JOIN u ON 1 = 1 LEFT JOIN v ON 1 = 1`}
	r.Records = []hydrate.Record{
		{ID: 0, Attributes: map[string]any{"rating": "Good", "score": int64(35), "missing": nil}},
		{ID: 1, Attributes: map[string]any{"rating": "Great", "score": int64(241)}},
	}
	r.Total = &total
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	r := executedResult()
	evaluateAssertions([]Assertion{
		{Type: AssertSQLContains, Text: "LEFT JOIN u"},
		{Type: AssertSQLNotContains, Text: "GROUP BY"},
		{Type: AssertJoinCount, Count: 2},
		{Type: AssertRowCount, Count: 2},
		{Type: AssertTotal, Count: 2},
		{Type: AssertRow, Index: 0, Expect: map[string]any{"rating": "Good", "score": 35, "missing": nil}},
	}, r)
	assert.True(t, r.Pass, r.Errors)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"sql contains", Assertion{Type: AssertSQLContains, Text: "HAVING"}, `SQL containing "HAVING"`},
		{"sql not contains", Assertion{Type: AssertSQLNotContains, Text: "JOIN"}, "found"},
		{"join count", Assertion{Type: AssertJoinCount, Count: 1}, "2 joins"},
		{"row count", Assertion{Type: AssertRowCount, Count: 3}, "2 rows"},
		{"total", Assertion{Type: AssertTotal, Count: 5}, "total 2"},
		{"row index", Assertion{Type: AssertRow, Index: 4, Expect: map[string]any{"rating": "Good"}}, "row 4"},
		{"row value", Assertion{Type: AssertRow, Index: 1, Expect: map[string]any{"score": 240}}, "score=241"},
		{"row key", Assertion{Type: AssertRow, Index: 1, Expect: map[string]any{"tier": "Gold"}}, "tier missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := executedResult()
			evaluateAssertions([]Assertion{tt.assertion}, r)
			assert.False(t, r.Pass)
			require.Len(t, r.Errors, 1)
			assert.Contains(t, r.Errors[0], tt.want)
			assert.Contains(t, r.Errors[0], "SQL: SELECT a FROM t")
		})
	}
}

func TestEvaluateAssertions_TotalMissing(t *testing.T) {
	r := executedResult()
	r.Total = nil
	evaluateAssertions([]Assertion{{Type: AssertTotal, Count: 2}}, r)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "no total")
}

func TestCheckExpect(t *testing.T) {
	rejected := func() *Result {
		r := NewResult()
		r.ErrorCode = "INVALID_OPERATION"
		r.ErrorMessage = "Sorting on id field is not permitted"
		return r
	}

	tests := []struct {
		name   string
		expect *ExpectClause
		result *Result
		pass   bool
	}{
		{"success expected", nil, NewResult(), true},
		{"unexpected error", nil, rejected(), false},
		{"error matches", &ExpectClause{Error: "INVALID_OPERATION", Message: "Sorting on id"}, rejected(), true},
		{"wrong code", &ExpectClause{Error: "PARSE_ERROR"}, rejected(), false},
		{"wrong message", &ExpectClause{Error: "INVALID_OPERATION", Message: "grain"}, rejected(), false},
		{"no error", &ExpectClause{Error: "INVALID_OPERATION"}, NewResult(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkExpect(&Scenario{Expect: tt.expect}, tt.result)
			assert.Equal(t, tt.pass, tt.result.Pass, tt.result.Errors)
		})
	}
}
