package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the compiled SQL to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	SQL      string // Compiled data SQL, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.SQL != "" {
		fmt.Fprintf(&buf, "  SQL: %s\n", e.SQL)
	}
	return buf.String()
}

// evaluateAssertions runs every assertion against result and records the
// failures on it.
func evaluateAssertions(assertions []Assertion, result *Result) {
	for _, a := range assertions {
		if err := evaluate(a, result); err != nil {
			result.AddError(err.Error())
		}
	}
}

func evaluate(a Assertion, result *Result) error {
	sql := ""
	if result.Explanation != nil {
		sql = result.Explanation.SQL
	}

	switch a.Type {
	case AssertSQLContains:
		if !strings.Contains(sql, a.Text) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("SQL containing %q", a.Text), Actual: "not found", SQL: sql}
		}
	case AssertSQLNotContains:
		if strings.Contains(sql, a.Text) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("SQL without %q", a.Text), Actual: "found", SQL: sql}
		}
	case AssertJoinCount:
		if n := strings.Count(sql, " JOIN "); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d joins", a.Count), Actual: fmt.Sprintf("%d joins", n), SQL: sql}
		}
	case AssertRowCount:
		if n := len(result.Records); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d rows", a.Count), Actual: fmt.Sprintf("%d rows", n), SQL: sql}
		}
	case AssertTotal:
		if result.Total == nil {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("total %d", a.Count), Actual: "no total", SQL: sql}
		}
		if *result.Total != int64(a.Count) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("total %d", a.Count), Actual: fmt.Sprintf("total %d", *result.Total), SQL: sql}
		}
	case AssertRow:
		return assertRow(a, result, sql)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertRow compares the expected attributes of one record by their text
// form, so YAML integers match hydrated int64 values and YAML strings
// match decimals and time buckets.
func assertRow(a Assertion, result *Result, sql string) error {
	if a.Index >= len(result.Records) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("row %d", a.Index),
			Actual:   fmt.Sprintf("%d rows", len(result.Records)),
			SQL:      sql,
		}
	}
	attrs := result.Records[a.Index].Attributes

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		got, ok := attrs[k]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s missing", k))
			continue
		}
		if valueText(got) != valueText(a.Expect[k]) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%s", k, valueText(got)))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("row %d with %v", a.Index, a.Expect),
			Actual:   strings.Join(mismatches, ", "),
			SQL:      sql,
		}
	}
	return nil
}

func valueText(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

func containsText(s, sub string) bool {
	return sub == "" || strings.Contains(s, sub)
}
