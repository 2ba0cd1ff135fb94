package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where scenario golden files live, relative to this package.
const GoldenDir = "../../testdata/scenarios/golden"

// Snapshot renders the parts of a result that golden files pin down:
// the compiled SQL with its parameters, the COUNT query, and the hydrated
// records when the scenario ran against data. Rejected queries snapshot
// their error code and message instead.
func Snapshot(result *Result) ([]byte, error) {
	var buf bytes.Buffer

	if result.ErrorCode != "" {
		fmt.Fprintf(&buf, "-- error\n%s: %s\n", result.ErrorCode, result.ErrorMessage)
		return buf.Bytes(), nil
	}
	if result.Explanation == nil {
		return nil, fmt.Errorf("result has neither SQL nor an error")
	}

	expl := result.Explanation
	fmt.Fprintf(&buf, "-- sql\n%s\n", expl.SQL)
	if err := writeJSON(&buf, "params", nonNil(expl.Params)); err != nil {
		return nil, err
	}
	if expl.CountSQL != "" {
		fmt.Fprintf(&buf, "-- count_sql\n%s\n", expl.CountSQL)
		if err := writeJSON(&buf, "count_params", nonNil(expl.CountParams)); err != nil {
			return nil, err
		}
	}
	if result.Executed() {
		if err := writeJSON(&buf, "records", result.Records); err != nil {
			return nil, err
		}
		if result.Total != nil {
			fmt.Fprintf(&buf, "-- total\n%d\n", *result.Total)
		}
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, section string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", section, err)
	}
	fmt.Fprintf(buf, "-- %s\n%s\n", section, data)
	return nil
}

func nonNil(params []any) []any {
	if params == nil {
		return []any{}
	}
	return params
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/scenarios/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden
// file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
