package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/engine"
	"github.com/roach88/aggql/internal/hydrate"
	"github.com/roach88/aggql/internal/metadata"
)

func TestSnapshot_CompiledQuery(t *testing.T) {
	r := NewResult()
	r.Explanation = &engine.Explanation{
		SQL:         "SELECT 1 LIMIT 1",
		Params:      []any{"USA", int64(45)},
		CountSQL:    "SELECT COUNT(*)",
		Fingerprint: "ignored",
	}

	data, err := Snapshot(r)
	require.NoError(t, err)
	assert.Equal(t, "-- sql\nSELECT 1 LIMIT 1\n-- params\n[\"USA\",45]\n-- count_sql\nSELECT COUNT(*)\n-- count_params\n[]\n", string(data))
}

func TestSnapshot_Records(t *testing.T) {
	total := int64(1)
	r := NewResult()
	r.Explanation = &engine.Explanation{SQL: "SELECT x"}
	r.Records = []hydrate.Record{{ID: 0, Attributes: map[string]any{
		"day":   hydrate.Time{Grain: metadata.GrainDay, Value: time.Date(2019, 7, 12, 0, 0, 0, 0, time.UTC)},
		"score": int64(35),
	}}}
	r.Total = &total

	data, err := Snapshot(r)
	require.NoError(t, err)
	assert.Equal(t,
		"-- sql\nSELECT x\n-- params\n[]\n"+
			"-- records\n[{\"id\":0,\"attributes\":{\"day\":\"2019-07-12\",\"score\":35}}]\n"+
			"-- total\n1\n",
		string(data))
}

func TestSnapshot_Error(t *testing.T) {
	r := NewResult()
	r.ErrorCode = "INVALID_OPERATION"
	r.ErrorMessage = "Sorting on id field is not permitted"

	data, err := Snapshot(r)
	require.NoError(t, err)
	assert.Equal(t, "-- error\nINVALID_OPERATION: Sorting on id field is not permitted\n", string(data))

	_, err = Snapshot(NewResult())
	require.Error(t, err)
}

// Scenarios with golden files pin the exact generated SQL.
func TestGoldenScenarios(t *testing.T) {
	for _, name := range []string{"flat_plan", "time_grain_month", "sort_on_id"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}
