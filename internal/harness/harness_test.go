package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/hydrate"
)

const scenariosDir = "../../testdata/scenarios"

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_CompileOnly(t *testing.T) {
	result, err := Run(loadTestScenario(t, "time_grain_month"))
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	require.NotNil(t, result.Explanation)
	assert.Contains(t, result.Explanation.SQL, "strftime('%Y-%m-01'")
	assert.False(t, result.Executed())
	assert.Len(t, result.Explanation.Fingerprint, 64)
}

func TestRun_SeededData(t *testing.T) {
	result, err := Run(loadTestScenario(t, "seeded_ratings"))
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Records, 2)
	assert.Equal(t, hydrate.Record{ID: 0, Attributes: map[string]any{
		"overallRating": "Good",
		"ratingTier":    "Bronze",
		"highScore":     int64(1234),
		"lowScore":      int64(35),
	}}, result.Records[0])
	require.NotNil(t, result.Total)
	assert.Equal(t, int64(2), *result.Total)
}

func TestRun_ExpectedRejection(t *testing.T) {
	for _, name := range []string{"sort_on_id", "having_ungrouped_dimension"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
			assert.Equal(t, "INVALID_OPERATION", result.ErrorCode)
			assert.Nil(t, result.Explanation)
		})
	}
}

func TestRun_FailingAssertions(t *testing.T) {
	s := loadTestScenario(t, "rate_join_per_currency")
	s.Assertions = []Assertion{{Type: AssertJoinCount, Count: 1}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "2 joins")
}

func TestRun_UnexpectedRejection(t *testing.T) {
	s := loadTestScenario(t, "sort_on_id")
	s.Expect = nil

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "unexpected INVALID_OPERATION")
}

func TestRun_QueryDocumentError(t *testing.T) {
	s := loadTestScenario(t, "time_grain_month")
	s.Query.Metrics[0].Field = "nope"
	s.Expect = &ExpectClause{Error: "QUERY_DOCUMENT", Message: `no field "nope"`}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_BrokenScenarios(t *testing.T) {
	t.Run("missing models", func(t *testing.T) {
		s := loadTestScenario(t, "time_grain_month")
		s.Models = "does-not-exist"
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading models")
	})

	t.Run("invalid models", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "m.cue"), []byte(`
package m
table: t: metrics: m: type: "INTEGER"
`), 0o644))
		s := loadTestScenario(t, "time_grain_month")
		s.Models = dir
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "E101")
	})

	t.Run("failing setup", func(t *testing.T) {
		s := loadTestScenario(t, "seeded_ratings")
		s.Setup = []string{"INSERT INTO nowhere VALUES (1)"}
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "setup[0]")
	})

	t.Run("unknown dialect", func(t *testing.T) {
		s := loadTestScenario(t, "time_grain_month")
		s.Dialect = "oracle"
		_, err := Run(s)
		require.Error(t, err)
	})
}

func TestRun_DuckDBDialect(t *testing.T) {
	s := loadTestScenario(t, "time_grain_month")
	s.Dialect = "duckdb"

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Contains(t, result.Explanation.SQL, "CAST(date_trunc('month', \"playerStats\".\"recordedDate\") AS DATE)")
}
