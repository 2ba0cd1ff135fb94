package querydoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/testutil"
)

func build(t *testing.T, src string) (*queryir.Query, error) {
	t.Helper()
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	return doc.Build(testutil.Catalog())
}

func TestBuildSplitsFilter(t *testing.T) {
	q, err := build(t, `
table: playerStats
dimensions:
  - field: overallRating
metrics:
  - field: highScore
filter:
  and:
    - {field: overallRating, op: in, values: [Good]}
    - {field: highScore, op: LT, values: [45]}
sort:
  - {field: highScore, direction: desc}
pagination: {limit: 5, total: true}
`)
	require.NoError(t, err)

	assert.Equal(t, "playerStats", q.Table.Name)
	require.Len(t, q.Dimensions, 1)
	assert.Equal(t, "overallRating", q.Dimensions[0].Name())
	require.Len(t, q.Metrics, 1)

	assert.Equal(t, &queryir.Predicate{
		Field:    "overallRating",
		Operator: queryir.OpIn,
		Values:   []ir.IRValue{ir.IRString("Good")},
	}, q.Where)
	assert.Equal(t, &queryir.Predicate{
		Field:    "highScore",
		Operator: queryir.OpLT,
		Values:   []ir.IRValue{ir.IRInt(45)},
	}, q.Having)

	assert.Equal(t, []queryir.Sort{{Field: "highScore", Direction: queryir.Descending}}, q.Sort)
	assert.Equal(t, &queryir.Pagination{Limit: 5, Total: true}, q.Pagination)
}

func TestBuildProjectionOptions(t *testing.T) {
	q, err := build(t, `
table: playerStats
timeDimensions:
  - {field: recordedDate, grain: month}
metrics:
  - {field: convertedHighScore, alias: eurHighScore, args: {currency: EUR}}
`)
	require.NoError(t, err)

	assert.Equal(t, metadata.GrainMonth, q.TimeDimensions[0].Grain)
	m := q.Metrics[0]
	assert.Equal(t, "eurHighScore", m.Name())
	assert.Equal(t, map[string]string{"currency": "EUR"}, m.Arguments)
}

func TestBuildNestedSource(t *testing.T) {
	q, err := build(t, `
source:
  table: playerStats
  dimensions:
    - field: overallRating
  metrics:
    - {field: highScore, alias: best}
metrics:
  - field: best
filter:
  not: {field: overallRating, op: isnull}
`)
	require.NoError(t, err)

	require.NotNil(t, q.Source)
	assert.Nil(t, q.Table)
	require.Len(t, q.Metrics, 1)
	assert.Equal(t, "highScore", q.Metrics[0].Column.Name)
	assert.Equal(t, "best", q.Metrics[0].Name())

	_, ok := q.SourceProjection(q.Metrics[0])
	assert.True(t, ok)
	assert.IsType(t, &queryir.Not{}, q.Where)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no table", "dimensions: [{field: x}]", "needs a table"},
		{"both", "table: player\nsource: {table: player}", "both table"},
		{"unknown table", "table: ghost", `unknown table "ghost"`},
		{"unknown field", "table: player\ndimensions: [{field: nope}]", `no field "nope"`},
		{"bad grain", "table: playerStats\ntimeDimensions: [{field: recordedDate, grain: FORTNIGHT}]", "unknown time grain"},
		{"bad direction", "table: player\ndimensions: [{field: name}]\nsort: [{field: name, direction: up}]", "unknown direction"},
		{"bad operator", "table: player\ndimensions: [{field: name}]\nfilter: {field: name, op: like}", "unknown operator"},
		{"ambiguous node", "table: player\ndimensions: [{field: name}]\nfilter: {field: name, op: isnull, not: {field: name, op: isnull}}", "exactly one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := build(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("table: player\nlimit: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, os.WriteFile(path, []byte("table: player\nmetrics: [{field: playerCount}]\n"), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "player", doc.Table)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
