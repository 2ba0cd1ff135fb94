package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTables() []*Table {
	country := &Table{
		Name:   "country",
		Source: Source{Kind: SourceTable, Name: "countries"},
		Columns: []*Column{
			{Name: "id", Kind: KindDimension, Type: TypeID},
			{Name: "isoCode", Kind: KindDimension, Type: TypeText},
		},
	}
	stats := &Table{
		Name: "playerStats",
		Joins: []*Join{
			{Name: "country", TargetName: "country", On: "{{$country_id}} = {{country.$id}}"},
		},
		Columns: []*Column{
			{Name: "highScore", Kind: KindMetric, Type: TypeInteger, Aggregation: AggMax},
			{Name: "countryIsoCode", Kind: KindDimension, Type: TypeText, Formula: "{{country.isoCode}}"},
		},
	}
	view := &Table{
		Name:   "playerStatsView",
		Source: Source{Kind: SourceParent, Parent: "playerStats"},
	}
	return []*Table{country, stats, view}
}

func TestNewCatalogLinks(t *testing.T) {
	cat, err := NewCatalog(sampleTables()...)
	require.NoError(t, err)

	stats, ok := cat.Table("playerStats")
	require.True(t, ok)

	join, ok := stats.Join("country")
	require.True(t, ok)
	assert.Equal(t, "country", join.Target().Name)
	assert.Same(t, stats, join.Source())
	assert.Equal(t, ToOne, join.Cardinality)
	assert.Equal(t, JoinLeft, join.Type)

	col, ok := stats.Column("highScore")
	require.True(t, ok)
	assert.Same(t, stats, col.Table())
	assert.Equal(t, "{{$highScore}}", col.Expression())
	assert.True(t, col.IsPhysical())

	// Table sources default to the logical name.
	assert.Equal(t, "playerStats", stats.Source.Name)

	view, _ := cat.Table("playerStatsView")
	assert.Same(t, stats, view.PhysicalSource())

	names := []string{}
	for _, tbl := range cat.Tables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"country", "playerStats", "playerStatsView"}, names)
}

func TestNewCatalogErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]*Table) []*Table
		wantErr string
	}{
		{
			name: "unknown join target",
			mutate: func(ts []*Table) []*Table {
				ts[1].Joins[0].TargetName = "nowhere"
				return ts
			},
			wantErr: `targets unknown table "nowhere"`,
		},
		{
			name: "duplicate column",
			mutate: func(ts []*Table) []*Table {
				ts[0].Columns = append(ts[0].Columns, &Column{Name: "isoCode"})
				return ts
			},
			wantErr: `duplicate column "isoCode"`,
		},
		{
			name: "duplicate table",
			mutate: func(ts []*Table) []*Table {
				return append(ts, &Table{Name: "country"})
			},
			wantErr: `duplicate table "country"`,
		},
		{
			name: "parent loop",
			mutate: func(ts []*Table) []*Table {
				ts[1].Source = Source{Kind: SourceParent, Parent: "playerStatsView"}
				return ts
			},
			wantErr: "source chain loops",
		},
		{
			name: "join shadows column",
			mutate: func(ts []*Table) []*Table {
				ts[1].Columns = append(ts[1].Columns, &Column{Name: "country"})
				return ts
			},
			wantErr: "shadows a column",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.mutate(sampleTables())...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestColumnGrains(t *testing.T) {
	col := &Column{
		Name: "recordedDate",
		Kind: KindTimeDimension,
		Type: TypeTime,
		Grains: []Grain{
			{Grain: GrainMonth},
			{Grain: GrainDay},
		},
	}

	assert.Equal(t, GrainMonth, col.DefaultGrain())
	_, ok := col.Grain(GrainDay)
	assert.True(t, ok)
	_, ok = col.Grain(GrainYear)
	assert.False(t, ok)

	assert.Equal(t, GrainDay, (&Column{}).DefaultGrain())
}

func TestNewCatalogNormalizesDefaults(t *testing.T) {
	tbl := &Table{
		Name:   "rates",
		Source: Source{Kind: SourceTable},
		Arguments: []Argument{
			{Name: "precision", Type: TypeInteger, Default: "007", HasDefault: true},
		},
		Columns: []*Column{
			{Name: "rate", Kind: KindDimension, Type: TypeDecimal, Arguments: []Argument{
				{Name: "scale", Type: TypeDecimal, Default: "1.50", HasDefault: true},
				{Name: "strict", Type: TypeBoolean, Default: "TRUE", HasDefault: true},
				{Name: "broken", Type: TypeInteger, Default: "x", HasDefault: true},
			}},
		},
	}
	_, err := NewCatalog(tbl)
	require.NoError(t, err)

	assert.Equal(t, "7", tbl.Arguments[0].Default)
	args := tbl.Columns[0].Arguments
	assert.Equal(t, "1.5", args[0].Default)
	assert.Equal(t, "true", args[1].Default)
	assert.Equal(t, "x", args[2].Default, "invalid defaults are left for model validation")
}
