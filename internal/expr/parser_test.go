package expr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/testutil"
)

func mustColumn(t *testing.T, table *metadata.Table, name string) *metadata.Column {
	t.Helper()
	c, ok := table.Column(name)
	require.True(t, ok, "column %s", name)
	return c
}

func TestParsePhysicalExpression(t *testing.T) {
	stats := testutil.Table("playerStats")
	p := NewParser()

	tmpl, err := p.ParseColumn(mustColumn(t, stats, "recordedDate"))
	require.NoError(t, err)

	refs := tmpl.References()
	require.Len(t, refs, 1)
	assert.Equal(t, Physical{Source: stats, Name: "recordedDate"}, refs[0])
}

func TestParseLogicalExpression(t *testing.T) {
	stats := testutil.Table("playerStats")
	p := NewParser()

	tmpl, err := p.ParseColumn(mustColumn(t, stats, "playerLevel"))
	require.NoError(t, err)

	require.Len(t, tmpl.Segments, 3)
	assert.Equal(t, "CASE WHEN ", tmpl.Segments[0].Literal)
	assert.Equal(t, Logical{Source: stats, Column: mustColumn(t, stats, "overallRating")}, tmpl.Segments[1].Ref)
	assert.Equal(t, " = 'Good' THEN 1 ELSE 2 END", tmpl.Segments[2].Literal)
}

func TestParseJoinExpression(t *testing.T) {
	stats := testutil.Table("playerStats")
	country, _ := stats.Join("country")
	p := NewParser()

	tmpl, err := p.ParseColumn(mustColumn(t, stats, "countryIsInUsa"))
	require.NoError(t, err)

	refs := tmpl.References()
	require.Len(t, refs, 1)
	assert.Equal(t, Join{
		Source: stats,
		Join:   country,
		Child:  Logical{Source: country.Target(), Column: mustColumn(t, country.Target(), "inUsa")},
	}, refs[0])
}

func TestParseMultipleReferences(t *testing.T) {
	stats := testutil.Table("playerStats")
	country, _ := stats.Join("country")
	p := NewParser()

	tmpl, err := p.Parse(stats, "", "{{$country_id}} = {{country.$id}}")
	require.NoError(t, err)

	refs := tmpl.References()
	require.Len(t, refs, 2)
	assert.Equal(t, Physical{Source: stats, Name: "country_id"}, refs[0])
	assert.Equal(t, Join{Source: stats, Join: country, Child: Physical{Source: country.Target(), Name: "id"}}, refs[1])
}

func TestParseMultiHopPath(t *testing.T) {
	stats := testutil.Table("playerStats")
	p := NewParser()

	tmpl, err := p.Parse(stats, "", "{{player.stats.country.isoCode}}")
	require.NoError(t, err)

	ref := tmpl.References()[0].(Join)
	assert.Equal(t, "player", ref.Join.Name)
	hop2 := ref.Child.(Join)
	assert.Equal(t, "stats", hop2.Join.Name)
	hop3 := hop2.Child.(Join)
	assert.Equal(t, "country", hop3.Join.Name)
	leaf := hop3.Child.(Logical)
	assert.Equal(t, "isoCode", leaf.Column.Name)
}

func TestParseArgReferences(t *testing.T) {
	stats := testutil.Table("playerStats")
	p := NewParser()

	tmpl, err := p.Parse(stats, "", "{{$country_id}} with {{$$column.expr}} = {{$$column.args.foo}} OR {{$$table.args.bar}}")
	require.NoError(t, err)

	refs := tmpl.References()
	require.Len(t, refs, 4)
	assert.Equal(t, Physical{Source: stats, Name: "country_id"}, refs[0])
	assert.Equal(t, ColumnExpr{}, refs[1])
	assert.Equal(t, ColumnArg{Name: "foo"}, refs[2])
	assert.Equal(t, TableArg{Name: "bar"}, refs[3])
}

func TestParseHelper(t *testing.T) {
	stats := testutil.Table("playerStats")
	country, _ := stats.Join("country")
	p := NewParser()

	tmpl, err := p.Parse(stats, "", "{{sql from='country' column='label[format:upper][note:a%20b]'}} = 'X'")
	require.NoError(t, err)

	refs := tmpl.References()
	require.Len(t, refs, 1)
	assert.Equal(t, Helper{
		Source: stats,
		Join:   country,
		Column: mustColumn(t, country.Target(), "label"),
		Pinned: map[string]string{"format": "upper", "note": "a b"},
	}, refs[0])
	assert.Equal(t, "sql(playerStats.country.label[format:upper][note:a b])", refs[0].String())
}

func TestParseHelperOnCurrentTable(t *testing.T) {
	stats := testutil.Table("playerStats")
	p := NewParser()

	tmpl, err := p.Parse(stats, "", "{{sql column='conversionRate[currency:EUR]'}}")
	require.NoError(t, err)

	ref := tmpl.References()[0].(Helper)
	assert.Nil(t, ref.Join)
	assert.Equal(t, "conversionRate", ref.Column.Name)
	assert.Equal(t, map[string]string{"currency": "EUR"}, ref.Pinned)
}

func TestParseHelperPhysicalColumn(t *testing.T) {
	stats := testutil.Table("playerStats")
	country, _ := stats.Join("country")
	p := NewParser()

	tmpl, err := p.Parse(stats, "", "{{sql from='country' column='$name'}}")
	require.NoError(t, err)
	assert.Equal(t, Join{
		Source: stats,
		Join:   country,
		Child:  Physical{Source: country.Target(), Name: "name"},
	}, tmpl.References()[0])

	tmpl, err = p.Parse(stats, "", "{{sql column='$highScore'}}")
	require.NoError(t, err)
	assert.Equal(t, Physical{Source: stats, Name: "highScore"}, tmpl.References()[0])
}

func TestParseLiteralOnly(t *testing.T) {
	p := NewParser()
	tmpl, err := p.Parse(testutil.Table("playerStats"), "", "1 = 1")
	require.NoError(t, err)
	assert.Empty(t, tmpl.References())
	assert.Equal(t, []Segment{{Literal: "1 = 1"}}, tmpl.Segments)
}

func TestParseErrors(t *testing.T) {
	stats := testutil.Table("playerStats")

	tests := []struct {
		name    string
		column  string
		text    string
		wantMsg string
	}{
		{"unknown logical", "", "{{nope}}", "unknown reference 'nope'"},
		{"unknown relationship", "", "{{nowhere.$id}}", "unknown relationship 'nowhere'"},
		{"unknown joined column", "", "{{country.nope}}", "unknown reference 'nope'"},
		{"self reference", "overallRating", "{{overallRating}}", "references itself"},
		{"unterminated", "", "{{$id", "unterminated reference"},
		{"empty", "", "{{ }}", "empty reference"},
		{"malformed brackets", "", "{{sql from='country' column='label[format]'}}", "malformed argument brackets"},
		{"trailing bracket junk", "", "{{sql column='conversionRate[currency:EUR]x'}}", "malformed argument brackets"},
		{"helper without column", "", "{{sql from='country'}}", "helper requires a column"},
		{"helper junk", "", "{{sql column='label' oops}}", "malformed helper arguments"},
		{"unknown helper relationship", "", "{{sql from='mars' column='label'}}", "unknown relationship 'mars'"},
		{"unknown dollar dollar", "", "{{$$query.args.x}}", "unknown reference"},
		{"bad path", "", "{{country..name}}", "malformed path"},
		{"pinned physical", "", "{{sql from='country' column='$name[format:upper]'}}", "takes no arguments"},
		{"bad physical", "", "{{sql column='$9lives'}}", "invalid column name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().Parse(stats, tt.column, tt.text)
			require.Error(t, err)
			assert.True(t, IsParseError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseColumnCachesConcurrently(t *testing.T) {
	stats := testutil.Table("playerStats")
	col := mustColumn(t, stats, "countryIsoCode")
	p := NewParser()

	var wg sync.WaitGroup
	results := make([]*Template, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tmpl, err := p.ParseColumn(col)
			if err == nil {
				results[i] = tmpl
			}
		}(i)
	}
	wg.Wait()

	first, err := p.ParseColumn(col)
	require.NoError(t, err)
	for _, r := range results {
		assert.Same(t, first, r)
	}
}
