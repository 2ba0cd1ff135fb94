package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xwb1989/sqlparser"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/testutil"
)

const (
	countryJoin = `LEFT JOIN "countries" AS "playerStats_country_1e3b6424de" ` +
		`ON "playerStats"."country_id" = "playerStats_country_1e3b6424de"."id"`
	statsAgg = "player_stats_agg_8739dc9563"
)

type fixture struct {
	t   *testing.T
	cat *metadata.Catalog
}

func newFixture(t *testing.T) fixture {
	return fixture{t: t, cat: testutil.Catalog()}
}

func (f fixture) table(name string) *metadata.Table {
	table, ok := f.cat.Table(name)
	require.True(f.t, ok)
	return table
}

func (f fixture) proj(table, column string) queryir.Projection {
	col, ok := f.table(table).Column(column)
	require.True(f.t, ok, "missing column %s.%s", table, column)
	return queryir.Projection{Column: col}
}

func compile(t *testing.T, q *queryir.Query) *Plan {
	t.Helper()
	plan, err := NewSQLCompiler(SQLite, expr.NewParser()).Compile(q)
	require.NoError(t, err)
	return plan
}

func TestCompile_FlatPlan(t *testing.T) {
	f := newFixture(t)
	q := &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "overallRating")},
		Metrics:    []queryir.Projection{f.proj("playerStats", "highScore"), f.proj("playerStats", "lowScore")},
		Where:      &queryir.Predicate{Field: "countryIsoCode", Operator: queryir.OpIn, Values: []ir.IRValue{ir.IRString("USA")}},
		Having:     &queryir.Predicate{Field: "lowScore", Operator: queryir.OpLT, Values: []ir.IRValue{ir.IRInt(45)}},
		Sort:       []queryir.Sort{{Field: "highScore", Direction: queryir.Descending}},
		Pagination: &queryir.Pagination{Limit: 10, Offset: 5, Total: true},
	}

	plan := compile(t, q)

	body := `SELECT "playerStats"."overallRating" AS "overallRating", ` +
		`MAX("playerStats"."highScore") AS "highScore", ` +
		`MIN("playerStats"."lowScore") AS "lowScore" ` +
		`FROM "playerStats" AS "playerStats" ` + countryJoin + ` ` +
		`WHERE "playerStats_country_1e3b6424de"."isoCode" IN (?) ` +
		`GROUP BY "playerStats"."overallRating" ` +
		`HAVING MIN("playerStats"."lowScore") < ?`
	assert.Equal(t, body+` ORDER BY MAX("playerStats"."highScore") DESC LIMIT 10 OFFSET 5`, plan.SQL)
	assert.Equal(t, []any{"USA", int64(45)}, plan.Params)
	assert.Equal(t, []string{"overallRating", "highScore", "lowScore"}, plan.Columns)

	assert.Equal(t, `SELECT COUNT(*) FROM (`+body+`) AS "pagination_subquery"`, plan.CountSQL)
	assert.Equal(t, []any{"USA", int64(45)}, plan.CountParams)
}

func TestCompile_CountDistinctWithoutHaving(t *testing.T) {
	f := newFixture(t)
	q := &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "overallRating")},
		Metrics:    []queryir.Projection{f.proj("playerStats", "highScore")},
		Pagination: &queryir.Pagination{Limit: 1, Total: true},
	}

	plan := compile(t, q)
	assert.Equal(t, `SELECT COUNT(DISTINCT "playerStats"."overallRating") FROM "playerStats" AS "playerStats"`, plan.CountSQL)
	assert.Empty(t, plan.CountParams)
	assert.True(t, strings.HasSuffix(plan.SQL, " LIMIT 1"))
}

func TestCompile_NoCountWithoutTotals(t *testing.T) {
	f := newFixture(t)
	plan := compile(t, &queryir.Query{
		Table:   f.table("playerStats"),
		Metrics: []queryir.Projection{f.proj("playerStats", "highScore")},
	})
	assert.Equal(t, `SELECT MAX("playerStats"."highScore") AS "highScore" FROM "playerStats" AS "playerStats"`, plan.SQL)
	assert.Empty(t, plan.CountSQL)
}

func TestCompile_DistinctWithoutMetrics(t *testing.T) {
	f := newFixture(t)
	plan := compile(t, &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "overallRating"), f.proj("playerStats", "playerLevel")},
	})
	assert.Equal(t,
		`SELECT DISTINCT "playerStats"."overallRating" AS "overallRating", `+
			`CASE WHEN "playerStats"."overallRating" = 'Good' THEN 1 ELSE 2 END AS "playerLevel" `+
			`FROM "playerStats" AS "playerStats"`,
		plan.SQL)
	assert.NotContains(t, plan.SQL, "GROUP BY")
}

func TestCompile_JoinCollapsing(t *testing.T) {
	f := newFixture(t)

	t.Run("arguments outside the condition share a join", func(t *testing.T) {
		upper := f.proj("playerStats", "countryLabel")
		upper.Alias = "upperLabel"
		upper.Arguments = map[string]string{"format": "upper"}

		plan := compile(t, &queryir.Query{
			Table: f.table("playerStats"),
			Dimensions: []queryir.Projection{
				f.proj("playerStats", "countryIsoCode"),
				f.proj("playerStats", "countryLabel"),
				upper,
			},
			Metrics: []queryir.Projection{f.proj("playerStats", "highScore")},
		})
		assert.Equal(t, 1, strings.Count(plan.SQL, "LEFT JOIN"))
		assert.Contains(t, plan.SQL, countryJoin)
	})

	t.Run("arguments in the condition split the join", func(t *testing.T) {
		usd := f.proj("playerStats", "conversionRate")
		usd.Alias = "usdRate"
		eur := f.proj("playerStats", "conversionRate")
		eur.Alias = "eurRate"
		eur.Arguments = map[string]string{"currency": "EUR"}

		plan := compile(t, &queryir.Query{
			Table:      f.table("playerStats"),
			Dimensions: []queryir.Projection{usd, eur},
			Metrics:    []queryir.Projection{f.proj("playerStats", "highScore")},
		})
		assert.Equal(t, 2, strings.Count(plan.SQL, "LEFT JOIN"))
		assert.Contains(t, plan.SQL, `"playerStats_rate_166abd897b"`)
		assert.Contains(t, plan.SQL, `"playerStats_rate_e1b81e8c0d"`)
		assert.Contains(t, plan.SQL, `"playerStats_rate_e1b81e8c0d"."currency" = 'EUR'`)
	})
}

func TestCompile_Deterministic(t *testing.T) {
	f := newFixture(t)
	build := func(args map[string]string) *queryir.Query {
		p := f.proj("playerStats", "conversionRate")
		p.Arguments = args
		return &queryir.Query{
			Table:      f.table("playerStats"),
			Dimensions: []queryir.Projection{p, f.proj("playerStats", "countryName")},
			Metrics:    []queryir.Projection{f.proj("playerStats", "convertedHighScore")},
		}
	}

	first := compile(t, build(map[string]string{"currency": "EUR", "precision": "3"}))
	for i := 0; i < 10; i++ {
		again := compile(t, build(map[string]string{"precision": "3", "currency": "EUR"}))
		assert.Equal(t, first.SQL, again.SQL)
	}
}

func TestCompile_TimeDimensionGrain(t *testing.T) {
	f := newFixture(t)
	month := f.proj("playerStats", "recordedDate")
	month.Grain = metadata.GrainMonth

	plan := compile(t, &queryir.Query{
		Table:          f.table("playerStats"),
		TimeDimensions: []queryir.Projection{month},
		Metrics:        []queryir.Projection{f.proj("playerStats", "highScore")},
	})
	assert.Equal(t,
		`SELECT strftime('%Y-%m-01', "playerStats"."recordedDate") AS "recordedDate", `+
			`MAX("playerStats"."highScore") AS "highScore" FROM "playerStats" AS "playerStats" `+
			`GROUP BY strftime('%Y-%m-01', "playerStats"."recordedDate")`,
		plan.SQL)
}

func TestCompile_PreAggregatesToManyMetrics(t *testing.T) {
	f := newFixture(t)
	plan := compile(t, &queryir.Query{
		Table:      f.table("player"),
		Dimensions: []queryir.Projection{f.proj("player", "name")},
		Metrics:    []queryir.Projection{f.proj("player", "totalHighScore"), f.proj("player", "playerCount")},
	})

	assert.Equal(t,
		`SELECT "player"."name" AS "name", `+
			`SUM("`+statsAgg+`"."totalHighScore") AS "totalHighScore", `+
			`COUNT("player"."id") AS "playerCount" `+
			`FROM "players" AS "player" `+
			`LEFT JOIN (SELECT "playerStats"."player_id" AS "player_id", SUM("playerStats"."highScore") AS "totalHighScore" `+
			`FROM "playerStats" AS "playerStats" GROUP BY "playerStats"."player_id") AS "`+statsAgg+`" `+
			`ON "player"."id" = "`+statsAgg+`"."player_id" `+
			`GROUP BY "player"."name"`,
		plan.SQL)
}

func TestCompile_ToManyFilterBecomesExists(t *testing.T) {
	f := newFixture(t)
	exists := `EXISTS (SELECT 1 FROM "playerStats" AS "player_stats_exists1" ` +
		`WHERE "player"."id" = "player_stats_exists1"."player_id" ` +
		`AND "player_stats_exists1"."overallRating" IN (?))`

	tests := []struct {
		name  string
		where *queryir.Predicate
	}{
		{"path", &queryir.Predicate{Field: "stats.overallRating", Operator: queryir.OpIn, Values: []ir.IRValue{ir.IRString("Good")}}},
		{"column", &queryir.Predicate{Field: "rating", Operator: queryir.OpIn, Values: []ir.IRValue{ir.IRString("Good")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := compile(t, &queryir.Query{
				Table:      f.table("player"),
				Dimensions: []queryir.Projection{f.proj("player", "name")},
				Metrics:    []queryir.Projection{f.proj("player", "totalHighScore")},
				Where:      tt.where,
			})
			assert.Contains(t, plan.SQL, `ON "player"."id" = "`+statsAgg+`"."player_id" WHERE `+exists+` GROUP BY "player"."name"`)
			assert.NotContains(t, plan.SQL, `LEFT JOIN "playerStats"`)
			assert.Equal(t, []any{"Good"}, plan.Params)
		})
	}
}

func TestCompile_RejectsToManyDimensionWithMetrics(t *testing.T) {
	f := newFixture(t)
	_, err := NewSQLCompiler(SQLite, nil).Compile(&queryir.Query{
		Table:      f.table("player"),
		Dimensions: []queryir.Projection{f.proj("player", "rating")},
		Metrics:    []queryir.Projection{f.proj("player", "playerCount")},
	})
	require.Error(t, err)
	assert.True(t, queryir.IsInvalidOperation(err))
	assert.Equal(t, "Dimension `rating` crosses toMany relationship `stats` and can not be grouped with metrics", err.Error())

	// Without metrics there is nothing to double count.
	plan := compile(t, &queryir.Query{
		Table:      f.table("player"),
		Dimensions: []queryir.Projection{f.proj("player", "rating")},
	})
	assert.Contains(t, plan.SQL, `LEFT JOIN "playerStats"`)
}

func TestCompile_RejectsNonDecomposableToMany(t *testing.T) {
	f := newFixture(t)
	_, err := NewSQLCompiler(SQLite, nil).Compile(&queryir.Query{
		Table:   f.table("player"),
		Metrics: []queryir.Projection{f.proj("player", "averageHighScore")},
	})
	require.Error(t, err)
	assert.True(t, queryir.IsInvalidOperation(err))
	assert.Equal(t, "Metric `averageHighScore` with aggregation AVG can not be computed across toMany relationship `stats`", err.Error())
}

func TestCompile_SubquerySourceArguments(t *testing.T) {
	f := newFixture(t)
	q := &queryir.Query{
		Table:      f.table("filteredStats"),
		Dimensions: []queryir.Projection{f.proj("filteredStats", "overallRating")},
		Metrics:    []queryir.Projection{f.proj("filteredStats", "highScore")},
		Arguments:  map[string]string{"excludeRating": "Bad"},
	}
	plan := compile(t, q)
	assert.Contains(t, plan.SQL, `FROM (SELECT * FROM playerStats WHERE overallRating <> 'Bad') AS "filteredStats"`)

	q.Arguments = map[string]string{"excludeRating": "Bad'; --"}
	_, err := NewSQLCompiler(SQLite, nil).Compile(q)
	var ae *metadata.ArgumentError
	require.ErrorAs(t, err, &ae)
}

func TestCompile_NestedQuerySource(t *testing.T) {
	f := newFixture(t)
	inner := &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "overallRating")},
		Metrics:    []queryir.Projection{f.proj("playerStats", "highScore")},
		Where:      &queryir.Predicate{Field: "overallRating", Operator: queryir.OpNotNull},
	}
	outer := &queryir.Query{
		Source:     inner,
		Metrics:    []queryir.Projection{{Column: inner.Metrics[0].Column}},
		Where:      &queryir.Predicate{Field: "overallRating", Operator: queryir.OpIn, Values: []ir.IRValue{ir.IRString("Good")}},
		Pagination: &queryir.Pagination{Total: true},
	}

	plan := compile(t, outer)
	assert.Equal(t,
		`SELECT MAX("source"."highScore") AS "highScore" FROM (`+
			`SELECT "playerStats"."overallRating" AS "overallRating", MAX("playerStats"."highScore") AS "highScore" `+
			`FROM "playerStats" AS "playerStats" WHERE "playerStats"."overallRating" IS NOT NULL `+
			`GROUP BY "playerStats"."overallRating") AS "source" `+
			`WHERE "source"."overallRating" IN (?)`,
		plan.SQL)
	assert.Equal(t, []any{"Good"}, plan.Params)
	assert.True(t, strings.HasPrefix(plan.CountSQL, "SELECT COUNT(*) FROM (SELECT MAX("))
}

func TestCompile_FilterOperators(t *testing.T) {
	f := newFixture(t)
	where := &queryir.And{Operands: []queryir.FilterExpression{
		&queryir.Predicate{Field: "overallRating", Operator: queryir.OpPrefix, Values: []ir.IRValue{ir.IRString("a_b%")}},
		&queryir.Or{Operands: []queryir.FilterExpression{
			&queryir.Predicate{Field: "playerLevel", Operator: queryir.OpBetween, Values: []ir.IRValue{ir.IRInt(1), ir.IRInt(2)}},
			&queryir.Not{Operand: &queryir.Predicate{Field: "overallRating", Operator: queryir.OpIsNull}},
		}},
		&queryir.Predicate{Field: "overallRating", Operator: queryir.OpNotIn, Values: []ir.IRValue{ir.IRString("x"), ir.IRString("y")}},
		&queryir.Predicate{Field: "overallRating", Operator: queryir.OpTrue},
	}}

	plan := compile(t, &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "overallRating")},
		Where:      where,
	})

	col := `"playerStats"."overallRating"`
	assert.Contains(t, plan.SQL, ` WHERE `+col+` LIKE ? ESCAPE '!' AND `+
		`(CASE WHEN `+col+` = 'Good' THEN 1 ELSE 2 END BETWEEN ? AND ? OR NOT (`+col+` IS NULL)) AND `+
		col+` NOT IN (?, ?) AND (1 = 1)`)
	assert.Equal(t, []any{"a!_b!%%", int64(1), int64(2), "x", "y"}, plan.Params)
}

func TestCompile_RelationshipPathInWhere(t *testing.T) {
	f := newFixture(t)
	plan := compile(t, &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "countryIsoCode")},
		Where:      &queryir.Predicate{Field: "country.name", Operator: queryir.OpIn, Values: []ir.IRValue{ir.IRString("Peru")}},
	})
	assert.Equal(t, 1, strings.Count(plan.SQL, "LEFT JOIN"))
	assert.Contains(t, plan.SQL, `WHERE "playerStats_country_1e3b6424de"."name" IN (?)`)
}

func TestCompile_ValidationRunsFirst(t *testing.T) {
	f := newFixture(t)
	_, err := NewSQLCompiler(SQLite, nil).Compile(&queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "overallRating")},
		Sort:       []queryir.Sort{{Field: "countryIsoCode"}},
	})
	assert.EqualError(t, err, "Can not sort on countryIsoCode as it is not present in query")
}

func TestCompile_MySQLOutputParses(t *testing.T) {
	f := newFixture(t)
	q := &queryir.Query{
		Table:      f.table("playerStats"),
		Dimensions: []queryir.Projection{f.proj("playerStats", "countryIsoCode"), f.proj("playerStats", "overallRating")},
		Metrics:    []queryir.Projection{f.proj("playerStats", "highScore"), f.proj("playerStats", "scoreRange")},
		Where:      &queryir.Predicate{Field: "overallRating", Operator: queryir.OpIn, Values: []ir.IRValue{ir.IRString("Good"), ir.IRString("Great")}},
		Having:     &queryir.Predicate{Field: "highScore", Operator: queryir.OpGT, Values: []ir.IRValue{ir.IRInt(100)}},
		Sort:       []queryir.Sort{{Field: "highScore", Direction: queryir.Descending}},
		Pagination: &queryir.Pagination{Limit: 10, Offset: 20, Total: true},
	}

	plan, err := NewSQLCompiler(MySQL, nil).Compile(q)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "`playerStats`.`overallRating`")

	for _, sql := range []string{plan.SQL, plan.CountSQL} {
		_, err := sqlparser.Parse(sql)
		assert.NoError(t, err, sql)
	}
	assert.True(t, strings.HasPrefix(plan.CountSQL, "SELECT COUNT(*) FROM ("))
}

func TestDialect_Paginate(t *testing.T) {
	assert.Equal(t, "LIMIT 5", SQLite.Paginate(5, 0))
	assert.Equal(t, "LIMIT -1 OFFSET 3", SQLite.Paginate(0, 3))
	assert.Equal(t, "OFFSET 3", DuckDB.Paginate(0, 3))
	assert.Equal(t, "", MySQL.Paginate(0, 0))
	assert.Equal(t, "`a``b`", MySQL.QuoteIdentifier("a`b"))

	d, err := DialectByName("DuckDB")
	require.NoError(t, err)
	assert.Equal(t, "duckdb", d.Name())
	_, err = DialectByName("oracle")
	assert.Error(t, err)
}
