package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/aggql/internal/metadata"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string

	// GrainTemplate returns the default expression for truncating a time
	// value to g. {{$$column.expr}} stands for the column expression.
	GrainTemplate(g metadata.TimeGrain) (string, bool)

	// Paginate renders the LIMIT/OFFSET suffix. limit 0 means unbounded.
	Paginate(limit, offset int) string

	// CountDistinctTuples reports whether COUNT(DISTINCT a, b) is valid.
	CountDistinctTuples() bool
}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	case "mysql":
		return MySQL, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

const colExpr = "{{$$column.expr}}"

type dialect struct {
	name           string
	quote          byte
	grains         map[metadata.TimeGrain]string
	unboundedLimit string
	tuples         bool
}

func (d *dialect) Name() string { return d.name }

func (d *dialect) QuoteIdentifier(name string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

func (d *dialect) GrainTemplate(g metadata.TimeGrain) (string, bool) {
	t, ok := d.grains[g]
	return t, ok
}

func (d *dialect) Paginate(limit, offset int) string {
	var parts []string
	switch {
	case limit > 0:
		parts = append(parts, "LIMIT "+strconv.Itoa(limit))
	case offset > 0 && d.unboundedLimit != "":
		parts = append(parts, "LIMIT "+d.unboundedLimit)
	}
	if offset > 0 {
		parts = append(parts, "OFFSET "+strconv.Itoa(offset))
	}
	return strings.Join(parts, " ")
}

func (d *dialect) CountDistinctTuples() bool { return d.tuples }

// grainTemplates expands $X into the column expression placeholder so the
// tables below stay readable.
func grainTemplates(m map[metadata.TimeGrain]string) map[metadata.TimeGrain]string {
	out := make(map[metadata.TimeGrain]string, len(m))
	for g, t := range m {
		out[g] = strings.ReplaceAll(t, "$X", colExpr)
	}
	return out
}

var (
	// SQLite renders time grains as ISO-8601 text.
	SQLite Dialect = &dialect{
		name:           "sqlite",
		quote:          '"',
		unboundedLimit: "-1",
		grains: grainTemplates(map[metadata.TimeGrain]string{
			metadata.GrainSecond:  "strftime('%Y-%m-%dT%H:%M:%S', $X)",
			metadata.GrainMinute:  "strftime('%Y-%m-%dT%H:%M:00', $X)",
			metadata.GrainHour:    "strftime('%Y-%m-%dT%H:00:00', $X)",
			metadata.GrainDay:     "date($X)",
			metadata.GrainISOWeek: "date($X, '-' || ((CAST(strftime('%w', $X) AS INTEGER) + 6) % 7) || ' days')",
			metadata.GrainWeek:    "date($X, '-' || strftime('%w', $X) || ' days')",
			metadata.GrainMonth:   "strftime('%Y-%m-01', $X)",
			metadata.GrainQuarter: "strftime('%Y', $X) || '-' || printf('%02d', ((CAST(strftime('%m', $X) AS INTEGER) - 1) / 3) * 3 + 1) || '-01'",
			metadata.GrainYear:    "strftime('%Y-01-01', $X)",
		}),
	}

	// DuckDB truncates with date_trunc.
	DuckDB Dialect = &dialect{
		name:  "duckdb",
		quote: '"',
		grains: grainTemplates(map[metadata.TimeGrain]string{
			metadata.GrainSecond:  "date_trunc('second', $X)",
			metadata.GrainMinute:  "date_trunc('minute', $X)",
			metadata.GrainHour:    "date_trunc('hour', $X)",
			metadata.GrainDay:     "CAST(date_trunc('day', $X) AS DATE)",
			metadata.GrainISOWeek: "CAST(date_trunc('week', $X) AS DATE)",
			metadata.GrainWeek:    "CAST(date_trunc('week', $X + INTERVAL 1 DAY) - INTERVAL 1 DAY AS DATE)",
			metadata.GrainMonth:   "CAST(date_trunc('month', $X) AS DATE)",
			metadata.GrainQuarter: "CAST(date_trunc('quarter', $X) AS DATE)",
			metadata.GrainYear:    "CAST(date_trunc('year', $X) AS DATE)",
		}),
	}

	// MySQL quotes with backticks and counts distinct tuples natively.
	MySQL Dialect = &dialect{
		name:           "mysql",
		quote:          '`',
		unboundedLimit: "18446744073709551615",
		tuples:         true,
		grains: grainTemplates(map[metadata.TimeGrain]string{
			metadata.GrainSecond:  "DATE_FORMAT($X, '%Y-%m-%d %H:%i:%s')",
			metadata.GrainMinute:  "DATE_FORMAT($X, '%Y-%m-%d %H:%i:00')",
			metadata.GrainHour:    "DATE_FORMAT($X, '%Y-%m-%d %H:00:00')",
			metadata.GrainDay:     "DATE($X)",
			metadata.GrainISOWeek: "DATE_SUB(DATE($X), INTERVAL WEEKDAY($X) DAY)",
			metadata.GrainWeek:    "DATE_SUB(DATE($X), INTERVAL DAYOFWEEK($X) - 1 DAY)",
			metadata.GrainMonth:   "DATE_FORMAT($X, '%Y-%m-01')",
			metadata.GrainQuarter: "MAKEDATE(YEAR($X), 1) + INTERVAL QUARTER($X) - 1 QUARTER",
			metadata.GrainYear:    "DATE_FORMAT($X, '%Y-01-01')",
		}),
	}
)
