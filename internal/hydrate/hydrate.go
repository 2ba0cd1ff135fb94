// Package hydrate turns backend rows into typed records.
//
// Aggregated rows have no natural identity, so each record gets a
// synthetic ID from a counter that starts at zero for every batch.
// Hydration is all-or-nothing: the first value that cannot be coerced
// aborts the batch.
package hydrate

import (
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
)

// Record is one hydrated result row.
type Record struct {
	ID         int64          `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// field is the coercion target of one projected output column.
type field struct {
	column *metadata.Column
	grain  metadata.TimeGrain
}

// Hydrate coerces every row to the declared types of q's projections.
// Rows are keyed by projection name.
func Hydrate(rows []queryir.Row, q *queryir.Query) ([]Record, error) {
	fields := fieldsOf(q)

	out := make([]Record, 0, len(rows))
	var next int64
	for _, row := range rows {
		if len(row) != len(fields) {
			return nil, ErrColumnCount.New(len(row), len(fields))
		}
		attrs := make(map[string]any, len(row))
		for name, raw := range row {
			f, ok := fields[name]
			if !ok {
				return nil, ErrUnknownColumn.New(name)
			}
			v, err := coerce(f, raw)
			if err != nil {
				return nil, ErrCoercion.Wrap(err, raw, f.column.Type, name)
			}
			attrs[name] = v
		}
		out = append(out, Record{ID: next, Attributes: attrs})
		next++
	}
	return out, nil
}

func fieldsOf(q *queryir.Query) map[string]field {
	projections := q.Projections()
	fields := make(map[string]field, len(projections))
	for _, p := range projections {
		f := field{column: p.Column}
		if p.Column.Kind == metadata.KindTimeDimension {
			f.grain = p.EffectiveGrain()
		}
		fields[p.Name()] = f
	}
	return fields
}
