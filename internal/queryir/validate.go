package queryir

import (
	"strings"

	"github.com/roach88/aggql/internal/metadata"
)

// Validate checks q before SQL generation. It stops at the first problem
// and returns it as an InvalidOperationError.
func Validate(q *Query) error {
	v := validator{q: q}
	for _, check := range []func() error{
		v.source,
		v.projections,
		v.grains,
		v.onlyID,
		v.where,
		v.having,
		v.sorting,
		v.pagination,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	if q.Source != nil {
		return Validate(q.Source)
	}
	return nil
}

type validator struct {
	q *Query
}

func (v validator) source() error {
	if (v.q.Table == nil) == (v.q.Source == nil) {
		return invalidf("Query must read from exactly one table or query")
	}
	return nil
}

func (v validator) projections() error {
	if len(v.q.Projections()) == 0 {
		return invalidf("Query must project at least one field")
	}
	seen := map[string]bool{}
	for _, p := range v.q.Projections() {
		if p.Column == nil {
			return invalidf("Projection without a column")
		}
		if v.q.Source != nil {
			if _, ok := v.q.SourceProjection(p); !ok {
				return invalidf("Unknown field `%s`", p.Column.Name)
			}
		} else if col, ok := v.q.Table.Column(p.Column.Name); !ok || col != p.Column {
			return invalidf("Unknown field `%s`", p.Column.Name)
		}
		if seen[p.Name()] {
			return invalidf("Duplicate field `%s` in query", p.Name())
		}
		seen[p.Name()] = true
	}
	for _, p := range v.q.Metrics {
		if !p.Column.IsMetric() {
			return invalidf("Field `%s` is not a metric", p.Column.Name)
		}
	}
	for _, p := range v.q.Dimensions {
		if p.Column.IsMetric() {
			return invalidf("Field `%s` is not a dimension", p.Column.Name)
		}
	}
	for _, p := range v.q.TimeDimensions {
		if p.Column.Kind != metadata.KindTimeDimension {
			return invalidf("Field `%s` is not a time dimension", p.Column.Name)
		}
	}
	return nil
}

func (v validator) grains() error {
	for _, p := range v.q.TimeDimensions {
		if err := checkGrain(p.Column, p.Grain); err != nil {
			return err
		}
	}
	return nil
}

func checkGrain(col *metadata.Column, grain metadata.TimeGrain) error {
	if grain == "" || col.Kind != metadata.KindTimeDimension {
		return nil
	}
	if len(col.Grains) == 0 && grain == metadata.GrainDay {
		return nil
	}
	if _, ok := col.Grain(grain); !ok {
		return invalidf("Requested grain %s, not supported on %s", grain, col.Name)
	}
	return nil
}

func (v validator) onlyID() error {
	if len(v.q.Metrics) > 0 || len(v.q.TimeDimensions) > 0 {
		return nil
	}
	for _, p := range v.q.Dimensions {
		if p.Column.Type != metadata.TypeID {
			return nil
		}
	}
	return invalidf("Cannot query a table only by ID")
}

func (v validator) where() error {
	var err error
	Walk(v.q.Where, func(p *Predicate) {
		if err != nil {
			return
		}
		if err = checkPredicate(p); err != nil {
			return
		}
		if strings.Contains(p.Field, ".") {
			if v.q.Source != nil {
				err = invalidf("Relationship traversal not supported for analytic queries.")
			}
			return
		}
		col, ok := v.q.Field(p.Field)
		if !ok {
			err = invalidf("Unknown field `%s`", p.Field)
			return
		}
		if col.IsMetric() {
			err = invalidf("Metric field `%s` can not be filtered in where clause.", p.Field)
			return
		}
		err = checkGrain(col, p.Grain)
	})
	return err
}

func (v validator) having() error {
	var err error
	Walk(v.q.Having, func(p *Predicate) {
		if err != nil {
			return
		}
		if err = checkPredicate(p); err != nil {
			return
		}
		if strings.Contains(p.Field, ".") {
			err = invalidf("Relationship traversal not supported for analytic queries.")
			return
		}
		col, ok := v.q.Field(p.Field)
		if !ok {
			err = invalidf("Unknown field `%s`", p.Field)
			return
		}
		if col.IsMetric() {
			if _, ok := v.q.Metric(p.Field); !ok {
				err = invalidf("Metric field `%s` must be aggregated before filtering in having clause.", p.Field)
			}
			return
		}
		grouped, ok := v.q.Grouped(p.Field)
		if !ok {
			err = invalidf("Dimension field `%s` must be grouped before filtering in having clause.", p.Field)
			return
		}
		if col.Kind == metadata.KindTimeDimension && p.Grain != "" && p.Grain != grouped.EffectiveGrain() {
			err = invalidf("Time Dimension field `%s` must use the same grain argument in the projection and the having clause.", p.Field)
		}
	})
	return err
}

func checkPredicate(p *Predicate) error {
	n := p.Operator.Arity()
	switch {
	case n < 0 && len(p.Values) == 0:
		return invalidf("Operator %s on `%s` requires at least one value", p.Operator, p.Field)
	case n >= 0 && len(p.Values) != n:
		return invalidf("Operator %s on `%s` requires %d values, got %d", p.Operator, p.Field, n, len(p.Values))
	}
	return nil
}

func (v validator) sorting() error {
	root := v.q.Root()
	for _, s := range v.q.Sort {
		if id, ok := root.IDColumn(); ok && v.q.Source == nil && s.Field == id.Name {
			return invalidf("Sorting on id field is not permitted")
		}
		if _, ok := v.q.Projection(s.Field); !ok {
			return invalidf("Can not sort on %s as it is not present in query", s.Field)
		}
		if s.Direction != "" && s.Direction != Ascending && s.Direction != Descending {
			return invalidf("Unknown sort direction %s", s.Direction)
		}
	}
	return nil
}

func (v validator) pagination() error {
	p := v.q.Pagination
	if p == nil {
		return nil
	}
	if p.Limit < 0 || p.Offset < 0 {
		return invalidf("Pagination limit and offset must not be negative")
	}
	return nil
}
