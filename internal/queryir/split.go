package queryir

import "strings"

// Split partitions filter into a WHERE part evaluated before aggregation
// and a HAVING part evaluated after it.
//
// Predicates on metrics go to HAVING, everything else to WHERE. AND splits
// operand by operand. An OR whose leaves all land on the same side stays
// whole on that side; an OR mixing both sides moves to HAVING as a unit,
// which is only sound when every dimension it reads is grouped. NOT is
// pushed down to the predicates first.
//
// When every dimension leaf is grouped, Where AND Having is equivalent to
// filter.
func Split(q *Query, filter FilterExpression) (where, having FilterExpression, err error) {
	if filter == nil {
		return nil, nil, nil
	}
	s := splitter{q: q}
	return s.split(pushNot(filter, false))
}

type splitter struct {
	q *Query
}

func (s splitter) split(f FilterExpression) (FilterExpression, FilterExpression, error) {
	switch e := f.(type) {
	case *And:
		var where, having []FilterExpression
		for _, op := range e.Operands {
			w, h, err := s.split(op)
			if err != nil {
				return nil, nil, err
			}
			if w != nil {
				where = append(where, w)
			}
			if h != nil {
				having = append(having, h)
			}
		}
		return conjoin(where), conjoin(having), nil

	case *Or:
		var hasWhere, hasHaving bool
		var firstErr error
		Walk(e, func(p *Predicate) {
			metric, err := s.isMetric(p)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if metric {
				hasHaving = true
			} else {
				hasWhere = true
			}
		})
		if firstErr != nil {
			return nil, nil, firstErr
		}
		if !hasHaving {
			return e, nil, nil
		}
		if hasWhere {
			if err := s.promote(e); err != nil {
				return nil, nil, err
			}
		}
		return nil, e, nil

	default:
		p := leaf(f)
		if p == nil {
			return nil, nil, invalidf("Unsupported filter expression %T", f)
		}
		metric, err := s.isMetric(p)
		if err != nil {
			return nil, nil, err
		}
		if metric {
			return nil, f, nil
		}
		return f, nil, nil
	}
}

// promote checks that the dimension leaves of a mixed OR can be evaluated
// after aggregation.
func (s splitter) promote(f FilterExpression) error {
	var err error
	Walk(f, func(p *Predicate) {
		if err != nil {
			return
		}
		if metric, _ := s.isMetric(p); metric {
			return
		}
		if strings.Contains(p.Field, ".") {
			err = invalidf("Relationship traversal not supported for analytic queries.")
			return
		}
		if _, ok := s.q.Grouped(p.Field); !ok {
			err = invalidf("Dimension field `%s` must be grouped before filtering in having clause.", p.Field)
		}
	})
	return err
}

func (s splitter) isMetric(p *Predicate) (bool, error) {
	if strings.Contains(p.Field, ".") {
		return false, nil
	}
	col, ok := s.q.Field(p.Field)
	if !ok {
		return false, invalidf("Unknown field `%s`", p.Field)
	}
	return col.IsMetric(), nil
}

// leaf returns the predicate of a predicate or negated predicate.
func leaf(f FilterExpression) *Predicate {
	switch e := f.(type) {
	case *Predicate:
		return e
	case *Not:
		return leaf(e.Operand)
	}
	return nil
}

// pushNot rewrites f so that Not only wraps predicates.
func pushNot(f FilterExpression, negate bool) FilterExpression {
	switch e := f.(type) {
	case *Not:
		return pushNot(e.Operand, !negate)
	case *And:
		ops := make([]FilterExpression, len(e.Operands))
		for i, op := range e.Operands {
			ops[i] = pushNot(op, negate)
		}
		if negate {
			return &Or{Operands: ops}
		}
		return &And{Operands: ops}
	case *Or:
		ops := make([]FilterExpression, len(e.Operands))
		for i, op := range e.Operands {
			ops[i] = pushNot(op, negate)
		}
		if negate {
			return &And{Operands: ops}
		}
		return &Or{Operands: ops}
	default:
		if negate {
			return &Not{Operand: f}
		}
		return f
	}
}

func conjoin(parts []FilterExpression) FilterExpression {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return &And{Operands: parts}
	}
}
