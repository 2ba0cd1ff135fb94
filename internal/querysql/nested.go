package querysql

import (
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/resolve"
)

// sourceAlias names the derived table of a query over another query.
const sourceAlias = "source"

// nestedStatement compiles a query whose source is another query. The
// inner statement becomes a derived table; outer dimensions read its
// columns by name and outer metrics re-aggregate them.
func (c *SQLCompiler) nestedStatement(q *queryir.Query) (*statement, error) {
	inner, err := c.statement(q.Source)
	if err != nil {
		return nil, err
	}

	quote := c.dialect.QuoteIdentifier
	ref := func(name string) string { return quote(sourceAlias) + "." + quote(name) }

	st := &statement{
		quote:      quote,
		distinct:   len(q.Metrics) == 0,
		from:       "(" + inner.render(true) + ") AS " + quote(sourceAlias),
		fromParams: inner.params(),
	}
	exprs := map[string]string{}

	for _, p := range append(append([]queryir.Projection{}, q.Dimensions...), q.TimeDimensions...) {
		ip, _ := q.SourceProjection(p)
		e := ref(ip.Name())
		exprs[p.Name()] = e
		st.project(p.Name(), e)
		st.groupBy = append(st.groupBy, e)
	}
	for _, p := range q.Metrics {
		ip, _ := q.SourceProjection(p)
		reagg, ok := p.Column.Aggregation.ReAggregate()
		if !ok {
			return nil, invalidf("Metric `%s` can not be re-aggregated from a nested query", p.Column.Name)
		}
		e := resolve.Aggregate(reagg, ref(ip.Name()))
		exprs[p.Name()] = e
		st.project(p.Name(), e)
	}

	where := func(p *queryir.Predicate) (string, error) {
		if _, ok := q.Source.Projection(p.Field); !ok {
			return "", invalidf("Unknown field `%s`", p.Field)
		}
		return ref(p.Field), nil
	}
	having := func(p *queryir.Predicate) (string, error) {
		return projectedField(q, exprs, p)
	}

	if st.where, st.whereParams, err = renderFilter(q.Where, fieldLeaf(where)); err != nil {
		return nil, err
	}
	if st.having, st.havingParams, err = renderFilter(q.Having, fieldLeaf(having)); err != nil {
		return nil, err
	}
	for _, s := range q.Sort {
		st.orderBy = append(st.orderBy, sortSQL(exprs[s.Field], s.Direction))
	}
	if p := q.Pagination; p != nil {
		st.page = c.dialect.Paginate(p.Limit, p.Offset)
	}
	return st, nil
}
