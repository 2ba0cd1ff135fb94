package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/queryir"
)

// Plan is the compiled SQL of one query.
//
// All filter values are bound parameters; Params follow the order of the
// placeholders in SQL.
type Plan struct {
	SQL    string
	Params []any

	// CountSQL counts the rows of the unpaginated result. Empty unless the
	// query asked for pagination totals.
	CountSQL    string
	CountParams []any

	// Columns are the output column names in select order.
	Columns []string
}

// SQLCompiler compiles queries to parameterized SQL for one dialect.
// It is safe for concurrent use; each Compile call gets its own
// resolution context.
type SQLCompiler struct {
	dialect Dialect
	parser  *expr.Parser
}

// NewSQLCompiler creates a compiler. parser may be shared between
// compilers and engines.
func NewSQLCompiler(d Dialect, parser *expr.Parser) *SQLCompiler {
	if parser == nil {
		parser = expr.NewParser()
	}
	return &SQLCompiler{dialect: d, parser: parser}
}

// Dialect returns the dialect the compiler emits.
func (c *SQLCompiler) Dialect() Dialect { return c.dialect }

// Compile validates q and converts it to SQL.
//
// Joins appear once per distinct join alias in the order they were first
// needed: projections, then filters, then sorting. Metrics that only reach
// through a toMany relationship are pre-aggregated in a derived table so
// the fan-out does not multiply them.
func (c *SQLCompiler) Compile(q *queryir.Query) (*Plan, error) {
	if q == nil {
		return nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return nil, err
	}

	st, err := c.statement(q)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		SQL:     st.render(true),
		Params:  st.params(),
		Columns: st.columns,
	}
	if q.Pagination != nil && q.Pagination.Total {
		plan.CountSQL, plan.CountParams = st.count(c.dialect)
	}
	return plan, nil
}

func (c *SQLCompiler) statement(q *queryir.Query) (*statement, error) {
	if q.Source != nil {
		return c.nestedStatement(q)
	}
	return newTableBuilder(c, q).build()
}

// statement is a SELECT in parts so the COUNT query can reuse its pieces.
type statement struct {
	distinct bool
	selects  []string
	columns  []string

	from       string
	fromParams []any
	joins      []string

	where       string
	whereParams []any

	groupBy []string

	having       string
	havingParams []any

	orderBy []string
	page    string

	quote func(string) string
}

func (s *statement) project(name, expression string) {
	s.selects = append(s.selects, expression+" AS "+s.quote(name))
	s.columns = append(s.columns, name)
}

func (s *statement) render(ordered bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(s.selects, ", "))
	s.writeSource(&b)
	if len(s.groupBy) > 0 && !s.distinct {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}
	if s.having != "" {
		b.WriteString(" HAVING ")
		b.WriteString(s.having)
	}
	if ordered {
		if len(s.orderBy) > 0 {
			b.WriteString(" ORDER BY ")
			b.WriteString(strings.Join(s.orderBy, ", "))
		}
		if s.page != "" {
			b.WriteString(" ")
			b.WriteString(s.page)
		}
	}
	return b.String()
}

func (s *statement) writeSource(b *strings.Builder) {
	b.WriteString(" FROM ")
	b.WriteString(s.from)
	for _, j := range s.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if s.where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(s.where)
	}
}

func (s *statement) params() []any {
	out := make([]any, 0, len(s.fromParams)+len(s.whereParams)+len(s.havingParams))
	out = append(out, s.fromParams...)
	out = append(out, s.whereParams...)
	return append(out, s.havingParams...)
}

// count derives the pagination total query. A single grouping expression
// (or a dialect that counts distinct tuples) without HAVING becomes
// COUNT(DISTINCT ...); anything else counts the rows of the unpaginated
// query.
func (s *statement) count(d Dialect) (string, []any) {
	if s.having == "" && len(s.groupBy) > 0 && (len(s.groupBy) == 1 || d.CountDistinctTuples()) {
		var b strings.Builder
		b.WriteString("SELECT COUNT(DISTINCT ")
		b.WriteString(strings.Join(s.groupBy, ", "))
		b.WriteString(")")
		s.writeSource(&b)
		params := append(append([]any{}, s.fromParams...), s.whereParams...)
		return b.String(), params
	}
	sql := "SELECT COUNT(*) FROM (" + s.render(false) + ") AS " + d.QuoteIdentifier("pagination_subquery")
	return sql, s.params()
}

func sortSQL(expression string, dir queryir.Direction) string {
	if dir == "" {
		dir = queryir.Ascending
	}
	return expression + " " + string(dir)
}

func invalidf(format string, args ...any) error {
	return &queryir.InvalidOperationError{Message: fmt.Sprintf(format, args...)}
}
