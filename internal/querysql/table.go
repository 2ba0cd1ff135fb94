package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/resolve"
)

// tableBuilder assembles the statement of a query over a logical table.
type tableBuilder struct {
	c     *SQLCompiler
	q     *queryir.Query
	table *metadata.Table
	alias string
	ctx   *resolve.Context

	tableScope resolve.Scope

	// exprs maps projection names to their emitted expressions.
	exprs map[string]string

	derived      map[string]*derivedTable
	derivedOrder []*derivedTable

	// semis numbers the EXISTS subqueries of toMany filters.
	semis int
}

func newTableBuilder(c *SQLCompiler, q *queryir.Query) *tableBuilder {
	return &tableBuilder{
		c:       c,
		q:       q,
		table:   q.Table,
		alias:   q.Table.Name,
		ctx:     resolve.NewContext(c.parser, c.dialect),
		exprs:   map[string]string{},
		derived: map[string]*derivedTable{},
	}
}

func (b *tableBuilder) quote(name string) string {
	return b.c.dialect.QuoteIdentifier(name)
}

func (b *tableBuilder) build() (*statement, error) {
	var err error
	if b.tableScope, err = resolve.NewScope(b.table, nil, b.q.Arguments, nil); err != nil {
		return nil, err
	}

	st := &statement{quote: b.quote, distinct: len(b.q.Metrics) == 0}

	for _, p := range b.q.Dimensions {
		e, err := b.dimension(p)
		if err != nil {
			return nil, err
		}
		b.emit(st, p, e, true)
	}
	for _, p := range b.q.TimeDimensions {
		e, err := b.timeDimension(p)
		if err != nil {
			return nil, err
		}
		b.emit(st, p, e, true)
	}
	for _, p := range b.q.Metrics {
		e, err := b.metric(p)
		if err != nil {
			return nil, err
		}
		b.emit(st, p, e, false)
	}

	if st.where, st.whereParams, err = renderFilter(b.q.Where, b.whereLeaf); err != nil {
		return nil, err
	}
	if st.having, st.havingParams, err = renderFilter(b.q.Having, fieldLeaf(b.havingField)); err != nil {
		return nil, err
	}

	for _, s := range b.q.Sort {
		st.orderBy = append(st.orderBy, sortSQL(b.exprs[s.Field], s.Direction))
	}
	if p := b.q.Pagination; p != nil {
		st.page = b.c.dialect.Paginate(p.Limit, p.Offset)
	}

	source, err := b.ctx.Source(b.table, b.tableScope)
	if err != nil {
		return nil, err
	}
	st.from = source + " AS " + b.quote(b.alias)

	derivedJoins, err := b.renderDerived()
	if err != nil {
		return nil, err
	}
	for _, j := range b.ctx.Joins() {
		st.joins = append(st.joins, b.joinSQL(j))
	}
	st.joins = append(st.joins, derivedJoins...)
	return st, nil
}

func (b *tableBuilder) emit(st *statement, p queryir.Projection, e string, grouped bool) {
	b.exprs[p.Name()] = e
	st.project(p.Name(), e)
	if grouped {
		st.groupBy = append(st.groupBy, e)
	}
}

func (b *tableBuilder) scope(col *metadata.Column, args map[string]string) (resolve.Scope, error) {
	return resolve.NewScope(b.table, col, b.q.Arguments, args)
}

func (b *tableBuilder) dimension(p queryir.Projection) (string, error) {
	if err := b.groupable(p); err != nil {
		return "", err
	}
	s, err := b.scope(p.Column, p.Arguments)
	if err != nil {
		return "", err
	}
	return b.ctx.Column(b.alias, p.Column, s)
}

func (b *tableBuilder) timeDimension(p queryir.Projection) (string, error) {
	if err := b.groupable(p); err != nil {
		return "", err
	}
	s, err := b.scope(p.Column, p.Arguments)
	if err != nil {
		return "", err
	}
	return b.grain(b.ctx, p.Column, p.EffectiveGrain(), s)
}

// groupable rejects grouping metrics by a column that reaches through a
// toMany relationship: every metric would count each parent row once per
// matching child.
func (b *tableBuilder) groupable(p queryir.Projection) error {
	if len(b.q.Metrics) == 0 {
		return nil
	}
	fp, err := resolve.FootprintOf(b.c.parser, p.Column)
	if err != nil {
		return err
	}
	if fp.FanOut != nil {
		return invalidf("Dimension `%s` crosses toMany relationship `%s` and can not be grouped with metrics",
			p.Column.Name, fp.FanOut.Name)
	}
	return nil
}

func (b *tableBuilder) grain(ctx *resolve.Context, col *metadata.Column, g metadata.TimeGrain, s resolve.Scope) (string, error) {
	tmpl := ""
	if declared, ok := col.Grain(g); ok {
		tmpl = declared.Expression
	}
	if tmpl == "" {
		def, ok := b.c.dialect.GrainTemplate(g)
		if !ok {
			return "", invalidf("Requested grain %s, not supported on %s", g, col.Name)
		}
		tmpl = def
	}
	return ctx.Grain(b.alias, col, s, tmpl)
}

func (b *tableBuilder) metric(p queryir.Projection) (string, error) {
	s, err := b.scope(p.Column, p.Arguments)
	if err != nil {
		return "", err
	}
	fp, err := resolve.FootprintOf(b.c.parser, p.Column)
	if err != nil {
		return "", err
	}
	if !fp.Local && !fp.Metrics && len(fp.Joins) == 1 && fp.Joins[0].Cardinality == metadata.ToMany {
		return b.preAggregate(p, fp.Joins[0], s)
	}
	if fp.FanOut != nil {
		return "", invalidf("Metric `%s` can not be computed across toMany relationship `%s`",
			p.Column.Name, fp.FanOut.Name)
	}
	return b.ctx.Column(b.alias, p.Column, s)
}

// whereLeaf renders one WHERE predicate. A predicate that reaches through
// a toMany relationship becomes an EXISTS over the relationship's target,
// so matching child rows filter the outer rows without multiplying them.
func (b *tableBuilder) whereLeaf(p *queryir.Predicate) (string, []any, error) {
	fp, s, err := b.whereFootprint(p)
	if err != nil {
		return "", nil, err
	}
	if fp.FanOut == nil {
		return predicate(p, b.whereField(b.ctx))
	}
	if len(fp.Joins) != 1 {
		return "", nil, invalidf("Filter on `%s` can not combine toMany relationship `%s` with other relationships",
			p.Field, fp.FanOut.Name)
	}
	return b.semiJoin(p, fp.Joins[0], s)
}

func (b *tableBuilder) whereFootprint(p *queryir.Predicate) (resolve.Footprint, resolve.Scope, error) {
	if isPath(p.Field) {
		tmpl, err := b.c.parser.Parse(b.table, "", "{{"+p.Field+"}}")
		if err != nil {
			return resolve.Footprint{}, resolve.Scope{}, err
		}
		fp, err := resolve.FootprintOfTemplate(b.c.parser, tmpl)
		return fp, resolve.Scope{Table: b.tableScope.Table}, err
	}
	col, ok := b.table.Column(p.Field)
	if !ok {
		return resolve.Footprint{}, resolve.Scope{}, invalidf("Unknown field `%s`", p.Field)
	}
	s, err := b.scope(col, p.Arguments)
	if err != nil {
		return resolve.Footprint{}, resolve.Scope{}, err
	}
	fp, err := resolve.FootprintOf(b.c.parser, col)
	return fp, s, err
}

// whereField resolves WHERE operands through ctx.
func (b *tableBuilder) whereField(ctx *resolve.Context) fieldFunc {
	return func(p *queryir.Predicate) (string, error) {
		if isPath(p.Field) {
			return ctx.Expression(b.alias, b.table, "{{"+p.Field+"}}", resolve.Scope{Table: b.tableScope.Table})
		}
		col, ok := b.table.Column(p.Field)
		if !ok {
			return "", invalidf("Unknown field `%s`", p.Field)
		}
		s, err := b.scope(col, p.Arguments)
		if err != nil {
			return "", err
		}
		if col.Kind == metadata.KindTimeDimension && p.Grain != "" {
			return b.grain(ctx, col, p.Grain, s)
		}
		return ctx.Column(b.alias, col, s)
	}
}

// semiJoin renders p as EXISTS (SELECT 1 FROM <target of j> WHERE <join
// condition> AND p). Other relationships the predicate reaches from the
// target are joined inside the subquery.
func (b *tableBuilder) semiJoin(p *queryir.Predicate, j *metadata.Join, s resolve.Scope) (string, []any, error) {
	if j.On == "" || j.Type == metadata.JoinCross {
		return "", nil, invalidf("Filter on `%s` can not cross relationship `%s` without a join condition",
			p.Field, j.Name)
	}
	b.semis++
	inner := fmt.Sprintf("%s_%s_exists%d", b.alias, j.Name, b.semis)
	sub := resolve.NewContext(b.c.parser, b.c.dialect)
	sub.DerivedJoin(b.alias, j, inner)

	cond, params, err := predicate(p, b.whereField(sub))
	if err != nil {
		return "", nil, err
	}
	on, err := sub.JoinCondition(b.alias, j, s, inner)
	if err != nil {
		return "", nil, err
	}
	source, err := sub.Source(j.Target(), resolve.JoinScope(s, j))
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "EXISTS (SELECT 1 FROM %s AS %s", source, b.quote(inner))
	for _, jc := range sub.Joins() {
		sb.WriteString(" " + b.joinSQL(jc))
	}
	fmt.Fprintf(&sb, " WHERE %s AND %s)", on, cond)
	return sb.String(), params, nil
}

func (b *tableBuilder) havingField(p *queryir.Predicate) (string, error) {
	return projectedField(b.q, b.exprs, p)
}

// projectedField resolves a HAVING leaf to the expression of the
// projection it filters.
func projectedField(q *queryir.Query, exprs map[string]string, p *queryir.Predicate) (string, error) {
	if proj, ok := q.Metric(p.Field); ok {
		return exprs[proj.Name()], nil
	}
	if proj, ok := q.Grouped(p.Field); ok {
		return exprs[proj.Name()], nil
	}
	return "", invalidf("Dimension field `%s` must be grouped before filtering in having clause.", p.Field)
}

func (b *tableBuilder) joinSQL(j resolve.JoinClause) string {
	if j.Type == metadata.JoinCross || j.On == "" {
		return "CROSS JOIN " + j.Source + " AS " + b.quote(j.Alias)
	}
	return fmt.Sprintf("%s JOIN %s AS %s ON %s", j.Type, j.Source, b.quote(j.Alias), j.On)
}

// derivedTable pre-aggregates metrics over the target of a toMany join,
// grouped by the target-side columns of the join condition.
type derivedTable struct {
	join    *metadata.Join
	scope   resolve.Scope
	alias   string
	inner   string
	ctx     *resolve.Context
	selects []string
}

func (b *tableBuilder) preAggregate(p queryir.Projection, j *metadata.Join, s resolve.Scope) (string, error) {
	reagg, ok := p.Column.Aggregation.ReAggregate()
	if !ok {
		return "", invalidf("Metric `%s` with aggregation %s can not be computed across toMany relationship `%s`",
			p.Column.Name, p.Column.Aggregation, j.Name)
	}
	if j.On == "" || j.Type == metadata.JoinCross {
		return "", invalidf("Metric `%s` can not be aggregated across relationship `%s` without a join condition",
			p.Column.Name, j.Name)
	}

	// Metrics whose join conditions render the same share a derived table.
	key, err := b.ctx.JoinCondition(b.alias, j, s, "")
	if err != nil {
		return "", err
	}
	key = j.Name + "\x00" + key

	d, ok := b.derived[key]
	if !ok {
		hash, err := ir.JoinAliasHash(ir.NewIRObject(
			ir.O("join", ir.IRString(j.Name)),
			ir.O("on", ir.IRString(key)),
			ir.O("parent", ir.IRString(b.alias)),
		))
		if err != nil {
			return "", err
		}
		d = &derivedTable{
			join:  j,
			scope: s,
			alias: b.alias + "_" + j.Name + "_agg_" + hash,
			inner: j.Target().Name,
			ctx:   resolve.NewContext(b.c.parser, b.c.dialect),
		}
		d.ctx.DerivedJoin(b.alias, j, d.inner)
		b.derived[key] = d
		b.derivedOrder = append(b.derivedOrder, d)
	}

	inner, err := d.ctx.Column(b.alias, p.Column, s)
	if err != nil {
		return "", err
	}
	d.selects = append(d.selects, inner+" AS "+b.quote(p.Name()))
	return resolve.Aggregate(reagg, b.quote(d.alias)+"."+b.quote(p.Name())), nil
}

func (b *tableBuilder) renderDerived() ([]string, error) {
	var out []string
	for _, d := range b.derivedOrder {
		keys, err := targetKeys(b.c.parser, d.join)
		if err != nil {
			return nil, err
		}

		st := &statement{quote: b.quote}
		for _, k := range keys {
			e := b.quote(d.inner) + "." + b.quote(k)
			st.project(k, e)
			st.groupBy = append(st.groupBy, e)
		}
		st.selects = append(st.selects, d.selects...)

		inner := resolve.JoinScope(d.scope, d.join)
		source, err := d.ctx.Source(d.join.Target(), inner)
		if err != nil {
			return nil, err
		}
		st.from = source + " AS " + b.quote(d.inner)
		for _, j := range d.ctx.Joins() {
			st.joins = append(st.joins, b.joinSQL(j))
		}

		on, err := b.ctx.JoinCondition(b.alias, d.join, d.scope, d.alias)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("LEFT JOIN (%s) AS %s ON %s", st.render(false), b.quote(d.alias), on))
	}
	return out, nil
}

// targetKeys lists the target-side physical columns of j's condition in
// order of first appearance.
func targetKeys(parser *expr.Parser, j *metadata.Join) ([]string, error) {
	tmpl, err := parser.ParseJoin(j)
	if err != nil {
		return nil, err
	}
	var keys []string
	seen := map[string]bool{}
	for _, ref := range tmpl.References() {
		jr, ok := ref.(expr.Join)
		if !ok || jr.Join != j {
			continue
		}
		phys, ok := jr.Child.(expr.Physical)
		if !ok {
			return nil, invalidf("Relationship `%s` must join on physical columns to aggregate across it", j.Name)
		}
		if !seen[phys.Name] {
			seen[phys.Name] = true
			keys = append(keys, phys.Name)
		}
	}
	if len(keys) == 0 {
		return nil, invalidf("Relationship `%s` must join on physical columns to aggregate across it", j.Name)
	}
	return keys, nil
}

func isPath(field string) bool {
	return strings.Contains(field, ".")
}
