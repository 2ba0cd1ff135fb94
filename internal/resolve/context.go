package resolve

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
)

// Quoter renders an identifier for the target dialect.
type Quoter interface {
	QuoteIdentifier(name string) string
}

// JoinClause is one join the compiled query needs, in dependency order.
type JoinClause struct {
	Alias  string
	Parent string
	Join   *metadata.Join
	Type   metadata.JoinType
	Source string // rendered relation: quoted table name or (subquery)
	On     string // rendered condition, empty for CROSS joins
}

// Context resolves column references for one compilation. It collects
// the joins the resolved expressions need and memoizes resolved column
// instances.
//
// A Context is not safe for concurrent use. The Parser it wraps is.
type Context struct {
	parser *expr.Parser
	quote  Quoter

	joins     []*JoinClause
	joinIndex map[string]*JoinClause
	overrides map[string]string
	memo      map[string]string

	stack  []string
	active map[string]bool
}

// NewContext creates an empty resolution context.
func NewContext(parser *expr.Parser, quote Quoter) *Context {
	return &Context{
		parser:    parser,
		quote:     quote,
		joinIndex: map[string]*JoinClause{},
		overrides: map[string]string{},
		memo:      map[string]string{},
		active:    map[string]bool{},
	}
}

// frame is the position a template is resolved from.
type frame struct {
	alias string
	table *metadata.Table
	scope Scope

	// symbolic renders physical references as {{path.$name}} instead of
	// qualified identifiers. Join identity is computed in this mode.
	symbolic bool
	prefix   string

	// binding maps the join whose condition is being rendered to the
	// alias being created for it.
	binding *binding

	columnExpr *string
}

type binding struct {
	join       *metadata.Join
	alias      string
	tableScope Arguments
}

// Column resolves col as projected from the relation aliased alias.
// Metrics come back wrapped in their aggregation.
func (c *Context) Column(alias string, col *metadata.Column, scope Scope) (string, error) {
	return c.resolveColumn(c.root(alias, col.Table(), scope), col)
}

// Grain resolves a grain template for col. Inside the template
// {{$$column.expr}} is the column's resolved expression.
func (c *Context) Grain(alias string, col *metadata.Column, scope Scope, template string) (string, error) {
	f := c.root(alias, col.Table(), scope)
	inner, err := c.resolveColumn(f, col)
	if err != nil {
		return "", err
	}
	tmpl, err := c.parser.Parse(col.Table(), "", template)
	if err != nil {
		return "", err
	}
	f.columnExpr = &inner
	return c.resolveTemplate(f, tmpl)
}

// Expression resolves ad hoc template text against table.
func (c *Context) Expression(alias string, table *metadata.Table, text string, scope Scope) (string, error) {
	tmpl, err := c.parser.Parse(table, "", text)
	if err != nil {
		return "", err
	}
	return c.resolveTemplate(c.root(alias, table, scope), tmpl)
}

// Source renders the FROM relation of table: a quoted physical name or a
// parenthesized subquery with table arguments substituted.
func (c *Context) Source(table *metadata.Table, scope Scope) (string, error) {
	return c.source(table, scope.Table, false)
}

// DerivedJoin makes traversals of j from parent render against alias
// without emitting a join clause. The caller is responsible for
// producing the relation alias refers to.
func (c *Context) DerivedJoin(parent string, j *metadata.Join, alias string) {
	c.overrides[overrideKey(parent, j)] = alias
}

// JoinCondition renders the condition of j from parent with the target
// side bound to alias.
func (c *Context) JoinCondition(parent string, j *metadata.Join, scope Scope, alias string) (string, error) {
	if j.Type == metadata.JoinCross || j.On == "" {
		return "", nil
	}
	tmpl, err := c.parser.ParseJoin(j)
	if err != nil {
		return "", err
	}
	f := c.root(parent, j.Source(), scope)
	f.binding = &binding{join: j, alias: alias, tableScope: joinTableScope(scope.Table, j.Target())}
	return c.resolveTemplate(f, tmpl)
}

// Joins returns the collected joins. A join always follows the joins its
// condition depends on.
func (c *Context) Joins() []JoinClause {
	out := make([]JoinClause, len(c.joins))
	for i, j := range c.joins {
		out[i] = *j
	}
	return out
}

func (c *Context) root(alias string, table *metadata.Table, scope Scope) frame {
	return frame{alias: alias, table: table, scope: scope}
}

func overrideKey(parent string, j *metadata.Join) string {
	return parent + "->" + j.Name
}

func (c *Context) resolveTemplate(f frame, tmpl *expr.Template) (string, error) {
	var sb strings.Builder
	for _, seg := range tmpl.Segments {
		if seg.Ref == nil {
			sb.WriteString(seg.Literal)
			continue
		}
		out, err := c.resolveRef(f, seg.Ref)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

func (c *Context) resolveRef(f frame, ref expr.Reference) (string, error) {
	switch r := ref.(type) {
	case expr.Physical:
		return c.physical(f, r.Name), nil

	case expr.ColumnArg:
		v, ok := f.scope.Column[r.Name]
		if !ok {
			return "", &UnboundArgumentError{Kind: "column", Name: r.Name, Column: c.current()}
		}
		return v, nil

	case expr.TableArg:
		v, ok := f.scope.Table[r.Name]
		if !ok {
			return "", &UnboundArgumentError{Kind: "table", Name: r.Name, Column: c.current()}
		}
		return v, nil

	case expr.ColumnExpr:
		if f.columnExpr == nil {
			return "", fmt.Errorf("{{$$column.expr}} used outside a grain expression in %s", c.current())
		}
		return *f.columnExpr, nil

	case expr.Logical:
		g := f
		g.scope = Scope{Table: f.scope.Table, Column: inherit(f.scope.Column, r.Column)}
		return c.resolveColumn(g, r.Column)

	case expr.Helper:
		args, err := invoke(f.scope.Column, r.Column, r.Pinned)
		if err != nil {
			return "", err
		}
		g := f
		if r.Join != nil {
			if g, err = c.enterJoin(f, r.Join); err != nil {
				return "", err
			}
		}
		g.scope.Column = args
		return c.resolveColumn(g, r.Column)

	case expr.Join:
		g, err := c.enterJoin(f, r.Join)
		if err != nil {
			return "", err
		}
		return c.resolveRef(g, r.Child)

	default:
		return "", fmt.Errorf("unsupported reference %T", ref)
	}
}

func (c *Context) physical(f frame, name string) string {
	switch {
	case f.symbolic:
		return "{{" + f.prefix + "$" + name + "}}"
	case f.alias == "":
		return c.quote.QuoteIdentifier(name)
	default:
		return c.quote.QuoteIdentifier(f.alias) + "." + c.quote.QuoteIdentifier(name)
	}
}

func (c *Context) resolveColumn(f frame, col *metadata.Column) (string, error) {
	key := col.Table().Name + "." + col.Name
	if err := c.push(key); err != nil {
		return "", err
	}
	defer c.pop()

	var memoKey string
	if !f.symbolic {
		k, err := ir.MemoKey(ir.NewIRObject(
			ir.O("alias", ir.IRString(f.alias)),
			ir.O("table", ir.IRString(col.Table().Name)),
			ir.O("column", ir.IRString(col.Name)),
			ir.O("column_args", f.scope.Column.ir()),
			ir.O("table_args", f.scope.Table.ir()),
		))
		if err != nil {
			return "", err
		}
		if out, ok := c.memo[k]; ok {
			return out, nil
		}
		memoKey = k
	}

	tmpl, err := c.parser.ParseColumn(col)
	if err != nil {
		return "", err
	}
	g := f
	g.table = col.Table()
	g.binding = nil
	g.columnExpr = nil
	out, err := c.resolveTemplate(g, tmpl)
	if err != nil {
		return "", err
	}
	if col.IsMetric() {
		out = Aggregate(col.Aggregation, out)
	}
	if memoKey != "" {
		c.memo[memoKey] = out
	}
	return out, nil
}

// enterJoin returns the frame of j's target as seen from f, registering
// the join clause on first use.
func (c *Context) enterJoin(f frame, j *metadata.Join) (frame, error) {
	target := j.Target()
	tableScope := joinTableScope(f.scope.Table, target)
	next := frame{
		table:    target,
		scope:    Scope{Table: tableScope, Column: f.scope.Column},
		symbolic: f.symbolic,
	}

	if f.symbolic {
		next.prefix = f.prefix + j.Name + "."
		return next, nil
	}
	if f.binding != nil && f.binding.join == j {
		next.alias = f.binding.alias
		next.scope.Table = f.binding.tableScope
		return next, nil
	}
	if alias, ok := c.overrides[overrideKey(f.alias, j)]; ok {
		next.alias = alias
		return next, nil
	}

	if err := c.push(f.table.Name + "->" + j.Name); err != nil {
		return frame{}, err
	}
	defer c.pop()

	var onTmpl *expr.Template
	if j.Type != metadata.JoinCross && j.On != "" {
		var err error
		if onTmpl, err = c.parser.ParseJoin(j); err != nil {
			return frame{}, err
		}
	}

	symbolicOn := ""
	if onTmpl != nil {
		sf := f
		sf.symbolic = true
		sf.prefix = ""
		sf.binding = nil
		var err error
		if symbolicOn, err = c.resolveTemplate(sf, onTmpl); err != nil {
			return frame{}, err
		}
	}
	symbolicSource, err := c.source(target, tableScope, true)
	if err != nil {
		return frame{}, err
	}
	hash, err := ir.JoinAliasHash(ir.NewIRObject(
		ir.O("join", ir.IRString(j.Name)),
		ir.O("on", ir.IRString(symbolicOn)),
		ir.O("parent", ir.IRString(f.alias)),
		ir.O("source", ir.IRString(symbolicSource)),
	))
	if err != nil {
		return frame{}, err
	}
	next.alias = f.alias + "_" + j.Name + "_" + hash
	if _, ok := c.joinIndex[next.alias]; ok {
		return next, nil
	}

	source, err := c.source(target, tableScope, false)
	if err != nil {
		return frame{}, err
	}
	on := ""
	if onTmpl != nil {
		bf := f
		bf.binding = &binding{join: j, alias: next.alias, tableScope: tableScope}
		if on, err = c.resolveTemplate(bf, onTmpl); err != nil {
			return frame{}, err
		}
	}

	clause := &JoinClause{
		Alias:  next.alias,
		Parent: f.alias,
		Join:   j,
		Type:   j.Type,
		Source: source,
		On:     on,
	}
	c.joinIndex[next.alias] = clause
	c.joins = append(c.joins, clause)
	return next, nil
}

func (c *Context) source(table *metadata.Table, tableScope Arguments, symbolic bool) (string, error) {
	p := table.PhysicalSource()
	if p.Source.Kind != metadata.SourceSQL {
		if symbolic {
			return p.Source.Name, nil
		}
		parts := strings.Split(p.Source.Name, ".")
		for i, part := range parts {
			parts[i] = c.quote.QuoteIdentifier(part)
		}
		return strings.Join(parts, "."), nil
	}

	tmpl, err := c.parser.ParseSource(p)
	if err != nil {
		return "", err
	}
	f := frame{table: p, scope: Scope{Table: tableScope, Column: Arguments{}}, symbolic: symbolic}
	text, err := c.resolveTemplate(f, tmpl)
	if err != nil {
		return "", err
	}
	return "(" + strings.TrimSpace(text) + ")", nil
}

func (c *Context) push(key string) error {
	if c.active[key] {
		start := slices.Index(c.stack, key)
		chain := append(slices.Clone(c.stack[start:]), key)
		return &CycleError{Chain: chain}
	}
	c.active[key] = true
	c.stack = append(c.stack, key)
	return nil
}

func (c *Context) pop() {
	key := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	delete(c.active, key)
}

func (c *Context) current() string {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if !strings.Contains(c.stack[i], "->") {
			return c.stack[i]
		}
	}
	return ""
}

// Aggregate wraps inner in the SQL function for agg.
func Aggregate(agg metadata.Aggregation, inner string) string {
	switch agg {
	case metadata.AggNone:
		return inner
	case metadata.AggCountDistinct:
		return "COUNT(DISTINCT " + inner + ")"
	default:
		return string(agg) + "(" + inner + ")"
	}
}
