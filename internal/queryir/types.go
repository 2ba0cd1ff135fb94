package queryir

import (
	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
)

// Query is one resolved client request against a logical table.
//
// Exactly one of Table and Source is set. With Source the query reads the
// rows of another Query as a derived table: its fields are the inner
// query's projection names and its metrics re-aggregate the inner values.
//
// Where and Having are normally filled by Split from a single client
// filter. Both may be nil.
type Query struct {
	Table  *metadata.Table
	Source *Query

	Metrics        []Projection
	Dimensions     []Projection
	TimeDimensions []Projection

	Where  FilterExpression
	Having FilterExpression

	Sort       []Sort
	Pagination *Pagination

	// Arguments are table-scoped argument values.
	Arguments map[string]string

	// BypassCache skips the table version lookup and the cache entirely.
	BypassCache bool
}

// Projection selects one column. Name defaults to the column name.
type Projection struct {
	Column    *metadata.Column
	Alias     string
	Arguments map[string]string

	// Grain is the requested grain of a time dimension. Empty means the
	// column's default grain.
	Grain metadata.TimeGrain
}

// Name is the output name of the projection.
func (p Projection) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Column.Name
}

// EffectiveGrain is the grain a time dimension projection is emitted at.
func (p Projection) EffectiveGrain() metadata.TimeGrain {
	if p.Grain != "" {
		return p.Grain
	}
	return p.Column.DefaultGrain()
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Sort orders by a projected field, named by its projection name.
type Sort struct {
	Field     string
	Direction Direction
}

// Pagination limits the result set. Total requests a row count of the
// unpaginated result alongside the page.
type Pagination struct {
	Limit  int
	Offset int
	Total  bool
}

// Row is one result row keyed by projection name.
type Row map[string]any

// Result is the output of one executed query.
type Result struct {
	Rows []Row `json:"rows"`
	// Total is set when the query asked for pagination totals.
	Total *int64 `json:"total,omitempty"`
}

// FilterExpression is a client filter tree.
//
// This is a sealed interface. Variants:
//   - *Predicate: a comparison on one field
//   - *And / *Or: conjunction and disjunction of operands
//   - *Not: negation of one operand
type FilterExpression interface {
	filterNode()
}

// Operator is a predicate comparison.
type Operator string

const (
	OpIn      Operator = "in"
	OpNotIn   Operator = "notin"
	OpLT      Operator = "lt"
	OpLE      Operator = "le"
	OpGT      Operator = "gt"
	OpGE      Operator = "ge"
	OpBetween Operator = "between"
	OpPrefix  Operator = "prefix"
	OpInfix   Operator = "infix"
	OpPostfix Operator = "postfix"
	OpIsNull  Operator = "isnull"
	OpNotNull Operator = "notnull"
	OpTrue    Operator = "true"
	OpFalse   Operator = "false"
)

// Arity returns how many values op takes; -1 means one or more.
func (op Operator) Arity() int {
	switch op {
	case OpIn, OpNotIn:
		return -1
	case OpBetween:
		return 2
	case OpIsNull, OpNotNull, OpTrue, OpFalse:
		return 0
	default:
		return 1
	}
}

// ParseOperator accepts the lower-case operator names.
func ParseOperator(s string) (Operator, bool) {
	switch op := Operator(s); op {
	case OpIn, OpNotIn, OpLT, OpLE, OpGT, OpGE, OpBetween, OpPrefix, OpInfix,
		OpPostfix, OpIsNull, OpNotNull, OpTrue, OpFalse:
		return op, true
	}
	return "", false
}

// Predicate compares one field. Field is a column name, or a dotted
// relationship path ("country.isoCode") in WHERE filters.
type Predicate struct {
	Field     string
	Arguments map[string]string
	Grain     metadata.TimeGrain
	Operator  Operator
	Values    []ir.IRValue
}

// And is true when every operand is.
type And struct {
	Operands []FilterExpression
}

// Or is true when any operand is.
type Or struct {
	Operands []FilterExpression
}

// Not negates its operand.
type Not struct {
	Operand FilterExpression
}

func (*Predicate) filterNode() {}
func (*And) filterNode()       {}
func (*Or) filterNode()        {}
func (*Not) filterNode()       {}

// Root returns the table at the bottom of a chain of nested queries.
func (q *Query) Root() *metadata.Table {
	for q.Source != nil {
		q = q.Source
	}
	return q.Table
}

// Projections returns dimensions, time dimensions and metrics in emission
// order.
func (q *Query) Projections() []Projection {
	out := make([]Projection, 0, len(q.Dimensions)+len(q.TimeDimensions)+len(q.Metrics))
	out = append(out, q.Dimensions...)
	out = append(out, q.TimeDimensions...)
	out = append(out, q.Metrics...)
	return out
}

// Grouped returns the dimension or time dimension projection for field,
// matching either the projection name or the column name.
func (q *Query) Grouped(field string) (Projection, bool) {
	for _, list := range [][]Projection{q.Dimensions, q.TimeDimensions} {
		for _, p := range list {
			if p.Name() == field || p.Column.Name == field {
				return p, true
			}
		}
	}
	return Projection{}, false
}

// Metric returns the metric projection for field.
func (q *Query) Metric(field string) (Projection, bool) {
	for _, p := range q.Metrics {
		if p.Name() == field || p.Column.Name == field {
			return p, true
		}
	}
	return Projection{}, false
}

// Projection returns the projection with the given output name.
func (q *Query) Projection(name string) (Projection, bool) {
	for _, p := range q.Projections() {
		if p.Name() == name {
			return p, true
		}
	}
	return Projection{}, false
}

// Field looks up a filterable field. For table queries this is a column of
// the table; for nested queries it is a projection of the source query.
func (q *Query) Field(name string) (*metadata.Column, bool) {
	if q.Source != nil {
		p, ok := q.Source.Projection(name)
		if !ok {
			return nil, false
		}
		return p.Column, true
	}
	if q.Table == nil {
		return nil, false
	}
	return q.Table.Column(name)
}

// SourceProjection finds the projection of the source query that an outer
// projection reads: the one named like the outer column, or failing that
// the one projecting the same column.
func (q *Query) SourceProjection(p Projection) (Projection, bool) {
	if q.Source == nil {
		return Projection{}, false
	}
	if inner, ok := q.Source.Projection(p.Column.Name); ok {
		return inner, true
	}
	for _, inner := range q.Source.Projections() {
		if inner.Column == p.Column {
			return inner, true
		}
	}
	return Projection{}, false
}

// Walk calls fn for every predicate in f, in order.
func Walk(f FilterExpression, fn func(*Predicate)) {
	switch e := f.(type) {
	case *Predicate:
		fn(e)
	case *And:
		for _, op := range e.Operands {
			Walk(op, fn)
		}
	case *Or:
		for _, op := range e.Operands {
			Walk(op, fn)
		}
	case *Not:
		Walk(e.Operand, fn)
	}
}
