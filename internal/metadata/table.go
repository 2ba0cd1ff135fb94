package metadata

// SourceKind says where a table's rows come from.
type SourceKind int

const (
	// SourceTable reads a physical table by name.
	SourceTable SourceKind = iota
	// SourceSQL reads a subquery. The SQL may reference table arguments.
	SourceSQL
	// SourceParent reuses another logical table's source.
	SourceParent
)

// Source is the physical origin of a Table.
type Source struct {
	Kind   SourceKind
	Name   string // physical table name for SourceTable
	SQL    string // subquery text for SourceSQL
	Parent string // logical table name for SourceParent

	parent *Table
}

// Table is a named logical relation.
type Table struct {
	Name    string
	Version string
	Source  Source

	// VersionQuery returns a single freshness value for the cache key.
	// Empty means the backend's own version bookkeeping is used.
	VersionQuery string

	Arguments []Argument
	Joins     []*Join
	Columns   []*Column

	columns map[string]*Column
	joins   map[string]*Join
}

// Column is one dimension, metric or time dimension of a Table.
type Column struct {
	Name string
	Kind ColumnKind
	Type ValueType

	// Formula is the template text. Empty means the column reads the
	// physical column of the same name.
	Formula string

	Arguments []Argument
	Tags      []string

	// Values is the closed value list of an enumerated TEXT column, in
	// ordinal order.
	Values []string

	// Aggregation is the metric payload.
	Aggregation Aggregation

	// Grains is the time dimension payload, first entry is the default.
	Grains []Grain

	table *Table
}

// Grain is one supported time grain of a time dimension. Expression may
// contain {{$$column.expr}} which stands for the column's own expression;
// empty means the dialect default for the grain.
type Grain struct {
	Grain      TimeGrain
	Expression string
}

// Join is a declared relationship edge from one table to another.
type Join struct {
	Name        string
	TargetName  string
	Cardinality Cardinality
	Type        JoinType

	// On is the join condition template. References without a join prefix
	// read the source table; references prefixed with the join name read
	// the target.
	On string

	source *Table
	target *Table
}

// Target returns the joined table. Only valid after catalog linking.
func (j *Join) Target() *Table { return j.target }

// Source returns the table declaring the join.
func (j *Join) Source() *Table { return j.source }

// Table returns the owning table. Only valid after catalog linking.
func (c *Column) Table() *Table { return c.table }

// Expression returns the formula text, synthesizing a physical reference
// when the column has no formula.
func (c *Column) Expression() string {
	if c.Formula == "" {
		return "{{$" + c.Name + "}}"
	}
	return c.Formula
}

// IsPhysical reports whether the column is a plain passthrough.
func (c *Column) IsPhysical() bool { return c.Formula == "" }

// IsMetric reports whether the column is aggregated.
func (c *Column) IsMetric() bool { return c.Kind == KindMetric }

// Argument looks up a column-scoped argument.
func (c *Column) Argument(name string) (Argument, bool) {
	return findArgument(c.Arguments, name)
}

// Grain looks up a supported grain.
func (c *Column) Grain(g TimeGrain) (Grain, bool) {
	for _, grain := range c.Grains {
		if grain.Grain == g {
			return grain, true
		}
	}
	return Grain{}, false
}

// DefaultGrain is the first declared grain, or DAY when none is declared.
func (c *Column) DefaultGrain() TimeGrain {
	if len(c.Grains) == 0 {
		return GrainDay
	}
	return c.Grains[0].Grain
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	if t.columns == nil {
		for _, c := range t.Columns {
			if c.Name == name {
				return c, true
			}
		}
		return nil, false
	}
	c, ok := t.columns[name]
	return c, ok
}

// Join looks up a relationship by name.
func (t *Table) Join(name string) (*Join, bool) {
	if t.joins == nil {
		for _, j := range t.Joins {
			if j.Name == name {
				return j, true
			}
		}
		return nil, false
	}
	j, ok := t.joins[name]
	return j, ok
}

// Argument looks up a table-scoped argument.
func (t *Table) Argument(name string) (Argument, bool) {
	return findArgument(t.Arguments, name)
}

// IDColumn returns the identity column if the table declares one.
func (t *Table) IDColumn() (*Column, bool) {
	for _, c := range t.Columns {
		if c.Type == TypeID {
			return c, true
		}
	}
	return nil, false
}

// PhysicalSource follows parent links to the table whose Source is a
// physical table or subquery.
func (t *Table) PhysicalSource() *Table {
	cur := t
	for cur.Source.Kind == SourceParent && cur.Source.parent != nil {
		cur = cur.Source.parent
	}
	return cur
}

func findArgument(args []Argument, name string) (Argument, bool) {
	for _, a := range args {
		if a.Name == name {
			return a, true
		}
	}
	return Argument{}, false
}
