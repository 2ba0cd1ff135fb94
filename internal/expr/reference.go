package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/aggql/internal/metadata"
)

// Reference is one parsed {{...}} placeholder.
//
// This is a sealed interface. Variants:
//   - Physical: a column of the source's physical schema ({{$name}})
//   - Logical: another column of the same table ({{name}})
//   - Join: a traversal across a relationship ({{rel.name}}, {{rel.$name}})
//   - ColumnArg / TableArg: argument placeholders ({{$$column.args.x}})
//   - ColumnExpr: the owning column's expression inside grain templates
//   - Helper: an explicit invocation with pinned arguments ({{sql ...}})
type Reference interface {
	reference()
	String() string
}

// Physical reads a column of Source's underlying relation.
type Physical struct {
	Source *metadata.Table
	Name   string
}

// Logical aliases another column's resolved expression on the same table.
// The target's own template is obtained through the Parser cache when the
// reference is resolved, so parsing never recurses into cycles.
type Logical struct {
	Source *metadata.Table
	Column *metadata.Column
}

// Join traverses one relationship hop. Child is resolved against the join
// target and may itself be a Join for multi-hop paths.
type Join struct {
	Source *metadata.Table
	Join   *metadata.Join
	Child  Reference
}

// ColumnArg is replaced by the value of a column-scoped argument.
type ColumnArg struct {
	Name string
}

// TableArg is replaced by the value of a table-scoped argument.
type TableArg struct {
	Name string
}

// ColumnExpr stands for the owning column's resolved expression.
type ColumnExpr struct{}

// Helper invokes Column with Pinned arguments. Join is nil when the
// column lives on Source itself.
type Helper struct {
	Source *metadata.Table
	Join   *metadata.Join
	Column *metadata.Column
	Pinned map[string]string
}

func (Physical) reference()   {}
func (Logical) reference()    {}
func (Join) reference()       {}
func (ColumnArg) reference()  {}
func (TableArg) reference()   {}
func (ColumnExpr) reference() {}
func (Helper) reference()     {}

func (r Physical) String() string { return r.Source.Name + ".$" + r.Name }
func (r Logical) String() string  { return r.Source.Name + "." + r.Column.Name }
func (r Join) String() string {
	return r.Source.Name + "." + r.Join.Name + "->" + r.Child.String()
}
func (r ColumnArg) String() string { return "$$column.args." + r.Name }
func (r TableArg) String() string  { return "$$table.args." + r.Name }
func (ColumnExpr) String() string  { return "$$column.expr" }
func (r Helper) String() string {
	from := r.Source.Name
	if r.Join != nil {
		from += "." + r.Join.Name
	}
	keys := make([]string, 0, len(r.Pinned))
	for k := range r.Pinned {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "sql(%s.%s", from, r.Column.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, "[%s:%s]", k, r.Pinned[k])
	}
	b.WriteString(")")
	return b.String()
}

// Segment is either literal SQL text or a reference.
type Segment struct {
	Literal string
	Ref     Reference
}

// Template is a parsed formula: literal text interleaved with references,
// in source order.
type Template struct {
	Text     string
	Segments []Segment
}

// References returns the top-level references in order of appearance.
func (t *Template) References() []Reference {
	var refs []Reference
	for _, s := range t.Segments {
		if s.Ref != nil {
			refs = append(refs, s.Ref)
		}
	}
	return refs
}
