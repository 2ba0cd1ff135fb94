package resolve

import (
	"fmt"
	"maps"

	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
)

// Arguments maps argument names to normalized values.
type Arguments map[string]string

// Scope is the argument environment a reference is resolved under.
// Table arguments feed {{$$table.args.x}}, column arguments feed
// {{$$column.args.x}}.
type Scope struct {
	Table  Arguments
	Column Arguments
}

// NewScope builds the scope for projecting col of table.
//
// Precedence, lowest first: table defaults, column defaults, query
// supplied values. Supplied values are normalized against the declared
// argument; names the table or column does not declare are rejected.
func NewScope(table *metadata.Table, col *metadata.Column, tableArgs, columnArgs map[string]string) (Scope, error) {
	tbl, err := bind(table.Arguments, tableArgs, "table "+table.Name)
	if err != nil {
		return Scope{}, err
	}

	var declared []metadata.Argument
	where := "table " + table.Name
	if col != nil {
		declared = col.Arguments
		where = "column " + table.Name + "." + col.Name
	}
	colArgs, err := bind(declared, columnArgs, where)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Table: tbl, Column: colArgs}, nil
}

func bind(declared []metadata.Argument, supplied map[string]string, where string) (Arguments, error) {
	out := make(Arguments, len(declared))
	for _, a := range declared {
		if a.HasDefault {
			out[a.Name] = a.Default
		}
	}
	for name, value := range supplied {
		arg, ok := findArg(declared, name)
		if !ok {
			return nil, fmt.Errorf("argument %s is not declared by %s", name, where)
		}
		normalized, err := arg.Normalize(value)
		if err != nil {
			return nil, err
		}
		out[name] = normalized
	}
	return out, nil
}

func findArg(args []metadata.Argument, name string) (metadata.Argument, bool) {
	for _, a := range args {
		if a.Name == name {
			return a, true
		}
	}
	return metadata.Argument{}, false
}

// inherit is the column scope a logical reference runs under: the caller's
// values, plus target defaults for arguments the caller did not set.
func inherit(caller Arguments, target *metadata.Column) Arguments {
	out := maps.Clone(caller)
	if out == nil {
		out = Arguments{}
	}
	for _, a := range target.Arguments {
		if _, ok := out[a.Name]; !ok && a.HasDefault {
			out[a.Name] = a.Default
		}
	}
	return out
}

// invoke is the column scope of a helper invocation: target defaults,
// overridden by the caller's values for names the target declares,
// overridden by pinned values.
func invoke(caller Arguments, target *metadata.Column, pinned map[string]string) (Arguments, error) {
	out := make(Arguments, len(target.Arguments)+len(pinned))
	for _, a := range target.Arguments {
		if v, ok := caller[a.Name]; ok {
			out[a.Name] = v
		} else if a.HasDefault {
			out[a.Name] = a.Default
		}
	}
	for name, value := range pinned {
		if arg, ok := target.Argument(name); ok {
			normalized, err := arg.Normalize(value)
			if err != nil {
				return nil, err
			}
			value = normalized
		}
		out[name] = value
	}
	return out, nil
}

// joinTableScope is the table scope inside a join target: the caller's
// table arguments plus the target's defaults for names not already set.
func joinTableScope(caller Arguments, target *metadata.Table) Arguments {
	out := maps.Clone(caller)
	if out == nil {
		out = Arguments{}
	}
	for _, a := range target.Arguments {
		if _, ok := out[a.Name]; !ok && a.HasDefault {
			out[a.Name] = a.Default
		}
	}
	return out
}

func (a Arguments) ir() ir.IRObject {
	return ir.StringMap(a)
}

// JoinScope is the scope seen from the target side of j.
func JoinScope(caller Scope, j *metadata.Join) Scope {
	return Scope{Table: joinTableScope(caller.Table, j.Target()), Column: caller.Column}
}
