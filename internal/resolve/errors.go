package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a reference chain that loops back on itself.
// Chain starts and ends with the same node. Column nodes are written
// "table.column", join traversals "table->join".
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("reference cycle: %s", strings.Join(e.Chain, " -> "))
}

// IsCycle reports whether err wraps a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// UnboundArgumentError reports an argument placeholder with no value in
// the active scope.
type UnboundArgumentError struct {
	Kind   string // "column" or "table"
	Name   string
	Column string // table.column being resolved, empty for join and source text
}

func (e *UnboundArgumentError) Error() string {
	where := e.Column
	if where == "" {
		where = "expression"
	}
	return fmt.Sprintf("%s argument %s has no value in %s", e.Kind, e.Name, where)
}
