package hydrate

import "gopkg.in/src-d/go-errors.v1"

var (
	// ErrCoercion is returned when a value does not fit its column type.
	ErrCoercion = errors.NewKind("cannot coerce %v to %s for column %q")

	// ErrColumnCount is returned when a row does not carry exactly the
	// projected columns.
	ErrColumnCount = errors.NewKind("row has %d columns, query projects %d")

	// ErrUnknownColumn is returned for a row key that is not a projection.
	ErrUnknownColumn = errors.NewKind("column %q is not projected by the query")
)
