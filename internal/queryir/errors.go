package queryir

import (
	"errors"
	"fmt"
)

// InvalidOperationError rejects a query the client can fix. Message is
// returned to the client verbatim.
type InvalidOperationError struct {
	Message string
}

func (e *InvalidOperationError) Error() string {
	return e.Message
}

// IsInvalidOperation reports whether err wraps an InvalidOperationError.
func IsInvalidOperation(err error) bool {
	var ie *InvalidOperationError
	return errors.As(err, &ie)
}

func invalidf(format string, args ...any) error {
	return &InvalidOperationError{Message: fmt.Sprintf(format, args...)}
}
