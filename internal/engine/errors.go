package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/resolve"
)

// QueryError is the error returned by Explain, ExecuteQuery and Hydrate.
//
// Code says which layer failed:
//   - PARSE_ERROR, CYCLE_DETECTED and MODEL_ERROR come from the model and
//     are fixed by changing column formulas, not the request
//   - INVALID_OPERATION is a rejected request; the message is meant for
//     the client
//   - EXECUTION_FAILED and HYDRATION_FAILED are backend failures
//
// The underlying error is kept for errors.As.
type QueryError struct {
	Code      ErrorCode
	Message   string
	RequestID string
	Err       error
}

// ErrorCode categorizes query errors.
type ErrorCode string

const (
	ErrCodeParse            ErrorCode = "PARSE_ERROR"
	ErrCodeCycleDetected    ErrorCode = "CYCLE_DETECTED"
	ErrCodeModel            ErrorCode = "MODEL_ERROR"
	ErrCodeInvalidOperation ErrorCode = "INVALID_OPERATION"
	ErrCodeExecutionFailed  ErrorCode = "EXECUTION_FAILED"
	ErrCodeHydrationFailed  ErrorCode = "HYDRATION_FAILED"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request=%s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsValidationError reports whether err rejected the request itself.
func IsValidationError(err error) bool { return hasCode(err, ErrCodeInvalidOperation) }

// IsExecutionError reports whether the backend or hydration failed.
func IsExecutionError(err error) bool {
	return hasCode(err, ErrCodeExecutionFailed) || hasCode(err, ErrCodeHydrationFailed)
}

// IsCycleError reports whether a column formula refers back to itself.
func IsCycleError(err error) bool { return hasCode(err, ErrCodeCycleDetected) }

// IsModelError reports whether the model, not the request, is at fault.
func IsModelError(err error) bool {
	return hasCode(err, ErrCodeParse) || hasCode(err, ErrCodeCycleDetected) || hasCode(err, ErrCodeModel)
}

func hasCode(err error, code ErrorCode) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// compileError classifies an error raised while building SQL. Only
// errors about the request are INVALID_OPERATION; anything else was
// raised resolving the model.
func compileError(requestID string, err error) *QueryError {
	code := ErrCodeModel
	var argErr *metadata.ArgumentError
	switch {
	case resolve.IsCycle(err):
		code = ErrCodeCycleDetected
	case expr.IsParseError(err):
		code = ErrCodeParse
	case queryir.IsInvalidOperation(err), errors.As(err, &argErr):
		code = ErrCodeInvalidOperation
	}
	return &QueryError{Code: code, Message: err.Error(), RequestID: requestID, Err: err}
}

func executionError(requestID string, err error) *QueryError {
	return &QueryError{Code: ErrCodeExecutionFailed, Message: err.Error(), RequestID: requestID, Err: err}
}
