package harness

import (
	"github.com/roach88/aggql/internal/engine"
	"github.com/roach88/aggql/internal/hydrate"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: the expect clause and every
	// assertion held.
	Pass bool `json:"pass"`

	// Explanation is the compiled SQL. Nil when compilation failed.
	Explanation *engine.Explanation `json:"explanation,omitempty"`

	// Records are the hydrated rows. Only set for scenarios with setup data.
	Records []hydrate.Record `json:"records,omitempty"`
	Total   *int64           `json:"total,omitempty"`

	// ErrorCode is the engine error code when the query was rejected.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Executed reports whether the query ran against data.
func (r *Result) Executed() bool {
	return r.Records != nil
}
