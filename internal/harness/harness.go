package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/aggql/internal/cache"
	"github.com/roach88/aggql/internal/compiler"
	"github.com/roach88/aggql/internal/engine"
	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/querysql"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/store"
)

// Harness is the scenario execution engine.
// It runs one scenario against a fresh in-memory database with
// deterministic request IDs.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Load, validate and cycle-check the scenario's models
//  2. Create a fresh in-memory SQLite database and run the setup SQL
//  3. Build the query and compile it
//  4. With setup data, execute and hydrate the query
//  5. Check the expect clause and assertions
//
// The returned error is reserved for broken scenarios (unloadable models,
// failing setup SQL); engine rejections are recorded on the result.
func Run(scenario *Scenario) (*Result, error) {
	cat, err := loadCatalog(scenario.ModelsDir())
	if err != nil {
		return nil, err
	}

	dialect, err := querysql.DialectByName(scenario.Dialect)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	requestID := scenario.RequestID
	if requestID == "" {
		requestID = "scenario-" + scenario.Name
	}

	h := &Harness{
		store: st,
		engine: engine.New(cat, st,
			engine.WithDialect(dialect),
			engine.WithCache(cache.NewMap()),
			engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			engine.WithRequestIDGenerator(engine.NewFixedGenerator(requestID)),
		),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx := context.Background()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, err
	}

	result := NewResult()
	h.execute(ctx, scenario, result)
	checkExpect(scenario, result)
	if result.ErrorCode == "" {
		evaluateAssertions(scenario.Assertions, result)
	}
	return result, nil
}

// loadCatalog loads models and refuses catalogs that would fail at query
// time anyway.
func loadCatalog(dir string) (*metadata.Catalog, error) {
	cat, errs := compiler.LoadModels(dir)
	if len(errs) > 0 {
		return nil, fmt.Errorf("loading models from %s: %w", dir, errors.Join(errs...))
	}
	parser := expr.NewParser()
	problems := compiler.ValidateCatalog(cat, parser)
	problems = append(problems, compiler.CycleErrors(compiler.AnalyzeCycles(cat, parser))...)
	if len(problems) > 0 {
		errs := make([]error, len(problems))
		for i, p := range problems {
			errs[i] = p
		}
		return nil, fmt.Errorf("models in %s are invalid: %w", dir, errors.Join(errs...))
	}
	return cat, nil
}

func (h *Harness) executeSetup(ctx context.Context, statements []string) error {
	for i, stmt := range statements {
		if err := h.store.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	return nil
}

// execute builds, compiles and optionally runs the query, recording either
// its output or the engine error on result.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, result *Result) {
	q, err := scenario.Query.Build(h.engine.Catalog())
	if err != nil {
		h.reject(result, err)
		return
	}

	expl, err := h.engine.Explain(ctx, q)
	if err != nil {
		h.reject(result, err)
		return
	}
	result.Explanation = &expl

	if len(scenario.Setup) == 0 {
		return
	}

	res, err := h.engine.ExecuteQuery(ctx, q)
	if err != nil {
		h.reject(result, err)
		return
	}
	records, err := h.engine.Hydrate(q, res)
	if err != nil {
		h.reject(result, err)
		return
	}
	result.Records = records
	result.Total = res.Total
}

// reject records err as the scenario's engine error. Query document
// errors that are not engine errors are reported as INVALID_OPERATION when
// they come from filter splitting, otherwise as QUERY_DOCUMENT.
func (h *Harness) reject(result *Result, err error) {
	var qe *engine.QueryError
	switch {
	case errors.As(err, &qe):
		result.ErrorCode = string(qe.Code)
		result.ErrorMessage = qe.Message
	case queryir.IsInvalidOperation(err):
		result.ErrorCode = string(engine.ErrCodeInvalidOperation)
		result.ErrorMessage = err.Error()
	default:
		result.ErrorCode = "QUERY_DOCUMENT"
		result.ErrorMessage = err.Error()
	}
	h.logger.Debug("query rejected", "code", result.ErrorCode, "error", err)
}

func checkExpect(scenario *Scenario, result *Result) {
	exp := scenario.Expect
	switch {
	case exp == nil && result.ErrorCode != "":
		result.AddError(fmt.Sprintf("unexpected %s: %s", result.ErrorCode, result.ErrorMessage))
	case exp == nil:
	case result.ErrorCode == "":
		result.AddError(fmt.Sprintf("expected %s, query succeeded", exp.Error))
	case result.ErrorCode != exp.Error:
		result.AddError(fmt.Sprintf("expected %s, got %s: %s", exp.Error, result.ErrorCode, result.ErrorMessage))
	case !containsText(result.ErrorMessage, exp.Message):
		result.AddError(fmt.Sprintf("expected message containing %q, got %q", exp.Message, result.ErrorMessage))
	}
}
