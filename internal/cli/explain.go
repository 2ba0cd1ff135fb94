package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/aggql/internal/engine"
	"github.com/roach88/aggql/internal/querysql"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Dialect string // SQL dialect name
	Output  string // output file path
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <models-dir> <query.yaml>",
		Short: "Print the SQL a query compiles to",
		Long: `Compile a YAML query against CUE models and print the generated SQL,
its bound parameters, the pagination COUNT query and the query
fingerprint. Nothing is executed.

Example:
  aggql explain ./models ./queries/ratings.yaml
  aggql explain ./models ./queries/ratings.yaml --dialect duckdb --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dialect, "dialect", "sqlite", "SQL dialect (sqlite|duckdb|mysql)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "also write the explanation as JSON to this file")

	return cmd
}

func runExplain(opts *ExplainOptions, modelsDir, queryPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	dialect, err := querysql.DialectByName(opts.Dialect)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}

	loadResult, loadErrors := LoadModels(modelsDir)
	if len(loadErrors) > 0 {
		return outputLoadErrors(formatter, loadErrors)
	}
	formatter.VerboseLog("Loaded %d table(s) from %s", len(loadResult.Catalog.Tables()), modelsDir)

	q, err := LoadQuery(queryPath, loadResult.Catalog)
	if err != nil {
		return outputQueryError(formatter, err)
	}

	// Explain never touches the backend.
	eng := engine.New(loadResult.Catalog, nil, engine.WithDialect(dialect))
	expl, err := eng.Explain(cmd.Context(), q)
	if err != nil {
		return outputQueryError(formatter, err)
	}

	if opts.Output != "" {
		if err := writeExplanation(expl, opts.Output); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
		formatter.VerboseLog("Wrote explanation to %s", opts.Output)
	}

	if formatter.Format == "json" {
		return formatter.Success(expl)
	}

	w := formatter.Writer
	fmt.Fprintln(w, expl.SQL)
	fmt.Fprintf(w, "-- params: %s\n", jsonText(expl.Params))
	if expl.CountSQL != "" {
		fmt.Fprintln(w, expl.CountSQL)
		fmt.Fprintf(w, "-- count params: %s\n", jsonText(expl.CountParams))
	}
	fmt.Fprintf(w, "-- fingerprint: %s\n", expl.Fingerprint)
	return nil
}

// writeExplanation writes the explanation as indented JSON.
func writeExplanation(expl engine.Explanation, path string) error {
	data, err := json.MarshalIndent(expl, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func jsonText(v []any) string {
	if v == nil {
		v = []any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// outputCommandError reports an error about the command's inputs.
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputLoadErrors reports model loading failures. Missing inputs are
// command errors, broken models are failures.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	var loadErr *LoadError
	if len(errs) == 1 && errors.As(errs[0], &loadErr) && isCommandError(loadErr.Code) {
		return outputCommandError(formatter, loadErr.Code, loadErr.Message)
	}
	return outputValidationErrors(formatter, loadErrorsToValidation(errs))
}

// outputQueryError reports a rejected or failed query. Engine errors keep
// their code and request ID.
func outputQueryError(formatter *OutputFormatter, err error) error {
	var qe *engine.QueryError
	var loadErr *LoadError
	switch {
	case errors.As(err, &qe):
		var details any
		if qe.RequestID != "" {
			details = map[string]string{"request_id": qe.RequestID}
		}
		_ = formatter.Error(string(qe.Code), qe.Message, details)
		return WrapExitError(ExitFailure, "query failed", err)
	case errors.As(err, &loadErr):
		return outputCommandError(formatter, loadErr.Code, loadErr.Message)
	default:
		// Filter splitting rejects queries before the engine sees them.
		_ = formatter.Error(string(engine.ErrCodeInvalidOperation), err.Error(), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
}
