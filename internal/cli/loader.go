package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/aggql/internal/compiler"
	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/querydoc"
	"github.com/roach88/aggql/internal/queryir"
)

// LoadResult contains the catalog loaded from a models directory.
type LoadResult struct {
	Catalog   *metadata.Catalog
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during model loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModels loads and links the CUE models in dir. Every table compile
// error is reported; the result is nil when any occurred.
func LoadModels(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("models directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing models directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	cat, errs := compiler.LoadModels(dir)
	if len(errs) > 0 {
		out := make([]error, len(errs))
		for i, err := range errs {
			out[i] = convertCompileError(err)
		}
		return nil, out
	}
	return &LoadResult{Catalog: cat, FileCount: len(files)}, nil
}

// CheckModels runs model validation and static cycle analysis over a
// loaded catalog.
func CheckModels(cat *metadata.Catalog) []compiler.ValidationError {
	parser := expr.NewParser()
	errs := compiler.ValidateCatalog(cat, parser)
	return append(errs, compiler.CycleErrors(compiler.AnalyzeCycles(cat, parser))...)
}

// LoadQuery reads a YAML query document and builds it against cat.
func LoadQuery(path string, cat *metadata.Catalog) (*queryir.Query, error) {
	doc, err := querydoc.Load(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeQueryFile, Message: err.Error()}
	}
	q, err := doc.Build(cat)
	if err != nil {
		if queryir.IsInvalidOperation(err) {
			return nil, err
		}
		return nil, &LoadError{Code: ErrCodeQueryFile, Message: err.Error()}
	}
	return q, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: err.Error(),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeQueryFile   = "E008" // Query file unreadable or malformed
	ErrCodeBackend     = "E009" // Database or cache unavailable

	// Model declaration errors
	ErrCodeSource    = "E110" // Invalid table source
	ErrCodeJoin      = "E111" // Invalid join declaration
	ErrCodeColumn    = "E112" // Invalid column declaration
	ErrCodeGrain     = "E113" // Invalid time grain
	ErrCodeArgument  = "E114" // Invalid argument declaration
	ErrCodeCUESyntax = "E115" // CUE evaluation error
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "source":
		return ErrCodeSource
	case strings.HasPrefix(field, "joins."):
		return ErrCodeJoin
	case strings.HasSuffix(field, ".grains"):
		return ErrCodeGrain
	case strings.HasPrefix(field, "arguments."), field == "default":
		return ErrCodeArgument
	case field == "columns",
		strings.HasPrefix(field, "dimensions."),
		strings.HasPrefix(field, "timeDimensions."),
		strings.HasPrefix(field, "metrics."):
		return ErrCodeColumn
	case field == "cue":
		return ErrCodeCUESyntax
	default:
		return ErrCodeGeneric
	}
}
