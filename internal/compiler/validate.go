package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/resolve"
)

// Validation error codes (E100-E199)
const (
	ErrFormulaParse       = "E100" // formula, join condition, source or grain template does not parse
	ErrMetricAggregation  = "E101" // aggregation missing on a physical metric or set on a computed one
	ErrTimeGrains         = "E102" // time dimension without grains or with duplicates
	ErrArgumentDefault    = "E103" // argument default rejected by its own type or value set
	ErrEnumType           = "E104" // value list on a non-TEXT column
	ErrDuplicateName      = "E105" // duplicate argument name
	ErrFormulaCycle       = "E106" // formulas refer back to themselves
	ErrUnsupportedPattern = "E107" // aggregation that cannot cross a toMany relationship
)

// ValidationError represents a model validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateCatalog checks every table of cat before any query runs.
// Returns all errors found (does not fail-fast). Formula cycles are
// reported by AnalyzeCycles, not here.
func ValidateCatalog(cat *metadata.Catalog, parser *expr.Parser) []ValidationError {
	var errs []ValidationError
	for _, t := range cat.Tables() {
		errs = append(errs, validateTable(t, parser)...)
	}
	return errs
}

func validateTable(t *metadata.Table, parser *expr.Parser) []ValidationError {
	var errs []ValidationError

	if t.Source.Kind == metadata.SourceSQL {
		if _, err := parser.ParseSource(t); err != nil {
			errs = append(errs, ValidationError{Field: t.Name + ".source", Message: err.Error(), Code: ErrFormulaParse})
		}
	}
	errs = append(errs, validateArguments(t.Name, t.Arguments)...)

	for _, j := range t.Joins {
		if j.On == "" {
			continue
		}
		if _, err := parser.ParseJoin(j); err != nil {
			errs = append(errs, ValidationError{
				Field: fmt.Sprintf("%s.joins.%s", t.Name, j.Name), Message: err.Error(), Code: ErrFormulaParse,
			})
		}
	}

	for _, c := range t.Columns {
		errs = append(errs, validateColumn(t, c, parser)...)
	}
	return errs
}

func validateColumn(t *metadata.Table, c *metadata.Column, parser *expr.Parser) []ValidationError {
	field := t.Name + "." + c.Name
	var errs []ValidationError

	errs = append(errs, validateArguments(field, c.Arguments)...)

	if len(c.Values) > 0 && c.Type != metadata.TypeText {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value list requires type TEXT, column is %s", c.Type),
			Code:    ErrEnumType,
		})
	}

	if _, err := parser.ParseColumn(c); err != nil {
		// Nothing below is meaningful without a parsed formula.
		return append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrFormulaParse})
	}

	switch c.Kind {
	case metadata.KindMetric:
		errs = append(errs, validateMetric(field, c, parser)...)
	case metadata.KindTimeDimension:
		errs = append(errs, validateGrains(t, field, c, parser)...)
	}
	return errs
}

func validateMetric(field string, c *metadata.Column, parser *expr.Parser) []ValidationError {
	fp, err := resolve.FootprintOf(parser, c)
	if err != nil {
		return []ValidationError{{Field: field, Message: err.Error(), Code: ErrFormulaParse}}
	}

	var errs []ValidationError
	switch {
	case c.IsPhysical() && c.Aggregation == metadata.AggNone:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "metric reading a physical column must declare an aggregation",
			Code:    ErrMetricAggregation,
		})
	case fp.Metrics && c.Aggregation != metadata.AggNone:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("metric computed from other metrics must not declare aggregation %s", c.Aggregation),
			Code:    ErrMetricAggregation,
		})
	}

	if _, ok := c.Aggregation.ReAggregate(); !ok && c.Aggregation != metadata.AggNone && !fp.Local {
		for _, j := range fp.Joins {
			if j.Cardinality == metadata.ToMany {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("aggregation %s cannot be computed across toMany relationship %q", c.Aggregation, j.Name),
					Code:    ErrUnsupportedPattern,
				})
				break
			}
		}
	}
	return errs
}

func validateGrains(t *metadata.Table, field string, c *metadata.Column, parser *expr.Parser) []ValidationError {
	if len(c.Grains) == 0 {
		return []ValidationError{{Field: field, Message: "time dimension must declare at least one grain", Code: ErrTimeGrains}}
	}

	var errs []ValidationError
	seen := make(map[metadata.TimeGrain]bool)
	for _, g := range c.Grains {
		if seen[g.Grain] {
			errs = append(errs, ValidationError{
				Field: field, Message: fmt.Sprintf("grain %s declared twice", g.Grain), Code: ErrTimeGrains,
			})
		}
		seen[g.Grain] = true
		if g.Expression == "" {
			continue
		}
		if _, err := parser.Parse(t, c.Name, g.Expression); err != nil {
			errs = append(errs, ValidationError{
				Field: fmt.Sprintf("%s.grains.%s", field, g.Grain), Message: err.Error(), Code: ErrFormulaParse,
			})
		}
	}
	return errs
}

func validateArguments(field string, args []metadata.Argument) []ValidationError {
	var errs []ValidationError
	var names []string
	for _, a := range args {
		if slices.Contains(names, a.Name) {
			errs = append(errs, ValidationError{
				Field: field, Message: fmt.Sprintf("duplicate argument name: %q", a.Name), Code: ErrDuplicateName,
			})
		}
		names = append(names, a.Name)

		if !a.HasDefault {
			continue
		}
		if _, err := a.Normalize(a.Default); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.arguments.%s", field, a.Name),
				Message: fmt.Sprintf("default: %v", err),
				Code:    ErrArgumentDefault,
			})
		}
	}
	return errs
}
