package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/aggql/internal/metadata"
)

// CompileTable parses a CUE value into a metadata.Table.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the table struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`table: playerStats: { ... }`)
//	t, err := CompileTable(v.LookupPath(cue.ParsePath("table.playerStats")))
//
// Columns keep declaration order: dimensions, then time dimensions, then
// metrics.
func CompileTable(v cue.Value) (*metadata.Table, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	t := &metadata.Table{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		t.Name = labels[len(labels)-1].String()
	}

	var err error
	if t.Version, err = optionalString(v, "version"); err != nil {
		return nil, err
	}
	if t.VersionQuery, err = optionalString(v, "versionQuery"); err != nil {
		return nil, err
	}
	if t.Source, err = parseSource(v); err != nil {
		return nil, err
	}
	if t.Arguments, err = parseArguments(v.LookupPath(cue.ParsePath("arguments"))); err != nil {
		return nil, err
	}
	if t.Joins, err = parseJoins(v); err != nil {
		return nil, err
	}

	for _, kind := range []metadata.ColumnKind{metadata.KindDimension, metadata.KindTimeDimension, metadata.KindMetric} {
		cols, err := parseColumns(v, kind)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, cols...)
	}
	if len(t.Columns) == 0 {
		return nil, &CompileError{
			Field:   "columns",
			Message: "at least one dimension, time dimension or metric is required",
			Pos:     v.Pos(),
		}
	}

	return t, nil
}

// parseSource reads exactly one of source.table, source.sql, source.parent.
// A missing source reads the physical table named like the model.
func parseSource(v cue.Value) (metadata.Source, error) {
	src := v.LookupPath(cue.ParsePath("source"))
	if !src.Exists() {
		return metadata.Source{Kind: metadata.SourceTable}, nil
	}

	var out []metadata.Source
	for _, kind := range []struct {
		field string
		build func(string) metadata.Source
	}{
		{"table", func(s string) metadata.Source { return metadata.Source{Kind: metadata.SourceTable, Name: s} }},
		{"sql", func(s string) metadata.Source { return metadata.Source{Kind: metadata.SourceSQL, SQL: s} }},
		{"parent", func(s string) metadata.Source { return metadata.Source{Kind: metadata.SourceParent, Parent: s} }},
	} {
		s, err := optionalString(src, kind.field)
		if err != nil {
			return metadata.Source{}, err
		}
		if s != "" {
			out = append(out, kind.build(s))
		}
	}
	if len(out) != 1 {
		return metadata.Source{}, &CompileError{
			Field:   "source",
			Message: "exactly one of table, sql or parent is required",
			Pos:     src.Pos(),
		}
	}
	return out[0], nil
}

func parseJoins(v cue.Value) ([]*metadata.Join, error) {
	joinsVal := v.LookupPath(cue.ParsePath("joins"))
	if !joinsVal.Exists() {
		return nil, nil
	}
	iter, err := joinsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var joins []*metadata.Join
	for iter.Next() {
		jv := iter.Value()
		j := &metadata.Join{Name: iter.Label()}

		if j.TargetName, err = requiredString(jv, "to", "joins."+j.Name); err != nil {
			return nil, err
		}
		if j.On, err = optionalString(jv, "on"); err != nil {
			return nil, err
		}

		kind, err := optionalString(jv, "kind")
		if err != nil {
			return nil, err
		}
		switch metadata.Cardinality(kind) {
		case "", metadata.ToOne:
			j.Cardinality = metadata.ToOne
		case metadata.ToMany:
			j.Cardinality = metadata.ToMany
		default:
			return nil, &CompileError{
				Field:   "joins." + j.Name + ".kind",
				Message: fmt.Sprintf("unknown relationship kind %q (want toOne or toMany)", kind),
				Pos:     jv.Pos(),
			}
		}

		typ, err := optionalString(jv, "type")
		if err != nil {
			return nil, err
		}
		if j.Type, err = metadata.ParseJoinType(typ); err != nil {
			return nil, &CompileError{Field: "joins." + j.Name + ".type", Message: err.Error(), Pos: jv.Pos()}
		}
		if j.On == "" && j.Type != metadata.JoinCross {
			return nil, &CompileError{
				Field:   "joins." + j.Name + ".on",
				Message: "join condition is required unless type is CROSS",
				Pos:     jv.Pos(),
			}
		}

		joins = append(joins, j)
	}
	return joins, nil
}

var columnSections = map[metadata.ColumnKind]string{
	metadata.KindDimension:     "dimensions",
	metadata.KindTimeDimension: "timeDimensions",
	metadata.KindMetric:        "metrics",
}

func parseColumns(v cue.Value, kind metadata.ColumnKind) ([]*metadata.Column, error) {
	section := columnSections[kind]
	sectionVal := v.LookupPath(cue.ParsePath(section))
	if !sectionVal.Exists() {
		return nil, nil
	}
	iter, err := sectionVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var cols []*metadata.Column
	for iter.Next() {
		cv := iter.Value()
		field := section + "." + iter.Label()
		c := &metadata.Column{Name: iter.Label(), Kind: kind}

		typ, err := optionalString(cv, "type")
		if err != nil {
			return nil, err
		}
		switch {
		case typ == "" && kind == metadata.KindTimeDimension:
			c.Type = metadata.TypeTime
		case typ == "":
			c.Type = metadata.TypeText
		default:
			if c.Type, err = metadata.ParseValueType(typ); err != nil {
				return nil, &CompileError{Field: field + ".type", Message: err.Error(), Pos: cv.Pos()}
			}
		}

		if c.Formula, err = optionalString(cv, "formula"); err != nil {
			return nil, err
		}
		if c.Arguments, err = parseArguments(cv.LookupPath(cue.ParsePath("arguments"))); err != nil {
			return nil, err
		}
		if c.Tags, err = stringList(cv, "tags"); err != nil {
			return nil, err
		}
		if c.Values, err = stringList(cv, "values"); err != nil {
			return nil, err
		}

		switch kind {
		case metadata.KindMetric:
			agg, err := optionalString(cv, "aggregation")
			if err != nil {
				return nil, err
			}
			if c.Aggregation, err = metadata.ParseAggregation(agg); err != nil {
				return nil, &CompileError{Field: field + ".aggregation", Message: err.Error(), Pos: cv.Pos()}
			}
		case metadata.KindTimeDimension:
			if c.Grains, err = parseGrains(cv, field); err != nil {
				return nil, err
			}
		}

		cols = append(cols, c)
	}
	return cols, nil
}

// parseGrains accepts grains as a list of names or of {grain, expression}
// structs.
func parseGrains(v cue.Value, field string) ([]metadata.Grain, error) {
	grainsVal := v.LookupPath(cue.ParsePath("grains"))
	if !grainsVal.Exists() {
		return nil, nil
	}
	iter, err := grainsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var grains []metadata.Grain
	for iter.Next() {
		gv := iter.Value()
		var g metadata.Grain

		name, strErr := gv.String()
		if strErr != nil {
			if name, err = requiredString(gv, "grain", field+".grains"); err != nil {
				return nil, err
			}
			if g.Expression, err = optionalString(gv, "expression"); err != nil {
				return nil, err
			}
		}
		if g.Grain, err = metadata.ParseTimeGrain(name); err != nil {
			return nil, &CompileError{Field: field + ".grains", Message: err.Error(), Pos: gv.Pos()}
		}
		grains = append(grains, g)
	}
	return grains, nil
}

func parseArguments(v cue.Value) ([]metadata.Argument, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var args []metadata.Argument
	for iter.Next() {
		av := iter.Value()
		a := metadata.Argument{Name: iter.Label(), Type: metadata.TypeText}

		typ, err := optionalString(av, "type")
		if err != nil {
			return nil, err
		}
		if typ != "" {
			if a.Type, err = metadata.ParseValueType(typ); err != nil {
				return nil, &CompileError{Field: "arguments." + a.Name + ".type", Message: err.Error(), Pos: av.Pos()}
			}
		}

		if def := av.LookupPath(cue.ParsePath("default")); def.Exists() {
			if a.Default, err = scalarText(def); err != nil {
				return nil, err
			}
			a.HasDefault = true
		}
		if a.Values, err = stringList(av, "values"); err != nil {
			return nil, err
		}
		if a.TableSource, err = optionalString(av, "tableSource"); err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

// scalarText renders a string, int or bool default the way a client
// would type it.
func scalarText(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		return s, formatCUEError(err)
	case cue.IntKind:
		i, err := v.Int64()
		return fmt.Sprint(i), formatCUEError(err)
	case cue.BoolKind:
		b, err := v.Bool()
		return fmt.Sprint(b), formatCUEError(err)
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "default",
			Message: "write decimal defaults as strings to keep their exact text",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "default",
			Message: fmt.Sprintf("unsupported default kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredString(v cue.Value, field, context string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   context + "." + field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(field))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
