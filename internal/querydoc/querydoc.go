// Package querydoc decodes YAML query documents into queryir queries.
//
// A document names either a table or a nested source document:
//
//	table: playerStats
//	arguments: {minimumRating: "Good"}
//	dimensions:
//	  - field: overallRating
//	timeDimensions:
//	  - {field: recordedDate, grain: MONTH}
//	metrics:
//	  - {field: convertedHighScore, alias: eurHighScore, args: {currency: EUR}}
//	filter:
//	  and:
//	    - {field: overallRating, op: in, values: [Good, Great]}
//	    - {field: highScore, op: lt, values: [45]}
//	sort:
//	  - {field: highScore, direction: desc}
//	pagination: {limit: 10, total: true}
//
// The filter is split into WHERE and HAVING parts against the built query.
package querydoc

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
)

// Document is the YAML form of a query.
type Document struct {
	Table       string            `yaml:"table,omitempty"`
	Source      *Document         `yaml:"source,omitempty"`
	Arguments   map[string]string `yaml:"arguments,omitempty"`
	Dimensions  []Field           `yaml:"dimensions,omitempty"`
	TimeDims    []Field           `yaml:"timeDimensions,omitempty"`
	Metrics     []Field           `yaml:"metrics,omitempty"`
	Filter      *Filter           `yaml:"filter,omitempty"`
	Sort        []Sort            `yaml:"sort,omitempty"`
	Pagination  *Pagination       `yaml:"pagination,omitempty"`
	BypassCache bool              `yaml:"bypassCache,omitempty"`
}

// Field selects one column.
type Field struct {
	Field string            `yaml:"field"`
	Alias string            `yaml:"alias,omitempty"`
	Args  map[string]string `yaml:"args,omitempty"`
	Grain string            `yaml:"grain,omitempty"`
}

// Filter is either a boolean combinator or a predicate.
type Filter struct {
	And []Filter `yaml:"and,omitempty"`
	Or  []Filter `yaml:"or,omitempty"`
	Not *Filter  `yaml:"not,omitempty"`

	Field  string            `yaml:"field,omitempty"`
	Op     string            `yaml:"op,omitempty"`
	Values []any             `yaml:"values,omitempty"`
	Args   map[string]string `yaml:"args,omitempty"`
	Grain  string            `yaml:"grain,omitempty"`
}

// Sort orders by a projected field. Direction defaults to ascending.
type Sort struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction,omitempty"`
}

// Pagination mirrors queryir.Pagination.
type Pagination struct {
	Limit  int  `yaml:"limit,omitempty"`
	Offset int  `yaml:"offset,omitempty"`
	Total  bool `yaml:"total,omitempty"`
}

// Load reads and decodes a query document. Unknown keys are rejected.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a query document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing query YAML: %w", err)
	}
	return &doc, nil
}

// Build resolves field names against cat and returns the query. Filters
// are split into WHERE and HAVING; the query is not validated here.
func (d *Document) Build(cat *metadata.Catalog) (*queryir.Query, error) {
	q := &queryir.Query{
		Arguments:   d.Arguments,
		BypassCache: d.BypassCache,
	}

	switch {
	case d.Source != nil && d.Table != "":
		return nil, fmt.Errorf("query names both table %q and a source query", d.Table)
	case d.Source != nil:
		inner, err := d.Source.Build(cat)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		q.Source = inner
	case d.Table != "":
		t, ok := cat.Table(d.Table)
		if !ok {
			return nil, fmt.Errorf("unknown table %q", d.Table)
		}
		q.Table = t
	default:
		return nil, fmt.Errorf("query needs a table or a source query")
	}

	var err error
	if q.Dimensions, err = d.projections(q, d.Dimensions); err != nil {
		return nil, err
	}
	if q.TimeDimensions, err = d.projections(q, d.TimeDims); err != nil {
		return nil, err
	}
	if q.Metrics, err = d.projections(q, d.Metrics); err != nil {
		return nil, err
	}

	for _, s := range d.Sort {
		dir := queryir.Ascending
		switch strings.ToLower(s.Direction) {
		case "", "asc":
		case "desc":
			dir = queryir.Descending
		default:
			return nil, fmt.Errorf("sort %s: unknown direction %q", s.Field, s.Direction)
		}
		q.Sort = append(q.Sort, queryir.Sort{Field: s.Field, Direction: dir})
	}

	if p := d.Pagination; p != nil {
		q.Pagination = &queryir.Pagination{Limit: p.Limit, Offset: p.Offset, Total: p.Total}
	}

	if d.Filter != nil {
		f, err := d.Filter.expression()
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		if q.Where, q.Having, err = queryir.Split(q, f); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (d *Document) projections(q *queryir.Query, fields []Field) ([]queryir.Projection, error) {
	var out []queryir.Projection
	for _, f := range fields {
		col, err := lookup(q, f.Field)
		if err != nil {
			return nil, err
		}
		grain, err := parseGrain(f.Grain)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Field, err)
		}
		out = append(out, queryir.Projection{
			Column:    col,
			Alias:     aliasFor(col, f),
			Arguments: f.Args,
			Grain:     grain,
		})
	}
	return out, nil
}

// lookup finds a table column, or for nested queries the column behind
// the source projection of that name.
func lookup(q *queryir.Query, name string) (*metadata.Column, error) {
	if q.Source != nil {
		p, ok := q.Source.Projection(name)
		if !ok {
			return nil, fmt.Errorf("source query has no field %q", name)
		}
		return p.Column, nil
	}
	col, ok := q.Table.Column(name)
	if !ok {
		return nil, fmt.Errorf("table %s has no field %q", q.Table.Name, name)
	}
	return col, nil
}

// aliasFor keeps the requested name visible when a nested field reads a
// source projection that was itself aliased.
func aliasFor(col *metadata.Column, f Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	if f.Field != col.Name {
		return f.Field
	}
	return ""
}

func parseGrain(s string) (metadata.TimeGrain, error) {
	if s == "" {
		return "", nil
	}
	return metadata.ParseTimeGrain(s)
}

func (f *Filter) expression() (queryir.FilterExpression, error) {
	set := 0
	for _, present := range []bool{len(f.And) > 0, len(f.Or) > 0, f.Not != nil, f.Field != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("filter node needs exactly one of and, or, not or field")
	}

	switch {
	case len(f.And) > 0:
		ops, err := operands(f.And)
		if err != nil {
			return nil, err
		}
		return &queryir.And{Operands: ops}, nil
	case len(f.Or) > 0:
		ops, err := operands(f.Or)
		if err != nil {
			return nil, err
		}
		return &queryir.Or{Operands: ops}, nil
	case f.Not != nil:
		op, err := f.Not.expression()
		if err != nil {
			return nil, err
		}
		return &queryir.Not{Operand: op}, nil
	}

	op, ok := queryir.ParseOperator(strings.ToLower(f.Op))
	if !ok {
		return nil, fmt.Errorf("field %s: unknown operator %q", f.Field, f.Op)
	}
	grain, err := parseGrain(f.Grain)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Field, err)
	}
	values := make([]ir.IRValue, 0, len(f.Values))
	for i, v := range f.Values {
		iv, err := ir.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: values[%d]: %w", f.Field, i, err)
		}
		values = append(values, iv)
	}
	return &queryir.Predicate{
		Field:     f.Field,
		Arguments: f.Args,
		Grain:     grain,
		Operator:  op,
		Values:    values,
	}, nil
}

func operands(filters []Filter) ([]queryir.FilterExpression, error) {
	out := make([]queryir.FilterExpression, 0, len(filters))
	for i := range filters {
		e, err := filters[i].expression()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
