package expr

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/roach88/aggql/internal/metadata"
)

// ParseError reports a malformed formula. It is a model error: formulas
// are static, so the same input always fails the same way.
type ParseError struct {
	Table      string
	Column     string
	Expression string
	Message    string
}

func (e *ParseError) Error() string {
	where := e.Table
	if e.Column != "" {
		where += "." + e.Column
	}
	return fmt.Sprintf("parse error in %s: %s in '%s'", where, e.Message, e.Expression)
}

// IsParseError reports whether err wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parser turns formula text into Templates. Parsed column formulas are
// cached per (table, column) for the lifetime of the Parser.
//
// Thread-safety: concurrent ParseColumn calls may race to fill the same
// entry; both compute the same Template and the first store wins.
type Parser struct {
	cache sync.Map // cacheKey -> *Template
}

type cacheKey struct {
	table  string
	column string
	join   string
	source bool
}

// NewParser creates a Parser with an empty cache.
func NewParser() *Parser {
	return &Parser{}
}

// ParseColumn parses the expression of c, using the cache.
func (p *Parser) ParseColumn(c *metadata.Column) (*Template, error) {
	key := cacheKey{table: c.Table().Name, column: c.Name}
	if cached, ok := p.cache.Load(key); ok {
		return cached.(*Template), nil
	}
	tmpl, err := p.Parse(c.Table(), c.Name, c.Expression())
	if err != nil {
		return nil, err
	}
	actual, _ := p.cache.LoadOrStore(key, tmpl)
	return actual.(*Template), nil
}

// ParseJoin parses the ON condition of j in the context of its source
// table, using the cache.
func (p *Parser) ParseJoin(j *metadata.Join) (*Template, error) {
	return p.cached(cacheKey{table: j.Source().Name, join: j.Name}, j.Source(), j.On)
}

// ParseSource parses the subquery text of a SQL-sourced table, using the
// cache.
func (p *Parser) ParseSource(t *metadata.Table) (*Template, error) {
	return p.cached(cacheKey{table: t.Name, source: true}, t, t.Source.SQL)
}

func (p *Parser) cached(key cacheKey, table *metadata.Table, text string) (*Template, error) {
	if cached, ok := p.cache.Load(key); ok {
		return cached.(*Template), nil
	}
	tmpl, err := p.Parse(table, "", text)
	if err != nil {
		return nil, err
	}
	actual, _ := p.cache.LoadOrStore(key, tmpl)
	return actual.(*Template), nil
}

// Parse parses text in the context of table. column names the column the
// text belongs to (empty for join conditions and ad hoc text) and is used
// to reject self references.
func (p *Parser) Parse(table *metadata.Table, column, text string) (*Template, error) {
	fail := func(msg string, args ...any) error {
		return &ParseError{Table: table.Name, Column: column, Expression: text, Message: fmt.Sprintf(msg, args...)}
	}

	tmpl := &Template{Text: text}
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				tmpl.Segments = append(tmpl.Segments, Segment{Literal: rest})
			}
			break
		}
		if start > 0 {
			tmpl.Segments = append(tmpl.Segments, Segment{Literal: rest[:start]})
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return nil, fail("unterminated reference")
		}
		body := strings.TrimSpace(rest[start+2 : start+end])
		rest = rest[start+end+2:]

		ref, err := parseReference(table, column, body)
		if err != nil {
			return nil, fail("%s", err.Error())
		}
		tmpl.Segments = append(tmpl.Segments, Segment{Ref: ref})
	}
	return tmpl, nil
}

const (
	columnArgPrefix = "$$column.args."
	tableArgPrefix  = "$$table.args."
	columnExprToken = "$$column.expr"
)

func parseReference(table *metadata.Table, column, body string) (Reference, error) {
	switch {
	case body == "":
		return nil, fmt.Errorf("empty reference")
	case strings.HasPrefix(body, columnArgPrefix):
		return argReference(body, columnArgPrefix, func(n string) Reference { return ColumnArg{Name: n} })
	case strings.HasPrefix(body, tableArgPrefix):
		return argReference(body, tableArgPrefix, func(n string) Reference { return TableArg{Name: n} })
	case body == columnExprToken:
		return ColumnExpr{}, nil
	case strings.HasPrefix(body, "$$"):
		return nil, fmt.Errorf("unknown reference '%s'", body)
	case body == "sql" || strings.HasPrefix(body, "sql "):
		return parseHelper(table, column, body)
	case strings.Contains(body, "."):
		return parsePath(table, body)
	default:
		return parseLeaf(table, column, body)
	}
}

func argReference(body, prefix string, build func(string) Reference) (Reference, error) {
	name := strings.TrimPrefix(body, prefix)
	if !identPattern.MatchString(name) {
		return nil, fmt.Errorf("invalid argument name '%s'", name)
	}
	return build(name), nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// parseLeaf handles a single segment: $physical or a logical column name.
func parseLeaf(table *metadata.Table, column, name string) (Reference, error) {
	if physical, ok := strings.CutPrefix(name, "$"); ok {
		if !identPattern.MatchString(physical) {
			return nil, fmt.Errorf("invalid physical column '%s'", physical)
		}
		return Physical{Source: table, Name: physical}, nil
	}
	if column != "" && name == column {
		return nil, fmt.Errorf("column '%s' references itself", name)
	}
	target, ok := table.Column(name)
	if !ok {
		return nil, fmt.Errorf("unknown reference '%s'", name)
	}
	return Logical{Source: table, Column: target}, nil
}

// parsePath handles rel.rel2.name and rel.$name.
func parsePath(table *metadata.Table, path string) (Reference, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("malformed path '%s'", path)
		}
	}
	return buildJoin(table, parts, path)
}

func buildJoin(table *metadata.Table, parts []string, path string) (Reference, error) {
	if len(parts) == 1 {
		return parseLeaf(table, "", parts[0])
	}
	join, ok := table.Join(parts[0])
	if !ok {
		return nil, fmt.Errorf("unknown relationship '%s' in path '%s'", parts[0], path)
	}
	child, err := buildJoin(join.Target(), parts[1:], path)
	if err != nil {
		return nil, err
	}
	return Join{Source: table, Join: join, Child: child}, nil
}

var (
	helperAttrPattern = regexp.MustCompile(`(\w+)\s*=\s*'([^']*)'`)
	pinnedArgPattern  = regexp.MustCompile(`\[([^\[\]:]+):([^\[\]]*)\]`)
)

// parseHelper handles {{sql from='alias' column='name[arg:value]...'}}
// and {{sql from='alias' column='$physical'}}.
func parseHelper(table *metadata.Table, column, body string) (Reference, error) {
	attrs := map[string]string{}
	remainder := strings.TrimSpace(strings.TrimPrefix(body, "sql"))
	for _, m := range helperAttrPattern.FindAllStringSubmatch(remainder, -1) {
		attrs[m[1]] = m[2]
	}
	if leftover := strings.TrimSpace(helperAttrPattern.ReplaceAllString(remainder, "")); leftover != "" {
		return nil, fmt.Errorf("malformed helper arguments '%s'", leftover)
	}

	spec, ok := attrs["column"]
	if !ok || spec == "" {
		return nil, fmt.Errorf("helper requires a column")
	}

	physical, isPhysical := strings.CutPrefix(spec, "$")
	if isPhysical {
		spec = physical
	}
	name, pinned, err := parsePinned(spec)
	if err != nil {
		return nil, err
	}

	ref := Helper{Source: table, Pinned: pinned}
	target := table
	if from := attrs["from"]; from != "" && from != table.Name {
		join, ok := table.Join(from)
		if !ok {
			return nil, fmt.Errorf("unknown relationship '%s' in helper", from)
		}
		ref.Join = join
		target = join.Target()
	}

	// column='$name' reads a physical column of the target, which takes
	// no arguments.
	if isPhysical {
		if len(pinned) > 0 {
			return nil, fmt.Errorf("physical column '$%s' takes no arguments", name)
		}
		leaf := Physical{Source: target, Name: name}
		if ref.Join == nil {
			return leaf, nil
		}
		return Join{Source: table, Join: ref.Join, Child: leaf}, nil
	}

	if ref.Join == nil && name == column {
		return nil, fmt.Errorf("column '%s' references itself", name)
	}
	col, ok := target.Column(name)
	if !ok {
		return nil, fmt.Errorf("unknown reference '%s' on '%s'", name, target.Name)
	}
	ref.Column = col
	return ref, nil
}

// parsePinned splits "name[a:1][b:2]" into the name and its pinned values.
func parsePinned(spec string) (string, map[string]string, error) {
	open := strings.Index(spec, "[")
	if open < 0 {
		if !identPattern.MatchString(spec) {
			return "", nil, fmt.Errorf("invalid column name '%s'", spec)
		}
		return spec, map[string]string{}, nil
	}

	name := spec[:open]
	if !identPattern.MatchString(name) {
		return "", nil, fmt.Errorf("invalid column name '%s'", name)
	}

	brackets := spec[open:]
	matches := pinnedArgPattern.FindAllStringSubmatchIndex(brackets, -1)
	pinned := make(map[string]string, len(matches))
	pos := 0
	for _, m := range matches {
		if m[0] != pos {
			return "", nil, fmt.Errorf("malformed argument brackets '%s'", brackets)
		}
		key := brackets[m[2]:m[3]]
		raw := brackets[m[4]:m[5]]
		value, err := url.QueryUnescape(raw)
		if err != nil {
			return "", nil, fmt.Errorf("malformed argument value '%s': %v", raw, err)
		}
		pinned[strings.TrimSpace(key)] = value
		pos = m[1]
	}
	if pos != len(brackets) {
		return "", nil, fmt.Errorf("malformed argument brackets '%s'", brackets)
	}
	return name, pinned, nil
}
