package metadata

import (
	"fmt"
	"sort"
)

// Catalog is the linked, immutable set of tables known to an engine.
type Catalog struct {
	tables map[string]*Table
	names  []string
}

// NewCatalog indexes and links tables: column and join lookups, join
// targets, parent sources and column back pointers. Tables are consumed;
// callers must not mutate them afterwards.
func NewCatalog(tables ...*Table) (*Catalog, error) {
	c := &Catalog{tables: make(map[string]*Table, len(tables))}

	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table with empty name")
		}
		if _, dup := c.tables[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		c.tables[t.Name] = t
		c.names = append(c.names, t.Name)
	}
	sort.Strings(c.names)

	for _, t := range tables {
		if err := c.link(t); err != nil {
			return nil, err
		}
	}

	for _, t := range tables {
		if err := checkParentChain(t); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Catalog) link(t *Table) error {
	normalizeDefaults(t.Arguments)
	t.columns = make(map[string]*Column, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name == "" {
			return fmt.Errorf("table %q: column with empty name", t.Name)
		}
		if _, dup := t.columns[col.Name]; dup {
			return fmt.Errorf("table %q: duplicate column %q", t.Name, col.Name)
		}
		col.table = t
		normalizeDefaults(col.Arguments)
		t.columns[col.Name] = col
	}

	t.joins = make(map[string]*Join, len(t.Joins))
	for _, j := range t.Joins {
		if _, dup := t.joins[j.Name]; dup {
			return fmt.Errorf("table %q: duplicate join %q", t.Name, j.Name)
		}
		if _, clash := t.columns[j.Name]; clash {
			return fmt.Errorf("table %q: join %q shadows a column", t.Name, j.Name)
		}
		target, ok := c.tables[j.TargetName]
		if !ok {
			return fmt.Errorf("table %q: join %q targets unknown table %q", t.Name, j.Name, j.TargetName)
		}
		if j.Cardinality == "" {
			j.Cardinality = ToOne
		}
		if j.Type == "" {
			j.Type = JoinLeft
		}
		j.source = t
		j.target = target
		t.joins[j.Name] = j
	}

	if t.Source.Kind == SourceParent {
		parent, ok := c.tables[t.Source.Parent]
		if !ok {
			return fmt.Errorf("table %q: source table %q not found", t.Name, t.Source.Parent)
		}
		t.Source.parent = parent
	}
	if t.Source.Kind == SourceTable && t.Source.Name == "" {
		t.Source.Name = t.Name
	}
	return nil
}

// normalizeDefaults rewrites defaults to the canonical text supplied
// values get, so both produce the same join aliases and memo keys. An
// invalid default is left as declared for model validation to report.
func normalizeDefaults(args []Argument) {
	for i, a := range args {
		if !a.HasDefault {
			continue
		}
		if v, err := a.Normalize(a.Default); err == nil {
			args[i].Default = v
		}
	}
}

func checkParentChain(t *Table) error {
	seen := map[string]bool{t.Name: true}
	cur := t
	for cur.Source.Kind == SourceParent {
		cur = cur.Source.parent
		if seen[cur.Name] {
			return fmt.Errorf("table %q: source chain loops through %q", t.Name, cur.Name)
		}
		seen[cur.Name] = true
	}
	return nil
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns all tables sorted by name.
func (c *Catalog) Tables() []*Table {
	out := make([]*Table, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.tables[n])
	}
	return out
}
