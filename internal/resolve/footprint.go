package resolve

import (
	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
)

// Footprint summarizes where a column's expression reads from.
type Footprint struct {
	// Local is set when some reference reads the owning table directly.
	Local bool
	// Joins are the first-hop relationships traversed, in first-use order.
	Joins []*metadata.Join
	// Metrics is set when the expression references another metric.
	Metrics bool
	// FanOut is the first toMany relationship reached at any depth. Nil
	// means every row of the owning table yields at most one joined row.
	FanOut *metadata.Join
}

// FootprintOf walks col's template and the templates of the columns it
// references, across relationships. Cycles are not reported here; Column
// reports them.
func FootprintOf(parser *expr.Parser, col *metadata.Column) (Footprint, error) {
	w := newFootprintWalker(parser)
	if err := w.column(col, true); err != nil {
		return Footprint{}, err
	}
	return w.fp, nil
}

// FootprintOfTemplate is FootprintOf for an ad hoc expression, such as a
// filter on a relationship path.
func FootprintOfTemplate(parser *expr.Parser, tmpl *expr.Template) (Footprint, error) {
	w := newFootprintWalker(parser)
	if err := w.template(tmpl); err != nil {
		return Footprint{}, err
	}
	return w.fp, nil
}

type footprintWalker struct {
	parser *expr.Parser
	fp     Footprint

	seen   map[*metadata.Column]bool
	joined map[*metadata.Join]bool
	far    map[*metadata.Column]bool
}

func newFootprintWalker(parser *expr.Parser) *footprintWalker {
	return &footprintWalker{
		parser: parser,
		seen:   map[*metadata.Column]bool{},
		joined: map[*metadata.Join]bool{},
		far:    map[*metadata.Column]bool{},
	}
}

func (w *footprintWalker) addJoin(j *metadata.Join) {
	if !w.joined[j] {
		w.joined[j] = true
		w.fp.Joins = append(w.fp.Joins, j)
	}
}

// column walks a column of the owning table.
func (w *footprintWalker) column(c *metadata.Column, root bool) error {
	if w.seen[c] {
		return nil
	}
	w.seen[c] = true
	if !root && c.IsMetric() {
		w.fp.Metrics = true
	}
	tmpl, err := w.parser.ParseColumn(c)
	if err != nil {
		return err
	}
	return w.template(tmpl)
}

func (w *footprintWalker) template(tmpl *expr.Template) error {
	for _, ref := range tmpl.References() {
		var err error
		switch r := ref.(type) {
		case expr.Physical:
			w.fp.Local = true
		case expr.Logical:
			err = w.column(r.Column, false)
		case expr.Helper:
			if r.Join == nil {
				err = w.column(r.Column, false)
				break
			}
			w.addJoin(r.Join)
			err = w.beyond(r.Join, nil, r.Column)
		case expr.Join:
			w.addJoin(r.Join)
			err = w.beyond(r.Join, r.Child, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// beyond follows a traversal of j, either to child or to col on the
// target, looking for the first toMany hop.
func (w *footprintWalker) beyond(j *metadata.Join, child expr.Reference, col *metadata.Column) error {
	if w.fp.FanOut != nil {
		return nil
	}
	if j.Cardinality == metadata.ToMany {
		w.fp.FanOut = j
		return nil
	}
	if col != nil {
		return w.farColumn(col)
	}
	switch r := child.(type) {
	case expr.Join:
		return w.beyond(r.Join, r.Child, nil)
	case expr.Logical:
		return w.farColumn(r.Column)
	case expr.Helper:
		if r.Join == nil {
			return w.farColumn(r.Column)
		}
		return w.beyond(r.Join, nil, r.Column)
	}
	return nil
}

// farColumn walks a column of a joined table for fan-out only.
func (w *footprintWalker) farColumn(c *metadata.Column) error {
	if w.far[c] || w.fp.FanOut != nil {
		return nil
	}
	w.far[c] = true
	tmpl, err := w.parser.ParseColumn(c)
	if err != nil {
		return err
	}
	for _, ref := range tmpl.References() {
		var err error
		switch r := ref.(type) {
		case expr.Logical:
			err = w.farColumn(r.Column)
		case expr.Helper:
			if r.Join == nil {
				err = w.farColumn(r.Column)
			} else {
				err = w.beyond(r.Join, nil, r.Column)
			}
		case expr.Join:
			err = w.beyond(r.Join, r.Child, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
