package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
)

// FormulaCycle is a set of columns and join conditions whose templates
// refer back to themselves. Queries touching any of them fail at
// resolution time; reporting them at load time names the whole loop.
type FormulaCycle struct {
	Path    []string `json:"path"`    // ["loop.a", "loop.b", "loop.a"]
	Message string   `json:"message"` // Human-readable description
}

// AnalyzeCycles performs static cycle analysis over column formulas and
// join conditions.
//
// Nodes are "table.column" for columns and "table->join" for join
// conditions, the same keys the resolver reports at query time. Edges
// follow every reference in a template:
//   - {{col}} and {{sql column=col}}: to table.col
//   - {{join.col}}: to table->join and to target.col
//   - inside a join condition, {{join.$x}} reads the joined row and adds
//     no edge back to the join itself
//
// Strongly connected components (Tarjan) of size > 1, and self-loops,
// are cycles. Templates that do not parse are skipped; ValidateCatalog
// reports them. The result is sorted by path for stable output.
func AnalyzeCycles(cat *metadata.Catalog, parser *expr.Parser) []FormulaCycle {
	graph := buildDependencyGraph(cat, parser)
	sccs := tarjanSCC(graph)

	cycles := []FormulaCycle{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			cycles = append(cycles, cycleFromSCC(scc, graph))
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i].Path, " ") < strings.Join(cycles[j].Path, " ")
	})
	return cycles
}

// dependencyGraph maps a node to the nodes its template reads.
type dependencyGraph map[string][]string

func columnNode(t *metadata.Table, col string) string { return t.Name + "." + col }
func joinNode(j *metadata.Join) string             { return j.Source().Name + "->" + j.Name }

func buildDependencyGraph(cat *metadata.Catalog, parser *expr.Parser) dependencyGraph {
	graph := make(dependencyGraph)

	for _, t := range cat.Tables() {
		for _, c := range t.Columns {
			node := columnNode(t, c.Name)
			graph[node] = []string{}
			tmpl, err := parser.ParseColumn(c)
			if err != nil {
				continue
			}
			for _, ref := range tmpl.References() {
				graph[node] = appendEdges(graph[node], ref, nil)
			}
		}
		for _, j := range t.Joins {
			node := joinNode(j)
			graph[node] = []string{}
			if j.On == "" {
				continue
			}
			tmpl, err := parser.ParseJoin(j)
			if err != nil {
				continue
			}
			for _, ref := range tmpl.References() {
				graph[node] = appendEdges(graph[node], ref, j)
			}
		}
	}

	for node, edges := range graph {
		graph[node] = dedupe(edges)
	}
	return graph
}

// appendEdges adds the nodes ref reads. self is the join whose condition
// is being walked, if any.
func appendEdges(edges []string, ref expr.Reference, self *metadata.Join) []string {
	switch r := ref.(type) {
	case expr.Logical:
		return append(edges, columnNode(r.Source, r.Column.Name))
	case expr.Helper:
		if r.Join == nil {
			return append(edges, columnNode(r.Source, r.Column.Name))
		}
		if r.Join != self {
			edges = append(edges, joinNode(r.Join))
		}
		return append(edges, columnNode(r.Join.Target(), r.Column.Name))
	case expr.Join:
		if r.Join != self {
			edges = append(edges, joinNode(r.Join))
		}
		return appendEdges(edges, r.Child, nil)
	}
	return edges
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of node keys.
// Single-node SCCs without self-loops are NOT cycles. Nodes are visited
// in sorted order so the result does not depend on map iteration.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleFromSCC(scc []string, graph dependencyGraph) FormulaCycle {
	sort.Strings(scc)
	if len(scc) == 1 {
		node := scc[0]
		return FormulaCycle{
			Path:    []string{node, node},
			Message: fmt.Sprintf("formula refers to itself: %s -> %s", node, node),
		}
	}

	path := reconstructCyclePath(scc, graph)
	return FormulaCycle{
		Path:    path,
		Message: fmt.Sprintf("formula cycle: %s", strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at the smallest node in the SCC, follow edges to other
// SCC members, continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}

// CycleErrors converts cycles into validation errors.
func CycleErrors(cycles []FormulaCycle) []ValidationError {
	errs := make([]ValidationError, 0, len(cycles))
	for _, c := range cycles {
		errs = append(errs, ValidationError{Field: c.Path[0], Message: c.Message, Code: ErrFormulaCycle})
	}
	return errs
}
