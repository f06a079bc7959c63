package schema

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning reports optional attributes whose active_when conditions
// depend on each other.
//
// Cycles are warnings, not errors: conditions read stored values, never
// other attributes' activation, so a cycle still resolves. It usually means
// none of the attributes can become active from a default state.
type CycleWarning struct {
	Type    string   `json:"type"`
	Path    []string `json:"path"`    // e.g. ["A", "B", "A"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// ActivationCycles reports condition cycles for every type in the
// registry, in type name order.
func (r *Registry) ActivationCycles() []CycleWarning {
	warnings := []CycleWarning{}
	for _, name := range r.Names() {
		typ, _ := r.Lookup(name)
		warnings = append(warnings, typ.ActivationCycles()...)
	}
	return warnings
}

// ActivationCycles reports attributes whose conditions form a cycle,
// including conditions on their own attribute.
//
// The algorithm:
//  1. Build attribute → attributes its condition reads
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
func (t *Type) ActivationCycles() []CycleWarning {
	graph := t.dependencyGraph()
	if len(graph.edges) == 0 {
		return []CycleWarning{}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || graph.hasSelfLoop(scc[0]) {
			warnings = append(warnings, t.cycleWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps attribute name → attribute names its condition
// reads. Nodes keep declaration order so results are deterministic.
type dependencyGraph struct {
	nodes []string
	edges map[string][]string
}

func (t *Type) dependencyGraph() dependencyGraph {
	g := dependencyGraph{edges: make(map[string][]string)}
	for _, d := range t.attrs {
		g.nodes = append(g.nodes, d.Name())
		if d.Condition() == nil {
			continue
		}
		for _, field := range conditionFields(d.Condition()) {
			// Conditions on undeclared fields never hold; they cannot be
			// part of a cycle.
			if _, ok := t.byName[field]; ok && !slices.Contains(g.edges[d.Name()], field) {
				g.edges[d.Name()] = append(g.edges[d.Name()], field)
			}
		}
	}
	return g
}

func (g dependencyGraph) hasSelfLoop(node string) bool {
	return slices.Contains(g.edges[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(g dependencyGraph) [][]string {
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

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
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

	for _, node := range g.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func (t *Type) cycleWarning(scc []string, g dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		attr := scc[0]
		return CycleWarning{
			Type:    t.name,
			Path:    []string{attr, attr},
			Message: fmt.Sprintf("%s: %s is active_when on itself", t.name, attr),
			Level:   "warning",
		}
	}

	path := cyclePath(scc, g)
	return CycleWarning{
		Type:    t.name,
		Path:    path,
		Message: fmt.Sprintf("%s: activation cycle %s", t.name, strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// cyclePath walks edges inside the SCC from its first declared member until
// it returns to the start.
func cyclePath(scc []string, g dependencyGraph) []string {
	start := scc[0]
	for _, n := range g.nodes {
		if slices.Contains(scc, n) {
			start = n
			break
		}
	}

	current := start
	path := []string{current}
	visited := map[string]bool{}
	for {
		visited[current] = true

		var next string
		for _, neighbor := range g.edges[current] {
			if slices.Contains(scc, neighbor) && (!visited[neighbor] || neighbor == start) {
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
