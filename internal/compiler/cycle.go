package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/evactor/internal/ir"
)

// CycleWarning reports actor types that fold each other's events.
//
// Cycles are warnings, not errors: each type replays the other's log
// directly, so replay terminates. They usually signal a modeling mistake,
// since every write to one member forces re-reads across the whole cycle.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["trip", "vehicle", "trip"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeCycles builds the "folds events of" graph over manifests and
// reports every strongly connected component as a warning. An edge A -> B
// exists when A aggregates from B or handles an event owned by B.
//
// A DAG returns an empty warning list.
func AnalyzeCycles(manifests []*Manifest) []CycleWarning {
	graph := buildDependencyGraph(manifests)

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, ",") < strings.Join(warnings[j].Path, ",")
	})
	return warnings
}

// dependencyGraph maps actor type -> types whose events it folds.
type dependencyGraph map[string][]string

func buildDependencyGraph(manifests []*Manifest) dependencyGraph {
	graph := make(dependencyGraph)
	for _, m := range manifests {
		seen := make(map[string]bool)
		edges := []string{}
		add := func(t string) {
			if t != "" && !seen[t] {
				seen[t] = true
				edges = append(edges, t)
			}
		}
		for _, src := range m.AggregateFrom {
			add(src)
		}
		for _, topic := range sortedTopics(m.Events) {
			owner, _, _ := strings.Cut(ir.Qualify(m.Type, topic), ".")
			if owner != m.Type {
				add(owner)
			}
		}
		sort.Strings(edges)
		graph[m.Type] = edges
	}
	return graph
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
// Returns a list of SCCs, where each SCC is a list of actor types.
// Single-node SCCs without self-loops are NOT cycles.
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
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
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

	// Visit nodes in sorted order so results are stable
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

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("Actor folds its own events through a source: %s → %s", scc[0], scc[0]),
			Level:   "warning",
		}
	}

	sort.Strings(scc)
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Actors fold each other's events: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}
