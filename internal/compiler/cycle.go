package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factrule/internal/ast"
)

// Cycle levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// CycleWarning represents a cycle among a rule set's constants and
// functions.
//
// A cycle through a constant can never be evaluated and is an error.
// Recursion between functions is a warning: it terminates when a branch
// stops recursing, and the engine's call depth limit catches it otherwise.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["constant:a", "constant:b", "constant:a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "error" or "warning"
}

// Error lets an error-level cycle travel as an error.
func (w CycleWarning) Error() string {
	return w.Message
}

// AnalyzeCycles builds the reference graph of constants and functions and
// reports every strongly connected component that forms a cycle.
//
// Nodes are named "constant:<name>" and "function:<name>". Edges follow
// constant references and function calls inside each declaration. Rules
// are graph sinks and never part of a cycle.
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(rs *ast.RuleSet) []CycleWarning {
	graph := buildDependencyGraph(rs)

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps a declaration to the declarations it references.
type dependencyGraph map[string][]string

func constantNode(name string) string { return "constant:" + name }
func functionNode(name string) string { return "function:" + name }

func buildDependencyGraph(rs *ast.RuleSet) dependencyGraph {
	graph := make(dependencyGraph)
	user := make(map[string]bool, len(rs.Functions))
	for _, fn := range rs.Functions {
		user[fn.Name] = true
	}

	edges := func(from string, root *ast.Node) {
		graph[from] = []string{}
		ast.Walk(root, func(n *ast.Node) bool {
			var to string
			switch {
			case n.Kind == ast.KindConstRef:
				to = constantNode(n.Name)
			case n.Kind == ast.KindCall && user[n.Name]:
				to = functionNode(n.Name)
			default:
				return true
			}
			if !slices.Contains(graph[from], to) {
				graph[from] = append(graph[from], to)
			}
			return true
		})
		slices.Sort(graph[from])
	}

	for _, c := range rs.Constants {
		edges(constantNode(c.Name), c.Expr)
	}
	for _, fn := range rs.Functions {
		edges(functionNode(fn.Name), fn.Body)
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is deterministic.
//
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

		// v is a root node: pop the stack into an SCC
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
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	slices.SortFunc(sccs, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	level := LevelWarning
	for _, n := range scc {
		if strings.HasPrefix(n, "constant:") {
			level = LevelError
		}
	}

	path := []string{scc[0], scc[0]}
	if len(scc) > 1 {
		path = reconstructCyclePath(scc, graph)
	}

	kind := "recursion"
	if level == LevelError {
		kind = "constant cycle"
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("%s: %s", kind, strings.Join(path, " -> ")),
		Level:   level,
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns to it.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	start := scc[0]
	current := start
	path := []string{current}
	visited := map[string]bool{}

	for {
		visited[current] = true
		next := ""
		for _, neighbor := range graph[current] {
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

	if path[len(path)-1] != start {
		path = append(path, start)
	}
	return path
}

// HasErrors reports whether any cycle is an error.
func HasErrors(ws []CycleWarning) bool {
	return slices.ContainsFunc(ws, func(w CycleWarning) bool { return w.Level == LevelError })
}
