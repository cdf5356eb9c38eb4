// Package graph provides the directed-graph algorithms pkg/factory uses to
// reject cyclic subtree references at tree-build time.
//
// Cycle detection and topological sort adapted from TaskWing
// (https://github.com/josephgoksu/TaskWing) under MIT License.
package graph

import (
	"fmt"
	"strings"
)

// Graph is a directed graph of subtree IDs. An edge from->to means the
// subtree "from" includes the subtree "to" somewhere in its XML body.
type Graph struct {
	nodes map[string]bool
	edges map[string][]string
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
}

// AddNode registers a subtree ID with the graph.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = true
	if _, exists := g.edges[id]; !exists {
		g.edges[id] = []string{}
	}
}

// AddEdge records that subtree "from" includes subtree "to". It rejects the
// edge with a *CycleError if adding it would make the inclusion graph
// cyclic — the case pkg/factory must reject (a subtree that
// (transitively) includes itself).
func (g *Graph) AddEdge(from, to string) error {
	g.AddNode(from)
	g.AddNode(to)

	if g.WouldCreateCycle(from, to) {
		hasCycle, path := g.HasCycleAfterEdge(from, to)
		if hasCycle {
			return &CycleError{Path: path}
		}
	}

	g.edges[from] = append(g.edges[from], to)
	return nil
}

// HasCycle performs DFS-based cycle detection over the whole graph,
// returning the offending reference chain if one exists.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(node string) (bool, []string)
	dfs = func(node string) (bool, []string) {
		visited[node] = true
		recStack[node] = true

		for _, neighbor := range g.edges[node] {
			if !visited[neighbor] {
				parent[neighbor] = node
				if hasCycle, path := dfs(neighbor); hasCycle {
					return true, path
				}
			} else if recStack[neighbor] {
				cycle := []string{neighbor}
				current := node
				for current != neighbor {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				cycle = append([]string{neighbor}, cycle...)
				return true, cycle
			}
		}

		recStack[node] = false
		return false, nil
	}

	for node := range g.nodes {
		if !visited[node] {
			if hasCycle, path := dfs(node); hasCycle {
				return true, path
			}
		}
	}

	return false, nil
}

// HasCycleAfterEdge checks whether adding from->to would create a cycle,
// without mutating the graph on return.
func (g *Graph) HasCycleAfterEdge(from, to string) (bool, []string) {
	original := make([]string, len(g.edges[from]))
	copy(original, g.edges[from])
	g.edges[from] = append(g.edges[from], to)

	hasCycle, path := g.HasCycle()

	g.edges[from] = original

	return hasCycle, path
}

// WouldCreateCycle is a lightweight check: if "to" can already reach "from",
// adding from->to closes a cycle.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	return g.canReach(to, from)
}

// canReach performs BFS to check whether "from" can reach "to" via existing
// edges.
func (g *Graph) canReach(from, to string) bool {
	if from == to {
		return true
	}

	visited := make(map[string]bool)
	queue := []string{from}
	visited[from] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range g.edges[current] {
			if neighbor == to {
				return true
			}
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}

	return false
}

// TopologicalSort returns subtree IDs in inclusion order (a subtree appears
// before every subtree it includes) using Kahn's algorithm, or a
// *CycleError if the graph is cyclic.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int)
	for node := range g.nodes {
		inDegree[node] = 0
	}
	for _, neighbors := range g.edges {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	queue := []string{}
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}

	result := []string{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, neighbor := range g.edges[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		hasCycle, path := g.HasCycle()
		if hasCycle {
			return nil, &CycleError{Path: path}
		}
		return nil, fmt.Errorf("topological sort failed: graph may contain cycle")
	}

	return result, nil
}

// CycleError reports a circular subtree reference chain.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "circular subtree reference detected"
	}
	return fmt.Sprintf("circular subtree reference detected: %s", strings.Join(e.Path, " -> "))
}

// IsCycleError reports whether err is a *CycleError.
func IsCycleError(err error) bool {
	_, ok := err.(*CycleError)
	return ok
}
