package services

import (
	"fmt"
	"sort"
	"strings"
)

// dependencyGraph is a snapshot of the dependency edges between services,
// including edges to names that are not installed yet.
type dependencyGraph struct {
	// nodes holds every name seen, installed or latent
	nodes map[Name]bool

	// adjacency maps a dependency to the services that depend on it
	adjacency map[Name][]Name

	// reverse maps a service to its dependencies
	reverse map[Name][]Name
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		nodes:     make(map[Name]bool),
		adjacency: make(map[Name][]Name),
		reverse:   make(map[Name][]Name),
	}
}

func (g *dependencyGraph) addNode(n Name) {
	g.nodes[n] = true
}

// addEdge records that dependent needs dependency.
func (g *dependencyGraph) addEdge(dependent, dependency Name) {
	g.addNode(dependent)
	g.addNode(dependency)
	g.adjacency[dependency] = append(g.adjacency[dependency], dependent)
	g.reverse[dependent] = append(g.reverse[dependent], dependency)
}

func (g *dependencyGraph) sortedNodes() []Name {
	out := make([]Name, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// detectCycle returns the first cycle found by depth-first search, or nil.
func (g *dependencyGraph) detectCycle() []Name {
	visited := make(map[Name]bool)
	recStack := make(map[Name]bool)

	for _, n := range g.sortedNodes() {
		if !visited[n] {
			if cycle := g.detectCycleFrom(n, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *dependencyGraph) detectCycleFrom(n Name, visited, recStack map[Name]bool, path []Name) []Name {
	visited[n] = true
	recStack[n] = true
	path = append(path, n)

	for _, dep := range g.reverse[n] {
		if !visited[dep] {
			if cycle := g.detectCycleFrom(dep, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			for i, id := range path {
				if id == dep {
					cycle := append([]Name{}, path[i:]...)
					return append(cycle, dep)
				}
			}
		}
	}

	recStack[n] = false
	return nil
}

// levels groups nodes with Kahn's algorithm: level 0 holds nodes without
// dependencies, level k nodes whose dependencies all sit below k.
func (g *dependencyGraph) levels() [][]Name {
	inDegree := make(map[Name]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = len(g.reverse[n])
	}

	var current []Name
	for _, n := range g.sortedNodes() {
		if inDegree[n] == 0 {
			current = append(current, n)
		}
	}

	var levels [][]Name
	for len(current) > 0 {
		levels = append(levels, current)
		var next []Name
		for _, n := range current {
			for _, dependent := range g.adjacency[n] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].less(next[j]) })
		current = next
	}
	return levels
}

// stopOrder flattens the levels in reverse: dependents before the services
// they depend on.
func (g *dependencyGraph) stopOrder() []Name {
	levels := g.levels()
	var out []Name
	for i := len(levels) - 1; i >= 0; i-- {
		out = append(out, levels[i]...)
	}
	return out
}

// toDOT renders the graph for Graphviz. Latent nodes are drawn dashed.
func (g *dependencyGraph) toDOT(states map[Name]State) string {
	var sb strings.Builder

	sb.WriteString("digraph Services {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, n := range g.sortedNodes() {
		state, installed := states[n]
		if !installed {
			sb.WriteString(fmt.Sprintf("  %q [label=%q, style=\"dashed,rounded\"];\n", n.String(), n.String()+"\\n(missing)"))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
			n.String(), n.String()+"\\n"+string(state), stateColor(state)))
	}
	sb.WriteString("\n")

	for _, n := range g.sortedNodes() {
		for _, dep := range g.reverse[n] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", n.String(), dep.String()))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []Name) string {
	parts := make([]string, len(cycle))
	for i, n := range cycle {
		parts[i] = n.String()
	}
	return strings.Join(parts, " -> ")
}

func stateColor(s State) string {
	switch s {
	case StateUp:
		return "lightgreen"
	case StateStarting, StateStopping:
		return "lightblue"
	case StateStartFailed:
		return "lightcoral"
	default:
		return "lightgray"
	}
}
