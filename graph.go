package ignition

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph is the directed prerequisite relation over registered
// signal names. It rejects cycles, self-edges, and references to unknown
// signals at edge insertion, so a graph that exists is always valid.
//
// The graph is mutated only during registration, under the coordinator's
// lock; queries during a run read an effectively immutable structure.
type DependencyGraph struct {
	names []string
	index map[string]int

	// Adjacency in declaration order, name-keyed.
	dependencyMap map[string][]string // signal -> signals it depends on
	dependantMap  map[string][]string // signal -> signals depending on it

	dependencySet map[string]map[string]struct{}
}

func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		index:         make(map[string]int),
		dependencyMap: make(map[string][]string),
		dependantMap:  make(map[string][]string),
		dependencySet: make(map[string]map[string]struct{}),
	}
}

// addSignal registers a node. The caller guarantees name uniqueness.
func (g *DependencyGraph) addSignal(name string) {
	g.index[name] = len(g.names)
	g.names = append(g.names, name)
}

// addDependencies inserts depends-on edges for name and re-validates the
// graph. On any error the graph is left unchanged.
func (g *DependencyGraph) addDependencies(name string, dependsOn ...string) error {
	if _, ok := g.index[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
	}
	for _, dep := range dependsOn {
		if dep == name {
			return fmt.Errorf("%w: %s", ErrSelfDependency, name)
		}
		if _, ok := g.index[dep]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownSignal, name, dep)
		}
	}

	added := 0
	for _, dep := range dependsOn {
		if g.addEdge(dep, name) {
			added++
		}
	}
	if added == 0 {
		return nil
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		g.removeEdges(name, dependsOn)
		return fmt.Errorf("%w: involving %s", ErrCycleDetected, strings.Join(cycle, ", "))
	}
	return nil
}

// addEdge adds a directed edge from dependency 'from' to dependent 'to'.
// Duplicate edges are ignored.
func (g *DependencyGraph) addEdge(from, to string) bool {
	set, ok := g.dependencySet[to]
	if !ok {
		set = make(map[string]struct{})
		g.dependencySet[to] = set
	}
	if _, dup := set[from]; dup {
		return false
	}
	set[from] = struct{}{}
	g.dependencyMap[to] = append(g.dependencyMap[to], from)
	g.dependantMap[from] = append(g.dependantMap[from], to)
	return true
}

// removeEdges undoes a failed insertion batch for 'to'.
func (g *DependencyGraph) removeEdges(to string, dependsOn []string) {
	for _, from := range dependsOn {
		set := g.dependencySet[to]
		if set == nil {
			continue
		}
		if _, ok := set[from]; !ok {
			continue
		}
		delete(set, from)
		g.dependencyMap[to] = remove(g.dependencyMap[to], from)
		g.dependantMap[from] = remove(g.dependantMap[from], to)
	}
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, v := range list {
		if v != name {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// findCycle checks for cycles using Kahn's algorithm and returns the names
// left unprocessed (the cycle participants), sorted for stable messages.
func (g *DependencyGraph) findCycle() []string {
	inDegrees := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegrees[name] = len(g.dependencyMap[name])
	}

	var queue []string
	for _, name := range g.names {
		if inDegrees[name] == 0 {
			queue = append(queue, name)
		}
	}

	processedCount := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		processedCount++

		for _, v := range g.dependantMap[u] {
			inDegrees[v]--
			if inDegrees[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	if processedCount == len(g.names) {
		return nil
	}
	var cycle []string
	for _, name := range g.names {
		if inDegrees[name] > 0 {
			cycle = append(cycle, name)
		}
	}
	sort.Strings(cycle)
	return cycle
}

// Dependencies returns the direct prerequisites of name in declaration
// order. The slice is a copy.
func (g *DependencyGraph) Dependencies(name string) []string {
	return copyOf(g.dependencyMap[name])
}

// Dependents returns the signals that directly depend on name.
func (g *DependencyGraph) Dependents(name string) []string {
	return copyOf(g.dependantMap[name])
}

// TransitiveDependents returns every signal downstream of name, in
// registration order.
func (g *DependencyGraph) TransitiveDependents(name string) []string {
	seen := make(map[string]struct{})
	queue := copyOf(g.dependantMap[name])
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		queue = append(queue, g.dependantMap[u]...)
	}

	out := make([]string, 0, len(seen))
	for _, n := range g.names {
		if _, ok := seen[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Roots returns the signals with no dependencies, in registration order.
func (g *DependencyGraph) Roots() []string {
	var roots []string
	for _, name := range g.names {
		if len(g.dependencyMap[name]) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Leaves returns the signals nothing depends on, in registration order.
func (g *DependencyGraph) Leaves() []string {
	var leaves []string
	for _, name := range g.names {
		if len(g.dependantMap[name]) == 0 {
			leaves = append(leaves, name)
		}
	}
	return leaves
}

// TopologicalOrder returns every signal in dependency order, level by
// level, ties broken by registration order. The result is deterministic
// for a given registration sequence.
func (g *DependencyGraph) TopologicalOrder() []string {
	inDegrees := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegrees[name] = len(g.dependencyMap[name])
	}

	level := make([]string, 0, len(g.names))
	for _, name := range g.names {
		if inDegrees[name] == 0 {
			level = append(level, name)
		}
	}

	out := make([]string, 0, len(g.names))
	for len(level) > 0 {
		var next []string
		for _, u := range level {
			out = append(out, u)
			for _, v := range g.dependantMap[u] {
				inDegrees[v]--
				if inDegrees[v] == 0 {
					next = append(next, v)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return g.index[next[i]] < g.index[next[j]] })
		level = next
	}
	return out
}

// Size returns the number of signals in the graph.
func (g *DependencyGraph) Size() int { return len(g.names) }

// HasEdges reports whether any dependency edges exist.
func (g *DependencyGraph) HasEdges() bool {
	for _, deps := range g.dependencyMap {
		if len(deps) > 0 {
			return true
		}
	}
	return false
}

func copyOf(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}
