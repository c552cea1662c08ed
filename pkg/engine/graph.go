package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ModuleGraph is the dependency graph of a program.
// Edges point from a module to the modules it requires. Cycles are allowed.
// All methods are safe for concurrent use.
type ModuleGraph struct {
	// Entry is the name of the entry-point node.
	Entry string

	// mu protects the maps below during parallel discovery
	mu sync.RWMutex

	// nodes maps module names to their nodes
	nodes map[string]*ModuleNode

	// adjacency maps module names to the set of modules they require
	adjacency map[string]map[string]struct{}

	// reverse maps module names to the set of modules that require them
	reverse map[string]map[string]struct{}

	// warnings collects resolution warnings raised while the graph was built
	warnings []*PackError
}

// NewModuleGraph creates an empty graph rooted at entry.
func NewModuleGraph(entry string) *ModuleGraph {
	return &ModuleGraph{
		Entry:     entry,
		nodes:     make(map[string]*ModuleNode),
		adjacency: make(map[string]map[string]struct{}),
		reverse:   make(map[string]map[string]struct{}),
	}
}

// AddNode inserts node if no node with the same name exists.
// It returns true when the node was inserted, which is the mark-visited signal
// used by discovery to guarantee each module is analyzed once.
func (g *ModuleGraph) AddNode(node *ModuleNode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.Name]; exists {
		return false
	}
	g.nodes[node.Name] = node
	g.adjacency[node.Name] = make(map[string]struct{})
	g.reverse[node.Name] = make(map[string]struct{})
	return true
}

// AddEdge records that from requires to. Both nodes must already exist.
func (g *ModuleGraph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return NewInternalError(fmt.Sprintf("edge source %s is not in the graph", from), nil)
	}
	if _, ok := g.nodes[to]; !ok {
		return NewInternalError(fmt.Sprintf("edge target %s is not in the graph", to), nil)
	}
	if from == to {
		return nil
	}
	g.adjacency[from][to] = struct{}{}
	g.reverse[to][from] = struct{}{}
	return nil
}

// AddWarning records a resolution warning.
func (g *ModuleGraph) AddWarning(w *PackError) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warnings = append(g.warnings, w)
}

// Warnings returns the recorded warnings ordered by module then message.
func (g *ModuleGraph) Warnings() []*PackError {
	g.mu.RLock()
	out := make([]*PackError, len(g.warnings))
	copy(out, g.warnings)
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Node returns the node with the given name.
func (g *ModuleGraph) Node(name string) (*ModuleNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	return n, ok
}

// Len returns the number of nodes.
func (g *ModuleGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Names returns all node names in sorted order.
func (g *ModuleGraph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.nodes)
}

// Nodes returns all nodes sorted by name.
func (g *ModuleGraph) Nodes() []*ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*ModuleNode, 0, len(g.nodes))
	for _, name := range sortedKeys(g.nodes) {
		out = append(out, g.nodes[name])
	}
	return out
}

// Dependencies returns the sorted names of the modules name requires.
func (g *ModuleGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.adjacency[name])
}

// Dependents returns the sorted names of the modules that require name.
func (g *ModuleGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.reverse[name])
}

// Unresolved returns the unresolved nodes sorted by name.
func (g *ModuleGraph) Unresolved() []*ModuleNode {
	out := make([]*ModuleNode, 0)
	for _, n := range g.Nodes() {
		if n.Unresolved {
			out = append(out, n)
		}
	}
	return out
}

// Reachable returns the set of nodes reachable from the entry.
// Traversal never enters or passes through a node for which blocked returns true.
// The entry itself is always reachable.
func (g *ModuleGraph) Reachable(blocked func(name string) bool) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	if _, ok := g.nodes[g.Entry]; !ok {
		return visited
	}

	queue := []string{g.Entry}
	visited[g.Entry] = true
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range g.adjacency[current] {
			if visited[next] || (blocked != nil && blocked(next)) {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return visited
}

// Subgraph returns a new graph containing only the kept nodes and the edges between them.
// Warnings are carried over.
func (g *ModuleGraph) Subgraph(keep map[string]bool) *ModuleGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sub := NewModuleGraph(g.Entry)
	for name, node := range g.nodes {
		if keep[name] {
			sub.nodes[name] = node
			sub.adjacency[name] = make(map[string]struct{})
			sub.reverse[name] = make(map[string]struct{})
		}
	}
	for from, targets := range g.adjacency {
		if !keep[from] {
			continue
		}
		for to := range targets {
			if keep[to] {
				sub.adjacency[from][to] = struct{}{}
				sub.reverse[to][from] = struct{}{}
			}
		}
	}
	sub.warnings = append(sub.warnings, g.warnings...)
	return sub
}

// Cycles returns every import cycle found by depth-first search, each starting
// at its smallest name. Cycles are legal; they are reported for diagnostics only.
func (g *ModuleGraph) Cycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	seen := make(map[string]bool)
	cycles := make([][]string, 0)

	var visit func(name string, path []string)
	visit = func(name string, path []string) {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		for _, dep := range sortedKeys(g.adjacency[name]) {
			if !visited[dep] {
				visit(dep, path)
				continue
			}
			if !recStack[dep] {
				continue
			}
			// Found a back edge; extract the cycle from the current path
			start := 0
			for i, n := range path {
				if n == dep {
					start = i
					break
				}
			}
			cycle := normalizeCycle(path[start:])
			key := strings.Join(cycle, "\x00")
			if !seen[key] {
				seen[key] = true
				cycles = append(cycles, cycle)
			}
		}

		recStack[name] = false
	}

	for _, name := range sortedKeys(g.nodes) {
		if !visited[name] {
			visit(name, nil)
		}
	}
	return cycles
}

// normalizeCycle rotates a cycle so that it starts at its smallest name.
func normalizeCycle(cycle []string) []string {
	minIdx := 0
	for i, n := range cycle {
		if n < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	out = append(out, cycle[:minIdx]...)
	return out
}

// FormatCycle formats a cycle for error messages and logs.
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(append(cycle, cycle[0]), " -> ")
}

// ToDOT generates a DOT representation of the graph for visualization.
// Nodes are clustered by kind; unresolved nodes are drawn dashed.
func (g *ModuleGraph) ToDOT() string {
	nodes := g.Nodes()

	var sb strings.Builder
	sb.WriteString("digraph modules {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byKind := make(map[ModuleKind][]*ModuleNode)
	for _, n := range nodes {
		byKind[n.Kind] = append(byKind[n.Kind], n)
	}

	for _, kind := range []ModuleKind{KindCode, KindNativeBinary, KindDataFile} {
		members := byKind[kind]
		if len(members) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "  subgraph cluster_%s {\n", strings.ReplaceAll(string(kind), "-", "_"))
		fmt.Fprintf(&sb, "    label=%q;\n", string(kind))
		sb.WriteString("    style=dashed;\n")
		for _, n := range members {
			attrs := ""
			switch {
			case n.Name == g.Entry:
				attrs = ", style=\"rounded,bold\""
			case n.Unresolved:
				attrs = ", style=\"rounded,dashed\", color=gray"
			}
			fmt.Fprintf(&sb, "    %q [label=%q%s];\n", n.Name, n.Name, attrs)
		}
		sb.WriteString("  }\n\n")
	}

	for _, n := range nodes {
		for _, dep := range g.Dependencies(n.Name) {
			fmt.Fprintf(&sb, "  %q -> %q;\n", n.Name, dep)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
