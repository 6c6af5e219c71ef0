package engine

import (
	"fmt"
	"strings"
)

// Edge is a parent -> child ownership edge. The child is deleted before the parent.
type Edge struct {
	Parent ResourceRef `json:"parent"`
	Child  ResourceRef `json:"child"`
}

// Layer is one topological slice; members can be deleted in parallel.
type Layer []ResourceRef

// DependencyGraph is an adjacency map keyed by resource identity.
type DependencyGraph struct {
	// order records node insertion order
	order []ResourceRef

	// children maps a node to the set of its children
	children map[ResourceRef]map[ResourceRef]struct{}

	// parents maps a node to the set of its parents
	parents map[ResourceRef]map[ResourceRef]struct{}
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		order:    make([]ResourceRef, 0),
		children: make(map[ResourceRef]map[ResourceRef]struct{}),
		parents:  make(map[ResourceRef]map[ResourceRef]struct{}),
	}
}

// AddNode adds ref if it is not present. It reports whether a node was added.
func (g *DependencyGraph) AddNode(ref ResourceRef) bool {
	if _, exists := g.children[ref]; exists {
		return false
	}
	g.order = append(g.order, ref)
	g.children[ref] = make(map[ResourceRef]struct{})
	g.parents[ref] = make(map[ResourceRef]struct{})
	return true
}

// AddEdge records parent -> child. Both endpoints must already be nodes.
func (g *DependencyGraph) AddEdge(parent, child ResourceRef) error {
	if parent == child {
		return NewPermanentError(fmt.Sprintf("self edge on %s", parent), nil).
			WithCode(ErrCodeValidation)
	}
	if !g.HasNode(parent) {
		return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", parent), nil).
			WithCode(ErrCodeValidation)
	}
	if !g.HasNode(child) {
		return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", child), nil).
			WithCode(ErrCodeValidation)
	}
	g.children[parent][child] = struct{}{}
	g.parents[child][parent] = struct{}{}
	return nil
}

// HasNode reports whether ref is in the graph.
func (g *DependencyGraph) HasNode(ref ResourceRef) bool {
	_, ok := g.children[ref]
	return ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// Nodes returns all nodes sorted by (type, id, region).
func (g *DependencyGraph) Nodes() []ResourceRef {
	nodes := make([]ResourceRef, len(g.order))
	copy(nodes, g.order)
	SortRefs(nodes)
	return nodes
}

// FindByID returns nodes with the given provider id, sorted.
func (g *DependencyGraph) FindByID(id string) []ResourceRef {
	var found []ResourceRef
	for _, ref := range g.order {
		if ref.ID == id {
			found = append(found, ref)
		}
	}
	SortRefs(found)
	return found
}

// Children returns the sorted children of ref.
func (g *DependencyGraph) Children(ref ResourceRef) []ResourceRef {
	return sortedSet(g.children[ref])
}

// Parents returns the sorted parents of ref.
func (g *DependencyGraph) Parents(ref ResourceRef) []ResourceRef {
	return sortedSet(g.parents[ref])
}

// Edges returns every edge, ordered by parent then child.
func (g *DependencyGraph) Edges() []Edge {
	edges := make([]Edge, 0)
	for _, parent := range g.Nodes() {
		for _, child := range g.Children(parent) {
			edges = append(edges, Edge{Parent: parent, Child: child})
		}
	}
	return edges
}

// RemoveWithAncestors drops ref and every node that transitively owns it,
// along with their edges, and returns the removed nodes sorted. A parent
// cannot be deleted while the child stays, so keeping ref keeps them all.
func (g *DependencyGraph) RemoveWithAncestors(ref ResourceRef) []ResourceRef {
	if !g.HasNode(ref) {
		return nil
	}
	removed := map[ResourceRef]struct{}{ref: {}}
	stack := []ResourceRef{ref}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for p := range g.parents[n] {
			if _, seen := removed[p]; !seen {
				removed[p] = struct{}{}
				stack = append(stack, p)
			}
		}
	}

	for n := range removed {
		for c := range g.children[n] {
			delete(g.parents[c], n)
		}
		for p := range g.parents[n] {
			delete(g.children[p], n)
		}
		delete(g.children, n)
		delete(g.parents, n)
	}
	kept := g.order[:0]
	for _, n := range g.order {
		if _, gone := removed[n]; !gone {
			kept = append(kept, n)
		}
	}
	g.order = kept
	return sortedSet(removed)
}

func sortedSet(set map[ResourceRef]struct{}) []ResourceRef {
	refs := make([]ResourceRef, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	SortRefs(refs)
	return refs
}

// Layers orders the graph with Kahn's algorithm. Layer 0 holds the nodes
// with no parents; each following layer holds the nodes whose parents have
// all been placed. Every layer is sorted by (type, id, region). Nodes left
// over because of a cycle are appended as one final sorted layer.
func (g *DependencyGraph) Layers() []Layer {
	inDegree := make(map[ResourceRef]int, len(g.order))
	for _, ref := range g.order {
		inDegree[ref] = len(g.parents[ref])
	}

	current := make([]ResourceRef, 0)
	for _, ref := range g.order {
		if inDegree[ref] == 0 {
			current = append(current, ref)
		}
	}

	layers := make([]Layer, 0)
	placed := make(map[ResourceRef]bool, len(g.order))
	for len(current) > 0 {
		SortRefs(current)
		layers = append(layers, Layer(current))

		next := make([]ResourceRef, 0)
		for _, ref := range current {
			placed[ref] = true
			for child := range g.children[ref] {
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		current = next
	}

	if len(placed) < len(g.order) {
		leftover := make([]ResourceRef, 0, len(g.order)-len(placed))
		for _, ref := range g.order {
			if !placed[ref] {
				leftover = append(leftover, ref)
			}
		}
		SortRefs(leftover)
		layers = append(layers, Layer(leftover))
	}

	return layers
}

// DeletionOrder returns Layers reversed: children first, owners last.
func (g *DependencyGraph) DeletionOrder() []Layer {
	return ReverseLayers(g.Layers())
}

// ReverseLayers returns a reversed copy of layers.
func ReverseLayers(layers []Layer) []Layer {
	reversed := make([]Layer, len(layers))
	for i, layer := range layers {
		reversed[len(layers)-1-i] = layer
	}
	return reversed
}

// FindCycle returns one cycle as a path that starts and ends on the same
// node, or nil when the graph is acyclic.
func (g *DependencyGraph) FindCycle() []ResourceRef {
	visited := make(map[ResourceRef]bool)
	onStack := make(map[ResourceRef]bool)

	var path []ResourceRef
	var visit func(ref ResourceRef) []ResourceRef
	visit = func(ref ResourceRef) []ResourceRef {
		visited[ref] = true
		onStack[ref] = true
		path = append(path, ref)

		for _, child := range g.Children(ref) {
			if !visited[child] {
				if cycle := visit(child); cycle != nil {
					return cycle
				}
			} else if onStack[child] {
				for i, p := range path {
					if p == child {
						cycle := append([]ResourceRef{}, path[i:]...)
						return append(cycle, child)
					}
				}
			}
		}

		onStack[ref] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, ref := range g.Nodes() {
		if !visited[ref] {
			if cycle := visit(ref); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// FormatCycle formats a cycle path for log messages.
func FormatCycle(cycle []ResourceRef) string {
	parts := make([]string, len(cycle))
	for i, ref := range cycle {
		parts[i] = ref.String()
	}
	return strings.Join(parts, " -> ")
}

// ToDOT generates a DOT representation of the graph grouped by layer.
// The output can be rendered with Graphviz tools.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, layer := range g.Layers() {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_layer_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Layer %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, ref := range layer {
			label := fmt.Sprintf("%s\\n%s", ref.ID, ref.Type)
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				ref.String(), label, familyColor(ref.Type.Capabilities().Family)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges() {
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", e.Parent.String(), e.Child.String()))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func familyColor(f Family) string {
	switch f {
	case FamilyNetwork:
		return "lightblue"
	case FamilyFirewall:
		return "khaki"
	case FamilyCompute:
		return "lightgreen"
	case FamilyBlockStorage, FamilyObjectStore, FamilyDatabase:
		return "lightsalmon"
	default:
		return "white"
	}
}
