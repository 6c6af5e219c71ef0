package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// GraphBuilder expands a seed set into a full dependency graph by walking
// children breadth first.
type GraphBuilder struct {
	finder ChildFinder
	logger zerolog.Logger
}

// NewGraphBuilder creates a builder that discovers children through finder.
func NewGraphBuilder(finder ChildFinder, logger zerolog.Logger) *GraphBuilder {
	return &GraphBuilder{
		finder: finder,
		logger: logger.With().Str("component", "graph_builder").Logger(),
	}
}

// BuildRefs builds a graph from bare references.
func (b *GraphBuilder) BuildRefs(ctx context.Context, seed []ResourceRef) (*DependencyGraph, error) {
	resources := make([]Resource, len(seed))
	for i, ref := range seed {
		resources[i] = Resource{ResourceRef: ref}
	}
	return b.Build(ctx, resources)
}

// Build seeds the graph with every input resource, then expands it with
// child discovery. A discovered child that is already a node, seeded or
// found earlier, keeps its identity so the edge connects to it. Declared
// dependencies are applied last and only when both ends are in the graph.
func (b *GraphBuilder) Build(ctx context.Context, seed []Resource) (*DependencyGraph, error) {
	graph := NewDependencyGraph()

	queue := make([]ResourceRef, 0, len(seed))
	for _, r := range seed {
		if graph.AddNode(r.ResourceRef) {
			queue = append(queue, r.ResourceRef)
		}
	}

	visited := make(map[ResourceRef]bool, len(seed))
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := queue[0]
		queue = queue[1:]
		if visited[node] {
			continue
		}
		visited[node] = true

		children, err := b.finder.FindChildren(ctx, node)
		if err != nil {
			b.logger.Warn().Err(err).Str("resource", node.String()).Msg("child discovery failed")
			continue
		}

		for _, child := range children {
			if child == node {
				continue
			}
			graph.AddNode(child)
			if err := graph.AddEdge(node, child); err != nil {
				return nil, err
			}
			if !visited[child] {
				queue = append(queue, child)
			}
		}
	}

	b.applyDeclaredDependencies(graph, seed)

	b.logger.Debug().
		Int("seed", len(seed)).
		Int("nodes", graph.Len()).
		Int("edges", len(graph.Edges())).
		Msg("dependency graph built")

	return graph, nil
}

func (b *GraphBuilder) applyDeclaredDependencies(graph *DependencyGraph, seed []Resource) {
	for _, r := range seed {
		for _, depID := range r.DeclaredDependencies() {
			dep, ok := resolveDependency(graph, depID, r.Region)
			if !ok {
				b.logger.Debug().Str("resource", r.String()).Str("depends_on", depID).
					Msg("declared dependency not in graph")
				continue
			}
			if dep == r.ResourceRef {
				continue
			}
			if err := graph.AddEdge(dep, r.ResourceRef); err != nil {
				b.logger.Warn().Err(err).Str("resource", r.String()).Msg("failed to add declared dependency")
			}
		}
	}
}

// resolveDependency finds the node for id, preferring one in region.
func resolveDependency(graph *DependencyGraph, id, region string) (ResourceRef, bool) {
	candidates := graph.FindByID(id)
	if len(candidates) == 0 {
		return ResourceRef{}, false
	}
	for _, c := range candidates {
		if c.Region == region {
			return c, true
		}
	}
	return candidates[0], true
}
