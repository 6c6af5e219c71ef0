// Package engine provides the core types and algorithms of the Pockitect
// lifecycle orchestrator.
//
// # Overview
//
// Pockitect creates cloud resources for projects, tears them down in a safe
// order and confirms that the provider's eventually consistent state matches
// what was asked for. This package holds the provider-neutral parts of that
// flow:
//
//   - ResourceType: the closed set of supported resource kinds and their
//     capability table
//   - ResourceRef, Resource, TrackedResource: resource identity and records
//   - EngineError: classified errors with codes and failure reasons
//   - DependencyGraph: parent -> child ownership edges with Kahn layering
//   - GraphBuilder: breadth-first expansion of a seed set through a ChildFinder
//   - DeletionExecutor: layer-by-layer deletion through a ResourceDeleter
//
// # Deletion Flow
//
// A terminate request seeds the GraphBuilder, which asks a ChildFinder for
// the children of every node:
//
//	graph, err := engine.NewGraphBuilder(finder, logger).Build(ctx, resources)
//	layers := graph.Layers()
//	run := engine.NewDeletionExecutor(deleter, registry, opts, logger).
//	    Execute(ctx, layers, reporter)
//
// Layer 0 holds the top-level owners such as a VPC. The executor walks the
// layers in reverse, so children are deleted before their owners. Members
// of one layer are deleted concurrently and the executor pauses between
// layers so the provider can settle.
//
// # Cycles
//
// Discovery can produce cycles, for example two security groups whose rules
// reference each other. Layers never fails on a cycle: the nodes that cannot
// be placed are appended as one final layer sorted by (type, id, region).
// FindCycle reports such a cycle for logging.
//
// # Error Classification
//
// Errors are classified into four categories:
//
//   - Transient: temporary failures that may succeed on retry
//   - Throttled: the provider rate limited the call
//   - Conflict: ordering problems such as a resource still referenced
//   - Permanent: non-recoverable errors such as missing permissions
//
// Reason maps any error to the FailureReason reported for a resource.
package engine
