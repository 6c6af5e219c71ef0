package dispatch

import (
	"context"
	"fmt"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/policy"
)

const reasonForeignProject = "resource tagged with another project"

// allowedProjects is the requester's project, or when the request names
// none, every project tagged on the input.
func allowedProjects(project string, resources []bus.ResourceInput) map[string]bool {
	allowed := make(map[string]bool)
	if project != "" {
		allowed[project] = true
		return allowed
	}
	for _, r := range resources {
		for _, p := range engine.ProjectsOf(r.Tags) {
			allowed[p] = true
		}
	}
	return allowed
}

// foreign reports whether a resource belongs to someone other than the
// allowed projects. Untagged resources are never foreign. A tagged resource
// is foreign when its tag names any project outside the allowed set, or
// names none at all.
func foreign(tags map[string]string, allowed map[string]bool) bool {
	if len(allowed) == 0 {
		return false
	}
	if _, ok := tags[engine.TagProject]; !ok {
		return false
	}
	projects := engine.ProjectsOf(tags)
	if len(projects) == 0 {
		return true
	}
	for _, p := range projects {
		if !allowed[p] {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleTerminate(ctx context.Context, cmd bus.Command, p bus.Payload) error {
	req := p.(*bus.TerminateRequest)
	project := req.Project

	if len(req.Resources) == 0 {
		d.publish(ctx, bus.EventTerminateComplete, cmd.RequestID, bus.StatusSuccess, map[string]any{
			"message":   "No resources provided.",
			"resources": []bus.ResourceInput{},
			"project":   project,
		})
		return nil
	}

	allowed := allowedProjects(project, req.Resources)
	kept := make([]bus.ResourceInput, 0, len(req.Resources))
	seed := make([]engine.Resource, 0, len(req.Resources))
	for _, r := range req.Resources {
		if foreign(r.Tags, allowed) {
			d.skip(ctx, cmd.RequestID, r, reasonForeignProject)
			continue
		}
		if reason, denied := d.denied(ctx, policy.OperationTerminate, project, r.Resource()); denied {
			d.skip(ctx, cmd.RequestID, r, reason)
			continue
		}
		kept = append(kept, r)
		seed = append(seed, r.Resource())
	}

	if len(kept) == 0 {
		d.publish(ctx, bus.EventTerminateComplete, cmd.RequestID, bus.StatusSuccess, map[string]any{
			"message":   "All resources skipped due to project tags.",
			"resources": []bus.ResourceInput{},
			"project":   project,
		})
		return nil
	}

	graph, err := d.builder.Build(ctx, seed)
	if err != nil {
		return err
	}
	d.guardDiscovered(ctx, cmd.RequestID, project, graph, seed)
	kept = stillPlanned(kept, graph)
	if graph.Len() == 0 {
		d.publish(ctx, bus.EventTerminateComplete, cmd.RequestID, bus.StatusSuccess, map[string]any{
			"message":   "All resources skipped by policy.",
			"resources": []bus.ResourceInput{},
			"project":   project,
		})
		return nil
	}
	if cycle := graph.FindCycle(); cycle != nil {
		d.logger.Warn().Str("request_id", cmd.RequestID).Str("cycle", engine.FormatCycle(cycle)).
			Msg("dependency cycle, cyclic resources are deleted in one final layer")
	}
	layers := graph.Layers()
	d.logger.Info().Str("request_id", cmd.RequestID).Str("project", project).
		Int("seed", len(seed)).Int("nodes", graph.Len()).Int("layers", len(layers)).
		Msg("terminating resources")

	run := d.executor.Execute(ctx, layers, engine.ProgressFuncs{
		OnDeleted: func(ctx context.Context, pr engine.DeletionProgress) {
			d.publish(ctx, bus.EventTerminateProgress, cmd.RequestID, bus.StatusInProgress, map[string]any{
				"resource_id":   pr.Ref.ID,
				"resource_type": string(pr.Ref.Type),
				"region":        pr.Ref.Region,
				"step":          pr.Step,
				"total":         pr.Total,
				"layer":         pr.Layer + 1,
				"project":       project,
			})
		},
		OnFailed: func(ctx context.Context, f engine.DeletionFailure) {
			d.publish(ctx, bus.EventTerminateError, cmd.RequestID, bus.StatusError, map[string]any{
				"resource_id":   f.Ref.ID,
				"resource_type": string(f.Ref.Type),
				"region":        f.Ref.Region,
				"error":         f.Error,
				"step":          f.Step,
				"total":         f.Total,
				"reason":        string(f.Reason),
				"project":       project,
			})
		},
	})

	d.publish(ctx, bus.EventTerminateComplete, cmd.RequestID, bus.StatusSuccess, map[string]any{
		"total":     run.Total,
		"resources": kept,
		"project":   project,
		"deleted":   len(run.Deleted),
		"failed":    len(run.Failed),
		"run_id":    run.ID,
	})
	return nil
}

// guardDiscovered runs the terminate guard over the nodes discovery added
// to the graph, with the tags the provider reports for them. A denied node
// is dropped together with every node that owns it, and each is reported
// as skipped.
func (d *Dispatcher) guardDiscovered(ctx context.Context, requestID, project string, graph *engine.DependencyGraph, seed []engine.Resource) {
	if d.deps.Guard == nil {
		return
	}
	seeded := make(map[engine.ResourceRef]bool, len(seed))
	for _, r := range seed {
		seeded[r.ResourceRef] = true
	}
	for _, ref := range graph.Nodes() {
		if seeded[ref] || !graph.HasNode(ref) {
			continue
		}
		reason, denied := d.denied(ctx, policy.OperationTerminate, project, d.observed(ctx, ref))
		if !denied {
			continue
		}
		for _, gone := range graph.RemoveWithAncestors(ref) {
			why := reason
			if gone != ref {
				why = fmt.Sprintf("owns %s, which is protected: %s", ref, reason)
			}
			d.skip(ctx, requestID, bus.ResourceInput{ID: gone.ID, Type: string(gone.Type), Region: gone.Region}, why)
		}
	}
}

// observed returns ref with the tags the provider currently reports. A
// resource that cannot be described is returned without tags.
func (d *Dispatcher) observed(ctx context.Context, ref engine.ResourceRef) engine.Resource {
	res := engine.Resource{ResourceRef: ref}
	if d.deps.Provider == nil {
		return res
	}
	obs, err := cloud.Observe(ctx, d.deps.Provider, ref)
	if err != nil {
		d.logger.Debug().Err(err).Str("resource", ref.String()).Msg("could not read tags for policy input")
		return res
	}
	res.Tags = obs.Tags
	return res
}

// stillPlanned keeps the inputs whose node survived in graph.
func stillPlanned(resources []bus.ResourceInput, graph *engine.DependencyGraph) []bus.ResourceInput {
	out := resources[:0]
	for _, r := range resources {
		if graph.HasNode(r.Resource().ResourceRef) {
			out = append(out, r)
		}
	}
	return out
}

func (d *Dispatcher) skip(ctx context.Context, requestID string, r bus.ResourceInput, reason string) {
	d.publish(ctx, bus.EventTerminateSkipped, requestID, bus.StatusSkipped, map[string]any{
		"resource_id":   r.ID,
		"resource_type": r.Type,
		"region":        r.Region,
		"reason":        reason,
	})
}

// denied asks the guard about one resource. Evaluation errors allow the
// operation; the guard itself reports broken policies as warnings.
func (d *Dispatcher) denied(ctx context.Context, operation, project string, res engine.Resource) (string, bool) {
	if d.deps.Guard == nil {
		return "", false
	}
	decision, err := d.deps.Guard.Evaluate(ctx, policy.NewInput(operation, project, res))
	if err != nil {
		d.logger.Warn().Err(err).Str("resource", res.ID).Msg("policy evaluation failed")
		return "", false
	}
	if decision.Allowed {
		return "", false
	}
	return decision.Reason(), true
}
