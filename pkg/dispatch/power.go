package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/policy"
	"github.com/pockitect/pockitect/pkg/registry"
)

// projectPowerTargets lists the project's active instances and databases.
func (d *Dispatcher) projectPowerTargets(project string) []bus.PowerTarget {
	if d.deps.Registry == nil {
		return nil
	}
	var targets []bus.PowerTarget
	for _, t := range []engine.ResourceType{engine.TypeInstance, engine.TypeDBInstance} {
		for _, r := range d.deps.Registry.GetActive(registry.Filter{Type: t, Project: project}) {
			targets = append(targets, bus.PowerTarget{ID: r.ID, Type: string(t), Region: r.Region})
		}
	}
	return targets
}

func (d *Dispatcher) power(ctx context.Context, action, project string, target bus.PowerTarget) error {
	ref := target.Ref()
	if !ref.Type.Capabilities().Powerable {
		return engine.NewUnsupportedError(ref)
	}
	if d.deps.Guard != nil {
		if reason, denied := d.denied(ctx, policy.OperationPower, project, d.observed(ctx, ref)); denied {
			return fmt.Errorf("denied by policy: %s", reason)
		}
	}

	op := action + "_" + string(ref.Type)
	return d.tel.ObserveProviderCall(ctx, d.deps.Provider.Name(), op, func(ctx context.Context) error {
		switch {
		case ref.Type == engine.TypeInstance && action == bus.PowerStart:
			return d.deps.Provider.StartInstance(ctx, ref.Region, ref.ID)
		case ref.Type == engine.TypeInstance:
			return d.deps.Provider.StopInstance(ctx, ref.Region, ref.ID)
		case action == bus.PowerStart:
			return d.deps.Provider.StartDBInstance(ctx, ref.Region, ref.ID)
		default:
			return d.deps.Provider.StopDBInstance(ctx, ref.Region, ref.ID)
		}
	})
}

func (d *Dispatcher) handlePower(ctx context.Context, cmd bus.Command, p bus.Payload) error {
	req := p.(*bus.PowerRequest)
	action, project := req.Action, req.Project
	resources := req.Resources

	if action != bus.PowerStart && action != bus.PowerStop {
		d.publish(ctx, bus.EventPower, cmd.RequestID, bus.StatusError, map[string]any{
			"error":     "Invalid power action",
			"action":    action,
			"project":   project,
			"resources": resources,
		})
		return nil
	}

	if len(resources) == 0 && project != "" {
		resources = d.projectPowerTargets(project)
	}
	if resources == nil {
		resources = []bus.PowerTarget{}
	}
	if len(resources) == 0 {
		d.publish(ctx, bus.EventPower, cmd.RequestID, bus.StatusSuccess, map[string]any{
			"message":   "No resources found to control.",
			"action":    action,
			"project":   project,
			"resources": resources,
		})
		return nil
	}

	count := 0
	var errs []string
	for _, r := range resources {
		if err := d.power(ctx, action, project, r); err != nil {
			errs = append(errs, fmt.Sprintf("%s (%s): %v", r.ID, r.Type, err))
			d.logger.Error().Err(err).Str("request_id", cmd.RequestID).Str("action", action).
				Str("resource", r.Ref().String()).Msg("power action failed")
			d.publish(ctx, bus.EventPower, cmd.RequestID, bus.StatusError, map[string]any{
				"error":     err.Error(),
				"resource":  r.ID,
				"type":      r.Type,
				"action":    action,
				"project":   project,
				"resources": resources,
			})
			continue
		}
		count++
	}

	if len(errs) > 0 {
		status := bus.StatusPartial
		if count == 0 {
			status = bus.StatusError
		}
		d.publish(ctx, bus.EventPower, cmd.RequestID, status, map[string]any{
			"message":   powerFailureMessage(action, errs),
			"action":    action,
			"project":   project,
			"resources": resources,
			"count":     count,
			"errors":    errs,
		})
		return nil
	}

	d.publish(ctx, bus.EventPower, cmd.RequestID, bus.StatusSuccess, map[string]any{
		"message":   fmt.Sprintf("%s command sent to %d resource(s). Waiting for confirmation...", strings.ToUpper(action[:1])+action[1:], count),
		"action":    action,
		"project":   project,
		"resources": resources,
		"count":     count,
	})
	return nil
}

// powerFailureMessage lists the first three failures.
func powerFailureMessage(action string, errs []string) string {
	shown := errs
	if len(shown) > 3 {
		shown = shown[:3]
	}
	msg := fmt.Sprintf("Failed to %s %d resource(s): %s", action, len(errs), strings.Join(shown, "; "))
	if len(errs) > 3 {
		msg += fmt.Sprintf(" and %d more", len(errs)-3)
	}
	return msg
}
