package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/deploy"
)

func (d *Dispatcher) handleScan(ctx context.Context, cmd bus.Command, p bus.Payload) error {
	if d.deps.Scanner == nil {
		return fmt.Errorf("scanning is not configured")
	}
	result, err := d.deps.Scanner.Run(ctx, p.(*bus.ScanRequest), cmd.RequestID, d.deps.Publisher)
	if err != nil {
		// The scanner already published the failure as a scan_chunk.
		d.logger.Error().Err(err).Str("request_id", cmd.RequestID).Msg("scan failed")
		return nil
	}
	d.logger.Info().Str("request_id", cmd.RequestID).
		Int("scanned", len(result.Scanned)).Int("failed", len(result.Failed)).
		Msg("scan complete")
	return nil
}

func (d *Dispatcher) handleDeploy(ctx context.Context, cmd bus.Command, p bus.Payload) error {
	req := p.(*bus.DeployRequest)
	expected := req.ExpectedResourceTypes
	if expected == nil {
		expected = []string{}
	}
	fail := func(msg string) {
		d.publish(ctx, bus.EventDeploy, cmd.RequestID, bus.StatusError, map[string]any{
			"error":                   msg,
			"project":                 req.Project,
			"region":                  req.Region,
			"expected_resource_types": expected,
		})
	}

	if req.TemplatePath == "" {
		fail("Missing template_path")
		return nil
	}

	bp, err := deploy.LoadBlueprint(req.TemplatePath)
	if err != nil {
		fail(err.Error())
		return nil
	}
	if bp.Project.Region == "" {
		bp.Project.Region = req.Region
	}

	_, err = d.deployer.Deploy(ctx, bp, func(msg string, step, total int) {
		d.publish(ctx, bus.EventDeploy, cmd.RequestID, bus.StatusInProgress, map[string]any{
			"message": msg,
			"step":    step,
			"total":   total,
		})
	})
	if err != nil {
		fail(err.Error())
		return nil
	}

	d.publish(ctx, bus.EventDeploy, cmd.RequestID, bus.StatusSuccess, map[string]any{
		"message":                 "Deployment completed successfully.",
		"project":                 req.Project,
		"region":                  req.Region,
		"expected_resource_types": expected,
	})
	return nil
}

func (d *Dispatcher) handleProjectUpdated(ctx context.Context, cmd bus.Command, p bus.Payload) error {
	slug := p.(*bus.ProjectUpdatedRequest).Project
	updated, err := deploy.Refresh(ctx, d.deps.Provider, d.opts.ProjectsDir, slug, d.opts.DefaultRegion)
	if errors.Is(err, deploy.ErrProjectNotFound) {
		d.logger.Warn().Str("request_id", cmd.RequestID).Str("project", slug).Msg("project file not found, nothing to refresh")
		return nil
	}
	if err != nil {
		return err
	}
	d.publish(ctx, bus.EventProjectRefreshComplete, cmd.RequestID, bus.StatusSuccess, map[string]any{
		"project": slug,
		"updated": updated,
	})
	return nil
}
