package confirm

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
)

type terminatePayload struct {
	Project   string              `json:"project"`
	Resources []bus.ResourceInput `json:"resources"`
}

// TerminateResult is the outcome of one termination confirmation.
type TerminateResult struct {
	State     engine.ConfirmationState
	Confirmed []string
	Shared    []string
	Ignored   []string
	Failed    []string
	Errors    []string
}

// TerminationOutcome decides what an observation means for a resource the
// project asked to terminate. A resource tagged to other projects only is
// ignored; one tagged to several projects including the requester's is
// shared.
func TerminationOutcome(obs *cloud.Observation, project string) engine.TerminateOutcome {
	if !obs.Exists {
		return engine.OutcomeDeleted
	}
	if project == "" {
		return engine.OutcomeExists
	}
	projects := engine.ProjectsOf(obs.Tags)
	owned := false
	for _, p := range projects {
		owned = owned || p == project
	}
	switch {
	case !owned:
		return engine.OutcomeIgnored
	case len(projects) > 1:
		return engine.OutcomeShared
	default:
		return engine.OutcomeExists
	}
}

type resourceOutcome struct {
	outcome engine.TerminateOutcome
	reason  string
}

// ConfirmTerminate polls every resource until it resolves or the
// termination policy runs out, then publishes terminate_confirmed or
// terminate_confirm_error. Deletion errors reported for the request are
// included in the error list.
func (s *Service) ConfirmTerminate(ctx context.Context, requestID, project string, resources []bus.ResourceInput) TerminateResult {
	ctx, end := s.startSpan(ctx, KindTerminate, requestID)
	deadline := s.deadline(s.settings.Terminate)

	outcomes := make([]resourceOutcome, len(resources))
	var g errgroup.Group
	g.SetLimit(s.settings.Concurrency)
	for i, r := range resources {
		g.Go(func() error {
			outcomes[i] = s.awaitTermination(ctx, r, project, deadline)
			return nil
		})
	}
	_ = g.Wait()

	res := TerminateResult{
		Confirmed: []string{},
		Shared:    []string{},
		Ignored:   []string{},
		Failed:    []string{},
		Errors:    append([]string{}, s.takeTerminateErrors(requestID)...),
	}
	timedOut := 0
	for i, o := range outcomes {
		id := resources[i].ID
		if id == "" {
			id = "unknown"
		}
		switch o.outcome {
		case engine.OutcomeDeleted:
			res.Confirmed = append(res.Confirmed, id)
		case engine.OutcomeIgnored:
			res.Confirmed = append(res.Confirmed, id)
			res.Ignored = append(res.Ignored, id)
		case engine.OutcomeShared:
			res.Shared = append(res.Shared, id)
		default:
			res.Failed = append(res.Failed, id)
			res.Errors = append(res.Errors, id+": "+o.reason)
			if o.outcome == engine.OutcomeTimedOut {
				timedOut++
			}
		}
	}
	res.State = outcomeState(len(res.Failed), timedOut)

	if len(res.Failed) > 0 {
		s.publish(ctx, bus.NewStatus(bus.EventTerminateConfirmError, requestID, bus.StatusError, map[string]any{
			"project":       project,
			"confirmed_ids": res.Confirmed,
			"shared_ids":    res.Shared,
			"failed_ids":    res.Failed,
			"errors":        res.Errors,
		}))
	} else {
		s.publish(ctx, bus.NewStatus(bus.EventTerminateConfirmed, requestID, bus.StatusSuccess, map[string]any{
			"project":             project,
			"confirmed_ids":       res.Confirmed,
			"shared_ids":          res.Shared,
			"ignored_ids":         res.Ignored,
			"confirmed_resources": pick(resources, res.Confirmed),
			"shared_resources":    pick(resources, res.Shared),
		}))
	}

	s.logger.Info().Str("request_id", requestID).Str("project", project).Str("state", string(res.State)).
		Int("confirmed", len(res.Confirmed)).Int("shared", len(res.Shared)).Int("failed", len(res.Failed)).
		Msg("termination confirmation finished")
	end(res.State)
	return res
}

func (s *Service) awaitTermination(ctx context.Context, r bus.ResourceInput, project string, deadline time.Time) resourceOutcome {
	if r.ID == "" || r.Type == "" || r.Region == "" {
		return resourceOutcome{reason: "missing resource metadata"}
	}
	ref := engine.ResourceRef{ID: r.ID, Type: engine.ResourceType(r.Type), Region: r.Region}

	outcome := engine.OutcomeExists
	var lastErr error
	expired, err := s.pollFor(ctx, s.settings.Terminate, deadline, func(ctx context.Context) (bool, error) {
		obs, err := cloud.Observe(ctx, s.provider, ref)
		if err != nil {
			lastErr = err
			if engine.CodeOf(err) == engine.ErrCodeUnsupported {
				return false, retry.Permanent(err)
			}
			return false, err
		}
		lastErr = nil
		outcome = TerminationOutcome(obs, project)
		return outcome.IsResolved(), nil
	})

	switch {
	case err == nil:
		return resourceOutcome{outcome: outcome}
	case expired && lastErr != nil:
		return resourceOutcome{outcome: engine.OutcomeTimedOut, reason: lastErr.Error()}
	case expired:
		return resourceOutcome{outcome: engine.OutcomeTimedOut, reason: "still present"}
	case errors.Is(err, context.Canceled):
		return resourceOutcome{reason: "confirmation cancelled"}
	default:
		return resourceOutcome{reason: err.Error()}
	}
}

func pick(resources []bus.ResourceInput, ids []string) []bus.ResourceInput {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []bus.ResourceInput{}
	for _, r := range resources {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
