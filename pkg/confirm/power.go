package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
)

type powerPayload struct {
	Action    string            `json:"action"`
	Project   string            `json:"project"`
	Resources []bus.PowerTarget `json:"resources"`
}

// PowerResult is the outcome of one power confirmation.
type PowerResult struct {
	State     engine.ConfirmationState
	Confirmed []string
	Failed    []string
	Errors    []string
}

// ExpectedPowerState returns the state a resource settles in after action.
func ExpectedPowerState(t engine.ResourceType, action string) (string, error) {
	switch t {
	case engine.TypeInstance:
		if action == bus.PowerStart {
			return cloud.InstanceRunning, nil
		}
		return cloud.InstanceStopped, nil
	case engine.TypeDBInstance:
		if action == bus.PowerStart {
			return cloud.DBAvailable, nil
		}
		return cloud.DBStopped, nil
	}
	return "", fmt.Errorf("unsupported power resource: %s", t)
}

// ConfirmPower polls every resource until it reports the state its power
// action leads to, then publishes power_confirmed or power_confirm_error.
func (s *Service) ConfirmPower(ctx context.Context, requestID, action, project string, resources []bus.PowerTarget) PowerResult {
	ctx, end := s.startSpan(ctx, KindPower, requestID)
	deadline := s.deadline(s.settings.Power)

	type outcome struct {
		ok       bool
		timedOut bool
		reason   string
	}
	outcomes := make([]outcome, len(resources))
	var g errgroup.Group
	g.SetLimit(s.settings.Concurrency)
	for i, r := range resources {
		g.Go(func() error {
			ok, timedOut, reason := s.awaitPowerState(ctx, r, action, deadline)
			outcomes[i] = outcome{ok: ok, timedOut: timedOut, reason: reason}
			return nil
		})
	}
	_ = g.Wait()

	res := PowerResult{Confirmed: []string{}, Failed: []string{}, Errors: []string{}}
	timedOut := 0
	for i, o := range outcomes {
		id := resources[i].ID
		if id == "" {
			id = "unknown"
		}
		if o.ok {
			res.Confirmed = append(res.Confirmed, id)
			continue
		}
		res.Failed = append(res.Failed, id)
		res.Errors = append(res.Errors, id+": "+o.reason)
		if o.timedOut {
			timedOut++
		}
	}
	res.State = outcomeState(len(res.Failed), timedOut)

	if len(res.Failed) > 0 {
		s.publish(ctx, bus.NewStatus(bus.EventPowerConfirmError, requestID, bus.StatusError, map[string]any{
			"project":       project,
			"action":        action,
			"confirmed_ids": res.Confirmed,
			"failed_ids":    res.Failed,
			"errors":        res.Errors,
			"error":         "Power confirmation failed.",
			"resources":     resources,
		}))
	} else {
		s.publish(ctx, bus.NewStatus(bus.EventPowerConfirmed, requestID, bus.StatusSuccess, map[string]any{
			"project":       project,
			"action":        action,
			"confirmed_ids": res.Confirmed,
			"message":       "Power action confirmed.",
			"resources":     resources,
		}))
	}

	s.logger.Info().Str("request_id", requestID).Str("action", action).Str("state", string(res.State)).
		Int("confirmed", len(res.Confirmed)).Int("failed", len(res.Failed)).Msg("power confirmation finished")
	end(res.State)
	return res
}

// awaitPowerState reports whether the resource reached its expected state,
// whether the policy ran out, and the failure text.
func (s *Service) awaitPowerState(ctx context.Context, r bus.PowerTarget, action string, deadline time.Time) (bool, bool, string) {
	if r.ID == "" || r.Type == "" || r.Region == "" {
		return false, false, "missing resource metadata"
	}
	ref := r.Ref()
	want, err := ExpectedPowerState(ref.Type, action)
	if err != nil {
		return false, false, err.Error()
	}

	var lastErr error
	observed := ""
	expired, err := s.pollFor(ctx, s.settings.Power, deadline, func(ctx context.Context) (bool, error) {
		obs, err := cloud.Observe(ctx, s.provider, ref)
		if err != nil {
			lastErr = err
			return false, err
		}
		lastErr = nil
		if !obs.Exists {
			return false, retry.Permanent(errors.New("resource no longer exists"))
		}
		observed = obs.State
		return obs.State == want, nil
	})

	switch {
	case err == nil:
		return true, false, ""
	case expired && lastErr != nil:
		return false, true, lastErr.Error()
	case expired:
		return false, true, fmt.Sprintf("state mismatch: %s, want %s", observed, want)
	case errors.Is(err, context.Canceled):
		return false, false, "confirmation cancelled"
	default:
		return false, false, err.Error()
	}
}
