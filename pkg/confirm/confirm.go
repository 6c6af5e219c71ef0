// Package confirm re-verifies live cloud state after a command reports that
// its action was issued. A completion event is never taken as proof: every
// resource is polled until the expected end state is observed or the
// bounded timeout elapses, and one terminal status event is published per
// command.
package confirm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

// Confirmation kinds.
const (
	KindTerminate = "terminate"
	KindPower     = "power"
	KindDeploy    = "deploy"
)

// Settings holds one polling policy per confirmation kind.
type Settings struct {
	Terminate retry.Policy `yaml:"terminate" json:"terminate"`
	Power     retry.Policy `yaml:"power" json:"power"`
	Deploy    retry.Policy `yaml:"deploy" json:"deploy"`

	// Concurrency bounds the resources polled at once within one task.
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=0"`
}

// DefaultSettings returns the standard policies: termination 15 minutes,
// power 10 minutes, deploy 15 minutes, intervals growing by 1.5x.
func DefaultSettings() Settings {
	return Settings{
		Terminate:   retry.Exponential(5*time.Second, 1.5, 30*time.Second, 15*time.Minute),
		Power:       retry.Exponential(5*time.Second, 1.5, 30*time.Second, 10*time.Minute),
		Deploy:      retry.Exponential(10*time.Second, 1.5, 45*time.Second, 15*time.Minute),
		Concurrency: 8,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Terminate.Timeout == 0 && s.Terminate.MaxAttempts == 0 {
		s.Terminate = d.Terminate
	}
	if s.Power.Timeout == 0 && s.Power.MaxAttempts == 0 {
		s.Power = d.Power
	}
	if s.Deploy.Timeout == 0 && s.Deploy.MaxAttempts == 0 {
		s.Deploy = d.Deploy
	}
	if s.Concurrency <= 0 {
		s.Concurrency = d.Concurrency
	}
	return s
}

// Options configures a Service.
type Options struct {
	Settings Settings
	Clock    retry.Clock

	// DefaultRegion is used by deploy confirmations that name no region.
	DefaultRegion string

	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger
}

// Task is a snapshot of one outstanding or finished confirmation.
type Task struct {
	ID        string                   `json:"id"`
	Kind      string                   `json:"kind"`
	RequestID string                   `json:"request_id,omitempty"`
	State     engine.ConfirmationState `json:"state"`
	StartedAt time.Time                `json:"started_at"`
	EndedAt   time.Time                `json:"ended_at,omitempty"`
}

// Service runs confirmations as cancellable background tasks.
type Service struct {
	provider  cloud.Provider
	publisher bus.Publisher
	settings  Settings
	clock     retry.Clock
	region    string
	tel       *telemetry.Telemetry
	logger    zerolog.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	terminateErrors map[string][]string
	tasks           map[string]*Task
}

// New creates a confirmation service publishing its outcomes on publisher.
func New(provider cloud.Provider, publisher bus.Publisher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = retry.RealClock{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "us-east-1"
	}
	root, cancel := context.WithCancel(context.Background())
	return &Service{
		provider:        provider,
		publisher:       publisher,
		settings:        opts.Settings.withDefaults(),
		clock:           opts.Clock,
		region:          opts.DefaultRegion,
		tel:             opts.Telemetry,
		logger:          opts.Logger.With().Str("component", "confirmation").Logger(),
		root:            root,
		cancel:          cancel,
		terminateErrors: make(map[string][]string),
		tasks:           make(map[string]*Task),
	}
}

// Start subscribes the service to the status events that trigger it.
func (s *Service) Start(ctx context.Context, b bus.Bus) (bus.Subscription, error) {
	return b.SubscribeStatus(ctx, s.HandleStatus,
		bus.FilterByType(bus.EventTerminateError, bus.EventTerminateComplete, bus.EventPower, bus.EventDeploy))
}

// HandleStatus reacts to one status event. terminate_error events are
// collected per request id and folded into that request's terminate
// confirmation; completion events start a confirmation task.
func (s *Service) HandleStatus(_ context.Context, event bus.Status) {
	switch {
	case event.Type == bus.EventTerminateError:
		if event.RequestID == "" {
			return
		}
		var p struct {
			ResourceID string `json:"resource_id"`
			Error      string `json:"error"`
		}
		_ = event.DecodeData(&p)
		if p.ResourceID == "" {
			p.ResourceID = "unknown"
		}
		if p.Error == "" {
			p.Error = "unknown error"
		}
		s.mu.Lock()
		s.terminateErrors[event.RequestID] = append(s.terminateErrors[event.RequestID], p.ResourceID+": "+p.Error)
		s.mu.Unlock()

	case event.Type == bus.EventTerminateComplete:
		var p terminatePayload
		if err := event.DecodeData(&p); err != nil {
			s.logger.Error().Err(err).Str("request_id", event.RequestID).Msg("unreadable terminate_complete event")
			return
		}
		s.spawn(KindTerminate, event.RequestID, func(ctx context.Context) engine.ConfirmationState {
			return s.ConfirmTerminate(ctx, event.RequestID, p.Project, p.Resources).State
		})

	case event.Type == bus.EventPower && event.Status == bus.StatusSuccess:
		var p powerPayload
		if err := event.DecodeData(&p); err != nil {
			s.logger.Error().Err(err).Str("request_id", event.RequestID).Msg("unreadable power event")
			return
		}
		s.spawn(KindPower, event.RequestID, func(ctx context.Context) engine.ConfirmationState {
			return s.ConfirmPower(ctx, event.RequestID, p.Action, p.Project, p.Resources).State
		})

	case event.Type == bus.EventDeploy && event.Status == bus.StatusSuccess:
		var p deployPayload
		if err := event.DecodeData(&p); err != nil {
			s.logger.Error().Err(err).Str("request_id", event.RequestID).Msg("unreadable deploy event")
			return
		}
		s.spawn(KindDeploy, event.RequestID, func(ctx context.Context) engine.ConfirmationState {
			return s.ConfirmDeploy(ctx, event.RequestID, p.Project, p.Region, p.ExpectedResourceTypes).State
		})
	}
}

func (s *Service) spawn(kind, requestID string, run func(ctx context.Context) engine.ConfirmationState) {
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		RequestID: requestID,
		State:     engine.ConfirmationPending,
		StartedAt: s.clock.Now(),
	}
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.logger.Info().Str("kind", kind).Str("request_id", requestID).Str("task_id", task.ID).Msg("confirmation started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.setState(task.ID, engine.ConfirmationPolling)
		state := run(s.root)
		s.setState(task.ID, state)
	}()
}

func (s *Service) setState(id string, state engine.ConfirmationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.State = state
		if state.IsTerminal() {
			t.EndedAt = s.clock.Now()
		}
	}
}

// Tasks returns every known confirmation task, oldest first.
func (s *Service) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait blocks until every running confirmation has published its outcome.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Stop cancels running confirmations and waits for them to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) takeTerminateErrors(requestID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := s.terminateErrors[requestID]
	delete(s.terminateErrors, requestID)
	return errs
}

// publish emits the terminal event. A publish failure is logged; the
// confirmation outcome itself stands.
func (s *Service) publish(ctx context.Context, event bus.Status) {
	if err := s.publisher.PublishStatus(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("type", event.Type).Str("request_id", event.RequestID).
			Msg("failed to publish confirmation outcome")
	}
}

func (s *Service) startSpan(ctx context.Context, kind, requestID string) (context.Context, func(state engine.ConfirmationState)) {
	ctx, end := s.tel.Tracer.StartConfirmationSpan(ctx, kind, requestID)
	return ctx, func(state engine.ConfirmationState) {
		end(string(state))
		s.tel.Metrics.RecordConfirmation(kind, string(state))
	}
}

// outcomeState folds per-resource failures into the task state.
func outcomeState(failed, timedOut int) engine.ConfirmationState {
	switch {
	case failed == 0:
		return engine.ConfirmationConfirmed
	case failed == timedOut:
		return engine.ConfirmationTimedOut
	default:
		return engine.ConfirmationDegraded
	}
}

// deadline is when a task started now runs out of p's timeout. It is zero
// for policies bounded by attempts only.
func (s *Service) deadline(p retry.Policy) time.Time {
	if p.Timeout <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(p.Timeout)
}

// pollFor wraps retry.Poll and reports whether the policy's bound ran out.
// The poll only gets the time left before the task deadline; a resource
// whose turn comes after it is checked once.
func (s *Service) pollFor(ctx context.Context, p retry.Policy, deadline time.Time, check func(ctx context.Context) (bool, error)) (bool, error) {
	if !deadline.IsZero() {
		if remaining := deadline.Sub(s.clock.Now()); remaining > 0 {
			p.Timeout = remaining
		} else {
			p.Timeout = 0
			p.MaxAttempts = 1
		}
	}
	err := retry.Poll(ctx, s.clock, p, check)
	if err == nil {
		return false, nil
	}
	return errors.Is(err, retry.ErrTimeout) || errors.Is(err, retry.ErrExhausted), err
}
