// Package dispatch consumes command envelopes and runs the matching flow on
// a bounded pool of workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/deploy"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/policy"
	"github.com/pockitect/pockitect/pkg/registry"
	"github.com/pockitect/pockitect/pkg/scan"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

// Registry is the slice of the resource registry the flows use.
type Registry interface {
	Add(ctx context.Context, res engine.TrackedResource) (engine.TrackedResource, error)
	MarkDeleted(ctx context.Context, id, region string) error
	GetActive(f registry.Filter) []engine.TrackedResource
}

// Guard decides whether an operation on a resource may proceed.
type Guard interface {
	Evaluate(ctx context.Context, input policy.Input) (*policy.Decision, error)
}

// Scanner runs a scan request.
type Scanner interface {
	Run(ctx context.Context, req *bus.ScanRequest, requestID string, pub bus.Publisher) (*scan.Result, error)
}

// Deps are the collaborators a Dispatcher routes commands to.
type Deps struct {
	Provider  cloud.Provider
	Publisher bus.Publisher
	Registry  Registry
	Finder    engine.ChildFinder
	Deleter   engine.ResourceDeleter
	Scanner   Scanner

	// Guard is optional; without it every resource may be terminated.
	Guard Guard
}

// Options configures a Dispatcher.
type Options struct {
	// Workers bounds the number of commands handled at once. Defaults to 5.
	Workers int

	ProjectsDir   string
	DefaultRegion string
	Deletion      engine.ExecutorOptions

	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger
}

type handlerFunc func(d *Dispatcher, ctx context.Context, cmd bus.Command, p bus.Payload) error

var handlers = map[string]handlerFunc{
	bus.CommandScanAllRegions: (*Dispatcher).handleScan,
	bus.CommandDeploy:         (*Dispatcher).handleDeploy,
	bus.CommandTerminate:      (*Dispatcher).handleTerminate,
	bus.CommandPower:          (*Dispatcher).handlePower,
	bus.CommandProjectUpdated: (*Dispatcher).handleProjectUpdated,
}

// Dispatcher routes commands to their flows. Submit never blocks: commands
// wait for a worker slot in their own goroutine.
type Dispatcher struct {
	deps     Deps
	opts     Options
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	sem      *semaphore.Weighted
	builder  *engine.GraphBuilder
	executor *engine.DeletionExecutor
	deployer *deploy.Deployer

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher.
func New(deps Deps, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "us-east-1"
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	logger := opts.Logger.With().Str("component", "dispatcher").Logger()

	var tracker engine.DeletionTracker
	var deployTracker deploy.Tracker
	if deps.Registry != nil {
		tracker = deps.Registry
		deployTracker = deps.Registry
	}

	root, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		deps:     deps,
		opts:     opts,
		tel:      opts.Telemetry,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		builder:  engine.NewGraphBuilder(deps.Finder, opts.Logger),
		executor: engine.NewDeletionExecutor(deps.Deleter, tracker, opts.Deletion, opts.Logger),
		deployer: deploy.New(deps.Provider, deployTracker, deploy.Options{
			DefaultRegion: opts.DefaultRegion,
			Telemetry:     opts.Telemetry,
			Logger:        opts.Logger,
		}),
		root:   root,
		cancel: cancel,
	}
}

// Start subscribes the dispatcher to the command channel.
func (d *Dispatcher) Start(ctx context.Context, b bus.Bus) (bus.Subscription, error) {
	return b.SubscribeCommands(ctx, d.Submit)
}

// Submit queues cmd for a worker and returns immediately.
func (d *Dispatcher) Submit(_ context.Context, cmd bus.Command) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.root, 1); err != nil {
			d.logger.Warn().Str("type", cmd.Type).Str("request_id", cmd.RequestID).Msg("dispatcher stopped before command ran")
			return
		}
		defer d.sem.Release(1)
		d.Dispatch(d.root, cmd)
	}()
}

// Dispatch runs cmd on the calling goroutine. A handler error or panic is
// reported as a single error status event.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd bus.Command) {
	handle, ok := handlers[cmd.Type]
	if !ok {
		d.logger.Warn().Str("type", cmd.Type).Str("request_id", cmd.RequestID).Msg("unknown command type")
		return
	}

	scope := d.tel.StartCommand(ctx, cmd.Type, cmd.RequestID)
	status := bus.StatusSuccess
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.logger.Error().Str("type", cmd.Type).Str("request_id", cmd.RequestID).
				Str("stack", string(debug.Stack())).Msg("command handler panicked")
		}
		if err != nil {
			status = bus.StatusError
			d.publish(ctx, bus.EventError, cmd.RequestID, bus.StatusError, map[string]any{
				"message": err.Error(),
				"command": cmd.Type,
			})
		}
		scope.End(status, err)
	}()

	payload, perr := cmd.Payload()
	if perr != nil {
		err = perr
		return
	}
	scope.Logger.Debug("command started")
	err = handle(d, scope.Ctx, cmd, payload)
	if err != nil {
		scope.Logger.WithError(err).Error("command failed")
	}
}

// Wait blocks until every submitted command has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop cancels running commands and waits for them to return.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) publish(ctx context.Context, eventType, requestID, status string, data map[string]any) {
	if d.deps.Publisher == nil {
		return
	}
	err := d.deps.Publisher.PublishStatus(context.WithoutCancel(ctx), bus.NewStatus(eventType, requestID, status, data))
	if err != nil && !errors.Is(err, bus.ErrClosed) {
		d.logger.Error().Err(err).Str("event", eventType).Str("request_id", requestID).Msg("failed to publish status")
	}
}
