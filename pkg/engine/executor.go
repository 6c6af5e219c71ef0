package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/retry"
)

// DefaultLayerPause is the wait between layers that lets the provider
// settle before the next layer is touched.
const DefaultLayerPause = 2 * time.Second

// DeletionProgress describes one successfully deleted resource.
type DeletionProgress struct {
	RunID string      `json:"run_id"`
	Ref   ResourceRef `json:"ref"`
	Step  int         `json:"step"`
	Total int         `json:"total"`
	Layer int         `json:"layer"`
}

// DeletionFailure describes one resource the deleter could not remove.
type DeletionFailure struct {
	Ref    ResourceRef   `json:"ref"`
	Step   int           `json:"step"`
	Total  int           `json:"total"`
	Layer  int           `json:"layer"`
	Reason FailureReason `json:"reason"`
	Code   string        `json:"code,omitempty"`
	Error  string        `json:"error"`
}

// DeletionRun is the outcome of executing a set of layers.
type DeletionRun struct {
	ID          string            `json:"id"`
	Status      RunStatus         `json:"status"`
	Total       int               `json:"total"`
	Resources   []ResourceRef     `json:"resources"`
	Deleted     []ResourceRef     `json:"deleted"`
	Failed      []DeletionFailure `json:"failed"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// ExecutorOptions configures a DeletionExecutor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent deletions inside one layer.
	MaxParallel int

	// LayerPause is the wait between layers. Negative disables it.
	LayerPause time.Duration

	Clock retry.Clock
}

// DeletionExecutor deletes layers in reverse topological order. Members of
// a layer are deleted concurrently; a layer starts only after every
// deletion of the previous one has been attempted. Failures never stop the
// run.
type DeletionExecutor struct {
	deleter ResourceDeleter
	tracker DeletionTracker
	opts    ExecutorOptions
	logger  zerolog.Logger
}

// NewDeletionExecutor creates an executor. tracker may be nil.
func NewDeletionExecutor(deleter ResourceDeleter, tracker DeletionTracker, opts ExecutorOptions, logger zerolog.Logger) *DeletionExecutor {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.LayerPause == 0 {
		opts.LayerPause = DefaultLayerPause
	}
	if opts.Clock == nil {
		opts.Clock = retry.RealClock{}
	}
	return &DeletionExecutor{
		deleter: deleter,
		tracker: tracker,
		opts:    opts,
		logger:  logger.With().Str("component", "deletion_executor").Logger(),
	}
}

// Execute runs the deletion for layers as returned by DependencyGraph.Layers.
// The slice is walked from the last layer to the first.
func (e *DeletionExecutor) Execute(ctx context.Context, layers []Layer, reporter ProgressReporter) *DeletionRun {
	if reporter == nil {
		reporter = ProgressFuncs{}
	}

	order := ReverseLayers(layers)
	run := &DeletionRun{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		Resources: make([]ResourceRef, 0),
		Deleted:   make([]ResourceRef, 0),
		Failed:    make([]DeletionFailure, 0),
		StartedAt: e.opts.Clock.Now(),
	}
	for _, layer := range order {
		run.Resources = append(run.Resources, layer...)
	}
	run.Total = len(run.Resources)

	e.logger.Info().Str("run_id", run.ID).Int("layers", len(order)).Int("total", run.Total).
		Msg("starting deletion run")

	state := &runState{run: run}
	for i, layer := range order {
		if len(layer) == 0 {
			continue
		}
		if i > 0 && e.opts.LayerPause > 0 {
			if err := e.opts.Clock.Sleep(ctx, e.opts.LayerPause); err != nil {
				e.failRemaining(ctx, state, order[i:], i, err, reporter)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			e.failRemaining(ctx, state, order[i:], i, err, reporter)
			break
		}
		e.executeLayer(ctx, state, layer, i, reporter)
	}

	run.CompletedAt = e.opts.Clock.Now()
	switch {
	case ctx.Err() != nil:
		run.Status = RunStatusCancelled
	case len(run.Failed) == 0:
		run.Status = RunStatusSucceeded
	case len(run.Deleted) > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusFailed
	}

	e.logger.Info().Str("run_id", run.ID).Str("status", string(run.Status)).
		Int("deleted", len(run.Deleted)).Int("failed", len(run.Failed)).
		Msg("deletion run finished")

	reporter.Completed(ctx, run)
	return run
}

type runState struct {
	mu   sync.Mutex
	run  *DeletionRun
	step int
}

// executeLayer deletes all members of one layer using a worker pool.
func (e *DeletionExecutor) executeLayer(ctx context.Context, state *runState, layer Layer, index int, reporter ProgressReporter) {
	workerCount := e.opts.MaxParallel
	if len(layer) < workerCount {
		workerCount = len(layer)
	}

	workQueue := make(chan ResourceRef, len(layer))
	for _, ref := range layer {
		workQueue <- ref
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range workQueue {
				e.deleteOne(ctx, state, ref, index, reporter)
			}
		}()
	}
	wg.Wait()
}

func (e *DeletionExecutor) deleteOne(ctx context.Context, state *runState, ref ResourceRef, layer int, reporter ProgressReporter) {
	err := e.deleter.Delete(ctx, ref)
	if err != nil {
		e.recordFailure(ctx, state, ref, layer, err, reporter)
		return
	}

	if e.tracker != nil {
		if terr := e.tracker.MarkDeleted(ctx, ref.ID, ref.Region); terr != nil {
			e.logger.Error().Err(terr).Str("resource", ref.String()).Msg("failed to mark resource deleted")
		}
	}

	state.mu.Lock()
	state.step++
	state.run.Deleted = append(state.run.Deleted, ref)
	progress := DeletionProgress{
		RunID: state.run.ID,
		Ref:   ref,
		Step:  state.step,
		Total: state.run.Total,
		Layer: layer,
	}
	state.mu.Unlock()

	e.logger.Debug().Str("resource", ref.String()).Int("step", progress.Step).Msg("resource deleted")
	reporter.Deleted(ctx, progress)
}

func (e *DeletionExecutor) recordFailure(ctx context.Context, state *runState, ref ResourceRef, layer int, err error, reporter ProgressReporter) {
	failure := DeletionFailure{
		Ref:    ref,
		Layer:  layer,
		Reason: Reason(err),
		Code:   CodeOf(err),
		Error:  err.Error(),
	}

	state.mu.Lock()
	state.step++
	failure.Step = state.step
	failure.Total = state.run.Total
	state.run.Failed = append(state.run.Failed, failure)
	state.mu.Unlock()

	e.logger.Warn().Err(err).Str("resource", ref.String()).Str("reason", string(failure.Reason)).
		Int("step", failure.Step).Msg("resource deletion failed")
	reporter.Failed(ctx, failure)
}

func (e *DeletionExecutor) failRemaining(ctx context.Context, state *runState, layers []Layer, first int, cause error, reporter ProgressReporter) {
	for i, layer := range layers {
		for _, ref := range layer {
			e.recordFailure(ctx, state, ref, first+i, fmt.Errorf("deletion not attempted: %w", cause), reporter)
		}
	}
}
