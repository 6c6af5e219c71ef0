package engine

import "context"

// ChildFinder returns the resources that must be deleted before ref.
// Implementations tolerate failures per child category and only return an
// error when nothing could be enumerated.
type ChildFinder interface {
	FindChildren(ctx context.Context, ref ResourceRef) ([]ResourceRef, error)
}

// ResourceDeleter deletes one resource. A resource that is already gone
// is a success.
type ResourceDeleter interface {
	Delete(ctx context.Context, ref ResourceRef) error
}

// DeletionTracker records successful deletions in durable state.
type DeletionTracker interface {
	MarkDeleted(ctx context.Context, id, region string) error
}

// ProgressReporter receives deletion progress from the executor. Methods are
// called from worker goroutines and must be safe for concurrent use.
type ProgressReporter interface {
	// Deleted is called once per successfully deleted resource.
	Deleted(ctx context.Context, p DeletionProgress)

	// Failed is called once per resource whose deletion failed.
	Failed(ctx context.Context, f DeletionFailure)

	// Completed is called once when all layers have been attempted.
	Completed(ctx context.Context, run *DeletionRun)
}

// ProgressFuncs adapts plain functions to ProgressReporter. Nil fields are skipped.
type ProgressFuncs struct {
	OnDeleted   func(ctx context.Context, p DeletionProgress)
	OnFailed    func(ctx context.Context, f DeletionFailure)
	OnCompleted func(ctx context.Context, run *DeletionRun)
}

func (f ProgressFuncs) Deleted(ctx context.Context, p DeletionProgress) {
	if f.OnDeleted != nil {
		f.OnDeleted(ctx, p)
	}
}

func (f ProgressFuncs) Failed(ctx context.Context, fail DeletionFailure) {
	if f.OnFailed != nil {
		f.OnFailed(ctx, fail)
	}
}

func (f ProgressFuncs) Completed(ctx context.Context, run *DeletionRun) {
	if f.OnCompleted != nil {
		f.OnCompleted(ctx, run)
	}
}
