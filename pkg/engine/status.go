package engine

import "fmt"

// RunStatus represents the overall status of a deletion run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every resource was deleted.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates no resource could be deleted.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates some resources failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
		RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// ConfirmationState is the state of one outstanding confirmation.
type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationPolling   ConfirmationState = "polling"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationDegraded  ConfirmationState = "degraded"
	ConfirmationTimedOut  ConfirmationState = "timed_out"
)

// IsTerminal returns true once the confirmation has an outcome.
func (s ConfirmationState) IsTerminal() bool {
	return s == ConfirmationConfirmed || s == ConfirmationDegraded || s == ConfirmationTimedOut
}

// Validate checks if the confirmation state is valid.
func (s ConfirmationState) Validate() error {
	switch s {
	case ConfirmationPending, ConfirmationPolling, ConfirmationConfirmed,
		ConfirmationDegraded, ConfirmationTimedOut:
		return nil
	default:
		return fmt.Errorf("invalid confirmation state: %s", s)
	}
}

// TerminateOutcome is the per-resource result of termination confirmation.
type TerminateOutcome string

const (
	// OutcomeDeleted means the provider no longer reports the resource.
	OutcomeDeleted TerminateOutcome = "deleted"

	// OutcomeIgnored means the resource still exists but is not the
	// requester's to delete.
	OutcomeIgnored TerminateOutcome = "ignored"

	// OutcomeShared means the resource is tagged to several projects
	// including the requester's and is left alive.
	OutcomeShared TerminateOutcome = "shared"

	// OutcomeExists means the resource is still present and owned.
	OutcomeExists TerminateOutcome = "exists"

	// OutcomeTimedOut means the resource never resolved within the bound.
	OutcomeTimedOut TerminateOutcome = "timed_out"
)

// IsResolved reports whether the outcome ends polling for the resource.
func (o TerminateOutcome) IsResolved() bool {
	return o == OutcomeDeleted || o == OutcomeIgnored || o == OutcomeShared
}
