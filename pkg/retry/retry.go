// Package retry is the bounded-backoff primitive shared by the deleter and
// the confirmation service. All waiting goes through a Clock so timing
// policy can be driven by tests.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrTimeout is returned when the policy's overall timeout elapses.
	ErrTimeout = errors.New("retry: timed out")

	// ErrExhausted is returned when MaxAttempts calls all failed.
	ErrExhausted = errors.New("retry: attempts exhausted")
)

// Policy bounds a retry or poll loop. Intervals start at BaseDelay and are
// multiplied by Factor after every attempt, never exceeding Cap.
type Policy struct {
	// MaxAttempts limits the number of calls. Zero means unlimited, in
	// which case Timeout should be set.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
	Factor    float64       `yaml:"factor" json:"factor"`
	Cap       time.Duration `yaml:"cap" json:"cap"`

	// Timeout bounds the whole loop. Zero means no overall bound.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Constant returns a policy with a fixed delay between attempts.
func Constant(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: delay, Factor: 1, Cap: delay}
}

// Exponential returns a time-bounded policy with growing intervals.
func Exponential(base time.Duration, factor float64, cap, timeout time.Duration) Policy {
	return Policy{BaseDelay: base, Factor: factor, Cap: cap, Timeout: timeout}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	limit := p.Cap
	if limit < p.BaseDelay {
		limit = p.BaseDelay
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          factor,
		MaxInterval:         limit,
	}
	b.Reset()
	return b
}

// Intervals returns the first n waits the policy produces.
func (p Policy) Intervals(n int) []time.Duration {
	b := p.backOff()
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do and Poll return the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func asPermanent(err error) (error, bool) {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err, true
	}
	return nil, false
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// run out, or the timeout elapses.
func Do(ctx context.Context, clock Clock, p Policy, fn func(ctx context.Context) error) error {
	_, err := loop(ctx, clock, p, func(ctx context.Context) (bool, error) {
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// Poll calls check until it reports done. A non-permanent error from check
// counts as "not yet" and is kept as the last error. When the timeout is
// near, the final wait is shortened so one last check happens at the
// deadline.
func Poll(ctx context.Context, clock Clock, p Policy, check func(ctx context.Context) (bool, error)) error {
	_, err := loop(ctx, clock, p, check)
	return err
}

// PollCount behaves like Poll and also returns the number of checks made.
func PollCount(ctx context.Context, clock Clock, p Policy, check func(ctx context.Context) (bool, error)) (int, error) {
	return loop(ctx, clock, p, check)
}

func loop(ctx context.Context, clock Clock, p Policy, check func(ctx context.Context) (bool, error)) (int, error) {
	if clock == nil {
		clock = RealClock{}
	}
	b := p.backOff()

	var deadline time.Time
	if p.Timeout > 0 {
		deadline = clock.Now().Add(p.Timeout)
	}

	var last error
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err == nil && done {
			return attempt, nil
		}
		if err != nil {
			if inner, ok := asPermanent(err); ok {
				return attempt, inner
			}
			last = err
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return attempt, wrapLast(ErrExhausted, last)
		}

		wait := b.NextBackOff()
		if !deadline.IsZero() {
			remaining := deadline.Sub(clock.Now())
			if remaining <= 0 {
				return attempt, wrapLast(ErrTimeout, last)
			}
			if wait > remaining {
				wait = remaining
			}
		}

		if err := clock.Sleep(ctx, wait); err != nil {
			return attempt, wrapLast(err, last)
		}
	}
}

func wrapLast(sentinel, last error) error {
	if last == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, last)
}
