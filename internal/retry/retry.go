// Package retry provides a bounded retry combinator with exponential backoff
// that reports a tagged result instead of a bare error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Outcome tags the result of a call or of a whole retry sequence.
type Outcome int

const (
	Success Outcome = iota
	// RetryableFailure on a Result means the attempt ceiling was reached.
	RetryableFailure
	TerminalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case TerminalFailure:
		return "terminal_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Policy bounds a retry sequence.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout bounds each individual call. Hitting it is retryable.
	CallTimeout time.Duration
}

// Result is the tagged outcome of Do.
type Result[T any] struct {
	Value    T
	Outcome  Outcome
	Attempts int
	Err      error
}

// OK reports whether the call eventually succeeded.
func (r Result[T]) OK() bool { return r.Outcome == Success }

// Classifier maps a call error to an Outcome.
type Classifier func(error) Outcome

type options struct {
	classify Classifier
	onRetry  func(attempt int, err error, delay time.Duration)
}

// Option customises Do.
type Option func(*options)

// WithClassifier replaces the default Classify.
func WithClassifier(c Classifier) Option {
	return func(o *options) { o.classify = c }
}

// OnRetry registers a hook invoked before each backoff sleep.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do calls fn until it succeeds, fails terminally, or MaxAttempts calls have
// been made. The parent context being cancelled ends the sequence with a
// TerminalFailure.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), opts ...Option) Result[T] {
	o := options{classify: Classify}
	for _, opt := range opts {
		opt(&o)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var res Result[T]
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		v, err := call(ctx, p.CallTimeout, fn)
		if err == nil {
			res.Value = v
			res.Outcome = Success
			res.Err = nil
			return res
		}
		res.Err = err

		if ctx.Err() != nil {
			res.Outcome = TerminalFailure
			return res
		}
		if o.classify(err) != RetryableFailure {
			res.Outcome = TerminalFailure
			return res
		}
		if attempt >= maxAttempts {
			res.Outcome = RetryableFailure
			return res
		}

		delay := Backoff(p.BaseDelay, p.MaxDelay, attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			res.Err = errors.Join(res.Err, err)
			res.Outcome = TerminalFailure
			return res
		}
	}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return v, &timeoutError{after: timeout, err: err}
	}
	return v, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type timeoutError struct {
	after time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("call timed out after %s: %v", e.after, e.err)
}

func (e *timeoutError) Unwrap() error   { return e.err }
func (e *timeoutError) Retryable() bool { return true }

type markedError struct {
	err       error
	retryable bool
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Retryable() bool { return e.retryable }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: true}
}

// Permanent marks err as terminal.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: false}
}

// Classify is the default Classifier. Errors exposing Retryable() decide for
// themselves; otherwise timeouts and network errors are retryable and
// everything else, including cancellation, is terminal.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		if r.Retryable() {
			return RetryableFailure
		}
		return TerminalFailure
	}
	if errors.Is(err, context.Canceled) {
		return TerminalFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryableFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return RetryableFailure
	}
	return TerminalFailure
}
