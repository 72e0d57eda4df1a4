// Package retry provides the error taxonomy and the bounded
// exponential-backoff policy shared by every stage that talks to an
// external service.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Class partitions failures by how the pipeline reacts to them.
type Class int

const (
	// ClassTransient errors (network, timeout, quota) are retried with
	// backoff up to the policy's attempt cap.
	ClassTransient Class = iota
	// ClassPermanent errors (unsupported format, corrupt content,
	// schema-invalid output) fail the document immediately.
	ClassPermanent
	// ClassFatal errors (store unreachable, auth failure) abort the run.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// Error carries a classification alongside the underlying cause.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(op string, err error) *Error { return &Error{Class: ClassTransient, Op: op, Err: err} }
func Permanent(op string, err error) *Error { return &Error{Class: ClassPermanent, Op: op, Err: err} }
func Fatal(op string, err error) *Error     { return &Error{Class: ClassFatal, Op: op, Err: err} }

// ClassOf extracts the classification of err. Unclassified errors are
// treated as transient so that plain network failures still get retried;
// permanence must be claimed explicitly at the stage boundary.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassTransient
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns exponential base-2 backoff with full jitter.
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do runs fn until it succeeds, returns a permanent or fatal error, or the
// attempt cap is reached. It returns the number of attempts made. Backoff
// waits respect ctx cancellation.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if class := ClassOf(err); class != ClassTransient {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		logger.Warn("Attempt failed, will retry",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff", delay.String(),
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return p.MaxAttempts, fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

// backoff returns a full-jitter delay: uniform in [0, base*2^(attempt-1)],
// capped at MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	ceiling := p.BaseDelay << (attempt - 1)
	if ceiling > p.MaxDelay || ceiling <= 0 {
		ceiling = p.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
