// Package errpolicy classifies stage failures and retries the transient ones.
package errpolicy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"
)

// Class is the failure taxonomy.
type Class int

const (
	// Fatal is the zero value: anything not recognized is unexpected.
	Fatal Class = iota
	Transient
	InvalidInput
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case InvalidInput:
		return "invalid_input"
	default:
		return "fatal"
	}
}

type transientErr struct{ error }

func (e transientErr) Unwrap() error   { return e.error }
func (e transientErr) Transient() bool { return true }

type invalidErr struct{ error }

func (e invalidErr) Unwrap() error      { return e.error }
func (e invalidErr) InvalidInput() bool { return true }

// MarkTransient tags err as retry-eligible.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return transientErr{err}
}

// MarkInvalid tags err as a content failure that must never be retried.
func MarkInvalid(err error) error {
	if err == nil {
		return nil
	}
	return invalidErr{err}
}

// Classify maps err onto the taxonomy. Explicit markers win over structural
// detection.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	var inv interface{ InvalidInput() bool }
	if errors.As(err, &inv) && inv.InvalidInput() {
		return InvalidInput
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return InvalidInput
	}

	var tr interface{ Transient() bool }
	if errors.As(err, &tr) {
		if tr.Transient() {
			return Transient
		}
		return Fatal
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return Transient
	}

	return Fatal
}

// ExhaustedError is returned when a transient failure survived every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Policy bounds retries of transient failures.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func Default() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: 2 * time.Minute,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt bound is reached. onRetry, if set, is called before every retry.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(maxAttempts-1), b)

	attempt := 0
	var lastErr error
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && onRetry != nil {
			onRetry(attempt, lastErr)
		}

		callCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if Classify(err) == Transient {
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil && attempt >= maxAttempts && lastErr != nil && Classify(err) == Transient {
		return &ExhaustedError{Attempts: attempt, Err: err}
	}
	return err
}
