package engine

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEndpointNotFound is returned when no endpoint node answers to the
	// requested id.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrUnitNotFound is returned when a middleware ref or a redirect target
	// cannot be resolved.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrCancelled marks a process stopped by its context.
	ErrCancelled = errors.New("process cancelled")
	// ErrAlreadyRegistered is returned by registries on duplicate refs or
	// endpoint ids.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrInvalidResult is returned when a unit produces a result its
	// position does not allow.
	ErrInvalidResult = errors.New("invalid node result")
	// ErrStepLimit is returned when a process exceeds WithMaxSteps.
	ErrStepLimit = errors.New("step limit exceeded")
)

// UnitError wraps a failure raised while invoking a unit.
type UnitError struct {
	Kind StepKind
	Ref  Ref
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Ref, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// RecoveryError wraps a panic raised by a unit.
type RecoveryError struct {
	PanicValue any
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}

// cancelError matches both ErrCancelled and the context error behind it.
type cancelError struct {
	cause error
}

func (e *cancelError) Error() string {
	if e.cause == nil {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.cause.Error()
}

func (e *cancelError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrCancelled}
	}
	return []error{ErrCancelled, e.cause}
}

func newCancelError(cause error) error {
	var ce *cancelError
	if errors.As(cause, &ce) {
		return ce
	}
	return &cancelError{cause: cause}
}

// IsCancellation reports whether err stems from a cancelled or expired
// context.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// cancelledBy reports whether err is the caller's cancellation: either the
// crawl already classified it, or ctx itself is done and err carries a
// context error.
func cancelledBy(ctx context.Context, err error) bool {
	var ce *cancelError
	if errors.As(err, &ce) {
		return true
	}
	return ctx.Err() != nil && IsCancellation(err)
}

// IsConfigError reports whether err means the process could not be routed:
// an unknown endpoint or an unresolvable unit.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrEndpointNotFound) || errors.Is(err, ErrUnitNotFound)
}
