package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
	ErrInsufficientData = errors.New("insufficient data")
	ErrMixedSymbols     = errors.New("quotes span multiple symbols")
	ErrAlreadyExecuted  = errors.New("already executed")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrNoConnector      = errors.New("no connector for venue")
	ErrPositionClosed   = errors.New("position already closed")
)

// ValidationError reports a malformed signal or decision. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// RiskRejection is a business-rule rejection with a readable reason.
type RiskRejection struct {
	Reason string
	Level  RiskLevel
}

func (e *RiskRejection) Error() string {
	return "Risk check rejected: " + e.Reason
}

// TransientNetworkError wraps connector timeouts and 5xx responses. It is
// the only error class the retry policy retries by default.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// CircuitOpenError is returned when the breaker refuses a call.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry after %s", e.Name, e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// PartialExecutionFailure means one leg filled and the other did not. The
// position is left unbalanced for reconciliation.
type PartialExecutionFailure struct {
	Completed ExecutionLeg
	Failed    ExecutionLeg
	Err       error
}

func (e *PartialExecutionFailure) Error() string {
	return fmt.Sprintf("partial execution: %s leg on %s filled, %s leg on %s failed: %v",
		e.Completed.Side, e.Completed.Venue, e.Failed.Side, e.Failed.Venue, e.Err)
}

func (e *PartialExecutionFailure) Unwrap() error { return e.Err }
