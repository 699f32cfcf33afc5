package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrLockHeld         = errors.New("lock already held")
	ErrRateLimited      = errors.New("rate limited")
)

// InsufficientMarginError reports a rejected open with the amounts involved so
// the caller can surface required vs available, never a bare "failed".
type InsufficientMarginError struct {
	Required  float64
	Available float64
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required %.2f, available %.2f", e.Required, e.Available)
}

// TransportError wraps a fault on the feed transport. It terminates the feed
// state machine only; the ledger and caches stay intact and queryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RiskViolationError reports a pre-trade check rejection with the rule and the
// offending value.
type RiskViolationError struct {
	Rule   string
	Detail string
}

func (e *RiskViolationError) Error() string {
	return fmt.Sprintf("risk check %s: %s", e.Rule, e.Detail)
}
