package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownPool        = errors.New("unknown pool")
	ErrSigningFailed      = errors.New("signing failed")
	ErrLockHeld           = errors.New("lock already held")
	ErrRateLimited        = errors.New("rate limited")
	ErrSubscriptionClosed = errors.New("subscription channel closed")
	ErrDiscoveryFailed    = errors.New("pool discovery failed")
	ErrExecutionFailed    = errors.New("execution failed")
	ErrNonceUnavailable   = errors.New("nonce unavailable")

	// Detection outcomes. ErrInvalidPriceState means the event is skipped;
	// the rest are normal negative results, not failures.
	ErrInvalidPriceState = errors.New("invalid pool price state")
	ErrImpactTooSmall    = errors.New("price impact below threshold")
	ErrNoCandidate       = errors.New("no intermediary token candidate")
	ErrUnprofitable      = errors.New("no profitable candidate")
)

// ExecutionStage names the step of the execution pipeline that failed.
type ExecutionStage string

const (
	StageNonce ExecutionStage = "nonce"
	StageBuild ExecutionStage = "build"
	StageSign  ExecutionStage = "sign"
	StageSend  ExecutionStage = "send"
)

// ExecutionError reports a terminal failure for one opportunity.
type ExecutionError struct {
	Stage ExecutionStage
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at %s: %v", e.Stage, e.Err)
}

// Unwrap lets errors.Is match both ErrExecutionFailed and the cause.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailed, e.Err}
}
