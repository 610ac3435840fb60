package domain

import "errors"

var (
	// Common domain errors
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnknownCheckpoint = errors.New("unknown checkpoint kind")

	// Remote gateway
	ErrRateLimitTimeout = errors.New("rate limit: timed out waiting for a token")
	ErrResetRejected    = errors.New("reset rejected by remote api")

	// Execution guards
	ErrLockHeld         = errors.New("checkpoint is already running")
	ErrAlreadyRanToday  = errors.New("checkpoint already executed today")
	ErrTooManyFailures  = errors.New("too many recent failures")
	ErrTriggerThrottled = errors.New("manual trigger limit reached")

	// Storage
	ErrInvalidExecContext = errors.New("invalid execution context")
)
