package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrEscrowFinalized   = errors.New("escrow already finalized")
	ErrEscrowNotLocked   = errors.New("escrow not locked")
	ErrSessionClosed     = errors.New("negotiation session closed")
	ErrBidOutOfBounds    = errors.New("bid outside bounds at submission time")
	ErrLedger            = errors.New("ledger collaborator failure")
	ErrVerification      = errors.New("verification collaborator failure")
	ErrDirectory         = errors.New("directory collaborator failure")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrTransient         = errors.New("transient collaborator failure")
	ErrQueueFull         = errors.New("worker queue full")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrCancelRequested   = errors.New("cancellation requested")

	// Storage errors
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
