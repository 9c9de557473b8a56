package model

import (
	"fmt"
	"time"

	"ostrid-adapter/internal/domain"
)

type EscrowStatus string

const (
	EscrowStatusUnlocked EscrowStatus = "unlocked"
	EscrowStatusLocked   EscrowStatus = "locked"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusReverted EscrowStatus = "reverted"
)

// Escrow tracks the logical lock/confirm/release/revert status of a job's
// funds. Fund movement itself is delegated to the ledger collaborator; only
// the status guard lives here.
type Escrow struct {
	ID           string
	JobID        string
	Ref          string // ledger reference returned by lock
	AmountMicros int64
	PayerID      string
	PayeeID      *string
	Status       EscrowStatus
	Confirmed    bool // ledger confirmation observed while Locked
	TxRef        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewEscrow(id, jobID, payerID string, amountMicros int64) (*Escrow, error) {
	if id == "" || jobID == "" || payerID == "" {
		return nil, domain.ErrValidation
	}
	if amountMicros <= 0 {
		return nil, domain.ErrValidation
	}
	now := time.Now()
	return &Escrow{
		ID:           id,
		JobID:        jobID,
		AmountMicros: amountMicros,
		PayerID:      payerID,
		Status:       EscrowStatusUnlocked,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// EscrowStatusError reports a disallowed status move; it unwraps to
// ErrEscrowFinalized so callers can match with errors.Is.
type EscrowStatusError struct {
	Ref  string
	From EscrowStatus
	To   EscrowStatus
}

func (e *EscrowStatusError) Error() string {
	return fmt.Sprintf("escrow %s: cannot move %s -> %s", e.Ref, e.From, e.To)
}

func (e *EscrowStatusError) Unwrap() error { return domain.ErrEscrowFinalized }

// Advance moves the escrow toward next. Moving to the current status is a
// no-op success (idempotent replays). Released and Reverted are mutually
// exclusive terminal outcomes.
func (e *Escrow) Advance(next EscrowStatus) error {
	if e.Status == next {
		return nil
	}
	switch next {
	case EscrowStatusLocked:
		if e.Status != EscrowStatusUnlocked {
			return &EscrowStatusError{Ref: e.Ref, From: e.Status, To: next}
		}
	case EscrowStatusReleased, EscrowStatusReverted:
		if e.Status != EscrowStatusLocked {
			return &EscrowStatusError{Ref: e.Ref, From: e.Status, To: next}
		}
	default:
		return fmt.Errorf("%w: escrow status %s", domain.ErrValidation, next)
	}
	e.Status = next
	e.UpdatedAt = time.Now()
	return nil
}

// Final reports a terminal escrow status.
func (e *Escrow) Final() bool {
	return e.Status == EscrowStatusReleased || e.Status == EscrowStatusReverted
}
