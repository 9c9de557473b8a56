// File: internal/usecase/escrow_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
	"ostrid-adapter/internal/domain/ports/repository"
)

// Compile-time check
var _ EscrowCoordinator = (*escrowUC)(nil)

// EscrowCoordinator tracks the logical escrow status for a job's funds and
// delegates execution to the ledger collaborator. Operations are idempotent
// keyed by escrow reference plus target status: a repeated release on an
// already-Released escrow is a no-op success. Release and revert on the same
// reference are mutually exclusive; whichever commits first wins.
type EscrowCoordinator interface {
	Lock(ctx context.Context, jobID, payerID string, amountMicros int64) (*model.Escrow, error)
	Confirm(ctx context.Context, ref, proof string) (*model.Escrow, error)
	Release(ctx context.Context, ref, payeeID string) (*model.Escrow, error)
	Revert(ctx context.Context, ref string) (*model.Escrow, error)
	// RevertForJob reverts the job's escrow if one is still locked. Returns
	// (nil, nil) when the job has no escrow or it already left Locked.
	RevertForJob(ctx context.Context, jobID string) (*model.Escrow, error)
}

type escrowUC struct {
	escrows   repository.EscrowRepository
	ledger    adapter.LedgerClient
	maxRetry  int
	retryBase time.Duration
	log       *zerolog.Logger
}

func NewEscrowCoordinator(escrows repository.EscrowRepository, ledger adapter.LedgerClient, maxRetry int, retryBase time.Duration, logger *zerolog.Logger) *escrowUC {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}
	l := logger.With().Str("component", "EscrowCoordinator").Logger()
	return &escrowUC{escrows: escrows, ledger: ledger, maxRetry: maxRetry, retryBase: retryBase, log: &l}
}

// callLedger retries a ledger call with bounded backoff. The ledger client
// is idempotent per (ref, operation), so retrying never double-moves funds.
func (u *escrowUC) callLedger(ctx context.Context, op string, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < u.maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(u.retryBase << (attempt - 1)):
			}
		}
		txRef, err := fn()
		if err == nil {
			return txRef, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrTransient) {
			break
		}
		u.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("ledger call retrying")
	}
	return "", fmt.Errorf("%w: %s: %v", domain.ErrLedger, op, lastErr)
}

func (u *escrowUC) Lock(ctx context.Context, jobID, payerID string, amountMicros int64) (*model.Escrow, error) {
	// Replay guard: an existing escrow for the job is returned as-is.
	if existing, err := u.escrows.FindByJob(ctx, nil, jobID); err == nil && existing.Status == model.EscrowStatusLocked {
		return existing, nil
	}

	e, err := model.NewEscrow(uuid.NewString(), jobID, payerID, amountMicros)
	if err != nil {
		return nil, err
	}
	var ref string
	txRef, err := u.callLedger(ctx, "lock", func() (string, error) {
		r, t, err := u.ledger.Lock(ctx, amountMicros, payerID)
		if err == nil {
			ref = r
		}
		return t, err
	})
	if err != nil {
		return nil, err
	}
	e.Ref = ref
	e.TxRef = txRef
	if err := e.Advance(model.EscrowStatusLocked); err != nil {
		return nil, err
	}
	if err := u.escrows.Save(ctx, nil, e); err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", jobID).Str("ref", ref).Int64("amount", amountMicros).Msg("escrow locked")
	return e, nil
}

func (u *escrowUC) Confirm(ctx context.Context, ref, proof string) (*model.Escrow, error) {
	e, err := u.escrows.FindByRef(ctx, nil, ref)
	if err != nil {
		return nil, err
	}
	if e.Confirmed {
		return e, nil // idempotent replay
	}
	if e.Status != model.EscrowStatusLocked {
		return nil, &model.EscrowStatusError{Ref: ref, From: e.Status, To: model.EscrowStatusLocked}
	}
	txRef, err := u.callLedger(ctx, "confirm", func() (string, error) {
		return u.ledger.Confirm(ctx, ref, proof)
	})
	if err != nil {
		return nil, err
	}
	e.Confirmed = true
	e.TxRef = txRef
	e.UpdatedAt = time.Now()
	if err := u.escrows.Update(ctx, nil, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (u *escrowUC) Release(ctx context.Context, ref, payeeID string) (*model.Escrow, error) {
	return u.finalize(ctx, ref, model.EscrowStatusReleased, func(e *model.Escrow) (string, error) {
		e.PayeeID = &payeeID
		return u.callLedger(ctx, "release", func() (string, error) {
			return u.ledger.Release(ctx, ref, payeeID)
		})
	})
}

func (u *escrowUC) RevertForJob(ctx context.Context, jobID string) (*model.Escrow, error) {
	e, err := u.escrows.FindByJob(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if e.Status != model.EscrowStatusLocked {
		return nil, nil
	}
	return u.Revert(ctx, e.Ref)
}

func (u *escrowUC) Revert(ctx context.Context, ref string) (*model.Escrow, error) {
	return u.finalize(ctx, ref, model.EscrowStatusReverted, func(e *model.Escrow) (string, error) {
		return u.callLedger(ctx, "revert", func() (string, error) {
			return u.ledger.Revert(ctx, ref)
		})
	})
}

// finalize applies one of the two mutually exclusive terminal outcomes.
func (u *escrowUC) finalize(ctx context.Context, ref string, target model.EscrowStatus, move func(e *model.Escrow) (string, error)) (*model.Escrow, error) {
	e, err := u.escrows.FindByRef(ctx, nil, ref)
	if err != nil {
		return nil, err
	}
	if e.Status == target {
		return e, nil // no-op success
	}
	if e.Final() {
		return nil, &model.EscrowStatusError{Ref: ref, From: e.Status, To: target}
	}
	txRef, err := move(e)
	if err != nil {
		return nil, err
	}
	if err := e.Advance(target); err != nil {
		return nil, err
	}
	e.TxRef = txRef
	if err := u.escrows.Update(ctx, nil, e); err != nil {
		return nil, err
	}
	u.log.Info().Str("ref", ref).Str("status", string(target)).Msg("escrow finalized")
	return e, nil
}
