//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/usecase"
)

func newCoordinator(repo *MockEscrowRepo, ledger *MockLedger) usecase.EscrowCoordinator {
	return usecase.NewEscrowCoordinator(repo, ledger, 3, time.Millisecond, newTestLogger())
}

func lockTestEscrow(t *testing.T, uc usecase.EscrowCoordinator) *model.Escrow {
	t.Helper()
	esc, err := uc.Lock(context.Background(), "job-1", "payer-1", 1_000_000)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	return esc
}

func TestEscrow_LockAndReplayGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewMockEscrowRepo()
	ledger := NewMockLedger()
	uc := newCoordinator(repo, ledger)

	esc := lockTestEscrow(t, uc)
	if esc.Status != model.EscrowStatusLocked {
		t.Fatalf("expected locked escrow, got %s", esc.Status)
	}
	if esc.Ref == "" || esc.TxRef == "" {
		t.Fatalf("expected ledger refs on escrow, got %+v", esc)
	}

	// A second lock for the same job replays the existing escrow.
	again, err := uc.Lock(ctx, "job-1", "payer-1", 1_000_000)
	if err != nil {
		t.Fatalf("replay lock: %v", err)
	}
	if again.Ref != esc.Ref {
		t.Errorf("expected same escrow ref %s, got %s", esc.Ref, again.Ref)
	}
	if ledger.LockCalls != 1 {
		t.Errorf("replayed lock must not hit the ledger again, got %d calls", ledger.LockCalls)
	}
}

func TestEscrow_RevertForJob(t *testing.T) {
	ctx := context.Background()
	repo := NewMockEscrowRepo()
	ledger := NewMockLedger()
	uc := newCoordinator(repo, ledger)

	t.Run("no escrow is a no-op", func(t *testing.T) {
		esc, err := uc.RevertForJob(ctx, "job-unknown")
		if err != nil || esc != nil {
			t.Fatalf("expected nil, nil for missing escrow, got %v, %v", esc, err)
		}
		if ledger.RevertCalls != 0 {
			t.Errorf("expected no ledger revert, got %d", ledger.RevertCalls)
		}
	})

	t.Run("locked escrow reverts", func(t *testing.T) {
		locked := lockTestEscrow(t, uc)
		esc, err := uc.RevertForJob(ctx, "job-1")
		if err != nil {
			t.Fatalf("revert for job: %v", err)
		}
		if esc == nil || esc.Ref != locked.Ref || esc.Status != model.EscrowStatusReverted {
			t.Fatalf("expected reverted escrow %s, got %+v", locked.Ref, esc)
		}
		if ledger.RevertCalls != 1 {
			t.Errorf("expected one ledger revert, got %d", ledger.RevertCalls)
		}
	})

	t.Run("finalized escrow is left alone", func(t *testing.T) {
		esc, err := uc.RevertForJob(ctx, "job-1")
		if err != nil || esc != nil {
			t.Fatalf("expected nil, nil for reverted escrow, got %v, %v", esc, err)
		}
		if ledger.RevertCalls != 1 {
			t.Errorf("expected no further ledger revert, got %d", ledger.RevertCalls)
		}
	})
}

func TestEscrow_LockRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	ledger := NewMockLedger()
	calls := 0
	ledger.LockFunc = func(ctx context.Context, amountMicros int64, payerID string) (string, string, error) {
		calls++
		if calls < 3 {
			return "", "", domain.ErrTransient
		}
		return "esc-1", "tx-1", nil
	}
	uc := newCoordinator(NewMockEscrowRepo(), ledger)

	esc, err := uc.Lock(ctx, "job-1", "payer-1", 1_000_000)
	if err != nil {
		t.Fatalf("lock should recover after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 ledger attempts, got %d", calls)
	}
	if esc.Ref != "esc-1" {
		t.Errorf("expected ref esc-1, got %s", esc.Ref)
	}
}

func TestEscrow_LockGivesUpOnPermanentFailure(t *testing.T) {
	ctx := context.Background()
	ledger := NewMockLedger()
	calls := 0
	ledger.LockFunc = func(ctx context.Context, amountMicros int64, payerID string) (string, string, error) {
		calls++
		return "", "", errors.New("insufficient funds")
	}
	uc := newCoordinator(NewMockEscrowRepo(), ledger)

	_, err := uc.Lock(ctx, "job-1", "payer-1", 1_000_000)
	if !errors.Is(err, domain.ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent failures must not be retried, got %d calls", calls)
	}
}

func TestEscrow_ConfirmIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := NewMockLedger()
	uc := newCoordinator(NewMockEscrowRepo(), ledger)
	esc := lockTestEscrow(t, uc)

	first, err := uc.Confirm(ctx, esc.Ref, "proof-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !first.Confirmed {
		t.Fatal("expected confirmed escrow")
	}

	second, err := uc.Confirm(ctx, esc.Ref, "proof-1")
	if err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}
	if second.TxRef != first.TxRef {
		t.Errorf("replay must return the recorded tx ref, got %s vs %s", second.TxRef, first.TxRef)
	}
	if ledger.ConfirmCalls != 1 {
		t.Errorf("replayed confirm must not hit the ledger, got %d calls", ledger.ConfirmCalls)
	}
}

func TestEscrow_ConfirmUnknownRef(t *testing.T) {
	uc := newCoordinator(NewMockEscrowRepo(), NewMockLedger())
	_, err := uc.Confirm(context.Background(), "no-such-ref", "proof")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEscrow_ReleaseRevertMutualExclusion(t *testing.T) {
	ctx := context.Background()

	t.Run("release wins, revert blocked", func(t *testing.T) {
		ledger := NewMockLedger()
		uc := newCoordinator(NewMockEscrowRepo(), ledger)
		esc := lockTestEscrow(t, uc)

		released, err := uc.Release(ctx, esc.Ref, "specialist-1")
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if released.Status != model.EscrowStatusReleased {
			t.Fatalf("expected released, got %s", released.Status)
		}
		if released.PayeeID == nil || *released.PayeeID != "specialist-1" {
			t.Errorf("expected payee recorded, got %v", released.PayeeID)
		}

		if _, err := uc.Revert(ctx, esc.Ref); !errors.Is(err, domain.ErrEscrowFinalized) {
			t.Errorf("expected ErrEscrowFinalized on revert after release, got %v", err)
		}

		// Repeating the winning operation is a no-op success.
		if _, err := uc.Release(ctx, esc.Ref, "specialist-1"); err != nil {
			t.Errorf("replayed release: %v", err)
		}
		if ledger.ReleaseCalls != 1 {
			t.Errorf("expected one ledger release, got %d", ledger.ReleaseCalls)
		}
	})

	t.Run("revert wins, release blocked", func(t *testing.T) {
		ledger := NewMockLedger()
		uc := newCoordinator(NewMockEscrowRepo(), ledger)
		esc := lockTestEscrow(t, uc)

		reverted, err := uc.Revert(ctx, esc.Ref)
		if err != nil {
			t.Fatalf("revert: %v", err)
		}
		if reverted.Status != model.EscrowStatusReverted {
			t.Fatalf("expected reverted, got %s", reverted.Status)
		}

		if _, err := uc.Release(ctx, esc.Ref, "specialist-1"); !errors.Is(err, domain.ErrEscrowFinalized) {
			t.Errorf("expected ErrEscrowFinalized on release after revert, got %v", err)
		}
		if _, err := uc.Revert(ctx, esc.Ref); err != nil {
			t.Errorf("replayed revert: %v", err)
		}
		if ledger.RevertCalls != 1 {
			t.Errorf("expected one ledger revert, got %d", ledger.RevertCalls)
		}
	})
}

func TestEscrow_FinalizeLeavesStateOnLedgerFailure(t *testing.T) {
	ctx := context.Background()
	ledger := NewMockLedger()
	ledger.ReleaseFunc = func(ctx context.Context, ref, payeeID string) (string, error) {
		return "", errors.New("ledger rejected")
	}
	repo := NewMockEscrowRepo()
	uc := newCoordinator(repo, ledger)
	esc := lockTestEscrow(t, uc)

	if _, err := uc.Release(ctx, esc.Ref, "specialist-1"); !errors.Is(err, domain.ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
	stored, err := repo.FindByRef(ctx, nil, esc.Ref)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != model.EscrowStatusLocked {
		t.Errorf("failed release must leave the escrow locked, got %s", stored.Status)
	}
}
