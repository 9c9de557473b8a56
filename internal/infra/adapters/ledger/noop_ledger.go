package ledger

import (
	"context"
	"fmt"
	"sync"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/ports/adapter"
)

var _ adapter.LedgerClient = (*NoopLedger)(nil)

// NoopLedger is a simple in-memory ledger to use in dev mode and tests.
type NoopLedger struct {
	mu    sync.Mutex
	seq   int64
	locks map[string]int64 // ref -> locked amount
}

func NewNoopLedger() *NoopLedger {
	return &NoopLedger{locks: make(map[string]int64)}
}

func (l *NoopLedger) Name() string { return "noop" }

func (l *NoopLedger) next(prefix string) string {
	l.seq++
	return fmt.Sprintf("%s-%d", prefix, l.seq)
}

func (l *NoopLedger) Lock(ctx context.Context, amountMicros int64, payerID string) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amountMicros <= 0 {
		return "", "", fmt.Errorf("%w: lock amount %d", domain.ErrLedger, amountMicros)
	}
	ref := l.next("noop-esc")
	l.locks[ref] = amountMicros
	return ref, l.next("tx"), nil
}

func (l *NoopLedger) Confirm(ctx context.Context, ref, proof string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[ref]; !ok {
		return "", fmt.Errorf("%w: confirm: unknown ref %s", domain.ErrLedger, ref)
	}
	return l.next("tx"), nil
}

func (l *NoopLedger) Release(ctx context.Context, ref, payeeID string) (string, error) {
	return l.settle(ref)
}

func (l *NoopLedger) Revert(ctx context.Context, ref string) (string, error) {
	return l.settle(ref)
}

func (l *NoopLedger) settle(ref string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[ref]; !ok {
		return "", fmt.Errorf("%w: unknown ref %s", domain.ErrLedger, ref)
	}
	delete(l.locks, ref)
	return l.next("tx"), nil
}
