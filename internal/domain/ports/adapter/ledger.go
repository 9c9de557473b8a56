package adapter

import "context"

// LedgerClient is the hex port for the settlement ledger. The coordinator
// only tracks logical escrow status; every actual fund movement goes
// through here. Implementations must be idempotent per (ref, operation) so
// the coordinator may retry on transient failures.
type LedgerClient interface {
	Name() string

	// Lock escrows amount from payer and returns the ledger escrow reference.
	Lock(ctx context.Context, amountMicros int64, payerID string) (ref string, txRef string, err error)
	// Confirm acknowledges the lock with the raiser's proof.
	Confirm(ctx context.Context, ref, proof string) (txRef string, err error)
	// Release pays the escrowed amount out to payee.
	Release(ctx context.Context, ref, payeeID string) (txRef string, err error)
	// Revert returns the escrowed amount to the payer.
	Revert(ctx context.Context, ref string) (txRef string, err error)
}
