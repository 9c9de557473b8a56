package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/repository"
)

var _ repository.EscrowRepository = (*escrowRepo)(nil)

type escrowRepo struct{ pool *pgxpool.Pool }

func NewEscrowRepo(pool *pgxpool.Pool) *escrowRepo {
	return &escrowRepo{pool: pool}
}

func (r *escrowRepo) Save(ctx context.Context, tx repository.Tx, e *model.Escrow) error {
	return r.upsert(ctx, tx, e)
}

func (r *escrowRepo) Update(ctx context.Context, tx repository.Tx, e *model.Escrow) error {
	e.UpdatedAt = time.Now()
	return r.upsert(ctx, tx, e)
}

func (r *escrowRepo) upsert(ctx context.Context, tx repository.Tx, e *model.Escrow) error {
	const q = `
INSERT INTO escrows (
  id, job_id, ref, amount_micros, payer_id, payee_id, status, confirmed, tx_ref, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (id) DO UPDATE SET
  ref=$3, payee_id=$6, status=$7, confirmed=$8, tx_ref=$9, updated_at=$11;`

	_, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.JobID, e.Ref, e.AmountMicros, e.PayerID, e.PayeeID, e.Status, e.Confirmed, e.TxRef, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *escrowRepo) FindByRef(ctx context.Context, tx repository.Tx, ref string) (*model.Escrow, error) {
	return r.findOne(ctx, tx, `ref=$1`, ref)
}

func (r *escrowRepo) FindByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Escrow, error) {
	return r.findOne(ctx, tx, `job_id=$1`, jobID)
}

func (r *escrowRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.Escrow, error) {
	q := `SELECT id, job_id, ref, amount_micros, payer_id, payee_id, status, confirmed, tx_ref, created_at, updated_at
FROM escrows WHERE ` + where
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}

	e := &model.Escrow{}
	var statusStr string
	err = row.Scan(&e.ID, &e.JobID, &e.Ref, &e.AmountMicros, &e.PayerID, &e.PayeeID, &statusStr, &e.Confirmed, &e.TxRef, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	e.Status = model.EscrowStatus(statusStr)
	return e, nil
}
