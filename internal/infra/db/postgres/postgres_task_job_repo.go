package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/repository"
)

var _ repository.TaskJobRepository = (*taskJobRepo)(nil)

type taskJobRepo struct{ pool *pgxpool.Pool }

func NewTaskJobRepo(pool *pgxpool.Pool) *taskJobRepo {
	return &taskJobRepo{pool: pool}
}

func (r *taskJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.TaskJob) error {
	return r.upsert(ctx, tx, job)
}

func (r *taskJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.TaskJob) error {
	job.UpdatedAt = time.Now()
	return r.upsert(ctx, tx, job)
}

func (r *taskJobRepo) upsert(ctx context.Context, tx repository.Tx, job *model.TaskJob) error {
	intent, err := json.Marshal(job.Intent)
	if err != nil {
		return domain.ErrValidation
	}
	attestation, err := marshalNullable(job.Attestation)
	if err != nil {
		return domain.ErrValidation
	}
	arbitration, err := marshalNullable(job.Arbitration)
	if err != nil {
		return domain.ErrValidation
	}

	const q = `
INSERT INTO task_jobs (
  id, raiser_id, intent, budget_micros, quality, state, cancel_reason, specialist_id, escrow_ref, attestation, arbitration, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) ON CONFLICT (id) DO UPDATE SET
  state=$6, cancel_reason=$7, specialist_id=$8, escrow_ref=$9, attestation=$10, arbitration=$11, updated_at=$13;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.RaiserID, intent, job.BudgetMicros, job.Quality, job.State, nullableString(string(job.CancelReason)),
		job.SpecialistID, job.EscrowRef, attestation, arbitration, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *taskJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.TaskJob, error) {
	q := `SELECT id, raiser_id, intent, budget_micros, quality, state, cancel_reason, specialist_id, escrow_ref, attestation, arbitration, created_at, updated_at
FROM task_jobs WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTaskJob(row)
}

func (r *taskJobRepo) ListDisputedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.TaskJob, error) {
	const q = `SELECT id, raiser_id, intent, budget_micros, quality, state, cancel_reason, specialist_id, escrow_ref, attestation, arbitration, created_at, updated_at
FROM task_jobs
WHERE state=$1 AND arbitration IS NULL AND updated_at < $2
ORDER BY updated_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, model.JobStateDisputed, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TaskJob
	for rows.Next() {
		job, err := scanTaskJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *taskJobRepo) CountByState(ctx context.Context) (map[model.JobState]int, error) {
	const q = `SELECT state, COUNT(*) FROM task_jobs GROUP BY state;`
	rows, err := pickRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.JobState(state)] = n
	}
	return out, rows.Err()
}

func scanTaskJob(row pgx.Row) (*model.TaskJob, error) {
	job := &model.TaskJob{}
	var (
		stateStr     string
		cancelReason *string
		intent       []byte
		attestation  []byte
		arbitration  []byte
	)
	err := row.Scan(&job.ID, &job.RaiserID, &intent, &job.BudgetMicros, &job.Quality, &stateStr, &cancelReason,
		&job.SpecialistID, &job.EscrowRef, &attestation, &arbitration, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.State = model.JobState(stateStr)
	if cancelReason != nil {
		job.CancelReason = model.CancelReason(*cancelReason)
	}
	if err := json.Unmarshal(intent, &job.Intent); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(attestation) > 0 {
		job.Attestation = &model.Attestation{}
		if err := json.Unmarshal(attestation, job.Attestation); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if len(arbitration) > 0 {
		job.Arbitration = &model.ArbitrationOutcome{}
		if err := json.Unmarshal(arbitration, job.Arbitration); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return job, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *model.Attestation:
		if t == nil {
			return nil, nil
		}
	case *model.ArbitrationOutcome:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
