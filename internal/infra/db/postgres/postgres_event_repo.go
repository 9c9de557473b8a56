package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v4/pgxpool"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/repository"
)

var _ repository.EventRepository = (*eventRepo)(nil)

type eventRepo struct{ pool *pgxpool.Pool }

func NewEventRepo(pool *pgxpool.Pool) *eventRepo {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) Append(ctx context.Context, tx repository.Tx, e *model.JobEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.ErrValidation
	}

	const q = `
INSERT INTO job_events (id, job_id, context_id, type, payload, at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING;`

	_, err = execSQL(ctx, r.pool, tx, q, e.ID, e.JobID, e.ContextID, e.Type, payload, e.At)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// ListByJob returns the stream in production order; event IDs are ULIDs so id
// order is time order.
func (r *eventRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.JobEvent, error) {
	const q = `SELECT id, job_id, context_id, type, payload, at
FROM job_events WHERE job_id=$1 ORDER BY id;`
	rows, err := pickRows(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.JobEvent
	for rows.Next() {
		e := &model.JobEvent{}
		var typeStr string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.ContextID, &typeStr, &payload, &e.At); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Type = model.EventType(typeStr)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, domain.ErrReadDatabaseRow
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
