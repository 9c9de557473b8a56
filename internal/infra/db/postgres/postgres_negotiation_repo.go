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

var _ repository.NegotiationRepository = (*negotiationRepo)(nil)

type negotiationRepo struct{ pool *pgxpool.Pool }

func NewNegotiationRepo(pool *pgxpool.Pool) *negotiationRepo {
	return &negotiationRepo{pool: pool}
}

func (r *negotiationRepo) SaveSession(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error {
	return r.upsertSession(ctx, tx, s)
}

func (r *negotiationRepo) UpdateSession(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error {
	return r.upsertSession(ctx, tx, s)
}

func (r *negotiationRepo) upsertSession(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error {
	weights, err := json.Marshal(s.Weights)
	if err != nil {
		return domain.ErrValidation
	}
	bounds, err := json.Marshal(s.Bounds)
	if err != nil {
		return domain.ErrValidation
	}

	const q = `
INSERT INTO negotiation_sessions (
  id, job_id, mode, weights, bounds, tick_ns, deadline, started_at, closed, winner_id
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (id) DO UPDATE SET
  closed=$9, winner_id=$10;`

	_, err = execSQL(ctx, r.pool, tx, q,
		s.ID, s.JobID, s.Mode, weights, bounds, int64(s.Tick), s.Deadline, s.StartedAt, s.Closed, s.WinnerID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *negotiationRepo) FindActiveByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.NegotiationSession, error) {
	const q = `SELECT id, job_id, mode, weights, bounds, tick_ns, deadline, started_at, closed, winner_id
FROM negotiation_sessions WHERE job_id=$1 AND closed=FALSE;`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}

	s := &model.NegotiationSession{}
	var (
		modeStr string
		weights []byte
		bounds  []byte
		tickNs  int64
	)
	if err := row.Scan(&s.ID, &s.JobID, &modeStr, &weights, &bounds, &tickNs, &s.Deadline, &s.StartedAt, &s.Closed, &s.WinnerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Mode = model.NegotiationMode(modeStr)
	s.Tick = time.Duration(tickNs)
	if err := json.Unmarshal(weights, &s.Weights); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(bounds, &s.Bounds); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *negotiationRepo) SaveBid(ctx context.Context, tx repository.Tx, b *model.Bid) error {
	offered, err := json.Marshal(b.Offered)
	if err != nil {
		return domain.ErrValidation
	}

	const q = `
INSERT INTO bids (id, session_id, bidder_id, offered, fee_micros, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING;`

	_, err = execSQL(ctx, r.pool, tx, q, b.ID, b.SessionID, b.BidderID, offered, b.FeeMicros, b.SubmittedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *negotiationRepo) ListBids(ctx context.Context, tx repository.Tx, sessionID string) ([]model.Bid, error) {
	const q = `SELECT id, session_id, bidder_id, offered, fee_micros, submitted_at
FROM bids WHERE session_id=$1 ORDER BY submitted_at, id;`
	rows, err := pickRows(ctx, r.pool, tx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bid
	for rows.Next() {
		var b model.Bid
		var offered []byte
		if err := rows.Scan(&b.ID, &b.SessionID, &b.BidderID, &offered, &b.FeeMicros, &b.SubmittedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if err := json.Unmarshal(offered, &b.Offered); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
