// File: internal/usecase/negotiation_uc.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/repository"
)

// Compile-time check
var _ NegotiationEngine = (*negotiationUC)(nil)

// AuctionParams carries the requester's auction constraints.
type AuctionParams struct {
	Bounds   []model.DimensionBound
	Tick     time.Duration
	Deadline time.Duration
}

// NegotiationEngine runs solver or auction negotiation for a job. It holds
// no timers itself; the lifecycle manager schedules tick evaluation and the
// deadline and calls back in on the job's serialized queue.
type NegotiationEngine interface {
	// RunSolver scores candidates against the weights and returns the winner.
	// Deterministic, single pass.
	RunSolver(ctx context.Context, session *model.NegotiationSession, candidates []model.Specialist) (*model.Specialist, error)
	// OpenAuction creates and persists the auction session.
	OpenAuction(ctx context.Context, jobID string, weights map[string]float64, params AuctionParams) (*model.NegotiationSession, error)
	// OpenSolver creates and persists a solver session.
	OpenSolver(ctx context.Context, jobID string, weights map[string]float64) (*model.NegotiationSession, error)
	// RecordBid validates the bid against the bounds at its submission
	// timestamp and appends it to the session.
	RecordBid(ctx context.Context, session *model.NegotiationSession, bidderID string, offered map[string]float64, feeMicros int64) (*model.Bid, error)
	// EvaluateTick selects the winner among qualifying bids of one tick:
	// highest weighted composite score, ties broken by earliest submission.
	// Returns nil when the tick produced no winner.
	EvaluateTick(ctx context.Context, session *model.NegotiationSession, tick int64) (*model.Bid, error)
	// Close marks the session closed, recording the winner if any. It runs
	// on the caller's transaction so the close can commit atomically with a
	// job transition; a nil tx closes outside any transaction.
	Close(ctx context.Context, tx repository.Tx, session *model.NegotiationSession, winnerID *string) error
	// LoadActive reloads a job's open session with its bids from storage.
	LoadActive(ctx context.Context, jobID string) (*model.NegotiationSession, error)
}

type negotiationUC struct {
	sessions repository.NegotiationRepository
	log      *zerolog.Logger
}

func NewNegotiationEngine(sessions repository.NegotiationRepository, logger *zerolog.Logger) *negotiationUC {
	l := logger.With().Str("component", "NegotiationEngine").Logger()
	return &negotiationUC{sessions: sessions, log: &l}
}

func (u *negotiationUC) RunSolver(ctx context.Context, session *model.NegotiationSession, candidates []model.Specialist) (*model.Specialist, error) {
	if len(candidates) == 0 {
		return nil, domain.ErrNotFound
	}
	// Weighted-sum score over the declared capability vector; ties broken by
	// earliest registration id.
	sorted := make([]model.Specialist, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		si := session.CompositeScore(sorted[i].Capabilities)
		sj := session.CompositeScore(sorted[j].Capabilities)
		if si != sj {
			return si > sj
		}
		return sorted[i].RegistrationSeq < sorted[j].RegistrationSeq
	})
	winner := sorted[0]
	u.log.Debug().Str("job_id", session.JobID).Str("specialist", winner.ID).Msg("solver match selected")
	return &winner, nil
}

func (u *negotiationUC) OpenSolver(ctx context.Context, jobID string, weights map[string]float64) (*model.NegotiationSession, error) {
	s, err := model.NewNegotiationSession(uuid.NewString(), jobID, model.ModeSolver, weights)
	if err != nil {
		return nil, err
	}
	if err := u.sessions.SaveSession(ctx, nil, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (u *negotiationUC) OpenAuction(ctx context.Context, jobID string, weights map[string]float64, params AuctionParams) (*model.NegotiationSession, error) {
	if len(params.Bounds) == 0 {
		return nil, fmt.Errorf("%w: auction requires at least one bound", domain.ErrValidation)
	}
	for _, b := range params.Bounds {
		if b.Rate < 0 {
			return nil, fmt.Errorf("%w: decay rate must be non-negative", domain.ErrValidation)
		}
		if b.Kind != model.BoundCeiling && b.Kind != model.BoundFloor {
			return nil, fmt.Errorf("%w: bound kind %q", domain.ErrValidation, b.Kind)
		}
	}
	s, err := model.NewNegotiationSession(uuid.NewString(), jobID, model.ModeAuction, weights)
	if err != nil {
		return nil, err
	}
	s.Bounds = params.Bounds
	s.Tick = params.Tick
	s.Deadline = s.StartedAt.Add(params.Deadline)
	if err := u.sessions.SaveSession(ctx, nil, s); err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", jobID).Str("session_id", s.ID).
		Time("deadline", s.Deadline).Msg("auction opened")
	return s, nil
}

func (u *negotiationUC) RecordBid(ctx context.Context, session *model.NegotiationSession, bidderID string, offered map[string]float64, feeMicros int64) (*model.Bid, error) {
	if session.Closed {
		return nil, domain.ErrSessionClosed
	}
	if session.Mode != model.ModeAuction {
		return nil, fmt.Errorf("%w: bids only valid in auction mode", domain.ErrValidation)
	}
	if bidderID == "" || len(offered) == 0 {
		return nil, domain.ErrValidation
	}
	now := time.Now()
	if now.After(session.Deadline) {
		return nil, domain.ErrSessionClosed
	}
	bid := model.Bid{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		BidderID:    bidderID,
		Offered:     offered,
		FeeMicros:   feeMicros,
		SubmittedAt: now,
	}
	if !session.Qualifies(bid) {
		return nil, domain.ErrBidOutOfBounds
	}
	if err := u.sessions.SaveBid(ctx, nil, &bid); err != nil {
		return nil, err
	}
	session.Bids = append(session.Bids, bid)
	u.log.Debug().Str("session_id", session.ID).Str("bidder", bidderID).
		Int64("tick", session.TickIndex(bid.SubmittedAt)).Msg("bid recorded")
	return &bid, nil
}

func (u *negotiationUC) EvaluateTick(ctx context.Context, session *model.NegotiationSession, tick int64) (*model.Bid, error) {
	if session.Closed {
		return nil, domain.ErrSessionClosed
	}
	inTick := make([]model.Bid, 0, len(session.Bids))
	for _, b := range session.Bids {
		if session.TickIndex(b.SubmittedAt) == tick {
			inTick = append(inTick, b)
		}
	}
	return session.SelectWinner(inTick), nil
}

func (u *negotiationUC) LoadActive(ctx context.Context, jobID string) (*model.NegotiationSession, error) {
	s, err := u.sessions.FindActiveByJob(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	bids, err := u.sessions.ListBids(ctx, nil, s.ID)
	if err != nil {
		return nil, err
	}
	s.Bids = bids
	return s, nil
}

func (u *negotiationUC) Close(ctx context.Context, tx repository.Tx, session *model.NegotiationSession, winnerID *string) error {
	if session.Closed {
		return nil
	}
	session.Closed = true
	session.WinnerID = winnerID
	if err := u.sessions.UpdateSession(ctx, tx, session); err != nil {
		session.Closed = false
		session.WinnerID = nil
		return err
	}
	return nil
}
