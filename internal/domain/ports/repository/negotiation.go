package repository

import (
	"context"

	"ostrid-adapter/internal/domain/model"
)

// NegotiationRepository persists sessions and their ordered bid sequence.
type NegotiationRepository interface {
	SaveSession(ctx context.Context, tx Tx, s *model.NegotiationSession) error
	UpdateSession(ctx context.Context, tx Tx, s *model.NegotiationSession) error
	FindActiveByJob(ctx context.Context, tx Tx, jobID string) (*model.NegotiationSession, error)
	SaveBid(ctx context.Context, tx Tx, b *model.Bid) error
	ListBids(ctx context.Context, tx Tx, sessionID string) ([]model.Bid, error)
}
