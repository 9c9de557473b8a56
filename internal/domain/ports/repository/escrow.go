package repository

import (
	"context"

	"ostrid-adapter/internal/domain/model"
)

type EscrowRepository interface {
	Save(ctx context.Context, tx Tx, e *model.Escrow) error
	Update(ctx context.Context, tx Tx, e *model.Escrow) error
	FindByRef(ctx context.Context, tx Tx, ref string) (*model.Escrow, error)
	FindByJob(ctx context.Context, tx Tx, jobID string) (*model.Escrow, error)
}
