package repository

import (
	"context"

	"ostrid-adapter/internal/domain/model"
)

// EventRepository persists the per-job event stream. ListByJob returns
// events in production order (event IDs are ULIDs, so id order is time
// order).
type EventRepository interface {
	Append(ctx context.Context, tx Tx, e *model.JobEvent) error
	ListByJob(ctx context.Context, tx Tx, jobID string) ([]*model.JobEvent, error)
}
