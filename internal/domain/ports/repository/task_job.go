package repository

import (
	"context"
	"time"

	"ostrid-adapter/internal/domain/model"
)

// TaskJobRepository is the port for job persistence. New state is written
// only after every sub-step of a transition committed; partial transitions
// never reach storage.
type TaskJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.TaskJob) error
	Update(ctx context.Context, tx Tx, job *model.TaskJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.TaskJob, error)
	// ListDisputedBefore returns Disputed jobs whose dispute began before the
	// cutoff and that have no arbitration outcome recorded yet.
	ListDisputedBefore(ctx context.Context, tx Tx, cutoff time.Time) ([]*model.TaskJob, error)
	CountByState(ctx context.Context) (map[model.JobState]int, error)
}
