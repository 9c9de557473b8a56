package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain/ports/repository"
	red "ostrid-adapter/internal/infra/redis"
	"ostrid-adapter/internal/usecase"
)

const disputeLockKey = "ostrid:lock:dispute_sweep"

// DisputeWorker periodically scans for Disputed jobs whose dispute window has
// elapsed without an arbitration outcome and reverts their escrow. A Redis
// lock keeps concurrent instances from sweeping the same batch.
type DisputeWorker struct {
	lifecycle usecase.LifecycleManager
	jobs      repository.TaskJobRepository
	locker    red.Locker
	interval  time.Duration
	window    time.Duration
	log       zerolog.Logger
}

func NewDisputeWorker(lifecycle usecase.LifecycleManager, jobs repository.TaskJobRepository, locker red.Locker, interval, window time.Duration, log zerolog.Logger) *DisputeWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &DisputeWorker{
		lifecycle: lifecycle,
		jobs:      jobs,
		locker:    locker,
		interval:  interval,
		window:    window,
		log:       log.With().Str("component", "dispute-worker").Logger(),
	}
}

func (w *DisputeWorker) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *DisputeWorker) tick(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, disputeLockKey, w.interval)
	if err != nil {
		return // another instance holds the sweep
	}
	defer func() { _ = w.locker.Unlock(ctx, disputeLockKey, token) }()

	cutoff := time.Now().Add(-w.window)
	stale, err := w.jobs.ListDisputedBefore(ctx, nil, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("list disputed jobs")
		return
	}
	for _, job := range stale {
		if err := w.lifecycle.ExpireDispute(ctx, job.ID); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("expire dispute")
			continue
		}
		w.log.Info().Str("job_id", job.ID).Msg("dispute window elapsed, escrow reverted")
	}
}
