package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain/ports/repository"
	"ostrid-adapter/internal/infra/metrics"
)

// StateGaugeWorker refreshes the jobs-by-state gauge from storage.
type StateGaugeWorker struct {
	jobs     repository.TaskJobRepository
	interval time.Duration
	log      zerolog.Logger
}

func NewStateGaugeWorker(jobs repository.TaskJobRepository, interval time.Duration, log zerolog.Logger) *StateGaugeWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StateGaugeWorker{
		jobs:     jobs,
		interval: interval,
		log:      log.With().Str("component", "state-gauge").Logger(),
	}
}

func (w *StateGaugeWorker) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			counts, err := w.jobs.CountByState(ctx)
			if err != nil {
				w.log.Warn().Err(err).Msg("count jobs by state")
				continue
			}
			for state, n := range counts {
				metrics.SetJobsInState(string(state), n)
			}
		}
	}
}
