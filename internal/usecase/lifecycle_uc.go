// File: internal/usecase/lifecycle_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
	"ostrid-adapter/internal/domain/ports/repository"
	"ostrid-adapter/internal/infra/logging"
)

// Compile-time check
var _ LifecycleManager = (*lifecycleUC)(nil)

// Dispatcher serializes tasks per key on a bounded worker pool. Two tasks
// with the same key never run concurrently; tasks with distinct keys run
// fully concurrently.
type Dispatcher interface {
	Submit(key string, task func(ctx context.Context)) error
}

// EventBus fans lifecycle events out to observers and push channels.
type EventBus interface {
	Publish(e *model.JobEvent)
	Finished(contextID string)
}

// LifecycleTimings groups the timer policies of the state machine.
type LifecycleTimings struct {
	DiscoveryTimeout time.Duration
	AuctionTick      time.Duration
	AuctionDeadline  time.Duration
	DisputeWindow    time.Duration
	BidFeeMicros     int64
}

// LifecycleManager owns the per-job state machine. It is the only component
// that mutates job state; every mutating operation runs on the job's
// serialized queue.
type LifecycleManager interface {
	Raise(ctx context.Context, raiserID, contextID string, intent map[string]interface{}, budgetMicros int64, quality float64) (*model.TaskJob, error)
	Discover(ctx context.Context, jobID string) (*model.TaskJob, []model.Specialist, error)
	TriggerNegotiation(ctx context.Context, jobID string, mode model.NegotiationMode, weights map[string]float64, auction *AuctionParams) (*model.NegotiationSession, error)
	SubmitBid(ctx context.Context, jobID, bidderID string, offered map[string]float64) (*model.Bid, error)
	ConfirmEscrow(ctx context.Context, jobID, proof string) (*model.TaskJob, error)
	Attest(ctx context.Context, jobID string, ev Evidence) (*model.TaskJob, error)
	Cancel(ctx context.Context, jobID string) (*model.TaskJob, error)
	RecordArbitration(ctx context.Context, jobID, arbiterID string, accepted bool) (*model.TaskJob, error)
	// ExpireDispute applies the dispute-window fallback: auto-revert the
	// escrow, job stays Disputed. Called by the window timer and the sweeper.
	ExpireDispute(ctx context.Context, jobID string) error

	GetJob(ctx context.Context, jobID string) (*model.TaskJob, error)
	Events(ctx context.Context, jobID string) ([]*model.JobEvent, error)
}

// jobRuntime is the in-memory companion of one job: cancel flag, discovered
// candidates, the active session and pending timers. All fields except the
// cancel flag are touched only from the job's serialized queue.
type jobRuntime struct {
	cancelled   chan struct{}
	cancelOnce  sync.Once
	contextID   string
	candidates  []model.Specialist
	session     *model.NegotiationSession
	discoveryTm *time.Timer
	deadlineTm  *time.Timer
	disputeTm   *time.Timer
	tickTimers  map[int64]*time.Timer
}

func (r *jobRuntime) requestCancel() { r.cancelOnce.Do(func() { close(r.cancelled) }) }

func (r *jobRuntime) cancelRequested() bool {
	select {
	case <-r.cancelled:
		return true
	default:
		return false
	}
}

func (r *jobRuntime) stopTimers() {
	for _, t := range []*time.Timer{r.discoveryTm, r.deadlineTm, r.disputeTm} {
		if t != nil {
			t.Stop()
		}
	}
	for _, t := range r.tickTimers {
		t.Stop()
	}
}

type lifecycleUC struct {
	jobs      repository.TaskJobRepository
	events    repository.EventRepository
	tm        repository.TransactionManager
	engine    NegotiationEngine
	escrow    EscrowCoordinator
	attesting AttestationService
	directory adapter.SpecialistDirectory
	bus       EventBus
	dispatch  Dispatcher
	timings   LifecycleTimings

	mu      sync.Mutex
	runtime map[string]*jobRuntime

	log *zerolog.Logger
}

func NewLifecycleManager(
	jobs repository.TaskJobRepository,
	events repository.EventRepository,
	tm repository.TransactionManager,
	engine NegotiationEngine,
	escrow EscrowCoordinator,
	attesting AttestationService,
	directory adapter.SpecialistDirectory,
	bus EventBus,
	dispatch Dispatcher,
	timings LifecycleTimings,
	logger *zerolog.Logger,
) *lifecycleUC {
	l := logger.With().Str("component", "LifecycleManager").Logger()
	return &lifecycleUC{
		jobs:      jobs,
		events:    events,
		tm:        tm,
		engine:    engine,
		escrow:    escrow,
		attesting: attesting,
		directory: directory,
		bus:       bus,
		dispatch:  dispatch,
		timings:   timings,
		runtime:   make(map[string]*jobRuntime),
		log:       &l,
	}
}

// ---- serialization plumbing ----

// run executes fn on the job's serialized queue and waits for it.
func (u *lifecycleUC) run(ctx context.Context, jobID string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := u.dispatch.Submit(jobID, func(wctx context.Context) {
		done <- fn(wctx)
	}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// enqueue submits a synthetic operation (timer expiry) without waiting.
func (u *lifecycleUC) enqueue(jobID string, fn func(ctx context.Context)) {
	if err := u.dispatch.Submit(jobID, fn); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("failed to enqueue synthetic event")
	}
}

func (u *lifecycleUC) runtimeFor(jobID string) *jobRuntime {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.runtime[jobID]
	if !ok {
		r = &jobRuntime{cancelled: make(chan struct{}), tickTimers: make(map[int64]*time.Timer)}
		u.runtime[jobID] = r
	}
	return r
}

func (u *lifecycleUC) dropRuntime(jobID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if r, ok := u.runtime[jobID]; ok {
		r.stopTimers()
		delete(u.runtime, jobID)
	}
}

// ---- events ----

func (u *lifecycleUC) newEvent(job *model.TaskJob, typ model.EventType, payload map[string]interface{}) *model.JobEvent {
	rt := u.runtimeFor(job.ID)
	return &model.JobEvent{
		ID:        ulid.Make().String(),
		JobID:     job.ID,
		ContextID: rt.contextID,
		Type:      typ,
		Payload:   payload,
		At:        time.Now(),
	}
}

// commit persists the job update plus its events atomically, then publishes.
func (u *lifecycleUC) commit(ctx context.Context, job *model.TaskJob, evs ...*model.JobEvent) error {
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		for _, e := range evs {
			if err := u.events.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range evs {
		u.bus.Publish(e)
	}
	return nil
}

// ---- operations ----

func (u *lifecycleUC) Raise(ctx context.Context, raiserID, contextID string, intent map[string]interface{}, budgetMicros int64, quality float64) (*model.TaskJob, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.Raise")()
	job, err := model.NewTaskJob(uuid.NewString(), raiserID, intent, budgetMicros, quality)
	if err != nil {
		return nil, err
	}
	rt := u.runtimeFor(job.ID)
	rt.contextID = contextID

	err = u.run(ctx, job.ID, func(ctx context.Context) error {
		ev := u.newEvent(job, model.EventJobRaised, map[string]interface{}{
			"raiser": raiserID, "budget_micros": budgetMicros, "quality": quality,
		})
		txErr := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := u.jobs.Save(ctx, tx, job); err != nil {
				return err
			}
			return u.events.Append(ctx, tx, ev)
		})
		if txErr != nil {
			return txErr
		}
		u.bus.Publish(ev)
		return nil
	})
	if err != nil {
		u.dropRuntime(job.ID)
		return nil, err
	}

	// Discovery timeout: if no candidates were found by then, the job
	// auto-cancels with reason no_candidates.
	rt.discoveryTm = time.AfterFunc(u.timings.DiscoveryTimeout, func() {
		u.enqueue(job.ID, func(ctx context.Context) { u.discoveryTimeout(ctx, job.ID) })
	})

	u.log.Info().Str("job_id", job.ID).Int64("budget", budgetMicros).Msg("task-job raised")
	return job, nil
}

func (u *lifecycleUC) discoveryTimeout(ctx context.Context, jobID string) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return
	}
	rt := u.runtimeFor(jobID)
	if job.State != model.JobStateRaised && job.State != model.JobStateDiscovering {
		return
	}
	if len(rt.candidates) > 0 {
		return
	}
	if err := job.Cancel(model.CancelReasonNoCandidates); err != nil {
		return
	}
	ev := u.newEvent(job, model.EventJobCancelled, map[string]interface{}{"reason": string(model.CancelReasonNoCandidates)})
	if err := u.commit(ctx, job, ev); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("discovery timeout commit failed")
		return
	}
	u.bus.Finished(rt.contextID)
	u.dropRuntime(jobID)
	u.log.Info().Str("job_id", jobID).Msg("cancelled: no candidates before discovery timeout")
}

func (u *lifecycleUC) Discover(ctx context.Context, jobID string) (*model.TaskJob, []model.Specialist, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.Discover")()
	var (
		job        *model.TaskJob
		candidates []model.Specialist
	)
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		var err error
		job, err = u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if err := job.Transition(model.JobStateDiscovering); err != nil {
			return err
		}
		rt := u.runtimeFor(jobID)
		if rt.cancelRequested() {
			return domain.ErrCancelRequested
		}

		dimensions := intentDimensions(job.Intent)
		candidates, err = u.queryDirectory(ctx, dimensions)
		if err != nil {
			return err
		}
		if rt.cancelRequested() {
			return domain.ErrCancelRequested
		}

		evs := []*model.JobEvent{u.newEvent(job, model.EventDiscoveryStarted, map[string]interface{}{"dimensions": dimensions})}
		if len(candidates) > 0 {
			rt.candidates = candidates
			if err := job.Transition(model.JobStateNegotiating); err != nil {
				return err
			}
			if rt.discoveryTm != nil {
				rt.discoveryTm.Stop()
			}
			evs = append(evs, u.newEvent(job, model.EventCandidatesFound, map[string]interface{}{"count": len(candidates)}))
		}
		// Zero candidates: stay Discovering; the discovery timer will cancel.
		return u.commit(ctx, job, evs...)
	})
	if err != nil {
		return nil, nil, err
	}
	return job, candidates, nil
}

// queryDirectory retries the idempotent directory read with bounded backoff.
func (u *lifecycleUC) queryDirectory(ctx context.Context, dimensions []string) ([]model.Specialist, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		candidates, err := u.directory.Query(ctx, dimensions)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrDirectory, lastErr)
}

func (u *lifecycleUC) TriggerNegotiation(ctx context.Context, jobID string, mode model.NegotiationMode, weights map[string]float64, auction *AuctionParams) (*model.NegotiationSession, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.TriggerNegotiation")()
	var session *model.NegotiationSession
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		job, err := u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if job.State != model.JobStateNegotiating {
			return fmt.Errorf("%w: negotiation requires state %s, job is %s",
				domain.ErrInvalidTransition, model.JobStateNegotiating, job.State)
		}
		rt := u.runtimeFor(jobID)
		if rt.session != nil && !rt.session.Closed {
			return fmt.Errorf("%w: active negotiation session", domain.ErrAlreadyExists)
		}
		if len(weights) == 0 {
			weights = map[string]float64{model.DimPrice: 0.5, model.DimQuality: 0.5}
		}

		switch mode {
		case model.ModeSolver:
			session, err = u.engine.OpenSolver(ctx, jobID, weights)
			if err != nil {
				return err
			}
			rt.session = session
			winner, err := u.engine.RunSolver(ctx, session, rt.candidates)
			if err != nil {
				return err
			}
			return u.completeNegotiation(ctx, job, session, winner.ID, nil)
		case model.ModeAuction:
			params := AuctionParams{Tick: u.timings.AuctionTick, Deadline: u.timings.AuctionDeadline}
			if auction != nil {
				params.Bounds = auction.Bounds
				if auction.Tick > 0 {
					params.Tick = auction.Tick
				}
				if auction.Deadline > 0 {
					params.Deadline = auction.Deadline
				}
			}
			session, err = u.engine.OpenAuction(ctx, jobID, weights, params)
			if err != nil {
				return err
			}
			rt.session = session
			ev := u.newEvent(job, model.EventNegotiationStarted, map[string]interface{}{
				"mode": string(mode), "session_id": session.ID, "deadline": session.Deadline,
			})
			if err := u.commit(ctx, job, ev); err != nil {
				return err
			}
			rt.deadlineTm = time.AfterFunc(time.Until(session.Deadline), func() {
				u.enqueue(jobID, func(ctx context.Context) { u.auctionDeadline(ctx, jobID) })
			})
			return nil
		default:
			return fmt.Errorf("%w: negotiation mode %q", domain.ErrValidation, mode)
		}
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (u *lifecycleUC) SubmitBid(ctx context.Context, jobID, bidderID string, offered map[string]float64) (*model.Bid, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.SubmitBid")()
	var bid *model.Bid
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		job, err := u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if job.State != model.JobStateNegotiating {
			return fmt.Errorf("%w: bids require state %s, job is %s",
				domain.ErrInvalidTransition, model.JobStateNegotiating, job.State)
		}
		session, err := u.sessionFor(ctx, jobID)
		if err != nil {
			return err
		}
		bid, err = u.engine.RecordBid(ctx, session, bidderID, offered, u.timings.BidFeeMicros)
		if err != nil {
			return err
		}
		ev := u.newEvent(job, model.EventBidRecorded, map[string]interface{}{
			"bid_id": bid.ID, "bidder": bidderID, "tick": session.TickIndex(bid.SubmittedAt),
		})
		if err := u.events.Append(ctx, nil, ev); err != nil {
			return err
		}
		u.bus.Publish(ev)
		u.scheduleTickEval(jobID, session, session.TickIndex(bid.SubmittedAt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// scheduleTickEval arms a one-shot timer that evaluates the given tick just
// after it closes. A qualifying bid therefore wins at its tick boundary,
// letting same-tick competitors race on composite score.
func (u *lifecycleUC) scheduleTickEval(jobID string, session *model.NegotiationSession, tick int64) {
	rt := u.runtimeFor(jobID)
	if _, armed := rt.tickTimers[tick]; armed {
		return
	}
	boundary := session.StartedAt.Add(time.Duration(tick+1) * session.Tick)
	rt.tickTimers[tick] = time.AfterFunc(time.Until(boundary), func() {
		u.enqueue(jobID, func(ctx context.Context) { u.evaluateTick(ctx, jobID, tick) })
	})
}

func (u *lifecycleUC) evaluateTick(ctx context.Context, jobID string, tick int64) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil || job.State != model.JobStateNegotiating {
		return
	}
	session, err := u.sessionFor(ctx, jobID)
	if err != nil {
		return
	}
	winner, err := u.engine.EvaluateTick(ctx, session, tick)
	if err != nil || winner == nil {
		return
	}
	if err := u.completeNegotiation(ctx, job, session, winner.BidderID, winner); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("auction winner commit failed; session stays open")
	}
}

func (u *lifecycleUC) auctionDeadline(ctx context.Context, jobID string) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil || job.State != model.JobStateNegotiating {
		return
	}
	session, err := u.sessionFor(ctx, jobID)
	if err == nil && !session.Closed {
		// Last chance: a qualifying bid whose tick evaluation has not fired
		// yet still wins over expiry.
		if winner := session.SelectWinner(session.Bids); winner != nil {
			if err := u.completeNegotiation(ctx, job, session, winner.BidderID, winner); err == nil {
				return
			}
			// completeNegotiation mutates its job argument before the commit;
			// reload the persisted state before cancelling.
			if job, err = u.jobs.FindByID(ctx, nil, jobID); err != nil {
				return
			}
		}
		_ = u.engine.Close(ctx, nil, session, nil)
	}
	evs := make([]*model.JobEvent, 0, 2)
	// A winner commit that failed after its ledger lock leaves a locked
	// escrow behind; expiry returns it to the payer.
	if esc, rerr := u.escrow.RevertForJob(ctx, jobID); rerr != nil {
		u.log.Warn().Err(rerr).Str("job_id", jobID).Msg("escrow revert on auction expiry failed")
	} else if esc != nil {
		evs = append(evs, u.newEvent(job, model.EventEscrowReverted, map[string]interface{}{"ref": esc.Ref}))
	}
	if err := job.Cancel(model.CancelReasonAuctionExpired); err != nil {
		return
	}
	evs = append(evs, u.newEvent(job, model.EventJobCancelled, map[string]interface{}{"reason": string(model.CancelReasonAuctionExpired)}))
	if err := u.commit(ctx, job, evs...); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("auction expiry commit failed")
		return
	}
	rt := u.runtimeFor(jobID)
	u.bus.Finished(rt.contextID)
	u.dropRuntime(jobID)
	u.log.Info().Str("job_id", jobID).Msg("cancelled: auction expired with no qualifying bid")
}

// completeNegotiation closes the session, locks the escrow and moves the job
// to EscrowPending. The ledger lock happens before any state is persisted:
// a lock failure leaves the job Negotiating and the session open.
func (u *lifecycleUC) completeNegotiation(ctx context.Context, job *model.TaskJob, session *model.NegotiationSession, winnerID string, winningBid *model.Bid) error {
	rt := u.runtimeFor(job.ID)
	if rt.cancelRequested() {
		return domain.ErrCancelRequested
	}
	esc, err := u.escrow.Lock(ctx, job.ID, job.RaiserID, job.BudgetMicros)
	if err != nil {
		return err
	}
	if rt.cancelRequested() {
		// Lock completed after cancellation was observed: compensate.
		if _, rerr := u.escrow.Revert(ctx, esc.Ref); rerr != nil {
			u.log.Warn().Err(rerr).Str("job_id", job.ID).Msg("compensating revert failed")
		}
		return domain.ErrCancelRequested
	}

	job.SpecialistID = &winnerID
	job.EscrowRef = &esc.Ref
	if err := job.Transition(model.JobStateEscrowPending); err != nil {
		return err
	}

	winnerPayload := map[string]interface{}{"specialist": winnerID, "session_id": session.ID}
	if winningBid != nil {
		winnerPayload["bid_id"] = winningBid.ID
	}
	evs := []*model.JobEvent{
		u.newEvent(job, model.EventWinnerSelected, winnerPayload),
		u.newEvent(job, model.EventEscrowLocked, map[string]interface{}{"ref": esc.Ref, "amount_micros": esc.AmountMicros}),
	}
	// Session close and job transition commit together: a failure leaves the
	// session open and the job Negotiating, so the deadline timer can retry
	// or expire the auction and revert the lock.
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.engine.Close(ctx, tx, session, &winnerID); err != nil {
			return err
		}
		if err := u.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		for _, e := range evs {
			if err := u.events.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		session.Closed = false
		session.WinnerID = nil
		return err
	}
	for _, e := range evs {
		u.bus.Publish(e)
	}
	rt.stopTimers()
	u.log.Info().Str("job_id", job.ID).Str("winner", winnerID).Msg("negotiation complete, escrow pending confirmation")
	return nil
}

func (u *lifecycleUC) ConfirmEscrow(ctx context.Context, jobID, proof string) (*model.TaskJob, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.ConfirmEscrow")()
	var job *model.TaskJob
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		var err error
		job, err = u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if job.State != model.JobStateEscrowPending {
			return fmt.Errorf("%w: confirm requires state %s, job is %s",
				domain.ErrInvalidTransition, model.JobStateEscrowPending, job.State)
		}
		if job.EscrowRef == nil {
			return domain.ErrEscrowNotLocked
		}
		rt := u.runtimeFor(jobID)
		if rt.cancelRequested() {
			return domain.ErrCancelRequested
		}
		esc, err := u.escrow.Confirm(ctx, *job.EscrowRef, proof)
		if err != nil {
			return err
		}
		if rt.cancelRequested() {
			return domain.ErrCancelRequested
		}
		if err := job.Transition(model.JobStateEscrowConfirmed); err != nil {
			return err
		}
		if err := job.Transition(model.JobStateValidating); err != nil {
			return err
		}
		ev := u.newEvent(job, model.EventEscrowConfirmed, map[string]interface{}{"ref": esc.Ref, "tx_ref": esc.TxRef})
		return u.commit(ctx, job, ev)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (u *lifecycleUC) Attest(ctx context.Context, jobID string, ev Evidence) (*model.TaskJob, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.Attest")()
	var job *model.TaskJob
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		var err error
		job, err = u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if job.State != model.JobStateValidating {
			return fmt.Errorf("%w: attest requires state %s, job is %s",
				domain.ErrInvalidTransition, model.JobStateValidating, job.State)
		}
		rt := u.runtimeFor(jobID)
		if rt.cancelRequested() {
			return domain.ErrCancelRequested
		}
		att, err := u.attesting.Resolve(ctx, jobID, ev)
		if err != nil {
			return err
		}
		if rt.cancelRequested() {
			return domain.ErrCancelRequested
		}
		job.Attestation = att
		attEv := u.newEvent(job, model.EventAttestationFiled, map[string]interface{}{
			"method": string(att.Method), "result": string(att.Result),
		})

		if att.Result == model.AttestationAccepted {
			// Escrow releases only on an accepted attestation.
			esc, err := u.escrow.Release(ctx, *job.EscrowRef, *job.SpecialistID)
			if err != nil {
				return err
			}
			if err := job.Transition(model.JobStateSettled); err != nil {
				return err
			}
			evs := []*model.JobEvent{
				attEv,
				u.newEvent(job, model.EventEscrowReleased, map[string]interface{}{"ref": esc.Ref, "payee": *job.SpecialistID}),
				u.newEvent(job, model.EventJobSettled, nil),
			}
			if err := u.commit(ctx, job, evs...); err != nil {
				return err
			}
			u.bus.Finished(rt.contextID)
			u.dropRuntime(jobID)
			return nil
		}

		// Rejected: dispute, escrow stays locked until arbitration or window expiry.
		if err := job.Transition(model.JobStateDisputed); err != nil {
			return err
		}
		evs := []*model.JobEvent{attEv, u.newEvent(job, model.EventJobDisputed, nil)}
		if err := u.commit(ctx, job, evs...); err != nil {
			return err
		}
		rt.disputeTm = time.AfterFunc(u.timings.DisputeWindow, func() {
			u.enqueue(jobID, func(ctx context.Context) { _ = u.ExpireDisputeLocked(ctx, jobID) })
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (u *lifecycleUC) Cancel(ctx context.Context, jobID string) (*model.TaskJob, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.Cancel")()
	// Flag first so in-flight handlers observe the request at their next
	// cancellation point.
	rt := u.runtimeFor(jobID)
	rt.requestCancel()

	var job *model.TaskJob
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		var err error
		job, err = u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if job.State.Terminal() {
			return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.State)
		}
		rt.stopTimers()
		if rt.session != nil && !rt.session.Closed {
			_ = u.engine.Close(ctx, nil, rt.session, nil)
		}

		evs := []*model.JobEvent{}
		if job.EscrowRef != nil {
			// Best-effort compensating revert of a locked escrow.
			if esc, rerr := u.escrow.Revert(ctx, *job.EscrowRef); rerr != nil {
				u.log.Warn().Err(rerr).Str("job_id", jobID).Msg("escrow revert on cancel failed")
			} else {
				evs = append(evs, u.newEvent(job, model.EventEscrowReverted, map[string]interface{}{"ref": esc.Ref}))
			}
		}
		if err := job.Cancel(model.CancelReasonExplicit); err != nil {
			return err
		}
		evs = append(evs, u.newEvent(job, model.EventJobCancelled, map[string]interface{}{"reason": string(model.CancelReasonExplicit)}))
		if err := u.commit(ctx, job, evs...); err != nil {
			return err
		}
		u.bus.Finished(rt.contextID)
		u.dropRuntime(jobID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (u *lifecycleUC) RecordArbitration(ctx context.Context, jobID, arbiterID string, accepted bool) (*model.TaskJob, error) {
	defer logging.TraceDuration(u.log, "LifecycleManager.RecordArbitration")()
	var job *model.TaskJob
	err := u.run(ctx, jobID, func(ctx context.Context) error {
		var err error
		job, err = u.jobs.FindByID(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if job.State != model.JobStateDisputed {
			return fmt.Errorf("%w: arbitration requires state %s, job is %s",
				domain.ErrInvalidTransition, model.JobStateDisputed, job.State)
		}
		if job.Arbitration != nil {
			return fmt.Errorf("%w: arbitration already recorded", domain.ErrAlreadyExists)
		}
		rt := u.runtimeFor(jobID)
		if rt.disputeTm != nil {
			rt.disputeTm.Stop()
		}

		job.Arbitration = &model.ArbitrationOutcome{JobID: jobID, Accepted: accepted, ArbiterID: arbiterID, RecordedAt: time.Now()}
		evs := []*model.JobEvent{u.newEvent(job, model.EventArbitrationFiled, map[string]interface{}{
			"arbiter": arbiterID, "accepted": accepted,
		})}

		if accepted {
			// Arbitration supersedes the rejected attestation so a released
			// escrow always pairs with an accepted outcome.
			esc, err := u.escrow.Release(ctx, *job.EscrowRef, *job.SpecialistID)
			if err != nil {
				return err
			}
			if job.Attestation != nil {
				job.Attestation.Result = model.AttestationAccepted
			}
			evs = append(evs, u.newEvent(job, model.EventEscrowReleased, map[string]interface{}{"ref": esc.Ref}))
		} else {
			esc, err := u.escrow.Revert(ctx, *job.EscrowRef)
			if err != nil {
				return err
			}
			evs = append(evs, u.newEvent(job, model.EventEscrowReverted, map[string]interface{}{"ref": esc.Ref}))
		}
		if err := u.commit(ctx, job, evs...); err != nil {
			return err
		}
		u.bus.Finished(rt.contextID)
		u.dropRuntime(jobID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ExpireDispute enqueues the dispute-window fallback on the job's queue.
func (u *lifecycleUC) ExpireDispute(ctx context.Context, jobID string) error {
	return u.run(ctx, jobID, func(ctx context.Context) error {
		return u.ExpireDisputeLocked(ctx, jobID)
	})
}

// ExpireDisputeLocked must run on the job's serialized queue.
func (u *lifecycleUC) ExpireDisputeLocked(ctx context.Context, jobID string) error {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.State != model.JobStateDisputed || job.Arbitration != nil {
		return nil
	}
	if job.EscrowRef == nil {
		return nil
	}
	esc, err := u.escrow.Revert(ctx, *job.EscrowRef)
	if err != nil {
		if errors.Is(err, domain.ErrEscrowFinalized) {
			return nil // already settled one way or the other
		}
		return err
	}
	ev := u.newEvent(job, model.EventEscrowReverted, map[string]interface{}{
		"ref": esc.Ref, "reason": "dispute_window_elapsed",
	})
	if err := u.commit(ctx, job, ev); err != nil {
		return err
	}
	rt := u.runtimeFor(jobID)
	u.bus.Finished(rt.contextID)
	u.dropRuntime(jobID)
	u.log.Info().Str("job_id", jobID).Msg("dispute window elapsed; escrow auto-reverted")
	return nil
}

func (u *lifecycleUC) GetJob(ctx context.Context, jobID string) (*model.TaskJob, error) {
	return u.jobs.FindByID(ctx, nil, jobID)
}

func (u *lifecycleUC) Events(ctx context.Context, jobID string) ([]*model.JobEvent, error) {
	return u.events.ListByJob(ctx, nil, jobID)
}

// sessionFor returns the job's active session, reloading from storage after
// a restart.
func (u *lifecycleUC) sessionFor(ctx context.Context, jobID string) (*model.NegotiationSession, error) {
	rt := u.runtimeFor(jobID)
	if rt.session != nil {
		return rt.session, nil
	}
	s, err := u.engine.LoadActive(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rt.session = s
	return s, nil
}

// intentDimensions extracts the requested dimension names from the intent
// payload; defaults to price+quality.
func intentDimensions(intent map[string]interface{}) []string {
	if raw, ok := intent["dimensions"].([]interface{}); ok {
		out := make([]string, 0, len(raw))
		for _, d := range raw {
			if s, ok := d.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{model.DimPrice, model.DimQuality}
}
