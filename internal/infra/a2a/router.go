// File: internal/infra/a2a/router.go
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
	"ostrid-adapter/internal/infra/logging"
	"ostrid-adapter/internal/infra/metrics"
	red "ostrid-adapter/internal/infra/redis"
	"ostrid-adapter/internal/usecase"
)

// Error taxonomy codes reported to callers.
const (
	CodeValidation      = "ValidationError"
	CodeInvalidState    = "InvalidStateTransition"
	CodeUnsupported     = "UnsupportedAction"
	CodeCollaborator    = "CollaboratorError"
	CodeTransient       = "TransientFailure"
	CodeNotFound        = "NotFound"
	CodeRateLimited     = "RateLimited"
	CodePaymentRequired = "PaymentRequired"
	CodeProcessing      = "ProcessingError"
)

type ResultStatus string

const (
	StatusAccepted ResultStatus = "accepted"
	StatusRejected ResultStatus = "rejected"
	StatusDeferred ResultStatus = "deferred"
)

// Result is the shaped outcome of routing one message.
type Result struct {
	Status        ResultStatus `json:"status"`
	Code          string       `json:"code,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Message       *Message     `json:"message,omitempty"`
}

// ReplayStore is the message-id idempotency backend.
type ReplayStore interface {
	Reserve(ctx context.Context, messageID string) (prev string, fresh bool, err error)
	Store(ctx context.Context, messageID, result string) error
	Release(ctx context.Context, messageID string) error
}

// RateLimiter throttles bid submission per bidder.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Router validates envelopes, enforces idempotency and fees, and forwards
// recognized actions to the lifecycle manager. Unexpected failures are
// caught here and reported as a generic processing error.
type Router struct {
	lifecycle usecase.LifecycleManager
	replays   ReplayStore
	limiter   RateLimiter
	card      *AgentCard
	fees      config.FeesConfig
	bidLimit  int // bids per minute per bidder
	log       zerolog.Logger
}

func NewRouter(
	lifecycle usecase.LifecycleManager,
	replays ReplayStore,
	limiter RateLimiter,
	card *AgentCard,
	fees config.FeesConfig,
	bidLimit int,
	log zerolog.Logger,
) *Router {
	return &Router{
		lifecycle: lifecycle,
		replays:   replays,
		limiter:   limiter,
		card:      card,
		fees:      fees,
		bidLimit:  bidLimit,
		log:       log.With().Str("component", "a2a-router").Logger(),
	}
}

// Dispatch routes one inbound message and returns the shaped result.
// Replays of an already-processed message id return the stored result
// without re-executing anything.
func (r *Router) Dispatch(ctx context.Context, caller *adapter.Identity, msg *Message) (res *Result) {
	started := time.Now()
	action := string(msg.Extension.Action)
	if msg.ContextID != "" {
		ctx = logging.WithContextID(ctx, msg.ContextID)
	}
	if msg.Extension.JobID != "" {
		ctx = logging.WithJobID(ctx, msg.Extension.JobID)
	}
	log := logging.With(ctx, &r.log)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("message_id", msg.MessageID).Msg("handler panic")
			_ = r.replays.Release(ctx, msg.MessageID)
			res = &Result{Status: StatusRejected, Code: CodeProcessing, Reason: "internal error"}
		}
		metrics.IncMessage(action, string(res.Status))
		metrics.ObserveMessageLatency(action, float64(time.Since(started).Milliseconds()))
	}()

	if err := msg.Validate(); err != nil {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	}
	if !msg.Extension.Action.Known() {
		return &Result{
			Status:  StatusRejected,
			Code:    CodeUnsupported,
			Reason:  fmt.Sprintf("action %q is not supported", msg.Extension.Action),
			Message: r.capabilityFallback(msg),
		}
	}

	prev, fresh, err := r.replays.Reserve(ctx, msg.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrTransient) {
			// First delivery still in flight; ask the sender to retry.
			return &Result{Status: StatusDeferred, Code: CodeTransient, CorrelationID: msg.MessageID}
		}
		log.Warn().Err(err).Msg("replay store unavailable, processing without idempotency guard")
		fresh = true
	}
	if !fresh {
		var stored Result
		if json.Unmarshal([]byte(prev), &stored) == nil {
			metrics.IncMessageReplay()
			return &stored
		}
		return &Result{Status: StatusDeferred, Code: CodeTransient, CorrelationID: msg.MessageID}
	}

	res = r.handle(ctx, caller, msg)

	if res.Status == StatusDeferred {
		// Leave the reservation open for transient failures only once the
		// sender retries with the same id.
		_ = r.replays.Release(ctx, msg.MessageID)
		return res
	}
	if raw, err := json.Marshal(res); err == nil {
		if err := r.replays.Store(ctx, msg.MessageID, string(raw)); err != nil {
			log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("store replay result")
		}
	}
	return res
}

func (r *Router) handle(ctx context.Context, caller *adapter.Identity, msg *Message) *Result {
	switch msg.Extension.Action {
	case ActionRaiseTaskJob:
		return r.handleRaise(ctx, caller, msg)
	case ActionDiscovery:
		return r.handleDiscovery(ctx, msg)
	case ActionNegotiation:
		return r.handleNegotiation(ctx, caller, msg)
	case ActionConfirmEscrow:
		return r.handleConfirmEscrow(ctx, msg)
	case ActionAttest:
		return r.handleAttest(ctx, msg)
	case ActionCancel:
		return r.handleCancel(ctx, msg)
	}
	return &Result{Status: StatusRejected, Code: CodeUnsupported}
}

func (r *Router) handleRaise(ctx context.Context, caller *adapter.Identity, msg *Message) *Result {
	var p raisePayload
	if err := decodePayload(msg.Extension.Payload, &p); err != nil {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	}
	budget, err := model.ParseBudget(p.Budget)
	if err != nil {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	}
	if p.FeePaidMicros < r.fees.RaiseMicros {
		return &Result{Status: StatusRejected, Code: CodePaymentRequired,
			Reason: fmt.Sprintf("raise fee is %d micro-%s", r.fees.RaiseMicros, r.fees.Currency)}
	}

	job, err := r.lifecycle.Raise(ctx, caller.Subject, msg.ContextID, p.Intent, budget, p.Quality)
	if err != nil {
		return r.errorResult(err)
	}
	return r.accepted(msg, map[string]interface{}{
		"jobId": job.ID,
		"state": string(job.State),
	}, fmt.Sprintf("task job %s raised", job.ID))
}

func (r *Router) handleDiscovery(ctx context.Context, msg *Message) *Result {
	if msg.Extension.JobID == "" {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "extension.jobId is required"}
	}
	job, candidates, err := r.lifecycle.Discover(ctx, msg.Extension.JobID)
	if err != nil {
		return r.errorResult(err)
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return r.accepted(msg, map[string]interface{}{
		"jobId":      job.ID,
		"state":      string(job.State),
		"candidates": ids,
	}, fmt.Sprintf("%d candidate(s) found", len(ids)))
}

func (r *Router) handleNegotiation(ctx context.Context, caller *adapter.Identity, msg *Message) *Result {
	if msg.Extension.JobID == "" {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "extension.jobId is required"}
	}
	var p negotiationPayload
	if err := decodePayload(msg.Extension.Payload, &p); err != nil {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	}

	if p.isBid() {
		return r.handleBid(ctx, caller, msg, &p)
	}

	mode := model.NegotiationMode(p.Mode)
	if mode != model.ModeSolver && mode != model.ModeAuction {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	var params *usecase.AuctionParams
	if mode == model.ModeAuction {
		if len(p.Bounds) == 0 {
			return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "auction requires bounds"}
		}
		bounds := make([]model.DimensionBound, 0, len(p.Bounds))
		for _, b := range p.Bounds {
			kind := model.BoundKind(b.Kind)
			if kind != model.BoundCeiling && kind != model.BoundFloor {
				return &Result{Status: StatusRejected, Code: CodeValidation, Reason: fmt.Sprintf("unknown bound kind %q", b.Kind)}
			}
			bounds = append(bounds, model.DimensionBound{
				Dimension: b.Dimension,
				Kind:      kind,
				Initial:   b.Initial,
				Limit:     b.Limit,
				Rate:      b.Rate,
			})
		}
		params = &usecase.AuctionParams{
			Bounds:   bounds,
			Tick:     time.Duration(p.TickMs) * time.Millisecond,
			Deadline: time.Duration(p.DeadlineMs) * time.Millisecond,
		}
	}

	session, err := r.lifecycle.TriggerNegotiation(ctx, msg.Extension.JobID, mode, p.Weights, params)
	if err != nil {
		return r.errorResult(err)
	}
	metrics.IncSessionOpened(string(mode))
	out := map[string]interface{}{
		"sessionId": session.ID,
		"mode":      string(session.Mode),
	}
	if session.WinnerID != nil {
		out["winnerId"] = *session.WinnerID
	}
	return r.accepted(msg, out, "negotiation "+string(mode)+" opened")
}

func (r *Router) handleBid(ctx context.Context, caller *adapter.Identity, msg *Message, p *negotiationPayload) *Result {
	if p.FeePaidMicros < r.fees.BidMicros {
		metrics.IncBid("rejected")
		return &Result{Status: StatusRejected, Code: CodePaymentRequired,
			Reason: fmt.Sprintf("bid fee is %d micro-%s", r.fees.BidMicros, r.fees.Currency)}
	}
	if r.limiter != nil && r.bidLimit > 0 {
		ok, err := r.limiter.Allow(ctx, red.BidderSessionKey(caller.Subject, msg.Extension.JobID), r.bidLimit, time.Minute)
		if err == nil && !ok {
			metrics.IncBid("rate_limited")
			return &Result{Status: StatusRejected, Code: CodeRateLimited, Reason: "bid rate limit exceeded"}
		}
	}

	bid, err := r.lifecycle.SubmitBid(ctx, msg.Extension.JobID, caller.Subject, p.Offered)
	if err != nil {
		if errors.Is(err, domain.ErrBidOutOfBounds) {
			metrics.IncBid("out_of_bounds")
		} else {
			metrics.IncBid("rejected")
		}
		return r.errorResult(err)
	}
	metrics.IncBid("recorded")
	return r.accepted(msg, map[string]interface{}{
		"bidId":       bid.ID,
		"sessionId":   bid.SessionID,
		"submittedAt": bid.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}, "bid recorded")
}

func (r *Router) handleConfirmEscrow(ctx context.Context, msg *Message) *Result {
	if msg.Extension.JobID == "" {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "extension.jobId is required"}
	}
	var p confirmPayload
	if err := decodePayload(msg.Extension.Payload, &p); err != nil {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	}
	if p.Proof == "" {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "proof is required"}
	}

	job, err := r.lifecycle.ConfirmEscrow(ctx, msg.Extension.JobID, p.Proof)
	if err != nil {
		return r.errorResult(err)
	}
	return r.accepted(msg, map[string]interface{}{
		"jobId": job.ID,
		"state": string(job.State),
	}, "escrow confirmed")
}

func (r *Router) handleAttest(ctx context.Context, msg *Message) *Result {
	if msg.Extension.JobID == "" {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "extension.jobId is required"}
	}
	var p attestPayload
	if err := decodePayload(msg.Extension.Payload, &p); err != nil {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	}

	ev := usecase.Evidence{
		Method:      model.ValidationMethod(p.Method),
		Claimed:     model.AttestationResult(p.Result),
		EvidenceRef: p.EvidenceRef,
	}
	job, err := r.lifecycle.Attest(ctx, msg.Extension.JobID, ev)
	if err != nil {
		return r.errorResult(err)
	}
	out := map[string]interface{}{
		"jobId": job.ID,
		"state": string(job.State),
	}
	if job.Attestation != nil {
		out["result"] = string(job.Attestation.Result)
	}
	return r.accepted(msg, out, "attestation recorded")
}

func (r *Router) handleCancel(ctx context.Context, msg *Message) *Result {
	if msg.Extension.JobID == "" {
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: "extension.jobId is required"}
	}
	job, err := r.lifecycle.Cancel(ctx, msg.Extension.JobID)
	if err != nil {
		return r.errorResult(err)
	}
	return r.accepted(msg, map[string]interface{}{
		"jobId":  job.ID,
		"state":  string(job.State),
		"reason": string(job.CancelReason),
	}, "job cancelled")
}

// errorResult maps domain errors onto the caller-facing taxonomy. Unmapped
// errors are logged and reported as a generic processing error.
func (r *Router) errorResult(err error) *Result {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrBidOutOfBounds),
		errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrAlreadyExists):
		return &Result{Status: StatusRejected, Code: CodeValidation, Reason: err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrEscrowFinalized),
		errors.Is(err, domain.ErrEscrowNotLocked), errors.Is(err, domain.ErrCancelRequested):
		return &Result{Status: StatusRejected, Code: CodeInvalidState, Reason: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return &Result{Status: StatusRejected, Code: CodeNotFound, Reason: err.Error()}
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrQueueFull):
		return &Result{Status: StatusRejected, Code: CodeRateLimited, Reason: err.Error()}
	case errors.Is(err, domain.ErrTransient):
		return &Result{Status: StatusDeferred, Code: CodeTransient, Reason: err.Error()}
	case errors.Is(err, domain.ErrLedger), errors.Is(err, domain.ErrDirectory), errors.Is(err, domain.ErrVerification):
		return &Result{Status: StatusRejected, Code: CodeCollaborator, Reason: err.Error()}
	default:
		r.log.Error().Err(err).Msg("unhandled error")
		return &Result{Status: StatusRejected, Code: CodeProcessing, Reason: "internal error"}
	}
}

func (r *Router) accepted(in *Message, payload map[string]interface{}, text string) *Result {
	raw, _ := json.Marshal(payload)
	return &Result{
		Status: StatusAccepted,
		Message: &Message{
			Kind:      "message",
			MessageID: uuid.NewString(),
			Role:      "agent",
			Parts:     []Part{{Kind: "text", Text: text}},
			ContextID: in.ContextID,
			Extension: Extension{
				Action:  in.Extension.Action,
				JobID:   in.Extension.JobID,
				Payload: raw,
			},
		},
	}
}

// capabilityFallback is the reply for unrecognized actions: the full agent
// card so the caller can discover what this adapter supports.
func (r *Router) capabilityFallback(in *Message) *Message {
	raw, _ := json.Marshal(r.card)
	return &Message{
		Kind:      "message",
		MessageID: uuid.NewString(),
		Role:      "agent",
		Parts:     []Part{{Kind: "text", Text: "unsupported action; capabilities attached"}},
		ContextID: in.ContextID,
		Extension: Extension{Action: in.Extension.Action, Payload: raw},
	}
}
