package model

import (
	"fmt"
	"strconv"
	"time"

	"ostrid-adapter/internal/domain"
)

type JobState string

const (
	JobStateRaised          JobState = "raised"
	JobStateDiscovering     JobState = "discovering"
	JobStateNegotiating     JobState = "negotiating"
	JobStateEscrowPending   JobState = "escrow_pending"
	JobStateEscrowConfirmed JobState = "escrow_confirmed"
	JobStateValidating      JobState = "validating"
	JobStateSettled         JobState = "settled"
	JobStateDisputed        JobState = "disputed"
	JobStateCancelled       JobState = "cancelled"
)

// CancelReason records why a job ended up Cancelled.
type CancelReason string

const (
	CancelReasonExplicit       CancelReason = "explicit_cancel"
	CancelReasonNoCandidates   CancelReason = "no_candidates"
	CancelReasonAuctionExpired CancelReason = "auction_expired"
)

// transitions is the closed transition graph. Cancelled is additionally
// reachable from every non-terminal state.
var transitions = map[JobState][]JobState{
	JobStateRaised:          {JobStateDiscovering},
	JobStateDiscovering:     {JobStateNegotiating},
	JobStateNegotiating:     {JobStateEscrowPending},
	JobStateEscrowPending:   {JobStateEscrowConfirmed},
	JobStateEscrowConfirmed: {JobStateValidating},
	JobStateValidating:      {JobStateSettled, JobStateDisputed},
}

// Terminal reports whether no further lifecycle transition is possible.
// Disputed is terminal for the state machine; it may still record an
// arbitration outcome without changing state.
func (s JobState) Terminal() bool {
	return s == JobStateSettled || s == JobStateCancelled || s == JobStateDisputed
}

func (s JobState) CanTransitionTo(next JobState) bool {
	if next == JobStateCancelled {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TaskJob is the unit of work a requesting agent raises for specialists to
// fulfill. Owned exclusively by the lifecycle manager; state changes only
// happen through Transition.
type TaskJob struct {
	ID           string
	RaiserID     string
	Intent       map[string]interface{}
	BudgetMicros int64   // settlement-token micro-units
	Quality      float64 // target in [0,1]
	State        JobState
	CancelReason CancelReason
	SpecialistID *string
	EscrowRef    *string
	Attestation  *Attestation
	Arbitration  *ArbitrationOutcome
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewTaskJob(id, raiserID string, intent map[string]interface{}, budgetMicros int64, quality float64) (*TaskJob, error) {
	if id == "" || raiserID == "" {
		return nil, domain.ErrValidation
	}
	if len(intent) == 0 {
		return nil, domain.ErrValidation
	}
	if budgetMicros <= 0 {
		return nil, domain.ErrValidation
	}
	if quality < 0 || quality > 1 {
		return nil, domain.ErrValidation
	}
	now := time.Now()
	return &TaskJob{
		ID:           id,
		RaiserID:     raiserID,
		Intent:       intent,
		BudgetMicros: budgetMicros,
		Quality:      quality,
		State:        JobStateRaised,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves the job to next or fails with ErrInvalidTransition,
// leaving the job unchanged.
func (j *TaskJob) Transition(next JobState) error {
	if !j.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.State, next)
	}
	j.State = next
	j.UpdatedAt = time.Now()
	return nil
}

// Cancel transitions to Cancelled recording the reason.
func (j *TaskJob) Cancel(reason CancelReason) error {
	if err := j.Transition(JobStateCancelled); err != nil {
		return err
	}
	j.CancelReason = reason
	return nil
}

// ParseBudget parses a decimal micro-unit amount ("1000000" = 1 token when
// the token has 6 decimals). Zero and negative amounts are rejected.
func ParseBudget(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: budget %q", domain.ErrValidation, s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: budget must be positive", domain.ErrValidation)
	}
	return v, nil
}
