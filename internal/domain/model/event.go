package model

import "time"

type EventType string

const (
	EventJobRaised          EventType = "job_raised"
	EventDiscoveryStarted   EventType = "discovery_started"
	EventCandidatesFound    EventType = "candidates_found"
	EventNegotiationStarted EventType = "negotiation_started"
	EventBidRecorded        EventType = "bid_recorded"
	EventWinnerSelected     EventType = "winner_selected"
	EventEscrowLocked       EventType = "escrow_locked"
	EventEscrowConfirmed    EventType = "escrow_confirmed"
	EventEscrowReleased     EventType = "escrow_released"
	EventEscrowReverted     EventType = "escrow_reverted"
	EventAttestationFiled   EventType = "attestation_filed"
	EventJobSettled         EventType = "job_settled"
	EventJobDisputed        EventType = "job_disputed"
	EventJobCancelled       EventType = "job_cancelled"
	EventArbitrationFiled   EventType = "arbitration_filed"
)

// JobEvent is one entry in a job's causal event stream. IDs are ULIDs so the
// persisted stream sorts in production order.
type JobEvent struct {
	ID        string
	JobID     string
	ContextID string
	Type      EventType
	Payload   map[string]interface{}
	At        time.Time
}
