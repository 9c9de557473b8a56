// File: internal/infra/a2a/envelope.go
package a2a

import (
	"encoding/json"
	"fmt"

	"ostrid-adapter/internal/domain"
)

// Action is the closed set of protocol operations an envelope may carry.
type Action string

const (
	ActionRaiseTaskJob  Action = "RAISE_TASK_JOB"
	ActionDiscovery     Action = "DISCOVERY"
	ActionNegotiation   Action = "NEGOTIATION"
	ActionConfirmEscrow Action = "CONFIRM_ESCROW"
	ActionAttest        Action = "ATTEST"
	ActionCancel        Action = "CANCEL"
)

func (a Action) Known() bool {
	switch a {
	case ActionRaiseTaskJob, ActionDiscovery, ActionNegotiation, ActionConfirmEscrow, ActionAttest, ActionCancel:
		return true
	}
	return false
}

// Part is one content block of a message. Text parts carry human-readable
// summaries; file parts reference external artifacts by URI.
type Part struct {
	Kind     string `json:"kind"` // "text" | "file"
	Text     string `json:"text,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Extension is the protocol block naming the action and its payload.
type Extension struct {
	Action  Action          `json:"action"`
	JobID   string          `json:"jobId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the inbound/outbound protocol envelope.
type Message struct {
	Kind      string    `json:"kind"` // always "message"
	MessageID string    `json:"messageId"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	ContextID string    `json:"contextId"`
	Extension Extension `json:"extension"`
}

// Validate rejects malformed envelopes before any state is touched.
func (m *Message) Validate() error {
	if m.Kind != "message" {
		return fmt.Errorf("%w: kind must be \"message\"", domain.ErrValidation)
	}
	if m.MessageID == "" {
		return fmt.Errorf("%w: messageId is required", domain.ErrValidation)
	}
	if m.Role == "" {
		return fmt.Errorf("%w: role is required", domain.ErrValidation)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("%w: at least one part is required", domain.ErrValidation)
	}
	for i, p := range m.Parts {
		if p.Kind != "text" && p.Kind != "file" {
			return fmt.Errorf("%w: parts[%d].kind %q", domain.ErrValidation, i, p.Kind)
		}
	}
	if m.ContextID == "" {
		return fmt.Errorf("%w: contextId is required", domain.ErrValidation)
	}
	if m.Extension.Action == "" {
		return fmt.Errorf("%w: extension.action is required", domain.ErrValidation)
	}
	return nil
}

// ---- action payloads ----

type boundPayload struct {
	Dimension string  `json:"dimension"`
	Kind      string  `json:"kind"` // "ceiling" | "floor"
	Initial   float64 `json:"initial"`
	Limit     float64 `json:"limit"`
	Rate      float64 `json:"rate"` // absolute change per second
}

type raisePayload struct {
	Intent        map[string]interface{} `json:"intent"`
	Budget        string                 `json:"budget"` // decimal micro-units
	Quality       float64                `json:"quality"`
	FeePaidMicros int64                  `json:"feePaidMicros"`
}

type negotiationPayload struct {
	// Opening a session.
	Mode       string             `json:"mode,omitempty"` // "solver" | "auction"
	Weights    map[string]float64 `json:"weights,omitempty"`
	Bounds     []boundPayload     `json:"bounds,omitempty"`
	TickMs     int64              `json:"tickMs,omitempty"`
	DeadlineMs int64              `json:"deadlineMs,omitempty"`

	// Submitting a bid. Presence of `offered` selects the bid path.
	Offered       map[string]float64 `json:"offered,omitempty"`
	FeePaidMicros int64              `json:"feePaidMicros,omitempty"`
}

func (p *negotiationPayload) isBid() bool { return p.Offered != nil }

type confirmPayload struct {
	Proof string `json:"proof"`
}

type attestPayload struct {
	Method      string `json:"method,omitempty"` // defaults to configured method
	Result      string `json:"result,omitempty"` // client_attestation only
	EvidenceRef string `json:"evidenceRef,omitempty"`
}

func decodePayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: payload: %v", domain.ErrValidation, err)
	}
	return nil
}
