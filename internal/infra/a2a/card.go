// File: internal/infra/a2a/card.go
package a2a

import (
	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain/model"
)

// AgentCard is the static capability document advertised at
// /.well-known/agent-card.json. Built once from configuration.
type AgentCard struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Version      string           `json:"version"`
	URL          string           `json:"url"`
	Capabilities CardCapabilities `json:"capabilities"`
	Negotiation  CardNegotiation  `json:"negotiation"`
	Settlement   CardSettlement   `json:"settlement"`
	Validation   []string         `json:"validationMethods"`
	Endpoints    []CardEndpoint   `json:"endpoints"`
}

// CardCapabilities advertises the transport features a caller can rely on:
// the observer stream, AMQP push delivery of job events and replayable
// per-job event history.
type CardCapabilities struct {
	Streaming              bool            `json:"streaming"`
	PushNotifications      bool            `json:"pushNotifications"`
	StateTransitionHistory bool            `json:"stateTransitionHistory"`
	Extensions             []CardExtension `json:"extensions"`
}

type CardExtension struct {
	URI         string                 `json:"uri"`
	Description string                 `json:"description"`
	Required    bool                   `json:"required"`
	Params      map[string]interface{} `json:"params"`
}

type CardNegotiation struct {
	Modes      []string `json:"modes"`
	Dimensions []string `json:"dimensions"`
}

type CardSettlement struct {
	Chain string `json:"chain"`
	Token string `json:"token"`
}

type CardEndpoint struct {
	Action    string `json:"action,omitempty"`
	Path      string `json:"path"`
	Method    string `json:"method"`
	FeeMicros int64  `json:"feeMicros,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

func NewAgentCard(cfg *config.Config, version string) *AgentCard {
	modes := []string{string(model.ModeSolver), string(model.ModeAuction)}
	dimensions := []string{
		model.DimPrice, model.DimQuality, model.DimTime,
		model.DimCompute, model.DimAccuracy, model.DimErrorMargin,
	}
	return &AgentCard{
		Name:        "ostrid-adapter",
		Description: "Task-job negotiation adapter: discovery, solver/auction negotiation, escrowed settlement, outcome attestation.",
		Version:     version,
		URL:         cfg.Server.BaseURL,
		Capabilities: CardCapabilities{
			Streaming:              true,
			PushNotifications:      true,
			StateTransitionHistory: true,
			Extensions: []CardExtension{
				{
					URI:         "ostrid-negotiation",
					Description: "Solver matching and multi-dimensional decaying auctions: mode selection, weighted dimensions, bid and attestation flows.",
					Required:    true,
					Params: map[string]interface{}{
						"modes":       modes,
						"dimensions":  dimensions,
						"defaultMode": string(model.ModeSolver),
					},
				},
				{
					URI:         "a2a-x402",
					Description: "Micropayment fees on raising jobs and submitting auction bids.",
					Required:    false,
					Params: map[string]interface{}{
						"supportedChains": []string{cfg.Ledger.Chain},
						"primaryToken":    cfg.Ledger.Token,
					},
				},
				{
					URI:         "ap2-mandates",
					Description: "Signed intents and attestations covering task initiation, negotiation acceptance and completion.",
					Required:    true,
					Params: map[string]interface{}{
						"mandateVersion":   "1.0",
						"supportedActions": []string{"task-initiation", "negotiation-accept", "completion-attest"},
					},
				},
				{
					URI:         "a2a-rest",
					Description: "HTTP+JSON fallback for the documented actions, complementing the message endpoint.",
					Required:    false,
					Params: map[string]interface{}{
						"basePath":         "/ostrid",
						"supportedMethods": []string{"POST", "GET", "DELETE"},
					},
				},
			},
		},
		Negotiation: CardNegotiation{
			Modes:      modes,
			Dimensions: dimensions,
		},
		Settlement: CardSettlement{
			Chain: cfg.Ledger.Chain,
			Token: cfg.Ledger.Token,
		},
		Validation: []string{
			string(model.ValidationClientAttestation),
			string(model.ValidationOracle),
			string(model.ValidationZKProof),
		},
		Endpoints: []CardEndpoint{
			{Action: string(ActionRaiseTaskJob), Path: "/ostrid/task-job", Method: "POST",
				FeeMicros: cfg.Fees.RaiseMicros, Currency: cfg.Fees.Currency},
			{Action: string(ActionDiscovery), Path: "/ostrid/discovery", Method: "POST"},
			{Action: string(ActionNegotiation), Path: "/ostrid/negotiation", Method: "POST",
				FeeMicros: cfg.Fees.BidMicros, Currency: cfg.Fees.Currency},
			{Action: string(ActionConfirmEscrow), Path: "/ostrid/escrow/confirm", Method: "POST"},
			{Action: string(ActionAttest), Path: "/ostrid/validation/attest", Method: "POST"},
			{Action: string(ActionCancel), Path: "/ostrid/task-job/{id}", Method: "DELETE"},
			{Path: "/ostrid/validation/arbitrate", Method: "POST"},
			{Path: "/ostrid/observer/events", Method: "GET"},
			{Path: "/a2a/messages", Method: "POST"},
		},
	}
}
