package model

import (
	"time"

	"ostrid-adapter/internal/domain"
)

type ValidationMethod string

const (
	ValidationClientAttestation ValidationMethod = "client_attestation"
	ValidationOracle            ValidationMethod = "oracle"
	ValidationZKProof           ValidationMethod = "zk_proof"
)

type AttestationResult string

const (
	AttestationAccepted AttestationResult = "accepted"
	AttestationRejected AttestationResult = "rejected"
)

// Attestation is the recorded assertion that a task outcome was (or was not)
// completed satisfactorily.
type Attestation struct {
	JobID       string
	Method      ValidationMethod
	Result      AttestationResult
	EvidenceRef string
	RecordedAt  time.Time
}

func NewAttestation(jobID string, method ValidationMethod, result AttestationResult, evidenceRef string) (*Attestation, error) {
	if jobID == "" {
		return nil, domain.ErrValidation
	}
	switch method {
	case ValidationClientAttestation, ValidationOracle, ValidationZKProof:
	default:
		return nil, domain.ErrValidation
	}
	switch result {
	case AttestationAccepted, AttestationRejected:
	default:
		return nil, domain.ErrValidation
	}
	return &Attestation{
		JobID:       jobID,
		Method:      method,
		Result:      result,
		EvidenceRef: evidenceRef,
		RecordedAt:  time.Now(),
	}, nil
}

// ArbitrationOutcome records an external arbiter's decision on a Disputed
// job. The job itself stays Disputed; only the escrow outcome changes.
type ArbitrationOutcome struct {
	JobID      string
	Accepted   bool
	ArbiterID  string
	RecordedAt time.Time
}
