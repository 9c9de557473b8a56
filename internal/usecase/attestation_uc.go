// File: internal/usecase/attestation_uc.go
package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
)

// Compile-time check
var _ AttestationService = (*attestationUC)(nil)

// Evidence is what the requester submits with an attest call.
type Evidence struct {
	Method      model.ValidationMethod // empty selects the configured default
	Claimed     model.AttestationResult
	EvidenceRef string
}

// AttestationService resolves a task outcome via the configured or
// per-request validation strategy.
type AttestationService interface {
	Resolve(ctx context.Context, jobID string, ev Evidence) (*model.Attestation, error)
}

type attestationUC struct {
	defaultMethod model.ValidationMethod
	oracle        adapter.OutcomeVerifier
	zk            adapter.OutcomeVerifier
	log           *zerolog.Logger
}

func NewAttestationService(defaultMethod model.ValidationMethod, oracle, zk adapter.OutcomeVerifier, logger *zerolog.Logger) *attestationUC {
	l := logger.With().Str("component", "AttestationService").Logger()
	return &attestationUC{defaultMethod: defaultMethod, oracle: oracle, zk: zk, log: &l}
}

func (u *attestationUC) Resolve(ctx context.Context, jobID string, ev Evidence) (*model.Attestation, error) {
	method := ev.Method
	if method == "" {
		method = u.defaultMethod
	}

	var result model.AttestationResult
	switch method {
	case model.ValidationClientAttestation:
		// The requester's own word is the outcome.
		if ev.Claimed != model.AttestationAccepted && ev.Claimed != model.AttestationRejected {
			return nil, fmt.Errorf("%w: client attestation requires a claimed result", domain.ErrValidation)
		}
		result = ev.Claimed
	case model.ValidationOracle:
		ok, err := u.verify(ctx, u.oracle, jobID, ev.EvidenceRef)
		if err != nil {
			return nil, err
		}
		result = toResult(ok)
	case model.ValidationZKProof:
		ok, err := u.verify(ctx, u.zk, jobID, ev.EvidenceRef)
		if err != nil {
			return nil, err
		}
		result = toResult(ok)
	default:
		return nil, fmt.Errorf("%w: validation method %q", domain.ErrValidation, method)
	}

	att, err := model.NewAttestation(jobID, method, result, ev.EvidenceRef)
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", jobID).Str("method", string(method)).
		Str("result", string(result)).Msg("attestation resolved")
	return att, nil
}

func (u *attestationUC) verify(ctx context.Context, v adapter.OutcomeVerifier, jobID, evidenceRef string) (bool, error) {
	if v == nil {
		return false, fmt.Errorf("%w: verifier not configured", domain.ErrVerification)
	}
	ok, err := v.Verify(ctx, jobID, evidenceRef)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrVerification, v.Name(), err)
	}
	return ok, nil
}

func toResult(ok bool) model.AttestationResult {
	if ok {
		return model.AttestationAccepted
	}
	return model.AttestationRejected
}
