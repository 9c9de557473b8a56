//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/usecase"
)

func TestAttestation_ClientAttestation(t *testing.T) {
	ctx := context.Background()
	uc := usecase.NewAttestationService(model.ValidationClientAttestation,
		&MockVerifier{name: "oracle"}, &MockVerifier{name: "zk"}, newTestLogger())

	t.Run("claimed result is the outcome", func(t *testing.T) {
		att, err := uc.Resolve(ctx, "job-1", usecase.Evidence{Claimed: model.AttestationRejected})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if att.Method != model.ValidationClientAttestation {
			t.Errorf("expected default method, got %s", att.Method)
		}
		if att.Result != model.AttestationRejected {
			t.Errorf("expected rejected, got %s", att.Result)
		}
	})

	t.Run("missing claim is invalid", func(t *testing.T) {
		_, err := uc.Resolve(ctx, "job-1", usecase.Evidence{})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestAttestation_OracleVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("verifier verdict maps to result", func(t *testing.T) {
		for _, verdict := range []bool{true, false} {
			oracle := &MockVerifier{name: "oracle", VerifyFunc: func(ctx context.Context, jobID, evidenceRef string) (bool, error) {
				if jobID != "job-1" || evidenceRef != "ipfs://evidence" {
					t.Errorf("unexpected verify args: %s %s", jobID, evidenceRef)
				}
				return verdict, nil
			}}
			uc := usecase.NewAttestationService(model.ValidationClientAttestation, oracle, nil, newTestLogger())

			att, err := uc.Resolve(ctx, "job-1", usecase.Evidence{
				Method:      model.ValidationOracle,
				EvidenceRef: "ipfs://evidence",
			})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			want := model.AttestationRejected
			if verdict {
				want = model.AttestationAccepted
			}
			if att.Result != want {
				t.Errorf("verdict %v: expected %s, got %s", verdict, want, att.Result)
			}
		}
	})

	t.Run("verifier failure wraps ErrVerification", func(t *testing.T) {
		oracle := &MockVerifier{name: "oracle", VerifyFunc: func(ctx context.Context, jobID, evidenceRef string) (bool, error) {
			return false, errors.New("oracle unreachable")
		}}
		uc := usecase.NewAttestationService(model.ValidationClientAttestation, oracle, nil, newTestLogger())

		_, err := uc.Resolve(ctx, "job-1", usecase.Evidence{Method: model.ValidationOracle})
		if !errors.Is(err, domain.ErrVerification) {
			t.Errorf("expected ErrVerification, got %v", err)
		}
	})

	t.Run("unconfigured verifier fails", func(t *testing.T) {
		uc := usecase.NewAttestationService(model.ValidationClientAttestation, nil, nil, newTestLogger())
		_, err := uc.Resolve(ctx, "job-1", usecase.Evidence{Method: model.ValidationZKProof})
		if !errors.Is(err, domain.ErrVerification) {
			t.Errorf("expected ErrVerification, got %v", err)
		}
	})
}

func TestAttestation_ZKProofVerification(t *testing.T) {
	ctx := context.Background()
	zk := &MockVerifier{name: "zk", VerifyFunc: func(ctx context.Context, jobID, evidenceRef string) (bool, error) {
		return true, nil
	}}
	uc := usecase.NewAttestationService(model.ValidationClientAttestation, nil, zk, newTestLogger())

	att, err := uc.Resolve(ctx, "job-1", usecase.Evidence{
		Method:      model.ValidationZKProof,
		EvidenceRef: "proof://artifact",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if att.Result != model.AttestationAccepted {
		t.Errorf("expected accepted, got %s", att.Result)
	}
	if att.EvidenceRef != "proof://artifact" {
		t.Errorf("expected evidence ref carried onto the attestation, got %s", att.EvidenceRef)
	}
}

func TestAttestation_UnknownMethodRejected(t *testing.T) {
	uc := usecase.NewAttestationService(model.ValidationClientAttestation, nil, nil, newTestLogger())
	_, err := uc.Resolve(context.Background(), "job-1", usecase.Evidence{Method: "majority_vote"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestAttestation_DefaultMethodApplied(t *testing.T) {
	called := false
	oracle := &MockVerifier{name: "oracle", VerifyFunc: func(ctx context.Context, jobID, evidenceRef string) (bool, error) {
		called = true
		return true, nil
	}}
	uc := usecase.NewAttestationService(model.ValidationOracle, oracle, nil, newTestLogger())

	att, err := uc.Resolve(context.Background(), "job-1", usecase.Evidence{EvidenceRef: "ref"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !called {
		t.Error("expected the configured default verifier to be consulted")
	}
	if att.Method != model.ValidationOracle {
		t.Errorf("expected oracle method recorded, got %s", att.Method)
	}
}
