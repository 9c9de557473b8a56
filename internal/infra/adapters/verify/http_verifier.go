package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/ports/adapter"
)

var (
	_ adapter.OutcomeVerifier = (*OracleVerifier)(nil)
	_ adapter.OutcomeVerifier = (*ZKVerifier)(nil)
)

type verifyRequest struct {
	JobID       string `json:"job_id"`
	EvidenceRef string `json:"evidence_ref"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

type httpVerifier struct {
	name    string
	baseURL string
	client  *http.Client
}

func (v *httpVerifier) Name() string { return v.name }

func (v *httpVerifier) Verify(ctx context.Context, jobID, evidenceRef string) (bool, error) {
	jsonData, err := json.Marshal(verifyRequest{JobID: jobID, EvidenceRef: evidenceRef})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", v.baseURL+"/verify", bytes.NewBuffer(jsonData))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrVerification, v.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %s returned %d", domain.ErrVerification, v.name, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: %s: read body: %v", domain.ErrVerification, v.name, err)
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return false, fmt.Errorf("%w: %s: unmarshal: %v", domain.ErrVerification, v.name, err)
	}
	if vr.Error != "" {
		return false, fmt.Errorf("%w: %s: %s", domain.ErrVerification, v.name, vr.Error)
	}
	return vr.Valid, nil
}

// OracleVerifier asks a trusted oracle service whether the task outcome
// matches the evidence.
type OracleVerifier struct{ httpVerifier }

func NewOracleVerifier(baseURL string, timeout time.Duration) *OracleVerifier {
	return &OracleVerifier{httpVerifier{
		name:    "oracle",
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}}
}

// ZKVerifier submits the evidence reference to a zero-knowledge proof
// verification service.
type ZKVerifier struct{ httpVerifier }

func NewZKVerifier(baseURL string, timeout time.Duration) *ZKVerifier {
	return &ZKVerifier{httpVerifier{
		name:    "zk_proof",
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}}
}
