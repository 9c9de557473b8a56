package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/infra/metrics"
	"ostrid-adapter/internal/domain/ports/adapter"
)

var _ adapter.LedgerClient = (*RESTLedger)(nil)

// RESTLedger implements LedgerClient against the settlement ledger's HTTP
// API. Every mutating call carries an Idempotency-Key derived from the
// escrow reference and operation, so retries after transient failures are
// safe.
type RESTLedger struct {
	baseURL string
	apiKey  string
	chain   string
	token   string
	sandbox bool
	client  *http.Client
}

func NewRESTLedger(cfg *config.LedgerConfig) *RESTLedger {
	return &RESTLedger{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		chain:   cfg.Chain,
		token:   cfg.Token,
		sandbox: cfg.Sandbox,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (l *RESTLedger) Name() string { return "rest-ledger" }

type lockResponse struct {
	Ref   string `json:"ref"`
	TxRef string `json:"tx_ref"`
	Error string `json:"error"`
}

type opResponse struct {
	TxRef string `json:"tx_ref"`
	Error string `json:"error"`
}

func (l *RESTLedger) Lock(ctx context.Context, amountMicros int64, payerID string) (string, string, error) {
	body := map[string]interface{}{
		"amount_micros": amountMicros,
		"payer":         payerID,
		"chain":         l.chain,
		"token":         l.token,
		"sandbox":       l.sandbox,
	}
	var resp lockResponse
	if err := l.post(ctx, "/escrow/lock", "lock:"+payerID, body, &resp); err != nil {
		metrics.IncEscrowOp("lock", "error")
		return "", "", err
	}
	if resp.Error != "" || resp.Ref == "" {
		metrics.IncEscrowOp("lock", "error")
		return "", "", fmt.Errorf("%w: lock: %s", domain.ErrLedger, resp.Error)
	}
	metrics.IncEscrowOp("lock", "ok")
	metrics.AddEscrowVolume("locked", amountMicros)
	return resp.Ref, resp.TxRef, nil
}

func (l *RESTLedger) Confirm(ctx context.Context, ref, proof string) (string, error) {
	return l.op(ctx, ref, "confirm", map[string]interface{}{"ref": ref, "proof": proof})
}

func (l *RESTLedger) Release(ctx context.Context, ref, payeeID string) (string, error) {
	return l.op(ctx, ref, "release", map[string]interface{}{"ref": ref, "payee": payeeID})
}

func (l *RESTLedger) Revert(ctx context.Context, ref string) (string, error) {
	return l.op(ctx, ref, "revert", map[string]interface{}{"ref": ref})
}

func (l *RESTLedger) op(ctx context.Context, ref, name string, body map[string]interface{}) (string, error) {
	var resp opResponse
	if err := l.post(ctx, "/escrow/"+name, name+":"+ref, body, &resp); err != nil {
		metrics.IncEscrowOp(name, "error")
		return "", err
	}
	if resp.Error != "" {
		metrics.IncEscrowOp(name, "error")
		return "", fmt.Errorf("%w: %s: %s", domain.ErrLedger, name, resp.Error)
	}
	metrics.IncEscrowOp(name, "ok")
	return resp.TxRef, nil
}

func (l *RESTLedger) post(ctx context.Context, path, idemKey string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Idempotency-Key", idemKey)

	resp, err := l.client.Do(req)
	if err != nil {
		metrics.IncLedgerRetry()
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode >= 500 {
		metrics.IncLedgerRetry()
		return fmt.Errorf("%w: ledger returned %d", domain.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: ledger returned %d: %s", domain.ErrLedger, resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(raw))
	}
	return nil
}
