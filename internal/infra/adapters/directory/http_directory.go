package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
)

var _ adapter.SpecialistDirectory = (*HTTPDirectory)(nil)

// HTTPDirectory queries the specialist registry over HTTP.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(cfg *config.DirectoryConfig) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type specialistEntry struct {
	ID              string             `json:"id"`
	RegistrationSeq int64              `json:"registration_seq"`
	Capabilities    map[string]float64 `json:"capabilities"`
}

type queryResponse struct {
	Specialists []specialistEntry `json:"specialists"`
}

func (d *HTTPDirectory) Query(ctx context.Context, dimensions []string) ([]model.Specialist, error) {
	u := d.baseURL + "/specialists?dimensions=" + url.QueryEscape(strings.Join(dimensions, ","))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDirectory, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: directory returned %d", domain.ErrDirectory, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrDirectory, err)
	}

	var qr queryResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", domain.ErrDirectory, err)
	}

	out := make([]model.Specialist, 0, len(qr.Specialists))
	for _, e := range qr.Specialists {
		out = append(out, model.Specialist{
			ID:              e.ID,
			RegistrationSeq: e.RegistrationSeq,
			Capabilities:    e.Capabilities,
		})
	}
	return out, nil
}
