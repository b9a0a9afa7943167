package gladia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"casescribe/internal/domain"
)

// maxErrorBody bounds how much of a rejected provisioning response is kept.
const maxErrorBody = 4 << 10

type liveSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// provision creates a live session and returns its id and websocket endpoint.
func provision(ctx context.Context, cfg Config) (liveSession, error) {
	body, err := json.Marshal(cfg.Format)
	if err != nil {
		return liveSession{}, fmt.Errorf("%w: encode request: %v", domain.ErrProvision, err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/") + "/live"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return liveSession{}, fmt.Errorf("%w: %v", domain.ErrProvision, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, cfg.APIKey)

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return liveSession{}, fmt.Errorf("%w: %v", domain.ErrProvision, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return liveSession{}, &domain.ProvisionError{StatusCode: resp.StatusCode, Body: string(text)}
	}

	var live liveSession
	if err := json.NewDecoder(resp.Body).Decode(&live); err != nil {
		return liveSession{}, fmt.Errorf("%w: decode response: %v", domain.ErrProvision, err)
	}
	if live.ID == "" || live.URL == "" {
		return liveSession{}, fmt.Errorf("%w: response missing id or url", domain.ErrProvision)
	}
	return live, nil
}
