package sweep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Actor changes the simulation through the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetElectrodes queues new electrode potentials.
func (a *Actor) SetElectrodes(ctx context.Context, source, drain float64) error {
	body := map[string]float64{"source_potential": source, "drain_potential": drain}
	return a.post(ctx, "/api/v1/electrodes", body, nil)
}

// ResetCounters queues a flux counter reset. It returns the tick that was
// current when the request was accepted; the reset takes effect at the start
// of the following tick.
func (a *Actor) ResetCounters(ctx context.Context) (uint64, error) {
	var resp struct {
		AfterTick uint64 `json:"after_tick"`
	}
	if err := a.post(ctx, "/api/v1/reset-counters", nil, &resp); err != nil {
		return 0, err
	}
	return resp.AfterTick, nil
}

func (a *Actor) post(ctx context.Context, path string, body, target any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(respBody))
	}
	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
