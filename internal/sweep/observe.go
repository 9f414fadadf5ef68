// Package sweep drives a running simulation through a series of electrode
// potentials over its HTTP API and measures the steady-state drain current at
// each one, producing a current-voltage curve.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/langmuir/internal/engine"
)

// Status mirrors the fields of GET /api/v1/status the sweep relies on.
type Status struct {
	Tick       uint64 `json:"tick"`
	Phase      string `json:"phase"`
	Running    bool   `json:"running"`
	Paused     bool   `json:"paused"`
	RunID      string `json:"run_id"`
	Electrodes struct {
		SourcePotential float64 `json:"source_potential"`
		DrainPotential  float64 `json:"drain_potential"`
	} `json:"electrodes"`
}

// FluxReport mirrors GET /api/v1/flux.
type FluxReport struct {
	Tick uint64            `json:"tick"`
	Flux []engine.FluxStat `json:"flux"`
}

// Observer fetches simulation state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Status fetches GET /api/v1/status.
func (o *Observer) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := o.fetchJSON(ctx, "/api/v1/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Flux fetches every electrode's counters.
func (o *Observer) Flux(ctx context.Context) (*FluxReport, error) {
	var f FluxReport
	if err := o.fetchJSON(ctx, "/api/v1/flux", &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// WaitForTick polls the status endpoint until the simulation has completed
// tick, the engine stops, or ctx ends.
func (o *Observer) WaitForTick(ctx context.Context, tick uint64, poll time.Duration) (*Status, error) {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		s, err := o.Status(ctx)
		if err != nil {
			return nil, err
		}
		if s.Tick >= tick {
			return s, nil
		}
		if !s.Running {
			return s, fmt.Errorf("engine stopped at tick %d before reaching %d", s.Tick, tick)
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-t.C:
		}
	}
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WaitForAPI polls the status endpoint with exponential backoff until it
// responds or ctx ends.
func WaitForAPI(ctx context.Context, o *Observer) error {
	backoff := 500 * time.Millisecond
	maxBackoff := 30 * time.Second
	for {
		if _, err := o.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("API at %s not ready: %w", o.BaseURL, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
