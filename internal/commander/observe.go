// Package commander implements the autonomous faction commander.
// It observes the war via the public API, triages the front, decides on
// orders with fixed rules, and submits them as an ordinary player.
package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/frontline/internal/engine"
)

// Observer fetches war state from the API.
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

// Observe fetches the latest published snapshot.
func (o *Observer) Observe(ctx context.Context) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := o.fetchJSON(ctx, "/api/v1/snapshot", &snap); err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return &snap, nil
}

// Ready reports whether the status endpoint answers.
func (o *Observer) Ready(ctx context.Context) bool {
	var status map[string]any
	return o.fetchJSON(ctx, "/api/v1/status", &status) == nil
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
