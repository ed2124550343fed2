package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Actor executes admin actions via the API.
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

// RequestShock asks the simulation to flood the area after the next round.
func (a *Actor) RequestShock(ctx context.Context) error {
	return a.post(ctx, "/api/v1/shock", nil, nil)
}

// SetSpeed changes the engine speed multiplier and returns the applied value.
func (a *Actor) SetSpeed(ctx context.Context, speed float64) (float64, error) {
	var resp struct {
		Speed float64 `json:"speed"`
	}
	if err := a.post(ctx, "/api/v1/speed", map[string]float64{"speed": speed}, &resp); err != nil {
		return 0, err
	}
	return resp.Speed, nil
}

func (a *Actor) post(ctx context.Context, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, body)
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
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
