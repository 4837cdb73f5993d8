package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a small JSON client bound to one base URL.
type client struct {
	http *http.Client
	base string
}

func newClient(base string, timeout time.Duration) *client {
	return &client{http: &http.Client{Timeout: timeout}, base: base}
}

// get fetches path and returns the status and raw body.
func (c *client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// post sends body as JSON to path.
func (c *client) post(ctx context.Context, path string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

type ingestResponse struct {
	Status     string `json:"status"`
	Count      int    `json:"count"`
	Duplicates int    `json:"duplicates"`
}

type submitRequest struct {
	SessionID string `json:"session_id"`
	Nickname  string `json:"nickname"`
	Password  string `json:"password"`
	Score     int64  `json:"score"`
}

type submitResponse struct {
	Status    string `json:"status"`
	Nickname  string `json:"nickname"`
	BestScore int64  `json:"best_score"`
}

type standing struct {
	Rank      int       `json:"rank"`
	Nickname  string    `json:"nickname"`
	BestScore int64     `json:"best_score"`
	UpdatedAt time.Time `json:"updated_at"`
}
