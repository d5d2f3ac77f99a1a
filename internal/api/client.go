package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gatewarden/internal/integrity"
)

// Client talks to a watch-mode sidecar.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Status fetches the manifest status.
func (c *Client) Status(ctx context.Context) (*integrity.StatusReport, error) {
	var status integrity.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Reports fetches the latest report per directory.
func (c *Client) Reports(ctx context.Context) ([]*integrity.Report, error) {
	var reports []*integrity.Report
	if err := c.do(ctx, http.MethodGet, "/api/reports", &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// Verify triggers a full verification pass.
func (c *Client) Verify(ctx context.Context) (*integrity.Summary, error) {
	var summary integrity.Summary
	if err := c.do(ctx, http.MethodPost, "/api/verify", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
