package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

// Client talks to the daemon's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon at addr (e.g. http://localhost:8080).
func NewClient(addr string) *Client {
	addr = strings.TrimRight(addr, "/")
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{base: addr, http: &http.Client{Timeout: 10 * time.Second}}
}

type apiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// do sends body (if any) as JSON and decodes the reply into out (if any).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Status fetches the controller status.
func (c *Client) Status(ctx context.Context) (sequence.Status, error) {
	var st sequence.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Start begins a sequence over angles.
func (c *Client) Start(ctx context.Context, angles []float64) error {
	return c.do(ctx, http.MethodPost, "/api/set", map[string]any{"angles": angles}, nil)
}

// Stop ends the running sequence.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
}

// SetOutput forces the output on or off.
func (c *Client) SetOutput(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPost, "/api/output", map[string]bool{"on": on}, nil)
}

// SetDebug toggles per-pulse logging on the daemon.
func (c *Client) SetDebug(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPost, "/api/debug", map[string]bool{"enabled": on}, nil)
}

// Settings fetches the live settings.
func (c *Client) Settings(ctx context.Context) (config.Settings, error) {
	var s config.Settings
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &s)
	return s, err
}

// UpdateSettings posts the given fields; others keep their value. It
// reports whether the change took effect immediately.
func (c *Client) UpdateSettings(ctx context.Context, fields map[string]any) (bool, error) {
	var resp struct {
		Applied bool `json:"applied"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/settings", fields, &resp); err != nil {
		return false, err
	}
	return resp.Applied, nil
}
