package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to one engine container over its published host port using
// the Ollama-style HTTP API.
type Client struct {
	baseURL    string
	healthPath string
	httpClient *http.Client
	log        zerolog.Logger
}

// New constructs a client for the engine at baseURL.
// Intentionally set Timeout=0: all calls must use context-based timeouts.
func New(baseURL, healthPath string, log zerolog.Logger) *Client {
	if healthPath == "" {
		healthPath = "/v1/models"
	}
	return &Client{
		baseURL:    baseURL,
		healthPath: healthPath,
		httpClient: &http.Client{Timeout: 0},
		log:        log,
	}
}

// BaseURL returns the engine endpoint this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Ping checks the health endpoint. Any 2xx means the engine is serving.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine http error: %s", resp.Status)
	}
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models lists the model names the engine has available locally.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine http error: %s: %s", resp.Status, string(b))
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// GenerateRequest is the /api/generate payload. A request without a prompt
// only loads (or with KeepAlive=0 unloads) the model.
type GenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive any            `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Generate issues a non-streaming generate call and drains the response.
// The interesting side effect is the model being resident afterwards.
func (c *Client) Generate(ctx context.Context, greq GenerateRequest) error {
	body, err := json.Marshal(greq)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine http error: %s: %s", resp.Status, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.log.Debug().Str("model", greq.Model).Dur("took", time.Since(start)).Msg("generate done")
	return nil
}

// Unload asks the engine to release the model's memory immediately.
func (c *Client) Unload(ctx context.Context, model string) error {
	return c.Generate(ctx, GenerateRequest{Model: model, Stream: false, KeepAlive: 0})
}

// KeepAliveValue converts a descriptor keep_alive string into the wire value
// the engine expects: integers go as numbers, durations as strings.
func KeepAliveValue(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
