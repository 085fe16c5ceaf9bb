// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package tabular

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/logging"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// rateLimitMaxAttempts bounds retries on HTTP 429 inside a single call.
// Broader failure retry policy lives in the engine's retry controller;
// this only smooths over momentary throttling by the sheet service.
const rateLimitMaxAttempts = 5

// Client talks to the sheet service REST API. It is safe for concurrent use.
type Client struct {
	baseURL   string
	document  string
	token     string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string

	// backoffBase seeds the 429 backoff delay. Overridable in tests.
	backoffBase time.Duration
}

// NewClient creates a sheet service client from remote configuration.
func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL:     cfg.URL,
		document:    cfg.Document,
		token:       cfg.Token,
		http:        &http.Client{Timeout: timeout},
		limiter:     limiter,
		userAgent:   "rostersync",
		backoffBase: time.Second,
	}
}

// Configured reports whether the client has enough settings to reach a
// specific remote document.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.document != ""
}

// valuesPayload is the wire shape for range reads and writes.
type valuesPayload struct {
	Values [][]string `json:"values"`
}

// Ping verifies the remote service and document are reachable.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, c.documentURL(""), nil, &out)
	if err != nil {
		return fmt.Errorf("ping remote store: %w", err)
	}
	return nil
}

// ReadRange returns all populated rows of a named range.
func (c *Client) ReadRange(ctx context.Context, rangeName string) ([]Row, error) {
	var out valuesPayload
	if err := c.do(ctx, http.MethodGet, c.rangeURL(rangeName, ""), nil, &out); err != nil {
		return nil, fmt.Errorf("read range %s: %w", rangeName, err)
	}

	rows := make([]Row, len(out.Values))
	for i, v := range out.Values {
		rows[i] = Row(v)
	}
	return rows, nil
}

// WriteRange overwrites rows starting at the given 1-based row index.
func (c *Client) WriteRange(ctx context.Context, rangeName string, startRow int, rows []Row) error {
	if startRow < 1 {
		return fmt.Errorf("write range %s: start row %d out of range", rangeName, startRow)
	}

	body := valuesPayload{Values: rowsToValues(rows)}
	u := c.rangeURL(rangeName, "") + "?start=" + strconv.Itoa(startRow)
	if err := c.do(ctx, http.MethodPut, u, body, nil); err != nil {
		return fmt.Errorf("write range %s: %w", rangeName, err)
	}
	return nil
}

// AppendRows appends rows after the last populated row of the range.
func (c *Client) AppendRows(ctx context.Context, rangeName string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	body := valuesPayload{Values: rowsToValues(rows)}
	if err := c.do(ctx, http.MethodPost, c.rangeURL(rangeName, ":append"), body, nil); err != nil {
		return fmt.Errorf("append to range %s: %w", rangeName, err)
	}
	return nil
}

func rowsToValues(rows []Row) [][]string {
	values := make([][]string, len(rows))
	for i, r := range rows {
		values[i] = []string(r)
	}
	return values
}

func (c *Client) documentURL(suffix string) string {
	return c.baseURL + "/v1/documents/" + url.PathEscape(c.document) + suffix
}

func (c *Client) rangeURL(rangeName, action string) string {
	return c.documentURL("/ranges/" + url.PathEscape(rangeName) + action)
}

// do performs one HTTP exchange with rate limiting, auth, JSON codec, and
// bounded 429 backoff. The returned errors carry classifiable keywords
// (authentication, rate limit, temporary, network) for the engine's retry
// controller.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out interface{}) error {
	delay := c.backoffBase

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		status, err := c.roundTrip(ctx, method, rawURL, body, out)
		if err == nil {
			return nil
		}

		if status != http.StatusTooManyRequests || attempt >= rateLimitMaxAttempts {
			return err
		}

		logging.Warn().
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("url", rawURL).
			Msg("Remote store throttled request, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

// roundTrip performs a single HTTP request. Returns the response status
// code alongside the error so the caller can special-case 429.
func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body, out interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("network request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, fmt.Errorf("%w (status 404): %s", ErrRangeNotFound, readErrorBody(resp.Body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, fmt.Errorf("rate limit exceeded (status 429)")
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("temporary remote error (status %d): %s", resp.StatusCode, readErrorBody(resp.Body))
	default:
		return resp.StatusCode, fmt.Errorf("remote request rejected (status %d): %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// readErrorBody reads at most maxErrorBodySize bytes for diagnostics.
func readErrorBody(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

var _ RemoteTable = (*Client)(nil)
