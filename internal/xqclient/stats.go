package xqclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/xiangqi-arena/internal/lobby"
	"github.com/park285/xiangqi-arena/internal/match"
	"github.com/park285/xiangqi-arena/internal/presence"
	"github.com/valyala/fasthttp"
)

// StatsClient reads the admin endpoint.
type StatsClient struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type StatsOption func(*StatsClient)

func WithStatsTimeout(d time.Duration) StatsOption {
	return func(c *StatsClient) { c.defaultTimeout = d }
}

func WithStatsRetry(max int) StatsOption {
	return func(c *StatsClient) { c.retryMax = max }
}

func WithStatsHeaders(h HeaderProvider) StatsOption {
	return func(c *StatsClient) { c.headers = h }
}

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(hc *fasthttp.Client) StatsOption {
	return func(c *StatsClient) { c.http = hc }
}

// Stats is the /stats document.
type Stats struct {
	lobby.Stats
	Transport     *int   `json:"transport_connections,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Node          string `json:"node,omitempty"`
}

func NewStatsClient(baseURL string, opts ...StatsOption) *StatsClient {
	c := &StatsClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StatsClient) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", nil)
}

func (c *StatsClient) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.getJSON(ctx, "/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *StatsClient) Matches(ctx context.Context) ([]match.Info, error) {
	var out []match.Info
	if err := c.getJSON(ctx, "/matches", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StatsClient) ClusterMatches(ctx context.Context) ([]presence.ClusterMatch, error) {
	var out []presence.ClusterMatch
	if err := c.getJSON(ctx, "/cluster/matches", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getJSON issues a GET with retries on transport errors and 5xx answers.
func (c *StatsClient) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("GET %s: %w", path, err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = &StatusError{Path: path, Code: status, Body: truncate(string(resp.Body()), 512)}
			if !retryable(status) {
				return lastErr
			}
		} else {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		}
		if attempt < attempts {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return lastErr
}

// StatusError is a non-2xx admin answer.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status=%d body=%s", e.Path, e.Code, e.Body)
}

func (c *StatsClient) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff doubles from 100ms and caps at 3.2s.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func retryable(code int) bool {
	switch code {
	case fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
