// Package engine provides the HTTP client for the backend Engine's ingress
// API. All outbound calls route through a shared client that enforces the
// authentication header, a request timeout, and a circuit breaker, so a dead
// Engine fails fast instead of tying up delivery workers.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/zudduz/cscratch-dg/internal/config"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// authHeader carries the shared internal secret on every ingress request.
const authHeader = "X-Internal-Auth"

// maxResponseBodyRead limits how much of a rejection body is kept for logs.
const maxResponseBodyRead = 4096

// errServerStatus feeds 5xx responses into the circuit breaker as failures
// without losing the response itself.
var errServerStatus = errors.New("engine returned server error status")

// Result is the terminal outcome of one ingress POST that produced an HTTP
// response. Transport-level failures are returned as errors instead.
type Result struct {
	StatusCode int
	Body       string
}

// Accepted reports whether the Engine accepted the event. Any 2xx/3xx status
// counts; >=400 is an application-level rejection.
func (r *Result) Accepted() bool {
	return r.StatusCode < 400
}

// Client posts normalized events to the Engine's ingress endpoints.
// It is safe for concurrent use by any number of delivery workers.
type Client struct {
	baseURL   string
	secret    types.SecretString
	userAgent string
	httpc     *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	logger    types.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Intended for tests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpc = c }
}

// NewClient creates an Engine client from configuration. The breaker trips
// after five consecutive transport or 5xx failures and probes again after
// thirty seconds.
func NewClient(cfg config.EngineConfig, logger types.Logger, opts ...ClientOption) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "engine-ingress",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	c := &Client{
		baseURL:   cfg.URL,
		secret:    cfg.InternalKey,
		userAgent: cfg.UserAgent,
		httpc:     &http.Client{Timeout: cfg.Timeout},
		breaker:   cb,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends one event payload to POST {base}/ingress/{kind}.
//
// Return contract:
//   - (*Result, nil) for any HTTP response, accepted or rejected; the caller
//     decides what a rejection means.
//   - (nil, AppError transport_error) for network-level failures, which the
//     delivery worker may retry.
//   - (nil, AppError engine_unavailable) when the circuit breaker is open.
func (c *Client) Post(ctx context.Context, kind string, payload any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to encode engine payload", err)
	}

	url := fmt.Sprintf("%s/ingress/%s", c.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build engine request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authHeader, c.secret.Unmask())
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.httpc.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 {
			return r, errServerStatus
		}
		return r, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.NewAppError(types.ErrCodeEngineUnavailable,
			"engine circuit breaker open", err)
	}
	if resp == nil {
		if err == nil {
			err = errors.New("engine returned no response")
		}
		return nil, types.NewAppError(types.ErrCodeTransport,
			"engine request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	return &Result{StatusCode: resp.StatusCode, Body: string(raw)}, nil
}
