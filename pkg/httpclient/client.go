// Copyright 2025 The Steward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides an HTTP client with retry and rate-limit
// awareness. Used by the model providers to survive 429/5xx responses
// without surfacing transient failures to the engine.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how a failed request is retried.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota

	// ConservativeRetry retries a couple of times with short fixed delays.
	ConservativeRetry

	// SmartRetry honors rate-limit headers, falling back to exponential
	// backoff with jitter.
	SmartRetry
)

// RateLimitInfo carries whatever the server told us about limits.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// HeaderParser extracts rate-limit info from response headers.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc maps a status code to a retry strategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with retry behavior.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries sets the retry cap.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the backoff base delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithHeaderParser installs a rate-limit header parser.
func WithHeaderParser(p HeaderParser) Option {
	return func(c *Client) { c.headerParser = p }
}

// WithRetryStrategy overrides the status-code to strategy mapping.
func WithRetryStrategy(f StrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = f }
}

// New creates a Client with sane defaults: 60s timeout, 5 retries,
// 2s base delay.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy retries rate limits and gateway errors, fails everything else.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy.
// The request body must be replayable (GetBody set) for retries to work.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("recreating request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, info, err := c.attempt(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}

		delay := c.delay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			return resp, &RetryableError{
				StatusCode: statusOf(resp),
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: delay,
				Err:        err,
			}
		}

		if resp != nil {
			_ = resp.Body.Close()
		}
		slog.Debug("retrying HTTP request",
			"status", statusOf(resp), "attempt", attempt+1, "delay", delay)
		time.Sleep(delay)
	}

	return nil, &RetryableError{
		Message: fmt.Sprintf("max retries exceeded after %d attempts", c.maxRetries),
		Err:     fmt.Errorf("max retries exceeded"),
	}
}

func (c *Client) attempt(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}

	return resp, c.strategyFunc(resp.StatusCode), info, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func (c *Client) delay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return d
			}
		}
		exp := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return exp + time.Duration(float64(exp)*0.1)

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
