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

package httpclient

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := New()
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := New(WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	c := New(WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(WithBaseDelay(time.Millisecond), WithMaxRetries(2))
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)

	var re *RetryableError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusServiceUnavailable, re.StatusCode)
	assert.True(t, re.IsRetryable())
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := New(WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(`{"v":1}`))
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, `{"v":1}`, bodies[0])
	assert.Equal(t, `{"v":1}`, bodies[1])
}

func TestDelaySelection(t *testing.T) {
	c := New(WithBaseDelay(time.Second))

	// Server-provided delays win over backoff.
	assert.Equal(t, 5*time.Second, c.delay(SmartRetry, 0, RateLimitInfo{RetryAfter: 5 * time.Second}))

	// Exponential backoff grows with the attempt.
	first := c.delay(SmartRetry, 0, RateLimitInfo{})
	second := c.delay(SmartRetry, 1, RateLimitInfo{})
	assert.Greater(t, second, first)

	// Conservative retry gives up after two attempts.
	assert.Equal(t, 2*time.Second, c.delay(ConservativeRetry, 0, RateLimitInfo{}))
	assert.Equal(t, time.Duration(0), c.delay(ConservativeRetry, 2, RateLimitInfo{}))

	assert.Equal(t, time.Duration(0), c.delay(NoRetry, 0, RateLimitInfo{}))
}

func TestDefaultStrategy(t *testing.T) {
	assert.Equal(t, SmartRetry, DefaultStrategy(http.StatusTooManyRequests))
	assert.Equal(t, SmartRetry, DefaultStrategy(http.StatusServiceUnavailable))
	assert.Equal(t, ConservativeRetry, DefaultStrategy(http.StatusInternalServerError))
	assert.Equal(t, ConservativeRetry, DefaultStrategy(http.StatusBadGateway))
	assert.Equal(t, NoRetry, DefaultStrategy(http.StatusBadRequest))
	assert.Equal(t, NoRetry, DefaultStrategy(http.StatusUnauthorized))
}

func TestParseAnthropicHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after", "30")
	h.Set("anthropic-ratelimit-requests-reset", time.Now().Add(time.Minute).Format(time.RFC3339))
	h.Set("anthropic-ratelimit-requests-remaining", "12")
	h.Set("anthropic-ratelimit-tokens-remaining", "3400")

	info := ParseAnthropicHeaders(h)
	assert.Equal(t, 30*time.Second, info.RetryAfter)
	assert.NotZero(t, info.ResetTime)
	assert.Equal(t, 12, info.RequestsRemaining)
	assert.Equal(t, 3400, info.TokensRemaining)
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-reset-requests", "2s")
	h.Set("x-ratelimit-remaining-requests", "7")
	h.Set("x-ratelimit-remaining-tokens", "900")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 2*time.Second, info.RetryAfter)
	assert.Equal(t, 7, info.RequestsRemaining)
	assert.Equal(t, 900, info.TokensRemaining)
}

func TestRetryableErrorMessage(t *testing.T) {
	e := &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 3 * time.Second}
	assert.Contains(t, e.Error(), "429")
	assert.Contains(t, e.Error(), "retry after")

	inner := errors.New("boom")
	wrapped := &RetryableError{Message: "failed", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
}
