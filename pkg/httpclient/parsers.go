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
	"net/http"
	"strconv"
	"time"
)

// ParseAnthropicHeaders extracts rate-limit info from Anthropic API headers.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := headers.Get("retry-after"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	for _, h := range []string{
		"anthropic-ratelimit-requests-reset",
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
	} {
		if v := headers.Get(h); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				info.ResetTime = t.Unix()
				break
			}
		}
	}

	if v := headers.Get("anthropic-ratelimit-requests-remaining"); v != "" {
		info.RequestsRemaining, _ = strconv.Atoi(v)
	}
	if v := headers.Get("anthropic-ratelimit-tokens-remaining"); v != "" {
		info.TokensRemaining, _ = strconv.Atoi(v)
	}

	return info
}

// ParseOpenAIHeaders extracts rate-limit info from OpenAI API headers.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := headers.Get("retry-after"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	if v := headers.Get("x-ratelimit-reset-requests"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			info.RetryAfter = d
		}
	}
	if v := headers.Get("x-ratelimit-remaining-requests"); v != "" {
		info.RequestsRemaining, _ = strconv.Atoi(v)
	}
	if v := headers.Get("x-ratelimit-remaining-tokens"); v != "" {
		info.TokensRemaining, _ = strconv.Atoi(v)
	}

	return info
}
