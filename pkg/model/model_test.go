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

package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/pkg/config"
)

func TestAnthropicComplete(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "Hello"},
				{"type": "text", "text": " world"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer ts.Close()

	p := NewAnthropic(config.Model{
		Name:      "test-model",
		APIKey:    "sk-key",
		BaseURL:   ts.URL,
		MaxTokens: 512,
	})
	assert.Equal(t, "anthropic", p.Name())

	resp, err := p.Complete(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "sk-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "test-model", gotBody["model"])
	assert.Equal(t, "be brief", gotBody["system"])
	// Request did not set MaxTokens, so the configured default applies.
	assert.Equal(t, float64(512), gotBody["max_tokens"])

	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}

func TestAnthropicAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"type":    "invalid_request_error",
				"message": "model not found",
			},
		})
	}))
	defer ts.Close()

	p := NewAnthropic(config.Model{Name: "bad", BaseURL: ts.URL})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request_error")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAIComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "Sure."},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 9, "completion_tokens": 2},
		})
	}))
	defer ts.Close()

	p := NewOpenAI(config.Model{Name: "gpt-test", APIKey: "sk-oa", BaseURL: ts.URL})
	assert.Equal(t, "openai", p.Name())

	resp, err := p.Complete(context.Background(), Request{
		System:    "be helpful",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-oa", gotAuth)

	// The system prompt folds into the message list.
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, RoleSystem, first["role"])
	assert.Equal(t, "be helpful", first["content"])

	assert.Equal(t, "Sure.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 9, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestOpenAINoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	p := NewOpenAI(config.Model{Name: "gpt-test", BaseURL: ts.URL})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewProvider(t *testing.T) {
	p, err := New(config.Model{Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = New(config.Model{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = New(config.Model{Provider: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model provider")
}

func TestScriptedProvider(t *testing.T) {
	s := NewScripted("first", "second").Fail(errors.New("down"))

	resp, err := s.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = s.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	_, err = s.Complete(context.Background(), Request{})
	require.EqualError(t, err, "down")

	_, err = s.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")

	assert.Len(t, s.Requests, 4)
}
