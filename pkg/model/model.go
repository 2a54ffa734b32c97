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

// Package model abstracts the AI providers used by the planner and the
// evaluator. Providers speak their native HTTP APIs directly through
// the retrying HTTP client.
package model

import (
	"context"
	"fmt"

	"github.com/stewardai/steward/pkg/config"
)

// Role identifies the author of a message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a completed generation.
type Response struct {
	Content    string
	StopReason string
	Usage      Usage
}

// Provider generates completions.
type Provider interface {
	// Name identifies the provider for logging.
	Name() string

	// Complete generates a response for the request.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New builds the provider selected by the configuration.
func New(cfg config.Model) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q (valid: anthropic, openai)", cfg.Provider)
	}
}
