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

// Package config defines the layered runtime configuration.
//
// Configuration is assembled from four layers, later layers winning:
// built-in defaults, the user file (~/.steward/config.yaml), the project
// file (./steward.yaml), and runtime overrides (CLI flags).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration object.
type Config struct {
	Logging Logging                 `yaml:"logging"`
	Model   Model                   `yaml:"model"`
	React   React                   `yaml:"react"`
	Tools   Tools                   `yaml:"tools"`
	Servers map[string]ServerConfig `yaml:"servers"`
	Session Session                 `yaml:"session"`
	Server  HTTPServer              `yaml:"server"`
}

// Logging configures the slog setup.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Model selects and configures the AI provider used by the planner
// and evaluator.
type Model struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// React configures the engine loop.
type React struct {
	// ConfirmByHuman gates planned-task execution on user confirmation.
	ConfirmByHuman bool `yaml:"confirm_by_human"`

	// ConfirmationTimeoutSeconds is how long to wait for a verdict.
	ConfirmationTimeoutSeconds int `yaml:"confirmation_timeout_seconds"`

	// AllowTaskModification permits the modify verdict.
	AllowTaskModification bool `yaml:"allow_task_modification"`

	// AutoConfirmSafeTasks skips confirmation when no task is dangerous.
	AutoConfirmSafeTasks bool `yaml:"auto_confirm_safe_tasks"`

	// MaxReplans is the hard cap on replanning rounds.
	MaxReplans int `yaml:"max_replans"`

	// MaxTasks caps the number of tasks a single plan may contain.
	MaxTasks int `yaml:"max_tasks"`

	// MaxTaskRetries bounds retry-same loops for one task.
	MaxTaskRetries int `yaml:"max_task_retries"`
}

// Tools configures tool dispatch.
type Tools struct {
	// MaxConcurrency is the global semaphore for tool calls.
	MaxConcurrency int `yaml:"max_concurrency"`

	// ServerTimeoutSeconds is the default per-call timeout.
	ServerTimeoutSeconds int `yaml:"server_timeout_seconds"`

	// AsyncDefaultTimeoutSeconds is the default timeout for
	// long-running calls.
	AsyncDefaultTimeoutSeconds int `yaml:"async_default_timeout_seconds"`
}

// ServerConfig describes one tool server.
type ServerConfig struct {
	Enabled          bool              `yaml:"enabled"`
	Transport        string            `yaml:"transport"` // stdio | websocket
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Env              map[string]string `yaml:"env"`
	WorkingDirectory string            `yaml:"working_directory"`
	URL              string            `yaml:"url"`

	// IsolatedLoop forces calls to this server onto the dedicated
	// execution lane regardless of classification.
	IsolatedLoop bool `yaml:"isolated_loop"`

	// MaxConcurrency bounds in-flight calls to this server (default 4).
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Session configures session persistence.
type Session struct {
	Directory string `yaml:"directory"`
}

// HTTPServer configures the serve mode.
type HTTPServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the built-in configuration layer.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", Format: "simple"},
		Model: Model{
			Provider:    "anthropic",
			Name:        "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		React: React{
			ConfirmByHuman:             false,
			ConfirmationTimeoutSeconds: 300,
			AllowTaskModification:      true,
			AutoConfirmSafeTasks:       false,
			MaxReplans:                 3,
			MaxTasks:                   20,
			MaxTaskRetries:             2,
		},
		Tools: Tools{
			MaxConcurrency:             10,
			ServerTimeoutSeconds:       30,
			AsyncDefaultTimeoutSeconds: 3600,
		},
		Servers: map[string]ServerConfig{},
		Session: Session{Directory: ".steward/sessions"},
		Server:  HTTPServer{Host: "0.0.0.0", Port: 8080},
	}
}

// Validate checks cross-field invariants. Fatal at startup on failure.
func (c *Config) Validate() error {
	if c.React.MaxReplans < 0 {
		return fmt.Errorf("react.max_replans must be >= 0")
	}
	if c.React.MaxTasks <= 0 {
		return fmt.Errorf("react.max_tasks must be > 0")
	}
	if c.Tools.MaxConcurrency <= 0 {
		return fmt.Errorf("tools.max_concurrency must be > 0")
	}
	for name, srv := range c.Servers {
		if !srv.Enabled {
			continue
		}
		switch srv.Transport {
		case "", "stdio":
			if srv.Command == "" {
				return fmt.Errorf("servers.%s: stdio transport requires command", name)
			}
		case "websocket":
			if srv.URL == "" {
				return fmt.Errorf("servers.%s: websocket transport requires url", name)
			}
		default:
			return fmt.Errorf("servers.%s: unknown transport %q (valid: stdio, websocket)", name, srv.Transport)
		}
	}
	return nil
}

// ConfirmationTimeout returns the confirmation wait as a duration.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.React.ConfirmationTimeoutSeconds) * time.Second
}

// CallTimeout returns the default synchronous tool-call timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Tools.ServerTimeoutSeconds) * time.Second
}

// AsyncCallTimeout returns the default long-running tool-call timeout.
func (c *Config) AsyncCallTimeout() time.Duration {
	return time.Duration(c.Tools.AsyncDefaultTimeoutSeconds) * time.Second
}
