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

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions selects the configuration layers.
type LoaderOptions struct {
	// UserFile is the user-level config path. Empty means
	// ~/.steward/config.yaml; a missing file is skipped.
	UserFile string

	// ProjectFile is the project-level config path. Empty means
	// ./steward.yaml; a missing file is skipped unless Explicit.
	ProjectFile string

	// Explicit marks ProjectFile as user-supplied: a missing file is
	// then a ConfigError rather than a skipped layer.
	Explicit bool

	// Overrides is the runtime layer (flattened dotted keys), applied last.
	Overrides map[string]any
}

// Load assembles the layered configuration: defaults, user file, project
// file, runtime overrides. String values may reference environment
// variables with ${VAR} or ${VAR:-default} syntax.
func Load(opts LoaderOptions) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	userFile := opts.UserFile
	if userFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			userFile = filepath.Join(home, ".steward", "config.yaml")
		}
	}
	if err := loadFileLayer(k, userFile, false); err != nil {
		return nil, err
	}

	projectFile := opts.ProjectFile
	if projectFile == "" {
		projectFile = "steward.yaml"
	}
	if err := loadFileLayer(k, projectFile, opts.Explicit); err != nil {
		return nil, err
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("applying runtime overrides: %w", err)
		}
	}

	// Expand env references across the merged tree before unmarshaling.
	raw, ok := expandEnvInData(k.Raw()).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected config shape after env expansion")
	}
	expanded := koanf.New(".")
	if err := expanded.Load(confmap.Provider(raw, "."), nil); err != nil {
		return nil, fmt.Errorf("reloading expanded config: %w", err)
	}

	cfg := &Config{}
	if err := expanded.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	def := Default()
	m := map[string]any{
		"logging.level":                       def.Logging.Level,
		"logging.format":                      def.Logging.Format,
		"model.provider":                      def.Model.Provider,
		"model.name":                          def.Model.Name,
		"model.max_tokens":                    def.Model.MaxTokens,
		"model.temperature":                   def.Model.Temperature,
		"react.confirm_by_human":              def.React.ConfirmByHuman,
		"react.confirmation_timeout_seconds":  def.React.ConfirmationTimeoutSeconds,
		"react.allow_task_modification":       def.React.AllowTaskModification,
		"react.auto_confirm_safe_tasks":       def.React.AutoConfirmSafeTasks,
		"react.max_replans":                   def.React.MaxReplans,
		"react.max_tasks":                     def.React.MaxTasks,
		"react.max_task_retries":              def.React.MaxTaskRetries,
		"tools.max_concurrency":               def.Tools.MaxConcurrency,
		"tools.server_timeout_seconds":        def.Tools.ServerTimeoutSeconds,
		"tools.async_default_timeout_seconds": def.Tools.AsyncDefaultTimeoutSeconds,
		"session.directory":                   def.Session.Directory,
		"server.host":                         def.Server.Host,
		"server.port":                         def.Server.Port,
	}
	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	return nil
}

func loadFileLayer(k *koanf.Koanf, path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if required {
			return fmt.Errorf("config file not found: %s", path)
		}
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("loading config file %s: %w", path, err)
	}
	return nil
}
