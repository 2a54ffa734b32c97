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

package main

import (
	"os"

	"github.com/stewardai/steward/pkg/cli"
)

// RunCmd executes one request from the terminal.
type RunCmd struct {
	Message string `arg:"" help:"The request to execute."`

	Session string `short:"s" help:"Session id to resume."`
	Confirm bool   `help:"Require confirmation before executing planned tasks."`
	NoColor bool   `name:"no-color" help:"Disable colored output."`

	Provider string `help:"Model provider override (anthropic, openai)."`
	Model    string `help:"Model name override."`
	APIKey   string `name:"api-key" help:"API key override."`
}

func (c *RunCmd) Run(root *CLI) error {
	overrides := map[string]any{}
	if c.Confirm {
		overrides["react.confirm_by_human"] = true
	}
	if c.Provider != "" {
		overrides["model.provider"] = c.Provider
	}
	if c.Model != "" {
		overrides["model.name"] = c.Model
	}
	if c.APIKey != "" {
		overrides["model.api_key"] = c.APIKey
	}

	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rt.close()

	runner := cli.NewRunner(rt.service, os.Stdout, os.Stdin, !c.NoColor)
	return runner.Run(ctx, c.Session, c.Message)
}
