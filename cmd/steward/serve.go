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
	"github.com/stewardai/steward/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Bind address override."`
	Port int    `help:"Port override."`

	Confirm bool `help:"Require confirmation before executing planned tasks."`
}

func (c *ServeCmd) Run(root *CLI) error {
	overrides := map[string]any{}
	if c.Host != "" {
		overrides["server.host"] = c.Host
	}
	if c.Port != 0 {
		overrides["server.port"] = c.Port
	}
	if c.Confirm {
		overrides["react.confirm_by_human"] = true
	}

	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := server.New(rt.service, rt.metrics, cfg.Server)
	return srv.ListenAndServe(ctx)
}
