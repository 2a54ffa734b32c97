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
	"context"
	"fmt"

	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/confirm"
	"github.com/stewardai/steward/pkg/metrics"
	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/planner"
	"github.com/stewardai/steward/pkg/react"
	"github.com/stewardai/steward/pkg/servers"
	"github.com/stewardai/steward/pkg/service"
	"github.com/stewardai/steward/pkg/session"
	"github.com/stewardai/steward/pkg/tool"
	"github.com/stewardai/steward/pkg/tool/builtin"
)

// loadConfig assembles the layered configuration. overrides carries
// dotted keys from CLI flags, applied last.
func loadConfig(cli *CLI, overrides map[string]any) (*config.Config, error) {
	config.LoadDotEnv()
	return config.Load(config.LoaderOptions{
		ProjectFile: cli.Config,
		Explicit:    cli.Config != "",
		Overrides:   overrides,
	})
}

// runtime bundles the wired components of one process.
type runtime struct {
	cfg     *config.Config
	service *service.Service
	manager *servers.Manager
	metrics *metrics.Metrics
}

// buildRuntime wires registry, servers, model, engine and service.
func buildRuntime(ctx context.Context, cfg *config.Config, withMetrics bool) (*runtime, error) {
	registry := tool.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		return nil, fmt.Errorf("registering built-in tools: %w", err)
	}

	var m *metrics.Metrics
	if withMetrics {
		m = metrics.New()
	}

	manager := servers.NewManager(cfg.Tools, registry)
	if m != nil {
		manager.SetMetrics(m)
	}
	if err := manager.Start(ctx, cfg.Servers); err != nil {
		manager.Close()
		return nil, err
	}

	provider, err := model.New(cfg.Model)
	if err != nil {
		manager.Close()
		return nil, err
	}
	if m != nil {
		provider = m.WrapProvider(provider)
	}

	store, err := session.NewFileStore(cfg.Session.Directory)
	if err != nil {
		manager.Close()
		return nil, err
	}

	p := planner.New(provider, registry, cfg.React.MaxTasks)
	engine := react.New(p, provider, registry, confirm.NewCoordinator(), store, cfg.React)

	return &runtime{
		cfg:     cfg,
		service: service.New(engine, store),
		manager: manager,
		metrics: m,
	}, nil
}

func (rt *runtime) close() {
	rt.manager.Close()
}
