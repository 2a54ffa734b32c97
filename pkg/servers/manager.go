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

// Package servers owns the set of tool-server clients and is the single
// call surface from the rest of the runtime.
//
// The manager connects one client per enabled server, namespaces each
// discovered tool as "server:tool", installs thin adapters into the
// tool registry, and dispatches calls under a global concurrency
// semaphore plus a per-server limit. Servers classified as needing
// isolation have their calls routed through a dedicated execution lane.
package servers

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/mcpclient"
	"github.com/stewardai/steward/pkg/metrics"
	"github.com/stewardai/steward/pkg/tool"
)

// defaultPerServerConcurrency bounds in-flight calls to one server when
// the configuration does not say otherwise.
const defaultPerServerConcurrency = 4

// serverEntry is the manager's bookkeeping for one connected server.
type serverEntry struct {
	client   *mcpclient.Client
	limit    *semaphore.Weighted
	isolated bool
}

// Manager owns every tool-server client.
type Manager struct {
	cfg      config.Tools
	registry *tool.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	global *semaphore.Weighted
	lane   *lane

	mu      sync.Mutex
	entries map[string]*serverEntry
	closed  bool
}

// NewManager builds a manager bound to the given registry. Start
// connects the configured servers.
func NewManager(cfg config.Tools, registry *tool.Registry) *Manager {
	max := cfg.MaxConcurrency
	if max <= 0 {
		max = 10
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		log:      slog.Default().With("component", "servers"),
		global:   semaphore.NewWeighted(int64(max)),
		lane:     newLane(),
		entries:  make(map[string]*serverEntry),
	}
}

// SetMetrics attaches the collectors recording per-call counters and
// latency. Must be called before Start.
func (m *Manager) SetMetrics(mx *metrics.Metrics) { m.metrics = mx }

// Start connects every enabled server, discovers its tools and installs
// them into the registry. A server that fails to connect is logged and
// skipped; it does not abort startup.
func (m *Manager) Start(ctx context.Context, servers map[string]config.ServerConfig) error {
	for name, sc := range servers {
		if !sc.Enabled {
			continue
		}
		if err := m.startServer(ctx, name, sc); err != nil {
			m.log.Error("server failed to start", "server", name, "error", err)
		}
	}
	return nil
}

func (m *Manager) startServer(ctx context.Context, name string, sc config.ServerConfig) error {
	client := mcpclient.New(name, sc, mcpclient.Options{
		CallTimeout: time.Duration(m.cfg.ServerTimeoutSeconds) * time.Second,
	})
	client.OnToolsChanged(func() { m.refresh(name) })

	if err := client.Connect(ctx); err != nil {
		return err
	}

	descs, err := client.Tools(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("discovering tools on %s: %w", name, err)
	}

	perServer := sc.MaxConcurrency
	if perServer <= 0 {
		perServer = defaultPerServerConcurrency
	}
	entry := &serverEntry{
		client:   client,
		limit:    semaphore.NewWeighted(int64(perServer)),
		isolated: classify(name, sc, client, descs),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return fmt.Errorf("manager closed")
	}
	m.entries[name] = entry
	m.mu.Unlock()

	m.installTools(name, descs)
	m.log.Info("server connected",
		"server", name,
		"tools", len(descs),
		"isolated", entry.isolated,
		"progress", client.ProgressCapable())
	return nil
}

// installTools swaps a server's slice of the registry with fresh
// namespaced adapters. Old entries stay valid until the swap lands.
func (m *Manager) installTools(server string, descs []tool.Descriptor) {
	tools := make([]tool.Tool, 0, len(descs))
	for _, d := range descs {
		short := d.ShortName()
		d.Name = server + ":" + short
		d.Server = server
		tools = append(tools, &remoteTool{manager: m, server: server, short: short, desc: d})
	}
	m.registry.ReplaceServer(server, tools)
}

// refresh rediscovers one server's tools after a tools/changed
// notification and rebuilds its registry slice.
func (m *Manager) refresh(server string) {
	m.mu.Lock()
	entry, ok := m.entries[server]
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	descs, err := entry.client.Tools(ctx)
	if err != nil {
		m.log.Warn("tool rediscovery failed, keeping old registry slice",
			"server", server, "error", err)
		return
	}
	m.installTools(server, descs)
	m.log.Info("registry slice rebuilt", "server", server, "tools", len(descs))
}

// entry looks up a server's bookkeeping.
func (m *Manager) entry(server string) (*serverEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[server]
	if !ok {
		return nil, fmt.Errorf("server %q not found", server)
	}
	return e, nil
}

// acquire claims the global and per-server slots. The returned release
// function gives both back; a nil release means the error chunk applies.
func (m *Manager) acquire(ctx context.Context, entry *serverEntry, server string) (func(), *tool.Chunk) {
	if !m.global.TryAcquire(1) {
		if err := m.global.Acquire(ctx, 1); err != nil {
			return nil, tool.Errorf(tool.CategoryConcurrency,
				"global tool concurrency exhausted waiting for a slot: %v", err)
		}
	}
	if !entry.limit.TryAcquire(1) {
		if err := entry.limit.Acquire(ctx, 1); err != nil {
			m.global.Release(1)
			return nil, tool.Errorf(tool.CategoryConcurrency,
				"server %s concurrency exhausted waiting for a slot: %v", server, err)
		}
	}
	return func() {
		entry.limit.Release(1)
		m.global.Release(1)
	}, nil
}

// Dispatch invokes a tool on its owning server and yields the chunk
// stream. The call mode (sync vs async-with-progress) follows the
// descriptor; isolated servers run through the dedicated lane.
func (m *Manager) Dispatch(ctx context.Context, server, short string, desc tool.Descriptor, args map[string]any) iter.Seq2[*tool.Chunk, error] {
	return func(yield func(*tool.Chunk, error) bool) {
		entry, err := m.entry(server)
		if err != nil {
			yield(tool.Errorf(tool.CategoryServerNotFound, "%v", err), nil)
			return
		}

		release, chunk := m.acquire(ctx, entry, server)
		if chunk != nil {
			yield(chunk, nil)
			return
		}
		defer release()

		run := func(emit func(*tool.Chunk) bool) {
			m.execute(ctx, entry, server, short, desc, args, emit)
		}

		if entry.isolated {
			m.lane.run(ctx, run, yield)
			return
		}
		run(func(c *tool.Chunk) bool { return yield(c, nil) })
	}
}

// execute performs the actual protocol call and converts results to
// chunks. emit returning false stops the stream early.
func (m *Manager) execute(ctx context.Context, entry *serverEntry, server, short string, desc tool.Descriptor, args map[string]any, emit func(*tool.Chunk) bool) {
	start := time.Now()
	meta := tool.CallMeta{Server: server, Tool: short}

	async := desc.Caps.LongRunning || desc.Caps.ProgressCapable
	if !async {
		raw, err := entry.client.CallTool(ctx, short, args)
		if err != nil {
			emit(m.finish(server, short, start, callErrorChunk(server, short, err)))
			return
		}
		meta.Duration = time.Since(start)
		emit(m.finish(server, short, start, resultToChunk(raw, meta)))
		return
	}

	timeout := time.Duration(m.cfg.AsyncDefaultTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	for item, err := range entry.client.CallToolAsync(ctx, short, args, timeout) {
		if err != nil {
			emit(m.finish(server, short, start, callErrorChunk(server, short, err)))
			return
		}
		switch {
		case item.Err != nil:
			emit(m.finish(server, short, start, callErrorChunk(server, short, item.Err)))
			return
		case item.Progress != nil:
			c := tool.ProgressChunk(item.Progress.Step, item.Progress.State, item.Progress.Payload)
			c.Pct = item.Progress.ProgressPct
			if !emit(c) {
				return
			}
		default:
			meta.Duration = time.Since(start)
			emit(m.finish(server, short, start, resultToChunk(item.Result, meta)))
			return
		}
	}
}

// finish records a call's terminal chunk on the collectors.
func (m *Manager) finish(server, short string, start time.Time, c *tool.Chunk) *tool.Chunk {
	if m.metrics != nil {
		status := "success"
		if c.Kind == tool.KindError {
			status = "error"
		}
		m.metrics.ObserveToolCall(server, short, status, time.Since(start))
	}
	return c
}

// Degraded reports the servers currently refusing calls.
func (m *Manager) Degraded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, e := range m.entries {
		if e.client.State() == mcpclient.Degraded {
			out = append(out, name)
		}
	}
	return out
}

// Close shuts every client down and stops the dedicated lane.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := m.entries
	m.entries = make(map[string]*serverEntry)
	m.mu.Unlock()

	for name, e := range entries {
		if err := e.client.Close(); err != nil {
			m.log.Warn("error closing server", "server", name, "error", err)
		}
		m.registry.RemoveServer(name)
	}
	m.lane.stop()
	return nil
}
