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

// Package mcpclient manages the connection to one tool server.
//
// Each Client walks the lifecycle Disconnected -> Connecting ->
// Initializing -> Ready, with Degraded entered when the health monitor
// sees consecutive ping failures. Degraded keeps serving cached tool
// descriptors but refuses calls until a reconnect succeeds; every
// reconnect recreates the transport from scratch, so server-side
// session state is assumed lost.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/jsonrpc"
	"github.com/stewardai/steward/pkg/tool"
	"github.com/stewardai/steward/pkg/transport"
)

// State is the lifecycle position of a client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Initializing
	Ready
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Errors surfaced by the client.
var (
	// ErrNotReady indicates the client is not in a callable state.
	ErrNotReady = errors.New("mcpclient: server not ready")

	// ErrDegraded indicates calls are refused pending reconnection.
	ErrDegraded = errors.New("mcpclient: server degraded")

	// ErrClosed indicates the client was shut down.
	ErrClosed = errors.New("mcpclient: closed")
)

// Options tune the client. Zero values select the defaults.
type Options struct {
	// CallTimeout bounds each protocol request.
	CallTimeout time.Duration

	// PingInterval is the health check cadence.
	PingInterval time.Duration

	// PingFailureThreshold is the consecutive failure count that moves
	// the client to Degraded.
	PingFailureThreshold int

	// ListTTL bounds how long a cached tool list is considered fresh.
	ListTTL time.Duration

	// MaxReconnectAttempts caps one reconnect cycle. Zero means the
	// default; a negative value disables reconnection.
	MaxReconnectAttempts int

	// ReconnectBaseDelay seeds the exponential backoff.
	ReconnectBaseDelay time.Duration
}

func (o *Options) fill() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingFailureThreshold <= 0 {
		o.PingFailureThreshold = 3
	}
	if o.ListTTL <= 0 {
		o.ListTTL = 5 * time.Minute
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
}

// Client is the connection to one configured tool server.
type Client struct {
	name string
	cfg  config.ServerConfig
	opts Options
	log  *slog.Logger

	state atomic.Int32

	mu     sync.Mutex
	conn   *jsonrpc.Conn
	closed bool

	// handshake results
	server      ServerInfo
	caps        ServerCapabilities
	progressOK  bool
	declaredIso bool

	// discovery cache
	toolsMu    sync.Mutex
	tools      []tool.Descriptor
	toolsAt    time.Time
	toolsStale bool

	onToolsChanged func()
	onStateChange  func(State)

	// wake prods the health loop when a call finds the connection dead,
	// so reconnection starts immediately instead of at the next ping.
	wake chan struct{}

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New builds a client for one server. Connect must be called before use.
func New(name string, cfg config.ServerConfig, opts Options) *Client {
	opts.fill()
	return &Client{
		name: name,
		cfg:  cfg,
		opts: opts,
		wake: make(chan struct{}, 1),
		log:  slog.Default().With("server", name),
	}
}

// Name returns the configured server id.
func (c *Client) Name() string { return c.name }

// State returns the current lifecycle position.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debug("server state change", "from", old.String(), "to", s.String())
		if c.onStateChange != nil {
			c.onStateChange(s)
		}
	}
}

// OnToolsChanged registers the hot-reload callback. It fires on its own
// goroutine after the tool cache is invalidated. Must be set before
// Connect.
func (c *Client) OnToolsChanged(fn func()) { c.onToolsChanged = fn }

// OnStateChange registers a state observer. Must be set before Connect.
func (c *Client) OnStateChange(fn func(State)) { c.onStateChange = fn }

// ProgressCapable reports whether the server advertised the progress
// extension during the handshake.
func (c *Client) ProgressCapable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressOK
}

// DeclaredIsolated reports whether the server asked for the dedicated
// execution lane in its handshake capabilities.
func (c *Client) DeclaredIsolated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.declaredIso
}

// Server returns the identity the server reported during initialize.
func (c *Client) Server() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Connect establishes the connection, runs the initialize handshake,
// primes the tool cache and starts the health monitor.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcpclient: %s already connected", c.name)
	}
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		return err
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	c.healthCancel = cancel
	c.healthDone = make(chan struct{})
	go c.healthLoop(healthCtx)
	return nil
}

// establish builds a fresh transport, performs the handshake and moves
// the client to Ready. Used by both Connect and the reconnect cycle.
func (c *Client) establish(ctx context.Context) error {
	c.setState(Connecting)

	tr, err := transport.New(c.cfg.Transport, transport.Config{
		Command:          c.cfg.Command,
		Args:             c.cfg.Args,
		Env:              c.cfg.Env,
		WorkingDirectory: c.cfg.WorkingDirectory,
		URL:              c.cfg.URL,
	})
	if err != nil {
		c.setState(Disconnected)
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("connecting to %s: %w", c.name, err)
	}

	conn := jsonrpc.NewConn(tr)
	conn.Start()

	c.setState(Initializing)
	init, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("initializing %s: %w", c.name, err)
	}

	conn.SetProgressCapable(init.Capabilities.progressCapable())
	conn.HandleNotification(jsonrpc.MethodToolsChanged, func(json.RawMessage) {
		c.invalidateTools()
	})

	c.mu.Lock()
	c.conn = conn
	c.server = init.ServerInfo
	c.caps = init.Capabilities
	c.progressOK = init.Capabilities.progressCapable()
	c.declaredIso = init.Capabilities.IsolatedLoop
	c.mu.Unlock()

	c.setState(Ready)

	// Prime the cache so the first dispatch does not pay discovery
	// latency. A failure here is tolerated; Tools refetches on demand.
	if _, err := c.Tools(ctx); err != nil {
		c.log.Warn("initial tool discovery failed", "error", err)
	}
	return nil
}

// invalidateTools marks the cache stale and fires the hot-reload hook.
func (c *Client) invalidateTools() {
	c.toolsMu.Lock()
	c.toolsStale = true
	c.toolsMu.Unlock()

	c.log.Info("tool list changed, cache invalidated")
	if c.onToolsChanged != nil {
		go c.onToolsChanged()
	}
}

// Tools returns the server's tool descriptors. Ready clients refresh a
// stale or expired cache; a Degraded client serves the cache as is.
func (c *Client) Tools(ctx context.Context) ([]tool.Descriptor, error) {
	c.toolsMu.Lock()
	fresh := !c.toolsStale && time.Since(c.toolsAt) < c.opts.ListTTL && c.tools != nil
	cached := c.tools
	c.toolsMu.Unlock()

	if fresh || c.State() != Ready {
		if cached == nil && c.State() != Ready {
			return nil, fmt.Errorf("%w: %s is %s with no cached tools", ErrNotReady, c.name, c.State())
		}
		return cached, nil
	}

	conn, err := c.callableConn()
	if err != nil {
		return cached, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	raw, err := conn.Call(callCtx, jsonrpc.MethodToolsList, nil)
	if err != nil {
		if cached != nil {
			c.log.Warn("tool list refresh failed, serving cache", "error", err)
			return cached, nil
		}
		return nil, fmt.Errorf("listing tools on %s: %w", c.name, err)
	}

	descs, err := parseToolList(raw, c.name, c.ProgressCapable())
	if err != nil {
		return nil, fmt.Errorf("parsing tool list from %s: %w", c.name, err)
	}

	c.toolsMu.Lock()
	c.tools = descs
	c.toolsAt = time.Now()
	c.toolsStale = false
	c.toolsMu.Unlock()
	return descs, nil
}

// callableConn returns the live connection, enforcing the state gate.
// A dead connection under a Ready state wakes the reconnect cycle so
// the next call finds a fresh transport.
func (c *Client) callableConn() (*jsonrpc.Conn, error) {
	switch c.State() {
	case Ready:
	case Degraded:
		return nil, fmt.Errorf("%w: %s", ErrDegraded, c.name)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, c.name, c.State())
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, c.name)
	}
	if !conn.Alive() {
		c.kickReconnect()
		return nil, fmt.Errorf("%w: %s connection lost", ErrDegraded, c.name)
	}
	return conn, nil
}

// kickReconnect nudges the health loop without blocking.
func (c *Client) kickReconnect() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// CallTool performs a synchronous tools/call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	conn, err := c.callableConn()
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}
	return conn.CallTool(ctx, name, args)
}

// CallToolAsync performs a long-running call through the progress
// extension, downgrading transparently on servers without it.
func (c *Client) CallToolAsync(ctx context.Context, name string, args map[string]any, timeout time.Duration) iter.Seq2[*jsonrpc.AsyncItem, error] {
	conn, err := c.callableConn()
	if err != nil {
		return func(yield func(*jsonrpc.AsyncItem, error) bool) {
			yield(&jsonrpc.AsyncItem{Err: err}, nil)
		}
	}
	return conn.CallToolAsync(ctx, name, args, timeout)
}

// Close tears the client down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if c.healthCancel != nil {
		c.healthCancel()
		<-c.healthDone
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.setState(Disconnected)
	return err
}
