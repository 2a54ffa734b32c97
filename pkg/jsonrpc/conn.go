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

package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stewardai/steward/pkg/transport"
)

// Sentinel errors surfaced by Conn.
var (
	// ErrTimeout indicates a request deadline expired; the pending slot
	// is cancelled.
	ErrTimeout = errors.New("jsonrpc: request timed out")

	// ErrConnClosed indicates the connection is gone; in-flight requests
	// fail with this error.
	ErrConnClosed = errors.New("jsonrpc: connection closed")
)

// NotificationHandler receives the params of a server notification.
type NotificationHandler func(params json.RawMessage)

// Conn speaks JSON-RPC 2.0 over a transport.
type Conn struct {
	transport transport.Transport
	nextID    atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan *Message
	handlers map[string]NotificationHandler
	closed   bool

	// progressCapable is set after the initialize capability probe.
	progressCapable atomic.Bool

	// async routing for the progress extension
	asyncMu     sync.Mutex
	asyncChans  map[string]chan *AsyncItem
	asyncBuffer map[string][]*AsyncItem
	asyncExpect int

	cancelRecv context.CancelFunc
	recvDone   chan struct{}
}

// NewConn wraps a connected transport. Call Start to begin receiving.
func NewConn(t transport.Transport) *Conn {
	return &Conn{
		transport:   t,
		pending:     make(map[int64]chan *Message),
		handlers:    make(map[string]NotificationHandler),
		asyncChans:  make(map[string]chan *AsyncItem),
		asyncBuffer: make(map[string][]*AsyncItem),
	}
}

// Start launches the receiver goroutine.
func (c *Conn) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelRecv = cancel
	c.recvDone = make(chan struct{})
	go c.receiveLoop(ctx)
}

// receiveLoop demultiplexes inbound messages until the transport dies.
func (c *Conn) receiveLoop(ctx context.Context) {
	defer close(c.recvDone)
	for {
		payload, err := c.transport.Receive(ctx)
		if err != nil {
			c.failPending(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}

		msg, err := Decode(payload)
		if err != nil {
			slog.Warn("dropping malformed jsonrpc message", "error", err)
			continue
		}

		switch {
		case msg.IsResponse():
			c.dispatchResponse(msg)
		case msg.IsNotification():
			c.dispatchNotification(msg)
		default:
			// Servers do not send us requests; log and drop.
			slog.Warn("dropping unexpected jsonrpc request from server", "method", msg.Method)
		}
	}
}

func (c *Conn) dispatchResponse(msg *Message) {
	id, ok := msg.ResponseID()
	if !ok {
		slog.Warn("dropping response with non-numeric id", "id", string(msg.ID))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("dropping response with unknown id", "id", id)
		return
	}
	ch <- msg
}

func (c *Conn) dispatchNotification(msg *Message) {
	switch msg.Method {
	case MethodToolsProgress:
		c.routeProgress(msg.Params)
		return
	case MethodToolsResult:
		c.routeResult(msg.Params)
		return
	}

	c.mu.Lock()
	handler, ok := c.handlers[msg.Method]
	c.mu.Unlock()

	if !ok {
		slog.Debug("no handler for notification", "method", msg.Method)
		return
	}
	handler(msg.Params)
}

// HandleNotification registers a handler for a notification method.
// The handler runs on the receiver goroutine and must not block.
func (c *Conn) HandleNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// SetProgressCapable records whether the server advertised the progress
// extension during initialization.
func (c *Conn) SetProgressCapable(v bool) { c.progressCapable.Store(v) }

// ProgressCapable reports whether tools/call_async is usable.
func (c *Conn) ProgressCapable() bool { return c.progressCapable.Load() }

// Call sends a request and blocks for its response or ctx expiry.
// A JSON-RPC error response is returned as *Error.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	payload, err := Encode(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.transport.Send(ctx, payload); err != nil {
		c.cancelPending(id)
		return nil, err
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	case <-ctx.Done():
		c.cancelPending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, payload)
}

func (c *Conn) cancelPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan *Message)
	c.closed = true
	c.mu.Unlock()

	for _, ch := range pending {
		// The cause keeps ErrConnClosed matchable so callers classify
		// this as a transport failure, not a server-reported error.
		ch <- &Message{
			JSONRPC: Version,
			Error:   &Error{Code: CodeServerErrorMax, Message: err.Error(), cause: err},
		}
	}

	c.failAsync(err)
}

// Close stops the receiver and closes the transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancelRecv != nil {
		c.cancelRecv()
	}
	err := c.transport.Close()
	if c.recvDone != nil {
		<-c.recvDone
	}
	return err
}

// Alive reports whether the underlying transport can still carry messages.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.transport.IsAlive()
}
