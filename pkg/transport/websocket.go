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

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket carries one JSON-RPC message per text frame over a single
// connection to the tool server.
type WebSocket struct {
	cfg Config

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewWebSocket creates an unconnected WebSocket transport.
func NewWebSocket(cfg Config) *WebSocket {
	return &WebSocket{cfg: cfg}
}

// Connect dials the server.
func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("%w: already connected", ErrConnect)
	}
	if t.cfg.URL == "" {
		return fmt.Errorf("%w: no url configured", ErrConnect)
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", ErrConnect, t.cfg.URL, err)
	}
	conn.SetReadLimit(MaxMessageSize)

	t.conn = conn
	t.closed = false

	slog.Debug("websocket transport connected", "url", t.cfg.URL)
	return nil
}

// Send writes one text frame.
func (t *WebSocket) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if conn == nil || closed {
		return ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	// gorilla permits one concurrent writer only.
	t.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payload)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive blocks for the next text frame.
func (t *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if conn == nil || closed {
		return nil, ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
			return nil, ErrFrameTooLarge
		}
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected frame type %d", ErrEncoding, msgType)
	}
	return payload, nil
}

// Close shuts the connection down. Idempotent.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.conn == nil {
		return nil
	}
	t.closed = true

	t.writeMu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	return t.conn.Close()
}

// IsAlive reports whether the connection is open.
func (t *WebSocket) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.closed
}

var _ Transport = (*WebSocket)(nil)
