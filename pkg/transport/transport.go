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

// Package transport frames JSON-RPC messages over a tool server
// connection.
//
// Two variants exist: a stdio transport that spawns the server as a child
// process and exchanges newline-delimited JSON on its stdin/stdout, and a
// WebSocket transport that carries one message per text frame. Transports
// know nothing about JSON-RPC beyond framing.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// MaxMessageSize is the per-message bound. Large enough for OCR output
// and base64-encoded binary payloads.
const MaxMessageSize = 10 * 1024 * 1024

// Sentinel error kinds produced by transports.
var (
	// ErrConnect indicates the connection could not be established.
	ErrConnect = errors.New("transport: connect failed")

	// ErrClosed indicates the transport is no longer usable.
	ErrClosed = errors.New("transport: closed")

	// ErrFrameTooLarge indicates a message exceeded MaxMessageSize.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrEncoding indicates a framing-level encoding problem.
	ErrEncoding = errors.New("transport: encoding error")
)

// Transport moves opaque message payloads to and from a tool server.
type Transport interface {
	// Connect establishes the connection. Calling Connect on a
	// connected transport is an error.
	Connect(ctx context.Context) error

	// Send writes one message.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks until the next message arrives. Returns ErrClosed
	// when the connection is gone.
	Receive(ctx context.Context) ([]byte, error)

	// Close tears the connection down. Idempotent.
	Close() error

	// IsAlive reports whether the transport can still carry messages.
	IsAlive() bool
}

// New builds a transport for the given kind.
func New(kind string, cfg Config) (Transport, error) {
	switch kind {
	case "", "stdio":
		return NewStdio(cfg), nil
	case "websocket":
		return NewWebSocket(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

// Config carries the connection parameters for either variant.
type Config struct {
	// Command, Args, Env, WorkingDirectory describe the child process
	// for the stdio transport.
	Command          string
	Args             []string
	Env              map[string]string
	WorkingDirectory string

	// URL is the endpoint for the WebSocket transport.
	URL string
}
