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
	"sync"
)

// Pipe returns two connected in-process transports. Messages sent on one
// side arrive on the other. Used to run a tool server in the same process,
// mainly in tests.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	shared := &pipeShared{}
	a := &PipeEnd{send: ab, recv: ba, shared: shared}
	b := &PipeEnd{send: ba, recv: ab, shared: shared}
	return a, b
}

type pipeShared struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *pipeShared) doneCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

// PipeEnd is one side of an in-process transport pair.
type PipeEnd struct {
	send   chan []byte
	recv   chan []byte
	shared *pipeShared
}

// Connect is a no-op for pipes.
func (p *PipeEnd) Connect(ctx context.Context) error { return nil }

// Send delivers the payload to the peer.
func (p *PipeEnd) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	select {
	case p.send <- payload:
		return nil
	case <-p.shared.doneCh():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next payload from the peer.
func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.shared.doneCh():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	if !p.shared.closed {
		p.shared.closed = true
		if p.shared.done == nil {
			p.shared.done = make(chan struct{})
		}
		close(p.shared.done)
	}
	return nil
}

// IsAlive reports whether either end has closed the pipe.
func (p *PipeEnd) IsAlive() bool {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return !p.shared.closed
}

var _ Transport = (*PipeEnd)(nil)
