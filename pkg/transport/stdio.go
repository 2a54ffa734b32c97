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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"
)

// killGrace is the window between SIGTERM and SIGKILL on close.
const killGrace = 3 * time.Second

// Stdio spawns the tool server as a child process and frames messages as
// newline-terminated UTF-8 JSON on its stdin/stdout. The child's stderr
// is drained to the log and never mixed into the protocol channel.
type Stdio struct {
	cfg Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	readEr chan error
	closed bool
	alive  bool
}

// NewStdio creates an unconnected stdio transport.
func NewStdio(cfg Config) *Stdio {
	return &Stdio{cfg: cfg}
}

// Connect spawns the child process and starts the reader pumps.
func (t *Stdio) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("%w: already connected", ErrConnect)
	}
	if t.cfg.Command == "" {
		return fmt.Errorf("%w: no command configured", ErrConnect)
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.WorkingDirectory
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrConnect, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrConnect, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrConnect, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %v", ErrConnect, t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.lines = make(chan []byte, 16)
	t.readEr = make(chan error, 1)
	t.alive = true
	t.closed = false

	go t.readLoop(stdout)
	go drainStderr(t.cfg.Command, stderr)

	slog.Debug("stdio transport connected", "command", t.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// readLoop pumps stdout lines into the receive channel.
func (t *Stdio) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// Copy: scanner reuses its buffer.
		msg := make([]byte, len(line))
		copy(msg, line)
		t.lines <- msg
	}

	err := scanner.Err()
	switch {
	case err == bufio.ErrTooLong:
		t.readEr <- fmt.Errorf("%w: line exceeds %d bytes", ErrFrameTooLarge, MaxMessageSize)
	case err != nil:
		t.readEr <- fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		t.readEr <- ErrClosed
	}

	t.mu.Lock()
	t.alive = false
	t.mu.Unlock()
	close(t.lines)
}

func drainStderr(command string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Debug("tool server stderr", "command", command, "line", scanner.Text())
	}
}

// Send writes one newline-terminated message to the child's stdin.
func (t *Stdio) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid UTF-8", ErrEncoding)
	}
	if bytes.IndexByte(payload, '\n') >= 0 {
		return fmt.Errorf("%w: payload contains embedded newline", ErrEncoding)
	}

	t.mu.Lock()
	stdin := t.stdin
	alive := t.alive && !t.closed
	t.mu.Unlock()

	if !alive || stdin == nil {
		return ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok && time.Now().After(deadline) {
		return ctx.Err()
	}

	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	if _, err := stdin.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive blocks until the next stdout line, a read error, or ctx expiry.
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	lines, readEr := t.lines, t.readEr
	t.mu.Unlock()

	if lines == nil {
		return nil, ErrClosed
	}

	select {
	case msg, ok := <-lines:
		if !ok {
			select {
			case err := <-readEr:
				return nil, err
			default:
				return nil, ErrClosed
			}
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the child with a grace window before a hard kill.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed || t.cmd == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.alive = false
	cmd := t.cmd
	stdin := t.stdin
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-done:
	case <-time.After(killGrace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}

	slog.Debug("stdio transport closed", "command", t.cfg.Command)
	return nil
}

// IsAlive reports whether the child is still serving.
func (t *Stdio) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive && !t.closed
}

var _ Transport = (*Stdio)(nil)
