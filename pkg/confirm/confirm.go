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

// Package confirm coordinates human-in-the-loop confirmation between
// the engine and the drivers.
//
// The engine requests confirmation and blocks on the verdict; the CLI
// or HTTP driver submits it. Records live in a process-local map keyed
// by session id, and the coordinator is their single mutator. At most
// one record per session is pending at a time; a verdict arriving for a
// session with no pending record is dropped and reported to the caller
// as unknown.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stewardai/steward/pkg/task"
)

// Status is the lifecycle of one confirmation record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusModified  Status = "modified"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Action is the verdict a driver submits.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionModify  Action = "modify"
	ActionCancel  Action = "cancel"
)

// Errors surfaced by the coordinator.
var (
	// ErrPendingExists rejects a second request while one is open.
	ErrPendingExists = errors.New("confirm: session already has a pending confirmation")

	// ErrUnknownSession reports a verdict for a session with no pending
	// record.
	ErrUnknownSession = errors.New("confirm: no pending confirmation for session")

	// ErrTimedOut reports that the expiry elapsed before a verdict.
	ErrTimedOut = errors.New("confirm: confirmation timed out")
)

// Response is the verdict a driver submits.
type Response struct {
	Action Action `json:"action"`

	// ModifiedTasks replaces the plan's task list when Action is modify.
	ModifiedTasks []task.Task `json:"modified_tasks,omitempty"`

	// FreeText carries modify instructions expressed in prose, to be
	// folded into replanning context.
	FreeText string `json:"free_text,omitempty"`
}

// Record is one confirmation request and its outcome.
type Record struct {
	SessionID string     `json:"session_id"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Round     int        `json:"round"`
	Response  *Response  `json:"response,omitempty"`
	Plan      *task.Plan `json:"-"`
}

type pending struct {
	record *Record
	slot   chan *Response // buffered 1; one-shot
}

// Coordinator owns every confirmation record.
type Coordinator struct {
	mu      sync.Mutex
	open    map[string]*pending
	rounds  map[string]int // last round per session, reset on Clear
	history map[string]*Record
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		open:    make(map[string]*pending),
		rounds:  make(map[string]int),
		history: make(map[string]*Record),
	}
}

// Request opens a confirmation round for a session. The round number
// increments on re-entry after a modify cycle.
func (c *Coordinator) Request(sessionID string, plan *task.Plan, timeout time.Duration) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.open[sessionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPendingExists, sessionID)
	}

	round := c.rounds[sessionID] + 1
	c.rounds[sessionID] = round

	now := time.Now()
	rec := &Record{
		SessionID: sessionID,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		Round:     round,
		Plan:      plan,
	}
	c.open[sessionID] = &pending{record: rec, slot: make(chan *Response, 1)}
	c.history[sessionID] = rec
	return rec, nil
}

// Submit delivers a verdict for the session's pending record. A stale
// verdict (no pending record) is dropped with ErrUnknownSession. The
// verdict lands in the buffered slot, so submitting before Wait is
// safe; Wait consumes the entry.
func (c *Coordinator) Submit(sessionID string, resp Response) error {
	c.mu.Lock()
	p, ok := c.open[sessionID]
	if !ok || p.record.Status != StatusPending {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	switch resp.Action {
	case ActionConfirm:
		p.record.Status = StatusConfirmed
	case ActionModify:
		p.record.Status = StatusModified
	case ActionCancel:
		p.record.Status = StatusCancelled
	default:
		c.mu.Unlock()
		return fmt.Errorf("confirm: unknown action %q", resp.Action)
	}
	p.record.Response = &resp
	// The slot is buffered and filled at most once per record, so this
	// cannot block. Sending under the lock keeps Wait's timeout branch
	// from declaring TimedOut after the verdict was accepted.
	p.slot <- &resp
	c.mu.Unlock()
	return nil
}

// Wait blocks until the session's pending record resolves. On expiry
// the record becomes TimedOut and ErrTimedOut is returned; the engine
// treats that as cancel.
func (c *Coordinator) Wait(ctx context.Context, sessionID string) (*Response, error) {
	c.mu.Lock()
	p, ok := c.open[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	timer := time.NewTimer(time.Until(p.record.ExpiresAt))
	defer timer.Stop()

	select {
	case resp := <-p.slot:
		c.mu.Lock()
		delete(c.open, sessionID)
		c.mu.Unlock()
		return resp, nil

	case <-timer.C:
		c.mu.Lock()
		// Submit may have won the race; prefer its verdict.
		select {
		case resp := <-p.slot:
			delete(c.open, sessionID)
			c.mu.Unlock()
			return resp, nil
		default:
		}
		delete(c.open, sessionID)
		p.record.Status = StatusTimedOut
		c.mu.Unlock()
		return nil, ErrTimedOut

	case <-ctx.Done():
		c.mu.Lock()
		delete(c.open, sessionID)
		p.record.Status = StatusCancelled
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Pending reports whether a session has an unresolved record.
func (c *Coordinator) Pending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.open[sessionID]
	return ok && p.record.Status == StatusPending
}

// Last returns the most recent record for a session.
func (c *Coordinator) Last(sessionID string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.history[sessionID]
	return rec, ok
}

// Clear resets round tracking for a session. Called when a session
// reaches a terminal state.
func (c *Coordinator) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, sessionID)
	delete(c.rounds, sessionID)
	delete(c.history, sessionID)
}
