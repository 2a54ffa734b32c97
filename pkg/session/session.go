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

// Package session holds conversation state and its persistence.
//
// A session is exclusively owned by the engine while a request is in
// flight; everything else observes it through the update stream. The
// engine persists it on every state transition.
package session

import (
	"fmt"
	"time"

	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/task"
)

// State is the engine state machine position.
type State string

const (
	StateIdle                 State = "idle"
	StateReasoning            State = "reasoning"
	StatePlanning             State = "planning"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateEvaluating           State = "evaluating"
	StateReplanning           State = "replanning"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TaskResult is the terminal outcome of one executed task.
type TaskResult struct {
	TaskID   string        `yaml:"task_id" json:"task_id"`
	Output   string        `yaml:"output,omitempty" json:"output,omitempty"`
	Error    string        `yaml:"error,omitempty" json:"error,omitempty"`
	Category string        `yaml:"category,omitempty" json:"category,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// Succeeded reports whether the task ended without error.
func (r TaskResult) Succeeded() bool { return r.Error == "" }

// LogEntry is one line of the append-only session log.
type LogEntry struct {
	Time time.Time `yaml:"time" json:"time"`
	Text string    `yaml:"text" json:"text"`
}

// Session is one conversation instance.
type Session struct {
	ID        string    `yaml:"id" json:"id"`
	State     State     `yaml:"state" json:"state"`
	Input     string    `yaml:"input" json:"input"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`

	// History is the conversation context fed to the planner.
	History []model.Message `yaml:"history,omitempty" json:"history,omitempty"`

	// Plan is the active plan; superseded wholesale on replan.
	Plan *task.Plan `yaml:"plan,omitempty" json:"plan,omitempty"`

	// Results maps task id to its terminal outcome.
	Results map[string]TaskResult `yaml:"results,omitempty" json:"results,omitempty"`

	// Log is append-only: state transitions and tool summary lines.
	Log []LogEntry `yaml:"log,omitempty" json:"log,omitempty"`

	// ReplanCount counts replanning rounds against the hard cap.
	ReplanCount int `yaml:"replan_count" json:"replan_count"`
}

// New creates an idle session.
func New(id, input string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		State:     StateIdle,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
		Results:   make(map[string]TaskResult),
	}
}

// Transition moves the session to a new state, logging the edge.
func (s *Session) Transition(to State) {
	s.Append(fmt.Sprintf("state: %s -> %s", s.State, to))
	s.State = to
	s.UpdatedAt = time.Now()
}

// Append adds a line to the session log.
func (s *Session) Append(text string) {
	s.Log = append(s.Log, LogEntry{Time: time.Now(), Text: text})
}

// Record stores a task's terminal outcome.
func (s *Session) Record(r TaskResult) {
	if s.Results == nil {
		s.Results = make(map[string]TaskResult)
	}
	s.Results[r.TaskID] = r
	s.UpdatedAt = time.Now()
}
