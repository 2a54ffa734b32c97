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

// Package service is the orchestration façade consumed by the CLI and
// HTTP drivers.
//
// Execute turns one user message into a stream of typed chunks. A
// confirmation_request chunk pauses the stream (requires_response,
// stream_paused); the client resumes it by sending a message starting
// with the CONFIRM_ACTION: prefix, which routes to the confirmation
// coordinator instead of the planner.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/stewardai/steward/pkg/confirm"
	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/react"
	"github.com/stewardai/steward/pkg/session"
	"github.com/stewardai/steward/pkg/task"
)

// ConfirmPrefix marks a continuation message carrying a verdict.
const ConfirmPrefix = "CONFIRM_ACTION:"

// Chunk types emitted on the stream.
const (
	ChunkContent              = "content"
	ChunkStatus               = "status"
	ChunkToolOutput           = "tool_output"
	ChunkTaskInit             = "task_init"
	ChunkTaskReplanned        = "task_replanned"
	ChunkMCPProgress          = "mcp_progress"
	ChunkConfirmationRequest  = "confirmation_request"
	ChunkConfirmationReceived = "confirmation_received"
	ChunkCompletion           = "completion"
	ChunkError                = "error"
)

// Chunk is one streamed payload.
type Chunk struct {
	ChunkType string `json:"chunk_type"`
	SessionID string `json:"session_id"`

	Text     string      `json:"text,omitempty"`
	Tasks    []task.Task `json:"tasks,omitempty"`
	TaskIDs  []string    `json:"task_ids,omitempty"`
	TaskID   string      `json:"task_id,omitempty"`
	Tool     string      `json:"tool,omitempty"`
	Progress any         `json:"progress,omitempty"`
	Action   string      `json:"action,omitempty"`
	Category string      `json:"category,omitempty"`

	ConfirmationData *react.ConfirmationRequest `json:"confirmation_data,omitempty"`
	RequiresResponse bool                       `json:"requires_response,omitempty"`
	StreamPaused     bool                       `json:"stream_paused,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Service glues drivers to the engine.
type Service struct {
	engine *react.Engine
	store  session.Store
	log    *slog.Logger
}

// New builds the façade.
func New(engine *react.Engine, store session.Store) *Service {
	return &Service{
		engine: engine,
		store:  store,
		log:    slog.Default().With("component", "service"),
	}
}

// Execute processes one message for a session. An empty sessionID
// creates a fresh session; an existing id resumes its history.
// Messages with the CONFIRM_ACTION: prefix resolve a pending
// confirmation instead of starting a new run.
func (s *Service) Execute(ctx context.Context, sessionID, message string) iter.Seq2[*Chunk, error] {
	if strings.HasPrefix(strings.TrimSpace(message), ConfirmPrefix) {
		return s.submitConfirmation(sessionID, message)
	}
	return s.run(ctx, sessionID, message)
}

func (s *Service) run(ctx context.Context, sessionID, message string) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		sess := s.resume(sessionID, message)

		var finalText string
		for update, err := range s.engine.Run(ctx, sess) {
			if err != nil {
				yield(nil, err)
				return
			}
			if update.Kind == react.UpdateConversational || update.Kind == react.UpdateFinalResult {
				finalText = update.Text
			}
			if !yield(toChunk(sess.ID, update), nil) {
				return
			}
		}

		if finalText != "" {
			sess.History = append(sess.History,
				model.Message{Role: model.RoleAssistant, Content: finalText})
			if err := s.store.Save(sess); err != nil {
				s.log.Error("saving session history", "session", sess.ID, "error", err)
			}
		}
	}
}

// resume loads an existing session or creates a new one, then stages
// the new user message on it.
func (s *Service) resume(sessionID, message string) *session.Session {
	if sessionID != "" {
		if prev, err := s.store.Load(sessionID); err == nil {
			sess := session.New(sessionID, message)
			sess.History = prev.History
			sess.CreatedAt = prev.CreatedAt
			sess.History = append(sess.History,
				model.Message{Role: model.RoleUser, Content: message})
			return sess
		} else if !errors.Is(err, session.ErrNotFound) {
			s.log.Warn("session load failed, starting fresh", "session", sessionID, "error", err)
		}
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess := session.New(sessionID, message)
	sess.History = []model.Message{{Role: model.RoleUser, Content: message}}
	return sess
}

// submitConfirmation parses a continuation message and delivers the
// verdict to the coordinator.
func (s *Service) submitConfirmation(sessionID, message string) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		resp, err := ParseConfirmMessage(message)
		if err != nil {
			yield(&Chunk{
				ChunkType: ChunkError,
				SessionID: sessionID,
				Category:  "InvalidConfirmation",
				Text:      err.Error(),
			}, nil)
			return
		}

		if err := s.engine.Coordinator().Submit(sessionID, *resp); err != nil {
			yield(&Chunk{
				ChunkType: ChunkError,
				SessionID: sessionID,
				Category:  "UnknownConfirmation",
				Text:      err.Error(),
			}, nil)
			return
		}

		yield(&Chunk{
			ChunkType: ChunkStatus,
			SessionID: sessionID,
			Text:      fmt.Sprintf("confirmation %s accepted", resp.Action),
		}, nil)
	}
}

// ParseConfirmMessage parses "CONFIRM_ACTION:confirm",
// "CONFIRM_ACTION:modify[:free-text]" or "CONFIRM_ACTION:cancel".
func ParseConfirmMessage(message string) (*confirm.Response, error) {
	body := strings.TrimPrefix(strings.TrimSpace(message), ConfirmPrefix)
	action, freeText, _ := strings.Cut(body, ":")
	action = strings.ToLower(strings.TrimSpace(action))

	switch action {
	case "confirm":
		return &confirm.Response{Action: confirm.ActionConfirm}, nil
	case "cancel":
		return &confirm.Response{Action: confirm.ActionCancel}, nil
	case "modify":
		return &confirm.Response{
			Action:   confirm.ActionModify,
			FreeText: strings.TrimSpace(freeText),
		}, nil
	default:
		return nil, fmt.Errorf("unknown confirmation action %q (valid: confirm, modify, cancel)", action)
	}
}

// toChunk maps one engine update onto the wire chunk vocabulary.
func toChunk(sessionID string, u *react.Update) *Chunk {
	c := &Chunk{SessionID: sessionID}
	switch u.Kind {
	case react.UpdateStatus:
		c.ChunkType = ChunkStatus
		c.Text = u.Text

	case react.UpdateTaskPlan:
		c.ChunkType = ChunkTaskInit
		if u.Replanned {
			c.ChunkType = ChunkTaskReplanned
		}
		c.Tasks = u.Tasks

	case react.UpdateTaskInit:
		c.ChunkType = ChunkTaskInit
		c.TaskIDs = u.TaskIDs

	case react.UpdateToolExecution:
		c.ChunkType = ChunkStatus
		c.TaskID = u.TaskID
		c.Tool = u.Tool
		c.Text = fmt.Sprintf("running %s %s", u.Tool, u.ArgsSummary)

	case react.UpdateToolProgress:
		c.ChunkType = ChunkMCPProgress
		c.TaskID = u.TaskID
		c.Progress = u.Progress

	case react.UpdateSubTaskResult:
		c.ChunkType = ChunkToolOutput
		c.TaskID = u.TaskID
		c.Text = u.Text

	case react.UpdateConfirmationRequest:
		c.ChunkType = ChunkConfirmationRequest
		c.ConfirmationData = u.Confirmation
		c.RequiresResponse = true
		c.StreamPaused = true

	case react.UpdateConfirmationReceived:
		c.ChunkType = ChunkConfirmationReceived
		c.Action = u.Action

	case react.UpdateConversational:
		c.ChunkType = ChunkContent
		c.Text = u.Text

	case react.UpdateFinalResult:
		c.ChunkType = ChunkCompletion
		c.Text = u.Text
		c.Metadata = u.Metadata

	case react.UpdateError:
		c.ChunkType = ChunkError
		c.Category = u.Category
		c.Text = u.Text

	default:
		c.ChunkType = ChunkStatus
		c.Text = u.Text
	}
	return c
}
