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

package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/pkg/confirm"
	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/planner"
	"github.com/stewardai/steward/pkg/react"
	"github.com/stewardai/steward/pkg/session"
	"github.com/stewardai/steward/pkg/task"
	"github.com/stewardai/steward/pkg/tool"
)

func newService(t *testing.T, provider model.Provider, cfg config.React) (*Service, session.Store) {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&tool.Func{
		Desc: tool.Descriptor{Name: "file_read", Description: "read a file", Caps: tool.Capabilities{ReadOnly: true}},
		Fn: func(_ context.Context, args map[string]any) *tool.Chunk {
			return tool.SuccessChunk(fmt.Sprintf("contents of %v", args["file_path"]), tool.CallMeta{Tool: "file_read"})
		},
	}))
	store := session.NewMemoryStore()
	engine := react.New(
		planner.New(provider, reg, cfg.MaxTasks),
		provider, reg, confirm.NewCoordinator(), store, cfg,
	)
	return New(engine, store), store
}

func collect(t *testing.T, svc *Service, sessionID, message string, on func(*Chunk)) []*Chunk {
	t.Helper()
	var got []*Chunk
	for c, err := range svc.Execute(context.Background(), sessionID, message) {
		require.NoError(t, err)
		got = append(got, c)
		if on != nil {
			on(c)
		}
	}
	return got
}

func TestParseConfirmMessage(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		action   confirm.Action
		freeText string
		wantErr  bool
	}{
		{name: "confirm", message: "CONFIRM_ACTION:confirm", action: confirm.ActionConfirm},
		{name: "cancel", message: "CONFIRM_ACTION:cancel", action: confirm.ActionCancel},
		{name: "modify bare", message: "CONFIRM_ACTION:modify", action: confirm.ActionModify},
		{name: "modify with text", message: "CONFIRM_ACTION:modify:only read the summary", action: confirm.ActionModify, freeText: "only read the summary"},
		{name: "case insensitive", message: "CONFIRM_ACTION:CONFIRM", action: confirm.ActionConfirm},
		{name: "surrounding space", message: "  CONFIRM_ACTION:cancel  ", action: confirm.ActionCancel},
		{name: "unknown action", message: "CONFIRM_ACTION:maybe", wantErr: true},
		{name: "empty action", message: "CONFIRM_ACTION:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseConfirmMessage(tt.message)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, resp.Action)
			assert.Equal(t, tt.freeText, resp.FreeText)
		})
	}
}

func TestToChunkMapping(t *testing.T) {
	tests := []struct {
		name   string
		update *react.Update
		check  func(t *testing.T, c *Chunk)
	}{
		{
			name:   "status",
			update: &react.Update{Kind: react.UpdateStatus, Text: "Thinking..."},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkStatus, c.ChunkType)
				assert.Equal(t, "Thinking...", c.Text)
			},
		},
		{
			name:   "task plan",
			update: &react.Update{Kind: react.UpdateTaskPlan, Tasks: []task.Task{{ID: "t1"}}},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkTaskInit, c.ChunkType)
				require.Len(t, c.Tasks, 1)
			},
		},
		{
			name:   "replanned plan",
			update: &react.Update{Kind: react.UpdateTaskPlan, Replanned: true},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkTaskReplanned, c.ChunkType)
			},
		},
		{
			name:   "tool execution",
			update: &react.Update{Kind: react.UpdateToolExecution, TaskID: "t1", Tool: "file_read", ArgsSummary: "{file_path=a.txt}"},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkStatus, c.ChunkType)
				assert.Equal(t, "t1", c.TaskID)
				assert.Contains(t, c.Text, "running file_read")
			},
		},
		{
			name:   "tool progress",
			update: &react.Update{Kind: react.UpdateToolProgress, TaskID: "t1", Progress: map[string]any{"pct": 40}},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkMCPProgress, c.ChunkType)
				assert.NotNil(t, c.Progress)
			},
		},
		{
			name:   "sub task result",
			update: &react.Update{Kind: react.UpdateSubTaskResult, TaskID: "t1", Text: "done"},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkToolOutput, c.ChunkType)
				assert.Equal(t, "done", c.Text)
			},
		},
		{
			name: "confirmation request pauses stream",
			update: &react.Update{
				Kind:         react.UpdateConfirmationRequest,
				Confirmation: &react.ConfirmationRequest{SessionID: "s1", Round: 1},
			},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkConfirmationRequest, c.ChunkType)
				assert.True(t, c.RequiresResponse)
				assert.True(t, c.StreamPaused)
				require.NotNil(t, c.ConfirmationData)
				assert.Equal(t, 1, c.ConfirmationData.Round)
			},
		},
		{
			name:   "confirmation received",
			update: &react.Update{Kind: react.UpdateConfirmationReceived, Action: "confirm"},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkConfirmationReceived, c.ChunkType)
				assert.Equal(t, "confirm", c.Action)
			},
		},
		{
			name:   "conversational",
			update: &react.Update{Kind: react.UpdateConversational, Text: "hello"},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkContent, c.ChunkType)
				assert.Equal(t, "hello", c.Text)
			},
		},
		{
			name:   "final result",
			update: &react.Update{Kind: react.UpdateFinalResult, Text: "all done", Metadata: map[string]any{"tasks": 2}},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkCompletion, c.ChunkType)
				assert.Equal(t, "all done", c.Text)
				assert.Equal(t, 2, c.Metadata["tasks"])
			},
		},
		{
			name:   "error",
			update: &react.Update{Kind: react.UpdateError, Category: "ExecutionError", Text: "boom"},
			check: func(t *testing.T, c *Chunk) {
				assert.Equal(t, ChunkError, c.ChunkType)
				assert.Equal(t, "ExecutionError", c.Category)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := toChunk("s1", tt.update)
			assert.Equal(t, "s1", c.SessionID)
			tt.check(t, c)
		})
	}
}

func TestExecuteConversational(t *testing.T) {
	svc, store := newService(t, model.NewScripted(), config.React{MaxTasks: 5, MaxReplans: 3})

	chunks := collect(t, svc, "", "hi", nil)
	require.NotEmpty(t, chunks)

	sid := chunks[0].SessionID
	assert.NotEmpty(t, sid)
	for _, c := range chunks {
		assert.Equal(t, sid, c.SessionID)
	}

	types := make([]string, len(chunks))
	for i, c := range chunks {
		types[i] = c.ChunkType
	}
	assert.Equal(t, []string{ChunkStatus, ChunkContent, ChunkCompletion}, types)

	// The assistant reply lands in persisted history.
	saved, err := store.Load(sid)
	require.NoError(t, err)
	require.Len(t, saved.History, 2)
	assert.Equal(t, model.RoleUser, saved.History[0].Role)
	assert.Equal(t, model.RoleAssistant, saved.History[1].Role)
}

func TestExecuteResumesHistory(t *testing.T) {
	svc, store := newService(t, model.NewScripted(), config.React{MaxTasks: 5, MaxReplans: 3})

	collect(t, svc, "s1", "hi", nil)
	collect(t, svc, "s1", "thanks", nil)

	saved, err := store.Load("s1")
	require.NoError(t, err)
	require.Len(t, saved.History, 4)
	assert.Equal(t, "hi", saved.History[0].Content)
	assert.Equal(t, "thanks", saved.History[2].Content)
}

func TestExecuteTaskRun(t *testing.T) {
	planJSON := `[{"id":"t1","description":"read the report","tool":"file_read","args":{"file_path":"report.txt"}}]`
	provider := model.NewScripted("TASK", planJSON, "CONTINUE", "Here is the report.")
	svc, _ := newService(t, provider, config.React{MaxTasks: 5, MaxReplans: 3, MaxTaskRetries: 1})

	chunks := collect(t, svc, "s1", "read report.txt", nil)

	var types []string
	for _, c := range chunks {
		types = append(types, c.ChunkType)
	}
	assert.Equal(t, []string{
		ChunkStatus,     // thinking
		ChunkTaskInit,   // plan
		ChunkTaskInit,   // execution order
		ChunkStatus,     // running file_read
		ChunkToolOutput, // t1 result
		ChunkCompletion,
	}, types)

	last := chunks[len(chunks)-1]
	assert.Equal(t, "Here is the report.", last.Text)
	assert.Equal(t, 1, last.Metadata["tasks"])
}

func TestExecuteConfirmationContinuation(t *testing.T) {
	planJSON := `[{"id":"t1","description":"read the report","tool":"file_read","args":{"file_path":"report.txt"}}]`
	provider := model.NewScripted("TASK", planJSON, "CONTINUE", "done")
	svc, _ := newService(t, provider, config.React{
		MaxTasks:                   5,
		MaxReplans:                 3,
		ConfirmByHuman:             true,
		ConfirmationTimeoutSeconds: 60,
	})

	chunks := collect(t, svc, "s1", "read report.txt", func(c *Chunk) {
		if c.ChunkType != ChunkConfirmationRequest {
			return
		}
		assert.True(t, c.StreamPaused)
		// The continuation message arrives as its own Execute call while
		// the run stream is paused on the confirmation.
		resolution := collect(t, svc, "s1", "CONFIRM_ACTION:confirm", nil)
		require.Len(t, resolution, 1)
		assert.Equal(t, ChunkStatus, resolution[0].ChunkType)
		assert.Contains(t, resolution[0].Text, "confirm accepted")
	})

	last := chunks[len(chunks)-1]
	assert.Equal(t, ChunkCompletion, last.ChunkType)

	var received *Chunk
	for _, c := range chunks {
		if c.ChunkType == ChunkConfirmationReceived {
			received = c
		}
	}
	require.NotNil(t, received)
	assert.Equal(t, "confirm", received.Action)
}

func TestSubmitConfirmationErrors(t *testing.T) {
	svc, _ := newService(t, model.NewScripted(), config.React{MaxTasks: 5, MaxReplans: 3})

	bad := collect(t, svc, "s1", "CONFIRM_ACTION:perhaps", nil)
	require.Len(t, bad, 1)
	assert.Equal(t, ChunkError, bad[0].ChunkType)
	assert.Equal(t, "InvalidConfirmation", bad[0].Category)

	// Valid verdict but nothing pending for the session.
	stale := collect(t, svc, "s1", "CONFIRM_ACTION:confirm", nil)
	require.Len(t, stale, 1)
	assert.Equal(t, ChunkError, stale[0].ChunkType)
	assert.Equal(t, "UnknownConfirmation", stale[0].Category)
}
