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

package react

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stewardai/steward/pkg/task"
)

// UpdateKind discriminates the engine's output stream.
type UpdateKind string

const (
	UpdateStatus               UpdateKind = "status_update"
	UpdateTaskPlan             UpdateKind = "task_plan"
	UpdateTaskInit             UpdateKind = "task_init"
	UpdateToolExecution        UpdateKind = "tool_execution"
	UpdateToolProgress         UpdateKind = "tool_progress"
	UpdateSubTaskResult        UpdateKind = "sub_task_result"
	UpdateConfirmationRequest  UpdateKind = "confirmation_request"
	UpdateConfirmationReceived UpdateKind = "confirmation_received"
	UpdateConversational       UpdateKind = "conversational_response"
	UpdateFinalResult          UpdateKind = "final_result"
	UpdateError                UpdateKind = "error"
)

// ConfirmationRequest is the payload of a confirmation_request update.
type ConfirmationRequest struct {
	SessionID      string `json:"session_id"`
	TasksSummary   string `json:"tasks_summary"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Round          int    `json:"round"`
	RiskLevel      string `json:"risk_level"`
}

// Update is one item of the engine's output stream.
type Update struct {
	Kind UpdateKind `json:"kind"`

	// Text carries the human-readable payload for status, response,
	// result and error updates.
	Text string `json:"text,omitempty"`

	// Tasks is set on task_plan; Replanned marks plans after round one.
	Tasks     []task.Task `json:"tasks,omitempty"`
	Replanned bool        `json:"replanned,omitempty"`

	// TaskIDs is set on task_init.
	TaskIDs []string `json:"task_ids,omitempty"`

	// Task-scoped fields.
	TaskID      string `json:"task_id,omitempty"`
	Tool        string `json:"tool,omitempty"`
	ArgsSummary string `json:"args_summary,omitempty"`
	Progress    any    `json:"progress,omitempty"`

	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`

	// Action is set on confirmation_received.
	Action string `json:"action,omitempty"`

	// Category is set on error updates.
	Category string `json:"category,omitempty"`

	// Metadata is set on final_result.
	Metadata map[string]any `json:"metadata,omitempty"`
}

func statusUpdate(text string) *Update {
	return &Update{Kind: UpdateStatus, Text: text}
}

func taskPlanUpdate(plan *task.Plan, replanned bool) *Update {
	tasks := make([]task.Task, len(plan.Tasks))
	copy(tasks, plan.Tasks)
	return &Update{Kind: UpdateTaskPlan, Tasks: tasks, Replanned: replanned}
}

func taskInitUpdate(plan *task.Plan) *Update {
	ids := make([]string, len(plan.Tasks))
	for i := range plan.Tasks {
		ids[i] = plan.Tasks[i].ID
	}
	return &Update{Kind: UpdateTaskInit, TaskIDs: ids}
}

func toolExecutionUpdate(t *task.Task) *Update {
	return &Update{
		Kind:        UpdateToolExecution,
		TaskID:      t.ID,
		Tool:        t.Tool,
		ArgsSummary: summarizeArgs(t.Args),
	}
}

func toolProgressUpdate(taskID string, payload any) *Update {
	return &Update{Kind: UpdateToolProgress, TaskID: taskID, Progress: payload}
}

func subTaskResultUpdate(taskID, outcome string) *Update {
	return &Update{Kind: UpdateSubTaskResult, TaskID: taskID, Text: outcome}
}

func errorUpdate(category, text string) *Update {
	return &Update{Kind: UpdateError, Category: category, Text: text}
}

// redactedKeys are argument names whose values never appear in
// summaries.
var redactedKeys = []string{"key", "token", "password", "secret", "credential"}

// summarizeArgs renders a compact, redacted view of an argument map for
// the update stream.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%s", k, summarizeValue(k, v)))
	}
	// Map order is random; sort for stable output.
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}

func summarizeValue(key string, v any) string {
	lower := strings.ToLower(key)
	for _, r := range redactedKeys {
		if strings.Contains(lower, r) {
			return "[redacted]"
		}
	}
	s := fmt.Sprintf("%v", v)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
