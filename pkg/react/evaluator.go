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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/session"
	"github.com/stewardai/steward/pkg/task"
	"github.com/stewardai/steward/pkg/tool"
)

// verdict actions
type verdictAction int

const (
	verdictContinue verdictAction = iota
	verdictRetrySame
	verdictReplan
	verdictAbort
)

type taskVerdict struct {
	action verdictAction
	notes  string
}

const evaluateSystemPrompt = `You assess whether a task execution achieved its expected outcome. Reply with exactly one word on the first line: CONTINUE, RETRY, REPLAN, or ABORT.
- CONTINUE: the outcome is acceptable, move to the next task.
- RETRY: a transient failure; running the same task again may work.
- REPLAN: the approach is wrong; a different plan is needed.
- ABORT: the request cannot be satisfied, stop entirely.
Optionally add one short line of reasoning after the verdict.`

// evaluateTask assesses one task's terminal result. An AI assessment
// is attempted first; any failure falls back to a deterministic rule.
func (e *Engine) evaluateTask(ctx context.Context, sess *session.Session, t *task.Task) taskVerdict {
	result, ok := sess.Results[t.ID]
	if !ok {
		return taskVerdict{action: verdictAbort, notes: "task produced no result"}
	}

	evalCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf("Task: %s\nExpected: %s\nStatus: %s\nOutput:\n%s",
		t.Description, t.Expected, t.Status, truncate(resultText(result), 2000))

	resp, err := e.provider.Complete(evalCtx, model.Request{
		System:    evaluateSystemPrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens: 100,
	})
	if err != nil {
		e.log.Debug("evaluation call failed, using deterministic fallback",
			"task", t.ID, "error", err)
		return fallbackVerdict(result)
	}

	verdict, notes := parseVerdict(resp.Content)
	if verdict == nil {
		e.log.Debug("unparseable evaluation, using deterministic fallback", "task", t.ID)
		return fallbackVerdict(result)
	}
	return taskVerdict{action: *verdict, notes: notes}
}

// fallbackVerdict is the deterministic rule: success continues;
// retryable failures retry; everything else replans.
func fallbackVerdict(result session.TaskResult) taskVerdict {
	if result.Succeeded() {
		return taskVerdict{action: verdictContinue}
	}
	switch result.Category {
	case tool.CategoryTimeout, tool.CategoryTransportClosed,
		tool.CategoryServerDegraded, tool.CategoryConcurrency:
		return taskVerdict{action: verdictRetrySame, notes: result.Error}
	default:
		return taskVerdict{action: verdictReplan, notes: result.Error}
	}
}

func parseVerdict(content string) (*verdictAction, string) {
	lines := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	word := strings.ToUpper(strings.TrimSpace(lines[0]))
	notes := ""
	if len(lines) > 1 {
		notes = strings.TrimSpace(lines[1])
	}

	var action verdictAction
	switch {
	case strings.HasPrefix(word, "CONTINUE"):
		action = verdictContinue
	case strings.HasPrefix(word, "RETRY"):
		action = verdictRetrySame
	case strings.HasPrefix(word, "REPLAN"):
		action = verdictReplan
	case strings.HasPrefix(word, "ABORT"):
		action = verdictAbort
	default:
		return nil, ""
	}
	return &action, notes
}

const finalizeSystemPrompt = `You summarize the outcome of an executed plan for the user. Be concise and concrete: what was done, what was produced, and anything the user should check. Reply in the user's language.`

// finalResult produces the overall evaluation text. A provider failure
// degrades to a mechanical summary of the task results.
func (e *Engine) finalResult(ctx context.Context, sess *session.Session, plan *task.Plan) string {
	evalCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Request: %s\n\nExecuted tasks:\n", sess.Input)
	for _, t := range plan.Tasks {
		result := sess.Results[t.ID]
		fmt.Fprintf(&sb, "- %s (%s): %s\n  %s\n",
			t.Description, t.Tool, t.Status, truncate(resultText(result), 1000))
	}

	resp, err := e.provider.Complete(evalCtx, model.Request{
		System:   finalizeSystemPrompt,
		Messages: []model.Message{{Role: model.RoleUser, Content: sb.String()}},
	})
	if err != nil {
		e.log.Debug("final evaluation failed, using mechanical summary", "error", err)
		return mechanicalSummary(sess, plan)
	}
	return strings.TrimSpace(resp.Content)
}

// mechanicalSummary concatenates task outcomes without an AI pass.
func mechanicalSummary(sess *session.Session, plan *task.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Completed %d tasks:\n", len(plan.Tasks))
	for _, t := range plan.Tasks {
		result := sess.Results[t.ID]
		fmt.Fprintf(&sb, "- %s: %s\n", t.Description, truncate(resultText(result), 300))
	}
	return sb.String()
}

func resultText(r session.TaskResult) string {
	if r.Succeeded() {
		return r.Output
	}
	return "error: " + r.Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
