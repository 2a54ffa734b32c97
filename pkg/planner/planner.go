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

// Package planner turns a user message into either a plan of tool
// invocations or a direct conversational response.
//
// Planning is layered: deterministic regex fast paths answer trivial
// greetings without an AI call; a short classification decides task
// versus conversation; scope rules can elevate a message to a task
// request; decomposition produces candidate tasks that are validated
// against the registry, with a bounded retry when the AI names an
// unknown tool.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/task"
	"github.com/stewardai/steward/pkg/tool"
)

// maxDecomposeAttempts bounds retries when decomposition names unknown
// tools.
const maxDecomposeAttempts = 3

// Error is a planning failure surfaced to the user.
type Error struct {
	Message     string
	Suggestions []string
}

func (e *Error) Error() string {
	if len(e.Suggestions) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (suggestions: %s)", e.Message, strings.Join(e.Suggestions, ", "))
}

// Result is the planner's output: exactly one of Response (the message
// was conversational) or Plan is set.
type Result struct {
	Conversational bool
	Response       string
	Plan           *task.Plan

	// ScopeHints carries auto-populated context produced by scope
	// detection, folded into downstream prompts.
	ScopeHints map[string]string
}

// Planner builds plans from user input.
type Planner struct {
	provider model.Provider
	registry *tool.Registry
	maxTasks int
	log      *slog.Logger
}

// New creates a planner. maxTasks caps plan size; exceeding it is an
// error, never a truncation.
func New(provider model.Provider, registry *tool.Registry, maxTasks int) *Planner {
	if maxTasks <= 0 {
		maxTasks = 20
	}
	return &Planner{
		provider: provider,
		registry: registry,
		maxTasks: maxTasks,
		log:      slog.Default().With("component", "planner"),
	}
}

// Plan classifies and, when tools are needed, decomposes the input.
// notes carries evaluation feedback from a prior round during replans.
func (p *Planner) Plan(ctx context.Context, input string, history []model.Message, notes string) (*Result, error) {
	if reply, ok := fastPath(input); ok {
		p.log.Debug("fast path hit", "input", input)
		return &Result{Conversational: true, Response: reply}, nil
	}

	hints := detectScope(input)

	// Scope rules force task mode; otherwise ask the model.
	if len(hints) == 0 && notes == "" {
		isTask, err := p.classify(ctx, input, history)
		if err != nil {
			return nil, fmt.Errorf("classifying input: %w", err)
		}
		if !isTask {
			reply, err := p.converse(ctx, input, history)
			if err != nil {
				return nil, fmt.Errorf("generating response: %w", err)
			}
			return &Result{Conversational: true, Response: reply}, nil
		}
	}

	plan, err := p.decompose(ctx, input, history, notes, hints)
	if err != nil {
		return nil, err
	}
	return &Result{Plan: plan, ScopeHints: hints}, nil
}

// classify runs the short task-or-conversation pre-judgement.
func (p *Planner) classify(ctx context.Context, input string, history []model.Message) (bool, error) {
	messages := append(trimHistory(history), model.Message{Role: model.RoleUser, Content: input})
	resp, err := p.provider.Complete(ctx, model.Request{
		System:    classifySystemPrompt,
		Messages:  messages,
		MaxTokens: 8,
	})
	if err != nil {
		return false, err
	}
	verdict := strings.ToUpper(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(verdict, "TASK"), nil
}

// converse produces the direct reply for a conversational message.
func (p *Planner) converse(ctx context.Context, input string, history []model.Message) (string, error) {
	messages := append(trimHistory(history), model.Message{Role: model.RoleUser, Content: input})
	resp, err := p.provider.Complete(ctx, model.Request{
		System:   converseSystemPrompt,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// decompose asks the model for tasks and validates them against the
// registry, retrying with a normalized-name hint on unknown tools.
func (p *Planner) decompose(ctx context.Context, input string, history []model.Message, notes string, hints map[string]string) (*task.Plan, error) {
	system := decomposeSystemPrompt(p.registry.List(), p.maxTasks, hints)

	prompt := input
	if notes != "" {
		prompt = fmt.Sprintf("%s\n\nFeedback from the previous attempt:\n%s", input, notes)
	}

	var hint string
	var lastSuggestions []string
	for attempt := 1; attempt <= maxDecomposeAttempts; attempt++ {
		content := prompt
		if hint != "" {
			content += "\n\n" + hint
		}
		messages := append(trimHistory(history), model.Message{Role: model.RoleUser, Content: content})

		resp, err := p.provider.Complete(ctx, model.Request{System: system, Messages: messages})
		if err != nil {
			return nil, fmt.Errorf("decomposition call failed: %w", err)
		}

		plan, unknown, err := p.parsePlan(resp.Content)
		if err != nil {
			p.log.Warn("unparseable plan, retrying", "attempt", attempt, "error", err)
			hint = "Your previous answer was not valid JSON. Reply with only the JSON array of tasks."
			continue
		}
		if len(unknown) > 0 {
			lastSuggestions = nil
			var lines []string
			for name, suggestion := range unknown {
				if suggestion != "" {
					lines = append(lines, fmt.Sprintf("%q is unknown; the closest available tool is %q", name, suggestion))
					lastSuggestions = append(lastSuggestions, suggestion)
				} else {
					lines = append(lines, fmt.Sprintf("%q is unknown", name))
				}
			}
			p.log.Warn("plan references unknown tools, retrying", "attempt", attempt, "unknown", len(unknown))
			hint = "Some tool names were invalid:\n" + strings.Join(lines, "\n") +
				"\nUse only the tool names listed in the instructions."
			continue
		}

		return p.finalize(plan)
	}

	return nil, &Error{
		Message:     fmt.Sprintf("could not produce a valid plan after %d attempts", maxDecomposeAttempts),
		Suggestions: lastSuggestions,
	}
}

// wireTask is the decomposition JSON shape.
type wireTask struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Tool         string         `json:"tool"`
	Args         map[string]any `json:"args"`
	Expected     string         `json:"expected"`
	Priority     int            `json:"priority"`
	Dependencies []string       `json:"dependencies"`
	Type         string         `json:"type"`
}

// parsePlan parses the model output into a plan and collects unknown
// tool names with their fuzzy suggestions.
func (p *Planner) parsePlan(content string) (*task.Plan, map[string]string, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, nil, err
	}

	var wire []wireTask
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, nil, fmt.Errorf("parsing tasks: %w", err)
	}

	unknown := make(map[string]string)
	plan := &task.Plan{Tasks: make([]task.Task, 0, len(wire))}
	now := time.Now()
	for i, wt := range wire {
		if wt.Tool == "" {
			return nil, nil, fmt.Errorf("task %d has no tool", i)
		}
		if !p.registry.Has(wt.Tool) {
			var nf *tool.NotFoundError
			if _, err := p.registry.Resolve(wt.Tool); errors.As(err, &nf) {
				unknown[wt.Tool] = nf.Suggestion
			} else {
				unknown[wt.Tool] = ""
			}
			continue
		}
		id := wt.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		plan.Tasks = append(plan.Tasks, task.Task{
			ID:           id,
			Description:  wt.Description,
			Tool:         wt.Tool,
			Args:         wt.Args,
			Expected:     wt.Expected,
			Priority:     wt.Priority,
			Dependencies: wt.Dependencies,
			Type:         task.Type(wt.Type),
			Status:       task.StatusPlanned,
			CreatedAt:    now,
		})
	}
	if len(unknown) > 0 {
		return nil, unknown, nil
	}
	return plan, nil, nil
}

// finalize enforces the task cap, normalizes arguments against each
// tool's schema, fills type tags and validates the dependency graph.
func (p *Planner) finalize(plan *task.Plan) (*task.Plan, error) {
	if len(plan.Tasks) == 0 {
		return nil, &Error{Message: "the plan contains no tasks"}
	}
	if len(plan.Tasks) > p.maxTasks {
		return nil, &Error{Message: fmt.Sprintf("plan has %d tasks, exceeding the cap of %d", len(plan.Tasks), p.maxTasks)}
	}

	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		desc, err := p.registry.Describe(t.Tool)
		if err != nil {
			return nil, &Error{Message: err.Error()}
		}

		args, err := p.registry.NormalizeArgs(desc, t.Args)
		if err != nil {
			return nil, &Error{Message: err.Error()}
		}
		if err := tool.ValidateArgs(desc, args); err != nil {
			return nil, &Error{Message: fmt.Sprintf("task %s: %v", t.ID, err)}
		}
		t.Args = args

		if t.Type == "" {
			t.Type = typeOf(desc)
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, &Error{Message: err.Error()}
	}
	return plan, nil
}

// typeOf derives the type tag from the descriptor when the model did
// not set one.
func typeOf(desc tool.Descriptor) task.Type {
	short := strings.ToLower(desc.ShortName())
	switch {
	case desc.Caps.ReadOnly:
		return task.TypeSearch
	case strings.Contains(short, "shell") || strings.Contains(short, "exec"):
		return task.TypeShell
	case desc.Caps.RequiresNetwork:
		return task.TypeNetwork
	case strings.Contains(short, "file") || strings.Contains(short, "write"):
		return task.TypeFile
	default:
		return task.TypeOther
	}
}

// trimHistory bounds the context window to the recent turns.
func trimHistory(history []model.Message) []model.Message {
	const maxTurns = 20
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	out := make([]model.Message, len(history))
	copy(out, history)
	return out
}
