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

// Package task defines the planned unit of work and the plan that
// orders it. Tasks are created by the planner, possibly modified during
// confirmation, and mutated by the engine as they execute; they are
// never deleted, only superseded on replan.
package task

import (
	"fmt"
	"time"
)

// Status is the lifecycle position of one task.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Type tags a task with the broad kind of work it does.
type Type string

const (
	TypeFile    Type = "file"
	TypeShell   Type = "shell"
	TypeSearch  Type = "search"
	TypeNetwork Type = "network"
	TypeContent Type = "content"
	TypeOther   Type = "other"
)

// Task is one planned tool invocation.
type Task struct {
	ID           string         `json:"id" yaml:"id"`
	Description  string         `json:"description" yaml:"description"`
	Tool         string         `json:"tool" yaml:"tool"`
	Args         map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Expected     string         `json:"expected,omitempty" yaml:"expected,omitempty"`
	Priority     int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Type         Type           `json:"type,omitempty" yaml:"type,omitempty"`
	Status       Status         `json:"status" yaml:"status"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Dangerous reports whether the task should trigger human confirmation
// when auto-confirmation of safe tasks is enabled. Shell and network
// work is always considered risky; file work is risky unless the tool
// descriptor said read-only, which the planner folds into the type tag.
func (t *Task) Dangerous() bool {
	switch t.Type {
	case TypeShell, TypeNetwork:
		return true
	case TypeFile:
		return true
	default:
		return false
	}
}

// Plan is a topologically ordered list of tasks.
type Plan struct {
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Get returns the task with the given id.
func (p *Plan) Get(id string) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// Validate checks plan-level invariants: unique ids, known dependency
// references, and an acyclic dependency graph.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
		}
	}
	if _, err := p.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns the tasks in dependency order. Ties break by
// insertion order, so equal-priority candidates keep their planned
// sequence. Returns an error when the graph has a cycle.
func (p *Plan) TopologicalOrder() ([]*Task, error) {
	indegree := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string, len(p.Tasks))
	byID := make(map[string]*Task, len(p.Tasks))

	for i := range p.Tasks {
		t := &p.Tasks[i]
		byID[t.ID] = t
		indegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var order []*Task
	// Repeated insertion-order scan keeps the output stable without a
	// priority queue.
	emitted := make(map[string]bool, len(p.Tasks))
	for len(order) < len(p.Tasks) {
		progressed := false
		for i := range p.Tasks {
			t := &p.Tasks[i]
			if emitted[t.ID] || indegree[t.ID] != 0 {
				continue
			}
			emitted[t.ID] = true
			order = append(order, t)
			for _, id := range dependents[t.ID] {
				indegree[id]--
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among tasks")
		}
	}
	return order, nil
}

// Summary renders a short human-readable digest of the plan, used in
// confirmation prompts.
func (p *Plan) Summary() string {
	out := ""
	for i, t := range p.Tasks {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%d. [%s] %s (%s)", i+1, t.Tool, t.Description, t.ID)
	}
	return out
}

// AnyDangerous reports whether at least one task is risky.
func (p *Plan) AnyDangerous() bool {
	for i := range p.Tasks {
		if p.Tasks[i].Dangerous() {
			return true
		}
	}
	return false
}
