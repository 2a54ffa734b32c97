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

package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{
			name: "valid chain",
			plan: Plan{Tasks: []Task{
				{ID: "a", Tool: "file_read"},
				{ID: "b", Tool: "file_write", Dependencies: []string{"a"}},
			}},
		},
		{
			name:    "empty id",
			plan:    Plan{Tasks: []Task{{Tool: "x"}}},
			wantErr: "empty id",
		},
		{
			name: "duplicate id",
			plan: Plan{Tasks: []Task{
				{ID: "a", Tool: "x"},
				{ID: "a", Tool: "y"},
			}},
			wantErr: "duplicate",
		},
		{
			name: "unknown dependency",
			plan: Plan{Tasks: []Task{
				{ID: "a", Tool: "x", Dependencies: []string{"ghost"}},
			}},
			wantErr: "unknown task",
		},
		{
			name: "self dependency",
			plan: Plan{Tasks: []Task{
				{ID: "a", Tool: "x", Dependencies: []string{"a"}},
			}},
			wantErr: "depends on itself",
		},
		{
			name: "cycle",
			plan: Plan{Tasks: []Task{
				{ID: "a", Tool: "x", Dependencies: []string{"b"}},
				{ID: "b", Tool: "y", Dependencies: []string{"a"}},
			}},
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTopologicalOrderStable(t *testing.T) {
	plan := Plan{Tasks: []Task{
		{ID: "fetch", Tool: "http_get"},
		{ID: "parse", Tool: "json_parse", Dependencies: []string{"fetch"}},
		{ID: "summarize", Tool: "llm", Dependencies: []string{"parse"}},
		{ID: "archive", Tool: "file_write", Dependencies: []string{"fetch"}},
	}}

	order, err := plan.TopologicalOrder()
	require.NoError(t, err)

	ids := make([]string, len(order))
	for i, task := range order {
		ids[i] = task.ID
	}
	// A single forward scan releases each task as soon as its deps have
	// been emitted, so planned sequence is preserved.
	assert.Equal(t, []string{"fetch", "parse", "summarize", "archive"}, ids)
}

func TestTopologicalOrderIndependentKeepsInsertion(t *testing.T) {
	plan := Plan{Tasks: []Task{
		{ID: "c", Tool: "x"},
		{ID: "a", Tool: "x"},
		{ID: "b", Tool: "x"},
	}}

	order, err := plan.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, "c", order[0].ID)
	assert.Equal(t, "a", order[1].ID)
	assert.Equal(t, "b", order[2].ID)
}

func TestGet(t *testing.T) {
	plan := Plan{Tasks: []Task{{ID: "a"}, {ID: "b"}}}

	got, ok := plan.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	// Get returns a pointer into the plan, so mutations stick.
	got.Status = StatusRunning
	assert.Equal(t, StatusRunning, plan.Tasks[1].Status)

	_, ok = plan.Get("missing")
	assert.False(t, ok)
}

func TestDangerous(t *testing.T) {
	assert.True(t, (&Task{Type: TypeShell}).Dangerous())
	assert.True(t, (&Task{Type: TypeNetwork}).Dangerous())
	assert.True(t, (&Task{Type: TypeFile}).Dangerous())
	assert.False(t, (&Task{Type: TypeSearch}).Dangerous())
	assert.False(t, (&Task{Type: TypeContent}).Dangerous())
	assert.False(t, (&Task{Type: TypeOther}).Dangerous())
}

func TestAnyDangerous(t *testing.T) {
	safe := Plan{Tasks: []Task{{ID: "a", Type: TypeSearch}, {ID: "b", Type: TypeContent}}}
	assert.False(t, safe.AnyDangerous())

	mixed := Plan{Tasks: []Task{{ID: "a", Type: TypeSearch}, {ID: "b", Type: TypeShell}}}
	assert.True(t, mixed.AnyDangerous())
}

func TestSummary(t *testing.T) {
	plan := Plan{Tasks: []Task{
		{ID: "t1", Tool: "file_read", Description: "read the config"},
		{ID: "t2", Tool: "shell_exec", Description: "run the build"},
	}}

	s := plan.Summary()
	assert.Contains(t, s, "1. [file_read] read the config (t1)")
	assert.Contains(t, s, "2. [shell_exec] run the build (t2)")
}
