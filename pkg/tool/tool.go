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

// Package tool defines the uniform tool surface: descriptors discovered
// from tool servers or declared by built-ins, the chunk stream every
// invocation produces, and the registry that resolves names to tools.
//
// Both built-in and remote tools implement the same Tool interface and
// yield the same chunk stream, so the engine cannot tell them apart.
package tool

import (
	"context"
	"iter"
	"strings"
)

// Capabilities are the descriptor flags advertised by a tool.
type Capabilities struct {
	// ReadOnly marks tools with no side effects; such tasks may run in
	// parallel and are never considered dangerous.
	ReadOnly bool `json:"read_only,omitempty"`

	// RequiresNetwork marks tools that reach outside the host.
	RequiresNetwork bool `json:"requires_network,omitempty"`

	// LongRunning marks tools that should be called through the
	// async-with-progress lane.
	LongRunning bool `json:"long_running,omitempty"`

	// ProgressCapable marks tools whose server streams progress.
	ProgressCapable bool `json:"progress_capable,omitempty"`
}

// Descriptor is the metadata for one resolvable tool.
type Descriptor struct {
	// Name is the resolved name: namespaced "server:tool" for remote
	// tools, plain for built-ins.
	Name string `json:"name"`

	// Description is shown to the planner model.
	Description string `json:"description"`

	// InputSchema is a JSON schema describing accepted arguments.
	InputSchema map[string]any `json:"input_schema,omitempty"`

	// Server is the originating server id; empty for built-ins.
	Server string `json:"server,omitempty"`

	// Caps are the capability flags.
	Caps Capabilities `json:"capabilities,omitempty"`
}

// ShortName strips the server namespace, if any.
func (d Descriptor) ShortName() string {
	if i := strings.IndexByte(d.Name, ':'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// Tool is a callable unit. Every invocation yields a lazy, finite chunk
// sequence ending in exactly one terminal chunk (Success or Error).
type Tool interface {
	// Descriptor returns the tool metadata.
	Descriptor() Descriptor

	// Call invokes the tool. Non-terminal chunks report progress;
	// the sequence ends at the first terminal chunk. A non-nil error
	// in the second position reports an infrastructure failure and
	// also terminates the sequence.
	Call(ctx context.Context, args map[string]any) iter.Seq2[*Chunk, error]
}

// Func adapts a plain function returning a single terminal chunk into a
// Tool. Used by built-ins without progress reporting.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, args map[string]any) *Chunk
}

func (f *Func) Descriptor() Descriptor { return f.Desc }

func (f *Func) Call(ctx context.Context, args map[string]any) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		yield(f.Fn(ctx, args), nil)
	}
}

var _ Tool = (*Func)(nil)
