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

package tool

import (
	"fmt"
	"time"
)

// ChunkKind discriminates the chunk variants.
type ChunkKind string

const (
	// KindProgress is a non-terminal status update.
	KindProgress ChunkKind = "progress"

	// KindSuccess is the successful terminal chunk.
	KindSuccess ChunkKind = "success"

	// KindError is the failing terminal chunk.
	KindError ChunkKind = "error"
)

// Error categories carried on error chunks. These mirror the runtime's
// error taxonomy so callers can branch without string matching.
const (
	CategoryTransportClosed = "TransportClosed"
	CategoryTimeout         = "Timeout"
	CategoryToolExecution   = "ToolExecutionError"
	CategoryToolNotFound    = "ToolNotFound"
	CategoryServerNotFound  = "ServerNotFound"
	CategoryServerDegraded  = "ServerDegraded"
	CategoryConcurrency     = "ConcurrencyExhausted"
	CategoryInvalidArgs     = "InvalidArguments"
)

// Chunk is one unit produced by a tool call.
type Chunk struct {
	Kind ChunkKind `json:"kind"`

	// Progress fields (Kind == KindProgress).
	Step    int      `json:"step,omitempty"`
	Pct     *float64 `json:"progress_pct,omitempty"`
	Status  string   `json:"status,omitempty"`
	Payload any      `json:"payload,omitempty"`

	// Success fields (Kind == KindSuccess).
	Output string   `json:"output,omitempty"`
	Meta   CallMeta `json:"meta,omitempty"`

	// Error fields (Kind == KindError).
	ErrCategory string `json:"error_category,omitempty"`
	ErrMessage  string `json:"error_message,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

// CallMeta is attached to successful terminal chunks.
type CallMeta struct {
	Duration time.Duration `json:"duration,omitempty"`
	Server   string        `json:"server,omitempty"`
	Tool     string        `json:"tool,omitempty"`
}

// Terminal reports whether the chunk ends the stream.
func (c *Chunk) Terminal() bool { return c.Kind != KindProgress }

// ProgressChunk builds a non-terminal status chunk.
func ProgressChunk(step int, status string, payload any) *Chunk {
	return &Chunk{Kind: KindProgress, Step: step, Status: status, Payload: payload}
}

// SuccessChunk builds the successful terminal chunk.
func SuccessChunk(output string, meta CallMeta) *Chunk {
	return &Chunk{Kind: KindSuccess, Output: output, Meta: meta}
}

// ErrorChunk builds the failing terminal chunk.
func ErrorChunk(category, message string, retryable bool) *Chunk {
	return &Chunk{Kind: KindError, ErrCategory: category, ErrMessage: message, Retryable: retryable}
}

// Errorf builds a non-retryable error chunk with a formatted message.
func Errorf(category, format string, args ...any) *Chunk {
	return ErrorChunk(category, fmt.Sprintf(format, args...), false)
}
