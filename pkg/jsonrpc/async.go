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

package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// Progress carries one tools/progress notification.
type Progress struct {
	TaskID      string          `json:"task_id"`
	Step        int             `json:"step"`
	ProgressPct *float64        `json:"progress_pct,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       string          `json:"state"`
}

// AsyncItem is one element of an async call stream: either a progress
// update or the terminal result/error.
type AsyncItem struct {
	Progress *Progress
	Result   json.RawMessage
	Err      error
}

// Terminal reports whether this item ends the stream.
func (it *AsyncItem) Terminal() bool { return it.Progress == nil }

// asyncAck is the immediate acknowledgement of tools/call_async.
type asyncAck struct {
	TaskID string `json:"task_id"`
}

// asyncResult is the params shape of a tools/result notification.
type asyncResult struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result"`
}

// callAsyncParams is the params shape of tools/call_async.
type callAsyncParams struct {
	Name           string         `json:"name"`
	Arguments      map[string]any `json:"arguments"`
	EnableProgress bool           `json:"enable_progress"`
	Timeout        int            `json:"timeout,omitempty"`
}

// CallParams is the params shape of tools/call.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallTool performs a synchronous tools/call and returns the raw result.
func (c *Conn) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.Call(ctx, MethodToolsCall, CallParams{Name: name, Arguments: args})
}

// CallToolAsync performs a long-running call using the progress
// extension, yielding progress items followed by exactly one terminal
// item. Against a server that is not progress-capable it downgrades to a
// synchronous tools/call and yields a single terminal item of identical
// shape.
func (c *Conn) CallToolAsync(ctx context.Context, name string, args map[string]any, timeout time.Duration) iter.Seq2[*AsyncItem, error] {
	return func(yield func(*AsyncItem, error) bool) {
		if !c.ProgressCapable() {
			result, err := c.CallTool(ctx, name, args)
			if err != nil {
				yield(&AsyncItem{Err: err}, nil)
				return
			}
			yield(&AsyncItem{Result: result}, nil)
			return
		}

		params := callAsyncParams{
			Name:           name,
			Arguments:      args,
			EnableProgress: true,
			Timeout:        int(timeout.Seconds()),
		}
		c.expectAsync()
		raw, err := c.Call(ctx, MethodToolsCallAsync, params)
		if err != nil {
			c.settleAsync()
			yield(&AsyncItem{Err: err}, nil)
			return
		}

		var ack asyncAck
		if err := json.Unmarshal(raw, &ack); err != nil || ack.TaskID == "" {
			c.settleAsync()
			yield(&AsyncItem{Err: fmt.Errorf("invalid call_async acknowledgement: %s", string(raw))}, nil)
			return
		}

		items := c.registerAsync(ack.TaskID)
		c.settleAsync()
		defer c.unregisterAsync(ack.TaskID)

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		for {
			select {
			case item := <-items:
				if !yield(item, nil) {
					return
				}
				if item.Terminal() {
					return
				}
			case <-deadline.C:
				yield(&AsyncItem{Err: fmt.Errorf("%w: async call %s", ErrTimeout, name)}, nil)
				return
			case <-ctx.Done():
				yield(&AsyncItem{Err: ctx.Err()}, nil)
				return
			}
		}
	}
}

// expectAsync opens a buffering window for notifications that race
// ahead of a call_async acknowledgement.
func (c *Conn) expectAsync() {
	c.asyncMu.Lock()
	c.asyncExpect++
	c.asyncMu.Unlock()
}

// settleAsync closes one buffering window. With no acknowledgement
// outstanding, unclaimed buffered items belong to abandoned tasks and
// are dropped.
func (c *Conn) settleAsync() {
	c.asyncMu.Lock()
	if c.asyncExpect--; c.asyncExpect <= 0 {
		c.asyncExpect = 0
		c.asyncBuffer = make(map[string][]*AsyncItem)
	}
	c.asyncMu.Unlock()
}

// registerAsync opens the routing channel for a task id, replaying any
// items that arrived before the acknowledgement was processed. The
// channel is sized past the replayed backlog so the replay never blocks
// under asyncMu.
func (c *Conn) registerAsync(taskID string) chan *AsyncItem {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	buffered := c.asyncBuffer[taskID]
	ch := make(chan *AsyncItem, 32+len(buffered))
	c.asyncChans[taskID] = ch
	for _, item := range buffered {
		ch <- item
	}
	delete(c.asyncBuffer, taskID)
	return ch
}

func (c *Conn) unregisterAsync(taskID string) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	delete(c.asyncChans, taskID)
	delete(c.asyncBuffer, taskID)
}

// routeProgress delivers a tools/progress notification to its stream.
func (c *Conn) routeProgress(params json.RawMessage) {
	var p Progress
	if err := json.Unmarshal(params, &p); err != nil || p.TaskID == "" {
		slog.Warn("dropping malformed tools/progress notification", "error", err)
		return
	}
	c.routeAsync(p.TaskID, &AsyncItem{Progress: &p})
}

// routeResult delivers a tools/result notification, terminating its stream.
func (c *Conn) routeResult(params json.RawMessage) {
	var r asyncResult
	if err := json.Unmarshal(params, &r); err != nil || r.TaskID == "" {
		slog.Warn("dropping malformed tools/result notification", "error", err)
		return
	}
	c.routeAsync(r.TaskID, &AsyncItem{Result: r.Result})
}

func (c *Conn) routeAsync(taskID string, item *AsyncItem) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	if ch, ok := c.asyncChans[taskID]; ok {
		select {
		case ch <- item:
		default:
			slog.Warn("async stream backlog full, dropping item", "task_id", taskID)
		}
		return
	}

	// Buffer only while an acknowledgement is outstanding; anything
	// else belongs to an abandoned task and is dropped.
	if c.asyncExpect > 0 {
		c.asyncBuffer[taskID] = append(c.asyncBuffer[taskID], item)
		return
	}
	slog.Debug("dropping item for unknown async task", "task_id", taskID)
}

// failAsync terminates every open async stream when the connection dies.
func (c *Conn) failAsync(err error) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	for id, ch := range c.asyncChans {
		select {
		case ch <- &AsyncItem{Err: err}:
		default:
		}
		delete(c.asyncChans, id)
	}
	c.asyncBuffer = make(map[string][]*AsyncItem)
}
