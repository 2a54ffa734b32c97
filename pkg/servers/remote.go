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

package servers

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"

	"github.com/stewardai/steward/pkg/jsonrpc"
	"github.com/stewardai/steward/pkg/mcpclient"
	"github.com/stewardai/steward/pkg/tool"
	"github.com/stewardai/steward/pkg/transport"
)

// remoteTool adapts one server-side tool to the Tool interface. The
// engine cannot tell it apart from a built-in.
type remoteTool struct {
	manager *Manager
	server  string
	short   string
	desc    tool.Descriptor
}

func (t *remoteTool) Descriptor() tool.Descriptor { return t.desc }

func (t *remoteTool) Call(ctx context.Context, args map[string]any) iter.Seq2[*tool.Chunk, error] {
	return t.manager.Dispatch(ctx, t.server, t.short, t.desc, args)
}

var _ tool.Tool = (*remoteTool)(nil)

// wireResult is the result shape of tools/call and tools/result.
type wireResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// resultToChunk converts a raw protocol result into a terminal chunk.
// Structured content blocks are concatenated; anything else is carried
// verbatim.
func resultToChunk(raw json.RawMessage, meta tool.CallMeta) *tool.Chunk {
	var wr wireResult
	if err := json.Unmarshal(raw, &wr); err == nil && len(wr.Content) > 0 {
		var sb strings.Builder
		for i, block := range wr.Content {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(block.Text)
		}
		if wr.IsError {
			return tool.ErrorChunk(tool.CategoryToolExecution, sb.String(), false)
		}
		return tool.SuccessChunk(sb.String(), meta)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return tool.SuccessChunk(s, meta)
	}
	return tool.SuccessChunk(string(raw), meta)
}

// callErrorChunk maps a dispatch error onto the error taxonomy.
func callErrorChunk(server, short string, err error) *tool.Chunk {
	var rpcErr *jsonrpc.Error

	switch {
	case errors.Is(err, mcpclient.ErrDegraded):
		return tool.ErrorChunk(tool.CategoryServerDegraded, err.Error(), true)
	case errors.Is(err, mcpclient.ErrNotReady), errors.Is(err, mcpclient.ErrClosed):
		return tool.ErrorChunk(tool.CategoryServerDegraded, err.Error(), true)
	case errors.Is(err, jsonrpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return tool.ErrorChunk(tool.CategoryTimeout, err.Error(), true)
	case errors.Is(err, jsonrpc.ErrConnClosed), errors.Is(err, transport.ErrClosed):
		return tool.ErrorChunk(tool.CategoryTransportClosed, err.Error(), true)
	case errors.As(err, &rpcErr):
		if rpcErr.Code == jsonrpc.CodeMethodNotFound {
			return tool.Errorf(tool.CategoryToolNotFound, "server %s does not expose %s", server, short)
		}
		return tool.ErrorChunk(tool.CategoryToolExecution, rpcErr.Error(), false)
	default:
		return tool.ErrorChunk(tool.CategoryToolExecution, err.Error(), false)
	}
}
