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

package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stewardai/steward/pkg/jsonrpc"
	"github.com/stewardai/steward/pkg/tool"
	"github.com/stewardai/steward/pkg/version"
)

// ProtocolVersion is the newest wire revision this client speaks.
const ProtocolVersion = "2025-03-26"

// ServerInfo is the identity a server reports during initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities is the capability object from the initialize
// response. Servers predating the progress extension omit most fields.
type ServerCapabilities struct {
	Tools struct {
		ListChanged bool `json:"listChanged"`
		Progress    bool `json:"progress"`
	} `json:"tools"`
	Experimental map[string]json.RawMessage `json:"experimental"`

	// IsolatedLoop asks the host to run this server's calls on a
	// dedicated execution lane.
	IsolatedLoop bool `json:"isolated_loop"`
}

// progressCapable folds the two places a server may advertise the
// async-with-progress extension.
func (c ServerCapabilities) progressCapable() bool {
	if c.Tools.Progress {
		return true
	}
	_, ok := c.Experimental["call_async"]
	return ok
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      ServerInfo `json:"clientInfo"`
	Capabilities    struct {
		Progress bool `json:"progress"`
	} `json:"capabilities"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// handshake runs initialize followed by notifications/initialized.
func (c *Client) handshake(ctx context.Context, conn *jsonrpc.Conn) (*initializeResult, error) {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ServerInfo{Name: "steward", Version: version.Version},
	}
	params.Capabilities.Progress = true

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	raw, err := conn.Call(callCtx, jsonrpc.MethodInitialize, params)
	if err != nil {
		return nil, err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("invalid initialize response: %w", err)
	}
	if result.ServerInfo.Name == "" {
		return nil, fmt.Errorf("initialize response missing serverInfo")
	}

	if err := conn.Notify(callCtx, jsonrpc.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("sending initialized: %w", err)
	}
	return &result, nil
}

// wireTool is one entry of a tools/list response.
type wireTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema"`
	Capabilities *struct {
		ReadOnly        bool `json:"read_only"`
		RequiresNetwork bool `json:"requires_network"`
		LongRunning     bool `json:"long_running"`
	} `json:"capabilities"`
	Annotations *struct {
		ReadOnlyHint  bool `json:"readOnlyHint"`
		OpenWorldHint bool `json:"openWorldHint"`
	} `json:"annotations"`
}

type toolListResult struct {
	Tools []wireTool `json:"tools"`
}

// parseToolList converts a tools/list response into descriptors owned by
// the named server. A server-level progress capability marks every
// long-running tool as progress-capable.
func parseToolList(raw json.RawMessage, server string, progressOK bool) ([]tool.Descriptor, error) {
	var result toolListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	descs := make([]tool.Descriptor, 0, len(result.Tools))
	for _, wt := range result.Tools {
		if wt.Name == "" {
			return nil, fmt.Errorf("tool with empty name in list")
		}
		d := tool.Descriptor{
			Name:        wt.Name,
			Description: wt.Description,
			InputSchema: wt.InputSchema,
			Server:      server,
		}
		switch {
		case wt.Capabilities != nil:
			d.Caps = tool.Capabilities{
				ReadOnly:        wt.Capabilities.ReadOnly,
				RequiresNetwork: wt.Capabilities.RequiresNetwork,
				LongRunning:     wt.Capabilities.LongRunning,
			}
		case wt.Annotations != nil:
			// Older servers only speak annotation hints.
			d.Caps = tool.Capabilities{
				ReadOnly:        wt.Annotations.ReadOnlyHint,
				RequiresNetwork: wt.Annotations.OpenWorldHint,
			}
		}
		d.Caps.ProgressCapable = progressOK && d.Caps.LongRunning
		descs = append(descs, d)
	}
	return descs, nil
}
