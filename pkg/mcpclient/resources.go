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
	"errors"
	"fmt"

	"github.com/stewardai/steward/pkg/jsonrpc"
)

// Resource is one entry of a resources/list response.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is one content block of a resources/read response.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

type resourceListResult struct {
	Resources []Resource `json:"resources"`
}

type resourceReadResult struct {
	Contents []ResourceContent `json:"contents"`
}

// Resources lists the server's resources. Servers that never advertise
// resources answer method-not-found, which is reported as an empty list.
func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	conn, err := c.callableConn()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	raw, err := conn.Call(callCtx, jsonrpc.MethodResourcesList, nil)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == jsonrpc.CodeMethodNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("listing resources on %s: %w", c.name, err)
	}

	var result resourceListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing resource list from %s: %w", c.name, err)
	}
	return result.Resources, nil
}

// ReadResource fetches one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	if uri == "" {
		return nil, fmt.Errorf("mcpclient: resource uri is required")
	}
	conn, err := c.callableConn()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	raw, err := conn.Call(callCtx, jsonrpc.MethodResourcesRead, map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", uri, c.name, err)
	}

	var result resourceReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing resource read from %s: %w", c.name, err)
	}
	return result.Contents, nil
}
