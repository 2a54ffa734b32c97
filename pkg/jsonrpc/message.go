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

// Package jsonrpc implements JSON-RPC 2.0 over a transport, including
// the progress extension for long-running tool calls.
//
// A Conn owns a single receiver goroutine that demultiplexes the inbound
// stream into responses (matched to their request by id), notifications
// (dispatched by method name), and protocol errors. Requests get numeric
// ids from a monotonic counter; a response with an unknown id is logged
// and discarded.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// Standard methods spoken with tool servers.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodInitialized   = "notifications/initialized"

	// Progress extension.
	MethodToolsCallAsync = "tools/call_async"
	MethodToolsProgress  = "tools/progress"
	MethodToolsResult    = "tools/result"
	MethodToolsChanged   = "tools/changed"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// -32000..-32099 are reserved for tool/server errors.
	CodeServerErrorMax = -32000
	CodeServerErrorMin = -32099
)

// Message is the wire shape shared by requests, responses and
// notifications. Exactly one of the three shapes is valid:
// request (id+method), response (id + result|error), notification (method).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// cause is set when the error is synthesized locally rather than
	// decoded off the wire, so callers can match sentinels through it.
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Unwrap exposes the local cause of a synthesized error. Errors decoded
// off the wire have none.
func (e *Error) Unwrap() error { return e.cause }

// IsRequest reports whether the message is a request.
func (m *Message) IsRequest() bool {
	return len(m.ID) > 0 && m.Method != ""
}

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool {
	return len(m.ID) > 0 && m.Method == "" && (len(m.Result) > 0 || m.Error != nil)
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return len(m.ID) == 0 && m.Method != ""
}

// ResponseID parses the numeric id of a response. Ids issued by this
// package are always integers.
func (m *Message) ResponseID() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// NewRequest builds a request message.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return raw, nil
}

// Encode serializes a message for the wire.
func Encode(m *Message) ([]byte, error) {
	if m.JSONRPC != Version {
		return nil, fmt.Errorf("invalid jsonrpc version %q", m.JSONRPC)
	}
	return json.Marshal(m)
}

// Decode parses a wire payload into a message and validates its shape.
func Decode(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, &Error{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)}
	}
	if m.JSONRPC != Version {
		return nil, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported version %q", m.JSONRPC)}
	}
	if !m.IsRequest() && !m.IsResponse() && !m.IsNotification() {
		return nil, &Error{Code: CodeInvalidRequest, Message: "message is neither request, response nor notification"}
	}
	return &m, nil
}
