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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/pkg/transport"
)

// fakeServer answers requests on the peer end of a pipe. The handler
// returns the raw result to send back, or an *Error.
type fakeServer struct {
	peer   *transport.PipeEnd
	handle func(method string, id json.RawMessage, params json.RawMessage)
}

func serve(t *testing.T, peer *transport.PipeEnd, handle func(method string, id json.RawMessage, params json.RawMessage)) {
	t.Helper()
	go func() {
		for {
			payload, err := peer.Receive(context.Background())
			if err != nil {
				return
			}
			var msg Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			handle(msg.Method, msg.ID, msg.Params)
		}
	}()
}

func respond(peer *transport.PipeEnd, id json.RawMessage, result any) {
	raw, _ := json.Marshal(result)
	payload, _ := json.Marshal(Message{JSONRPC: Version, ID: id, Result: raw})
	_ = peer.Send(context.Background(), payload)
}

func notify(peer *transport.PipeEnd, method string, params any) {
	raw, _ := json.Marshal(params)
	payload, _ := json.Marshal(Message{JSONRPC: Version, Method: method, Params: raw})
	_ = peer.Send(context.Background(), payload)
}

func TestDecodeShapes(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.True(t, msg.IsRequest())

	msg, err = Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	require.NoError(t, err)
	assert.True(t, msg.IsResponse())

	msg, err = Decode([]byte(`{"jsonrpc":"2.0","method":"tools/changed"}`))
	require.NoError(t, err)
	assert.True(t, msg.IsNotification())

	_, err = Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"jsonrpc":"2.0"}`))
	assert.Error(t, err)
}

func TestCallRoundTrip(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.Start()
	defer conn.Close()

	serve(t, peer, func(method string, id, params json.RawMessage) {
		respond(peer, id, map[string]string{"echo": method})
	})

	result, err := conn.Call(context.Background(), MethodPing, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"ping"}`, string(result))
}

func TestCallCorrelationOutOfOrder(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.Start()
	defer conn.Close()

	// Hold the first request's response until the second arrives, then
	// answer in reverse order.
	held := make(chan json.RawMessage, 1)
	serve(t, peer, func(method string, id, params json.RawMessage) {
		select {
		case first := <-held:
			respond(peer, id, map[string]string{"order": "second"})
			respond(peer, first, map[string]string{"order": "first"})
		default:
			held <- id
		}
	})

	type out struct {
		raw json.RawMessage
		err error
	}
	ch1 := make(chan out, 1)
	go func() {
		raw, err := conn.Call(context.Background(), "tools/list", nil)
		ch1 <- out{raw, err}
	}()
	// Give the first request time to be held before issuing the second.
	time.Sleep(50 * time.Millisecond)
	raw2, err := conn.Call(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order":"second"}`, string(raw2))

	r1 := <-ch1
	require.NoError(t, r1.err)
	assert.JSONEq(t, `{"order":"first"}`, string(r1.raw))
}

func TestCallErrorResponse(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.Start()
	defer conn.Close()

	serve(t, peer, func(method string, id, params json.RawMessage) {
		payload, _ := json.Marshal(Message{
			JSONRPC: Version,
			ID:      id,
			Error:   &Error{Code: CodeMethodNotFound, Message: "no such method"},
		})
		_ = peer.Send(context.Background(), payload)
	})

	_, err := conn.Call(context.Background(), "bogus", nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestCallTimeout(t *testing.T) {
	local, _ := transport.Pipe()
	conn := NewConn(local)
	conn.Start()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conn.Call(ctx, MethodPing, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNotificationHandler(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	got := make(chan json.RawMessage, 1)
	conn.HandleNotification(MethodToolsChanged, func(params json.RawMessage) {
		got <- params
	})
	conn.Start()
	defer conn.Close()

	notify(peer, MethodToolsChanged, map[string]any{"reason": "reload"})

	select {
	case params := <-got:
		assert.JSONEq(t, `{"reason":"reload"}`, string(params))
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler never ran")
	}
}

func TestClosedConnFailsInFlight(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.Start()

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Call(context.Background(), MethodPing, nil)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	_ = peer.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
		// The failure must stay matchable as a closed connection even
		// though it travels as a synthesized error object.
		assert.ErrorIs(t, err, ErrConnClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call never failed")
	}

	_, err := conn.Call(context.Background(), MethodPing, nil)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestCallToolAsyncDowngrade(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.SetProgressCapable(false)
	conn.Start()
	defer conn.Close()

	serve(t, peer, func(method string, id, params json.RawMessage) {
		require.Equal(t, MethodToolsCall, method)
		respond(peer, id, map[string]string{"output": "done"})
	})

	var items []*AsyncItem
	for item, err := range conn.CallToolAsync(context.Background(), "slow_tool", nil, time.Minute) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 1)
	assert.True(t, items[0].Terminal())
	assert.JSONEq(t, `{"output":"done"}`, string(items[0].Result))
}

func TestCallToolAsyncProgressStream(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.SetProgressCapable(true)
	conn.Start()
	defer conn.Close()

	serve(t, peer, func(method string, id, params json.RawMessage) {
		require.Equal(t, MethodToolsCallAsync, method)
		respond(peer, id, asyncAck{TaskID: "t-1"})
		notify(peer, MethodToolsProgress, Progress{TaskID: "t-1", Step: 1, State: "running"})
		notify(peer, MethodToolsProgress, Progress{TaskID: "t-1", Step: 2, State: "running"})
		notify(peer, MethodToolsResult, asyncResult{TaskID: "t-1", Result: json.RawMessage(`{"ok":true}`)})
	})

	var items []*AsyncItem
	for item, err := range conn.CallToolAsync(context.Background(), "slow_tool", nil, time.Minute) {
		require.NoError(t, err)
		require.NoError(t, item.Err)
		items = append(items, item)
	}

	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].Progress.Step)
	assert.Equal(t, 2, items[1].Progress.Step)
	assert.True(t, items[2].Terminal())
	assert.JSONEq(t, `{"ok":true}`, string(items[2].Result))
}

func TestCallToolAsyncEarlyProgressReplayed(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.SetProgressCapable(true)
	conn.Start()
	defer conn.Close()

	// Progress is sent before the acknowledgement response, so it reaches
	// the receiver before any stream is registered and must be buffered.
	serve(t, peer, func(method string, id, params json.RawMessage) {
		notify(peer, MethodToolsProgress, Progress{TaskID: "t-2", Step: 1, State: "running"})
		respond(peer, id, asyncAck{TaskID: "t-2"})
		notify(peer, MethodToolsResult, asyncResult{TaskID: "t-2", Result: json.RawMessage(`"done"`)})
	})

	var items []*AsyncItem
	for item, err := range conn.CallToolAsync(context.Background(), "slow_tool", nil, time.Minute) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 2)
	require.NotNil(t, items[0].Progress)
	assert.Equal(t, 1, items[0].Progress.Step)
	assert.True(t, items[1].Terminal())
}

func TestCallToolAsyncTimeout(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.SetProgressCapable(true)
	conn.Start()
	defer conn.Close()

	// Acknowledge but never deliver a result.
	serve(t, peer, func(method string, id, params json.RawMessage) {
		respond(peer, id, asyncAck{TaskID: "t-3"})
	})

	var last *AsyncItem
	for item, err := range conn.CallToolAsync(context.Background(), "slow_tool", nil, 50*time.Millisecond) {
		require.NoError(t, err)
		last = item
	}

	require.NotNil(t, last)
	assert.ErrorIs(t, last.Err, ErrTimeout)
}

func TestNotifySendsNoID(t *testing.T) {
	local, peer := transport.Pipe()
	conn := NewConn(local)
	conn.Start()
	defer conn.Close()

	require.NoError(t, conn.Notify(context.Background(), MethodInitialized, nil))

	payload, err := peer.Receive(context.Background())
	require.NoError(t, err)
	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.True(t, msg.IsNotification())
	assert.Equal(t, MethodInitialized, msg.Method)
}

func TestAbandonedAsyncItemsDropped(t *testing.T) {
	local, _ := transport.Pipe()
	conn := NewConn(local)

	// No acknowledgement outstanding: output of unknown tasks vanishes.
	conn.routeAsync("ghost", &AsyncItem{Result: json.RawMessage(`"late"`)})
	conn.asyncMu.Lock()
	assert.Empty(t, conn.asyncBuffer)
	conn.asyncMu.Unlock()

	// An open window buffers; settling the last window clears strays.
	conn.expectAsync()
	conn.routeAsync("t1", &AsyncItem{Progress: &Progress{TaskID: "t1", Step: 1}})
	conn.routeAsync("ghost", &AsyncItem{Result: json.RawMessage(`"late"`)})
	items := conn.registerAsync("t1")
	conn.settleAsync()

	assert.Len(t, items, 1)
	conn.asyncMu.Lock()
	assert.Empty(t, conn.asyncBuffer)
	conn.asyncMu.Unlock()
	conn.unregisterAsync("t1")

	// Stray items after the stream ended are dropped, not rebuffered.
	conn.routeAsync("t1", &AsyncItem{Result: json.RawMessage(`"straggler"`)})
	conn.asyncMu.Lock()
	assert.Empty(t, conn.asyncBuffer)
	conn.asyncMu.Unlock()
}

func TestRegisterAsyncReplaysLargeBacklog(t *testing.T) {
	local, _ := transport.Pipe()
	conn := NewConn(local)

	conn.expectAsync()
	for i := 0; i < 40; i++ {
		conn.routeAsync("t1", &AsyncItem{Progress: &Progress{TaskID: "t1", Step: i}})
	}

	registered := make(chan chan *AsyncItem, 1)
	go func() { registered <- conn.registerAsync("t1") }()

	select {
	case ch := <-registered:
		assert.Len(t, ch, 40)
	case <-time.After(2 * time.Second):
		t.Fatal("backlog replay blocked")
	}
	conn.settleAsync()
	conn.unregisterAsync("t1")
}
