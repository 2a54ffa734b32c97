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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/pkg/config"
)

// fakeServerScript speaks just enough of the protocol for a lifecycle
// test: it answers initialize (id 1), swallows notifications/initialized,
// answers tools/list (id 2), then idles. Request ids are deterministic
// because the client is the only writer on the connection.
const fakeServerScript = `
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake","version":"1.0"},"capabilities":{"tools":{"listChanged":true,"progress":true}}}}'
read line
read line
echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"slow_scan","description":"scan things","inputSchema":{"type":"object"},"capabilities":{"long_running":true}},{"name":"lookup","annotations":{"readOnlyHint":true}}]}}'
cat > /dev/null
`

func fakeServerConfig(script string) config.ServerConfig {
	return config.ServerConfig{
		Enabled:   true,
		Transport: "stdio",
		Command:   "sh",
		Args:      []string{"-c", script},
	}
}

func TestConnectLifecycle(t *testing.T) {
	c := New("fake", fakeServerConfig(fakeServerScript), Options{})
	assert.Equal(t, Disconnected, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	assert.Equal(t, Ready, c.State())
	assert.True(t, c.ProgressCapable())
	assert.False(t, c.DeclaredIsolated())
	assert.Equal(t, "fake", c.Server().Name)

	tools, err := c.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	scan := tools[0]
	assert.Equal(t, "slow_scan", scan.Name)
	assert.Equal(t, "fake", scan.Server)
	assert.True(t, scan.Caps.LongRunning)
	// Server-level progress support promotes long-running tools.
	assert.True(t, scan.Caps.ProgressCapable)

	lookup := tools[1]
	assert.True(t, lookup.Caps.ReadOnly)
	assert.False(t, lookup.Caps.ProgressCapable)
}

func TestConnectTwiceFails(t *testing.T) {
	c := New("fake", fakeServerConfig(fakeServerScript), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	assert.Error(t, c.Connect(ctx))
}

func TestCloseIdempotent(t *testing.T) {
	c := New("fake", fakeServerConfig(fakeServerScript), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.Close())
	assert.Equal(t, Disconnected, c.State())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Connect(ctx), ErrClosed)
}

func TestHandshakeMissingServerInfo(t *testing.T) {
	script := `
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","capabilities":{}}}'
cat > /dev/null
`
	c := New("broken", fakeServerConfig(script), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serverInfo")
	assert.Equal(t, Disconnected, c.State())
}

func TestCallBeforeConnect(t *testing.T) {
	c := New("fake", fakeServerConfig(fakeServerScript), Options{})

	_, err := c.CallTool(context.Background(), "slow_scan", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	var last error
	for item, err := range c.CallToolAsync(context.Background(), "slow_scan", nil, time.Second) {
		require.NoError(t, err)
		last = item.Err
	}
	assert.ErrorIs(t, last, ErrNotReady)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "degraded", Degraded.String())
}

func TestOptionsFill(t *testing.T) {
	var o Options
	o.fill()
	assert.Equal(t, 30*time.Second, o.CallTimeout)
	assert.Equal(t, 3, o.PingFailureThreshold)
	assert.Equal(t, 5, o.MaxReconnectAttempts)

	disabled := Options{MaxReconnectAttempts: -1}
	disabled.fill()
	assert.Equal(t, -1, disabled.MaxReconnectAttempts)
}

func TestProgressCapableFolding(t *testing.T) {
	var caps ServerCapabilities
	assert.False(t, caps.progressCapable())

	caps.Tools.Progress = true
	assert.True(t, caps.progressCapable())

	var exp ServerCapabilities
	exp.Experimental = map[string]json.RawMessage{"call_async": json.RawMessage(`{}`)}
	assert.True(t, exp.progressCapable())
}

func TestParseToolList(t *testing.T) {
	raw := json.RawMessage(`{"tools":[
		{"name":"a","capabilities":{"read_only":true,"requires_network":true}},
		{"name":"b","annotations":{"readOnlyHint":true,"openWorldHint":true}},
		{"name":"c"}
	]}`)

	descs, err := parseToolList(raw, "srv", false)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	assert.True(t, descs[0].Caps.ReadOnly)
	assert.True(t, descs[0].Caps.RequiresNetwork)
	assert.True(t, descs[1].Caps.ReadOnly)
	assert.True(t, descs[1].Caps.RequiresNetwork)
	assert.Equal(t, "srv", descs[2].Server)

	_, err = parseToolList(json.RawMessage(`{"tools":[{"name":""}]}`), "srv", false)
	assert.Error(t, err)
}
