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
	"time"

	"github.com/stewardai/steward/pkg/jsonrpc"
)

// pingTimeout bounds a single health probe.
const pingTimeout = 5 * time.Second

// healthLoop pings the server on a fixed cadence. Consecutive failures
// past the threshold degrade the client and hand control to the
// reconnect cycle.
func (c *Client) healthLoop(ctx context.Context) {
	defer close(c.healthDone)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	failures := 0
	for {
		// A wake means a caller already observed a dead connection, so
		// the failure threshold does not apply.
		immediate := false
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.wake:
			immediate = true
		}

		if c.State() != Ready {
			continue
		}

		if err := c.ping(ctx); err != nil {
			failures++
			c.log.Warn("ping failed", "consecutive", failures, "error", err)
			if immediate || failures >= c.opts.PingFailureThreshold {
				failures = 0
				c.setState(Degraded)
				if !c.reconnect(ctx) {
					return
				}
			}
			continue
		}
		failures = 0
	}
}

func (c *Client) ping(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.Alive() {
		return ErrNotReady
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := conn.Call(pingCtx, jsonrpc.MethodPing, nil)
	return err
}

// reconnect runs the exponential-backoff cycle, recreating the
// transport on every attempt. Returns false when the attempt cap is
// exhausted or reconnection is disabled; the client is left
// Disconnected and the health loop exits.
func (c *Client) reconnect(ctx context.Context) bool {
	if c.opts.MaxReconnectAttempts < 0 {
		c.teardownConn()
		c.setState(Disconnected)
		return false
	}

	delay := c.opts.ReconnectBaseDelay
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2

		c.log.Info("reconnecting", "attempt", attempt, "max", c.opts.MaxReconnectAttempts)
		c.teardownConn()

		if err := c.establish(ctx); err != nil {
			c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			c.setState(Degraded)
			continue
		}

		// Server-side state is gone; force rediscovery.
		c.invalidateTools()
		c.log.Info("reconnected")
		return true
	}

	c.log.Error("reconnect attempts exhausted, giving up")
	c.teardownConn()
	c.setState(Disconnected)
	return false
}

// teardownConn closes and drops the current connection, if any.
func (c *Client) teardownConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
