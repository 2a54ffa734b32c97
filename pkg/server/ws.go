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

package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers connect cross-origin in dev setups; auth sits in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsInbound is one client message on the socket.
type wsInbound struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleWebSocket serves the chunk stream over one socket. Each
// inbound message starts (or continues) a session; chunks go back as
// one JSON object per text frame. CONFIRM_ACTION: messages resolve
// pending confirmations, letting a paused stream on the same socket
// resume.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Runs and confirmation submissions interleave on one socket, so
	// writes need serializing.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("websocket closed", "error", err)
			return
		}

		var in wsInbound
		if err := json.Unmarshal(payload, &in); err != nil || in.Message == "" {
			writeJSON(map[string]string{"chunk_type": "error", "text": "expected {session_id, message}"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk, err := range s.svc.Execute(r.Context(), in.SessionID, in.Message) {
				if err != nil {
					writeJSON(map[string]string{"chunk_type": "error", "text": err.Error()})
					return
				}
				if err := writeJSON(chunk); err != nil {
					return
				}
				s.observe(chunk)
			}
		}()
	}
}
