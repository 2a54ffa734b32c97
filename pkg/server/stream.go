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

	"github.com/go-chi/chi/v5"

	"github.com/stewardai/steward/pkg/service"
)

// messageRequest is the body of a message POST.
type messageRequest struct {
	Message string `json:"message"`
}

// handleMessage streams the chunk sequence for one message as
// newline-delimited JSON. A confirmation_request chunk pauses the
// stream on the engine side; the client resumes by posting a
// CONFIRM_ACTION: message to the same session.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for chunk, err := range s.svc.Execute(r.Context(), sessionID, req.Message) {
		if err != nil {
			enc.Encode(map[string]string{"chunk_type": service.ChunkError, "text": err.Error()})
			flusher.Flush()
			return
		}
		if err := enc.Encode(chunk); err != nil {
			s.log.Debug("client went away", "session", chunk.SessionID, "error", err)
			return
		}
		flusher.Flush()
		s.observe(chunk)
	}
}

// observe counts terminal chunks for the session metrics.
func (s *Server) observe(chunk *service.Chunk) {
	if s.metrics == nil {
		return
	}
	switch chunk.ChunkType {
	case service.ChunkCompletion:
		s.metrics.Sessions.WithLabelValues("completed").Inc()
	case service.ChunkError:
		s.metrics.Sessions.WithLabelValues("failed").Inc()
	case service.ChunkConfirmationReceived:
		s.metrics.Confirms.WithLabelValues(chunk.Action).Inc()
	}
}
