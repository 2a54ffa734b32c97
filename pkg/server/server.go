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

// Package server exposes the service over HTTP: a newline-delimited
// JSON streaming endpoint, a WebSocket endpoint, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/metrics"
	"github.com/stewardai/steward/pkg/service"
)

// Server is the HTTP front end.
type Server struct {
	svc     *service.Service
	metrics *metrics.Metrics
	cfg     config.HTTPServer
	log     *slog.Logger

	http *http.Server
}

// New builds the server. metrics may be nil to disable the endpoint.
func New(svc *service.Service, m *metrics.Metrics, cfg config.HTTPServer) *Server {
	s := &Server{
		svc:     svc,
		metrics: m,
		cfg:     cfg,
		log:     slog.Default().With("component", "server"),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Post("/v1/messages", s.handleMessage)
	r.Post("/v1/sessions/{sessionID}/messages", s.handleMessage)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// ListenAndServe blocks until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
