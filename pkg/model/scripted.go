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

package model

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays canned responses in order. Test support for the
// planner and evaluator; never selected by configuration.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	next      int

	// Requests records every request received, in order.
	Requests []Request
}

// NewScripted builds a provider that answers with the given responses.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Fail appends an error turn: the corresponding Complete call fails.
func (s *Scripted) Fail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.errs) < len(s.responses) {
		s.errs = append(s.errs, nil)
	}
	s.responses = append(s.responses, "")
	s.errs = append(s.errs, err)
	return s
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Complete(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if s.next >= len(s.responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d responses", len(s.responses))
	}
	i := s.next
	s.next++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &Response{Content: s.responses[i], StopReason: "end_turn"}, nil
}

var _ Provider = (*Scripted)(nil)
