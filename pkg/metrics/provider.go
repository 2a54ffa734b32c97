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

package metrics

import (
	"context"

	"github.com/stewardai/steward/pkg/model"
)

// WrapProvider instruments a model provider with request and token
// counters.
func (m *Metrics) WrapProvider(p model.Provider) model.Provider {
	return &instrumentedProvider{p: p, m: m}
}

type instrumentedProvider struct {
	p model.Provider
	m *Metrics
}

func (ip *instrumentedProvider) Name() string { return ip.p.Name() }

func (ip *instrumentedProvider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := ip.p.Complete(ctx, req)
	if err != nil {
		ip.m.ModelCalls.WithLabelValues(ip.p.Name(), "error").Inc()
		return nil, err
	}
	ip.m.ModelCalls.WithLabelValues(ip.p.Name(), "ok").Inc()
	ip.m.ModelTokens.WithLabelValues(ip.p.Name(), "input").Add(float64(resp.Usage.InputTokens))
	ip.m.ModelTokens.WithLabelValues(ip.p.Name(), "output").Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}
