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

package servers

import (
	"strings"

	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/mcpclient"
	"github.com/stewardai/steward/pkg/tool"
)

// knownIsolated are server names that are known to drive their own
// event loop and break when called from the ambient context.
var knownIsolated = map[string]bool{
	"playwright": true,
	"puppeteer":  true,
	"browser":    true,
	"selenium":   true,
}

// classify decides at connect time whether a server's calls must run on
// the dedicated execution lane. The decision is a property of the
// server, never of an individual call. Checked in order: explicit
// configuration, the capability declared in the handshake, the known
// name list, then inspection of the reported tool descriptors.
func classify(name string, sc config.ServerConfig, client *mcpclient.Client, descs []tool.Descriptor) bool {
	if sc.IsolatedLoop {
		return true
	}
	if client.DeclaredIsolated() {
		return true
	}
	if knownIsolated[strings.ToLower(name)] {
		return true
	}
	for _, d := range descs {
		short := strings.ToLower(d.ShortName())
		if strings.HasPrefix(short, "browser_") || strings.HasPrefix(short, "page_") {
			return true
		}
	}
	return false
}
