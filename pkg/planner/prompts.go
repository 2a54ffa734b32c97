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

package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stewardai/steward/pkg/tool"
)

const classifySystemPrompt = `You are a classifier. Decide whether the user's latest message requires executing tools (reading or writing files, running commands, fetching data, generating content artifacts) or is plain conversation (greeting, thanks, small talk, a question you can answer directly).

Answer with exactly one word: TASK or CONVERSATION.`

const converseSystemPrompt = `You are a helpful assistant. Answer the user directly and concisely. You have no tools available in this mode; do not promise to run anything.`

// decomposeSystemPrompt renders the decomposition instructions with the
// live tool catalog and any scope hints.
func decomposeSystemPrompt(descs []tool.Descriptor, maxTasks int, hints map[string]string) string {
	var sb strings.Builder
	sb.WriteString(`You are a task planner. Decompose the user's request into tool invocations.

Reply with ONLY a JSON array of task objects, each with fields:
  id            string, unique within the plan ("task-1", "task-2", ...)
  description   one line, what this task does
  tool          the exact name of one available tool
  args          object matching the tool's input schema
  expected      one line, the expected outcome
  priority      integer, lower runs earlier among independent tasks
  dependencies  array of prerequisite task ids (may be empty)
  type          one of: file, shell, search, network, content, other

Rules:
- Use only the tools listed below. Never invent a tool name.
- The dependency graph must be acyclic.
`)
	fmt.Fprintf(&sb, "- Produce at most %d tasks.\n", maxTasks)

	if len(hints) > 0 {
		sb.WriteString("\nScope hints:\n")
		for scope, hint := range hints {
			fmt.Fprintf(&sb, "- [%s] %s\n", scope, hint)
		}
	}

	sb.WriteString("\nAvailable tools:\n")
	for _, d := range descs {
		fmt.Fprintf(&sb, "\n%s: %s\n", d.Name, d.Description)
		if len(d.InputSchema) > 0 {
			if raw, err := json.Marshal(d.InputSchema); err == nil {
				fmt.Fprintf(&sb, "  schema: %s\n", raw)
			}
		}
	}
	return sb.String()
}
