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
	"regexp"
	"strings"
)

// Fast paths answer trivially conversational inputs without an AI
// round-trip. Matching is deliberately narrow: anything else goes
// through classification.
var fastPaths = []struct {
	re    *regexp.Regexp
	reply string
}{
	{
		re:    regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|howdy)\s*[.!?~]*\s*$`),
		reply: "Hello! What can I help you with?",
	},
	{
		re:    regexp.MustCompile(`^\s*(你好|您好|嗨)\s*[!！。~]*\s*$`),
		reply: "你好！有什么可以帮你的吗？",
	},
	{
		re:    regexp.MustCompile(`(?i)^\s*(thanks|thank you|thx|谢谢)\s*[.!！?]*\s*$`),
		reply: "You're welcome!",
	},
	{
		re:    regexp.MustCompile(`(?i)^\s*(ok|okay|sure|got it|好的)\s*[.!！?]*\s*$`),
		reply: "Great. Let me know if you need anything else.",
	},
}

// fastPath returns a canned reply for single-phrase greetings.
func fastPath(input string) (string, bool) {
	for _, fp := range fastPaths {
		if fp.re.MatchString(input) {
			return fp.reply, true
		}
	}
	return "", false
}

// Scope rules elevate a message to a task request when it names a
// domain, auto-populating hints for the decomposition prompt.
var scopeRules = []struct {
	re    *regexp.Regexp
	scope string
	hint  string
}{
	{
		re:    regexp.MustCompile(`(?i)(lesson plan|curriculum|worksheet|quiz|teaching material|课程|教案|教学|习题|课件)`),
		scope: "content-creation",
		hint:  "The user is asking for education content. Plan content-generation tasks and save the output to files.",
	},
	{
		re:    regexp.MustCompile(`(?i)(scrape|crawl|download from|fetch (the )?(page|url|site))`),
		scope: "web-retrieval",
		hint:  "The user wants web content retrieved. Prefer network tools and persist results locally.",
	},
}

// detectScope applies the keyword rules and returns accumulated hints,
// keyed by scope name. Empty means no rule fired.
func detectScope(input string) map[string]string {
	hints := make(map[string]string)
	for _, rule := range scopeRules {
		if rule.re.MatchString(input) {
			hints[rule.scope] = rule.hint
		}
	}
	if len(hints) == 0 {
		return nil
	}
	return hints
}

// extractJSON pulls the first JSON array or object out of model output,
// tolerating markdown fences and surrounding prose.
func extractJSON(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return nil, &Error{Message: "model output contains no JSON"}
	}
	open := s[start]
	closer := byte(']')
	if open == '{' {
		closer = '}'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), nil
			}
		}
	}
	return nil, &Error{Message: "model output contains unbalanced JSON"}
}
