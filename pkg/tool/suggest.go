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

package tool

import "strings"

// maxSuggestDistance bounds how different a suggested name may be.
const maxSuggestDistance = 5

// suggest finds the closest known name to a miss. The suggestion is
// only ever surfaced in an error message so the planner can retry with
// an explicit name; it is never used automatically.
func (r *Registry) suggest(snap *snapshot, name string) string {
	probe := strings.ToLower(shortOf(name))

	best := ""
	bestDist := maxSuggestDistance + 1
	for candidate := range snap.entries {
		short := strings.ToLower(shortOf(candidate))

		// A shared prefix or containment beats edit distance.
		if strings.Contains(short, probe) || strings.Contains(probe, short) {
			if d := abs(len(short) - len(probe)); d < bestDist {
				best, bestDist = candidate, d
			}
			continue
		}

		if d := levenshtein(probe, short); d < bestDist {
			best, bestDist = candidate, d
		}
	}

	if bestDist > maxSuggestDistance {
		return ""
	}
	return best
}

func shortOf(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// levenshtein computes the edit distance with a two-row table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}

	return prev[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
