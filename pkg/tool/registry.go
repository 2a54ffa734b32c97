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

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// NotFoundError is returned when a name does not resolve. A fuzzy
// suggestion, when available, is carried in the message — it is never
// silently substituted.
type NotFoundError struct {
	Name       string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("tool %q not found (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("tool %q not found", e.Name)
}

// snapshot is an immutable view of the registry. Lookups load the
// current snapshot without locking; writers rebuild and swap.
type snapshot struct {
	entries map[string]Tool
	aliases map[string]string // short name -> namespaced name, unambiguous only
}

// Registry is the uniform view over built-in and remote tools.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]

	// argAliases maps synonymous parameter names emitted by planners to
	// the canonical schema name, e.g. image_path -> file_path.
	argAliases map[string]string
}

// NewRegistry creates an empty registry with the default argument
// alias map.
func NewRegistry() *Registry {
	r := &Registry{
		argAliases: map[string]string{
			"image_path": "file_path",
			"filepath":   "file_path",
			"filename":   "file_path",
			"cmd":        "command",
			"query_text": "query",
		},
	}
	r.snap.Store(&snapshot{
		entries: map[string]Tool{},
		aliases: map[string]string{},
	})
	return r
}

// Register adds a tool under its descriptor name. Names must be unique
// after namespace resolution.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	name := t.Descriptor().Name
	if _, exists := cur.entries[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	entries := cloneEntries(cur.entries)
	entries[name] = t
	r.install(entries)
	return nil
}

// ReplaceServer atomically swaps the slice of tools belonging to one
// server. Old entries remain valid until the new snapshot is installed.
func (r *Registry) ReplaceServer(server string, tools []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	entries := make(map[string]Tool, len(cur.entries)+len(tools))
	for name, t := range cur.entries {
		if t.Descriptor().Server != server {
			entries[name] = t
		}
	}
	for _, t := range tools {
		entries[t.Descriptor().Name] = t
	}
	r.install(entries)
}

// RemoveServer drops every tool belonging to a server.
func (r *Registry) RemoveServer(server string) {
	r.ReplaceServer(server, nil)
}

// install rebuilds the alias table and publishes the new snapshot.
// Callers hold r.mu.
func (r *Registry) install(entries map[string]Tool) {
	aliases := make(map[string]string)
	ambiguous := make(map[string]bool)

	for name := range entries {
		i := strings.IndexByte(name, ':')
		if i < 0 {
			continue
		}
		short := name[i+1:]
		if _, isLocal := entries[short]; isLocal {
			continue // a built-in owns the short name
		}
		if _, taken := aliases[short]; taken {
			ambiguous[short] = true
			continue
		}
		aliases[short] = name
	}
	for short := range ambiguous {
		delete(aliases, short)
	}

	r.snap.Store(&snapshot{entries: entries, aliases: aliases})
}

// Resolve maps a name to a tool. Resolution order: exact local, exact
// remote, unique alias, then a fuzzy suggestion surfaced as an error.
func (r *Registry) Resolve(name string) (Tool, error) {
	snap := r.snap.Load()

	if t, ok := snap.entries[name]; ok {
		return t, nil
	}
	if full, ok := snap.aliases[name]; ok {
		return snap.entries[full], nil
	}

	return nil, &NotFoundError{Name: name, Suggestion: r.suggest(snap, name)}
}

// Has reports whether a name resolves.
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// Describe returns the descriptor for a resolvable name.
func (r *Registry) Describe(name string) (Descriptor, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return Descriptor{}, err
	}
	return t.Descriptor(), nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	snap := r.snap.Load()
	out := make([]Descriptor, 0, len(snap.entries))
	for _, t := range snap.entries {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NormalizeArgs applies the argument alias map, fills schema defaults
// for absent optional arguments, and rejects missing required ones.
// Alias application is idempotent.
func (r *Registry) NormalizeArgs(desc Descriptor, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	props, _ := desc.InputSchema["properties"].(map[string]any)

	// Rename synonymous keys when the canonical key exists in the
	// schema and is not already set.
	for from, to := range r.argAliases {
		v, ok := out[from]
		if !ok {
			continue
		}
		if _, canonical := props[to]; !canonical {
			continue
		}
		if _, taken := out[to]; taken {
			continue
		}
		out[to] = v
		delete(out, from)
	}

	// Fill declared defaults.
	for name, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		if def, has := prop["default"]; has {
			if _, set := out[name]; !set {
				out[name] = def
			}
		}
	}

	// Required arguments must be present after aliasing and defaults.
	if required, ok := desc.InputSchema["required"].([]any); ok {
		var missing []string
		for _, raw := range required {
			name, _ := raw.(string)
			if name == "" {
				continue
			}
			if _, set := out[name]; !set {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fmt.Errorf("tool %s: missing required arguments: %s",
				desc.Name, strings.Join(missing, ", "))
		}
	}

	return out, nil
}

func cloneEntries(in map[string]Tool) map[string]Tool {
	out := make(map[string]Tool, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
