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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(name, server string, caps Capabilities) Tool {
	return &Func{
		Desc: Descriptor{Name: name, Server: server, Caps: caps},
		Fn: func(ctx context.Context, args map[string]any) *Chunk {
			return SuccessChunk("ok", CallMeta{Tool: name})
		},
	}
}

func TestRegisterAndResolveExact(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("file_read", "", Capabilities{ReadOnly: true})))
	require.NoError(t, r.Register(stub("vision:ocr", "vision", Capabilities{})))

	got, err := r.Resolve("file_read")
	require.NoError(t, err)
	assert.Equal(t, "file_read", got.Descriptor().Name)

	got, err = r.Resolve("vision:ocr")
	require.NoError(t, err)
	assert.Equal(t, "vision:ocr", got.Descriptor().Name)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("file_read", "", Capabilities{})))
	assert.Error(t, r.Register(stub("file_read", "", Capabilities{})))
}

func TestResolveUniqueAlias(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("vision:ocr", "vision", Capabilities{})))

	got, err := r.Resolve("ocr")
	require.NoError(t, err)
	assert.Equal(t, "vision:ocr", got.Descriptor().Name)
}

func TestResolveAmbiguousAliasFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("alpha:search", "alpha", Capabilities{})))
	require.NoError(t, r.Register(stub("beta:search", "beta", Capabilities{})))

	_, err := r.Resolve("search")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "search", nf.Name)
}

func TestLocalShadowsAlias(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("file_read", "", Capabilities{})))
	require.NoError(t, r.Register(stub("fs:file_read", "fs", Capabilities{})))

	got, err := r.Resolve("file_read")
	require.NoError(t, err)
	assert.Equal(t, "file_read", got.Descriptor().Name)
}

func TestResolveSuggestion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("vision:ocr_image", "vision", Capabilities{})))

	_, err := r.Resolve("ocr_imag")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "vision:ocr_image", nf.Suggestion)
	assert.Contains(t, nf.Error(), "did you mean")
}

func TestResolveNoSuggestionWhenDistant(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("vision:ocr_image", "vision", Capabilities{})))

	_, err := r.Resolve("completely_unrelated_name")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, nf.Suggestion)
}

func TestReplaceServer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("file_read", "", Capabilities{})))
	r.ReplaceServer("vision", []Tool{stub("vision:ocr", "vision", Capabilities{})})

	assert.True(t, r.Has("vision:ocr"))
	assert.True(t, r.Has("file_read"))

	// A swap replaces the old tool set wholesale.
	r.ReplaceServer("vision", []Tool{stub("vision:classify", "vision", Capabilities{})})
	assert.False(t, r.Has("vision:ocr"))
	assert.True(t, r.Has("vision:classify"))

	r.RemoveServer("vision")
	assert.False(t, r.Has("vision:classify"))
	assert.True(t, r.Has("file_read"))
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("zeta", "", Capabilities{})))
	require.NoError(t, r.Register(stub("alpha", "", Capabilities{})))

	descs := r.List()
	require.Len(t, descs, 2)
	assert.Equal(t, "alpha", descs[0].Name)
	assert.Equal(t, "zeta", descs[1].Name)
}

func TestNormalizeArgsAliases(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{
		Name: "ocr",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
			},
			"required": []any{"file_path"},
		},
	}

	out, err := r.NormalizeArgs(desc, map[string]any{"image_path": "/tmp/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.png", out["file_path"])
	assert.NotContains(t, out, "image_path")

	// Canonical key wins when both are present.
	out, err = r.NormalizeArgs(desc, map[string]any{
		"file_path":  "/tmp/canonical.png",
		"image_path": "/tmp/alias.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/canonical.png", out["file_path"])
}

func TestNormalizeArgsAliasOnlyForSchemaKeys(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{
		Name: "ping",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"host": map[string]any{"type": "string"},
			},
		},
	}

	// cmd -> command would apply, but "command" is not in the schema.
	out, err := r.NormalizeArgs(desc, map[string]any{"cmd": "ls"})
	require.NoError(t, err)
	assert.Equal(t, "ls", out["cmd"])
}

func TestNormalizeArgsDefaults(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{
		Name: "read",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
				"encoding":  map[string]any{"type": "string", "default": "utf-8"},
			},
			"required": []any{"file_path"},
		},
	}

	out, err := r.NormalizeArgs(desc, map[string]any{"file_path": "/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, "utf-8", out["encoding"])
}

func TestNormalizeArgsMissingRequired(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{
		Name: "read",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
			},
			"required": []any{"file_path"},
		},
	}

	_, err := r.NormalizeArgs(desc, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_path")
}

func TestValidateArgs(t *testing.T) {
	desc := Descriptor{
		Name: "shell_exec",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"timeout": map[string]any{"type": "integer"},
			},
			"required": []any{"command"},
		},
	}

	assert.NoError(t, ValidateArgs(desc, map[string]any{"command": "ls"}))
	assert.NoError(t, ValidateArgs(desc, map[string]any{"command": "ls", "timeout": 5}))
	assert.Error(t, ValidateArgs(desc, map[string]any{"command": 42}))
	assert.Error(t, ValidateArgs(desc, map[string]any{}))

	// A missing schema accepts anything.
	assert.NoError(t, ValidateArgs(Descriptor{Name: "lax"}, map[string]any{"whatever": true}))
}

func TestDescriptorShortName(t *testing.T) {
	assert.Equal(t, "ocr", Descriptor{Name: "vision:ocr"}.ShortName())
	assert.Equal(t, "file_read", Descriptor{Name: "file_read"}.ShortName())
}

func TestChunkTerminal(t *testing.T) {
	assert.False(t, ProgressChunk(1, "working", nil).Terminal())
	assert.True(t, SuccessChunk("done", CallMeta{}).Terminal())
	assert.True(t, ErrorChunk(CategoryTimeout, "late", true).Terminal())
}
