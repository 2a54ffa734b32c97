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

package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stewardai/steward/pkg/tool"
)

// maxReadSize bounds file_read output. Larger files are truncated with
// a marker rather than failing the task.
const maxReadSize = 1 * 1024 * 1024

// FileReadArgs are the arguments of the file_read tool.
type FileReadArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Path of the file to read"`
}

// FileWriteArgs are the arguments of the file_write tool.
type FileWriteArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Path of the file to write"`
	Content  string `json:"content" jsonschema:"required,description=Content to write"`
	Append   bool   `json:"append,omitempty" jsonschema:"description=Append instead of truncating,default=false"`
}

// NewFileRead returns the file_read built-in.
func NewFileRead() tool.Tool {
	return &tool.Func{
		Desc: tool.Descriptor{
			Name:        "file_read",
			Description: "Read a text file from the local filesystem.",
			InputSchema: schemaOf(&FileReadArgs{}),
			Caps:        tool.Capabilities{ReadOnly: true},
		},
		Fn: fileRead,
	}
}

func fileRead(ctx context.Context, args map[string]any) *tool.Chunk {
	start := time.Now()
	var in FileReadArgs
	if err := decodeArgs(args, &in); err != nil {
		return tool.Errorf(tool.CategoryInvalidArgs, "file_read: %v", err)
	}
	path := in.FilePath
	if path == "" {
		return tool.Errorf(tool.CategoryInvalidArgs, "file_read: file_path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return tool.Errorf(tool.CategoryToolExecution, "file_read: %v", err)
	}
	if info.IsDir() {
		return tool.Errorf(tool.CategoryToolExecution, "file_read: %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tool.Errorf(tool.CategoryToolExecution, "file_read: %v", err)
	}

	output := string(data)
	if len(output) > maxReadSize {
		output = output[:maxReadSize] + "\n... (truncated)"
	}

	return tool.SuccessChunk(output, tool.CallMeta{
		Duration: time.Since(start),
		Tool:     "file_read",
	})
}

// NewFileWrite returns the file_write built-in.
func NewFileWrite() tool.Tool {
	return &tool.Func{
		Desc: tool.Descriptor{
			Name:        "file_write",
			Description: "Write or append content to a file, creating parent directories as needed.",
			InputSchema: schemaOf(&FileWriteArgs{}),
		},
		Fn: fileWrite,
	}
}

func fileWrite(ctx context.Context, args map[string]any) *tool.Chunk {
	start := time.Now()
	var in FileWriteArgs
	if err := decodeArgs(args, &in); err != nil {
		return tool.Errorf(tool.CategoryInvalidArgs, "file_write: %v", err)
	}
	path, content := in.FilePath, in.Content
	if path == "" {
		return tool.Errorf(tool.CategoryInvalidArgs, "file_write: file_path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return tool.Errorf(tool.CategoryToolExecution, "file_write: %v", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return tool.Errorf(tool.CategoryToolExecution, "file_write: %v", err)
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return tool.Errorf(tool.CategoryToolExecution, "file_write: %v", err)
	}

	return tool.SuccessChunk(fmt.Sprintf("wrote %d bytes to %s", n, path), tool.CallMeta{
		Duration: time.Since(start),
		Tool:     "file_write",
	})
}
