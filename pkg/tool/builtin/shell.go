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
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/stewardai/steward/pkg/tool"
)

// defaultShellTimeout bounds shell_exec when the caller's context has
// no deadline of its own.
const defaultShellTimeout = 60 * time.Second

// maxShellOutput bounds captured command output.
const maxShellOutput = 256 * 1024

// ShellExecArgs are the arguments of the shell_exec tool.
type ShellExecArgs struct {
	Command          string `json:"command" jsonschema:"required,description=Shell command line to execute"`
	WorkingDirectory string `json:"working_directory,omitempty" jsonschema:"description=Directory to run in"`
}

// NewShellExec returns the shell_exec built-in.
func NewShellExec() tool.Tool {
	return &tool.Func{
		Desc: tool.Descriptor{
			Name:        "shell_exec",
			Description: "Execute a shell command and capture its combined output.",
			InputSchema: schemaOf(&ShellExecArgs{}),
		},
		Fn: shellExec,
	}
}

func shellExec(ctx context.Context, args map[string]any) *tool.Chunk {
	start := time.Now()
	var in ShellExecArgs
	if err := decodeArgs(args, &in); err != nil {
		return tool.Errorf(tool.CategoryInvalidArgs, "shell_exec: %v", err)
	}
	command := in.Command
	if strings.TrimSpace(command) == "" {
		return tool.Errorf(tool.CategoryInvalidArgs, "shell_exec: command is required")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShellTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = in.WorkingDirectory

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n... (truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return tool.ErrorChunk(tool.CategoryTimeout, "shell_exec: command timed out", true)
	}
	if err != nil {
		// Non-zero exit still carries the output; surface both.
		msg := err.Error()
		if output != "" {
			msg += "\n" + output
		}
		return tool.Errorf(tool.CategoryToolExecution, "shell_exec: %s", msg)
	}

	return tool.SuccessChunk(output, tool.CallMeta{
		Duration: time.Since(start),
		Tool:     "shell_exec",
	})
}
