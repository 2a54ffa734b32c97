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

// Package cli renders the chunk stream for a terminal and collects
// interactive confirmation verdicts.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/stewardai/steward/pkg/service"
)

// ANSI styles; disabled when color is off.
const (
	styleReset = "\033[0m"
	styleDim   = "\033[2m"
	styleBold  = "\033[1m"
	styleCyan  = "\033[36m"
	styleRed   = "\033[31m"
	styleGreen = "\033[32m"
	styleAmber = "\033[33m"
)

// Runner drives a session from a terminal.
type Runner struct {
	svc   *service.Service
	out   io.Writer
	in    *bufio.Reader
	color bool
}

// NewRunner builds a terminal driver.
func NewRunner(svc *service.Service, out io.Writer, in io.Reader, color bool) *Runner {
	return &Runner{
		svc:   svc,
		out:   out,
		in:    bufio.NewReader(in),
		color: color,
	}
}

// Run executes one message. On a confirmation request it prompts on
// stdin and submits the verdict, resuming the paused stream in place.
func (r *Runner) Run(ctx context.Context, sessionID, message string) error {
	for chunk, err := range r.svc.Execute(ctx, sessionID, message) {
		if err != nil {
			return err
		}
		r.render(chunk)

		if chunk.ChunkType == service.ChunkConfirmationRequest {
			if err := r.promptAndSubmit(ctx, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) render(c *service.Chunk) {
	switch c.ChunkType {
	case service.ChunkStatus:
		fmt.Fprintf(r.out, "%s\n", r.style(styleDim, c.Text))

	case service.ChunkTaskInit, service.ChunkTaskReplanned:
		label := "Plan"
		if c.ChunkType == service.ChunkTaskReplanned {
			label = "Revised plan"
		}
		fmt.Fprintf(r.out, "%s\n", r.style(styleBold, label+":"))
		for i, t := range c.Tasks {
			fmt.Fprintf(r.out, "  %d. %s %s\n", i+1, r.style(styleCyan, t.Tool), t.Description)
		}
		for _, id := range c.TaskIDs {
			fmt.Fprintf(r.out, "  %s\n", r.style(styleDim, "starting "+id))
		}

	case service.ChunkMCPProgress:
		fmt.Fprintf(r.out, "  %s\n", r.style(styleDim, fmt.Sprintf("[%s] %v", c.TaskID, c.Progress)))

	case service.ChunkToolOutput:
		fmt.Fprintf(r.out, "%s\n%s\n", r.style(styleDim, "["+c.TaskID+"]"), indent(c.Text))

	case service.ChunkConfirmationRequest:
		data := c.ConfirmationData
		fmt.Fprintf(r.out, "\n%s (risk: %s, round %d)\n%s\n",
			r.style(styleBold, "The plan needs your confirmation"),
			r.style(styleAmber, data.RiskLevel), data.Round, data.TasksSummary)

	case service.ChunkConfirmationReceived:
		fmt.Fprintf(r.out, "%s\n", r.style(styleDim, "confirmation: "+c.Action))

	case service.ChunkContent, service.ChunkCompletion:
		if c.Text != "" {
			fmt.Fprintf(r.out, "\n%s\n", c.Text)
		}

	case service.ChunkError:
		fmt.Fprintf(r.out, "%s %s\n", r.style(styleRed, "error["+c.Category+"]:"), c.Text)
	}
}

// promptAndSubmit collects the confirmation choice and routes it back
// through the service as a CONFIRM_ACTION message.
func (r *Runner) promptAndSubmit(ctx context.Context, c *service.Chunk) error {
	fmt.Fprintf(r.out, "%s ", r.style(styleBold, "Proceed? [y]es / [n]o / [m]odify:"))

	line, err := r.in.ReadString('\n')
	if err != nil {
		line = "n"
	}
	choice := strings.ToLower(strings.TrimSpace(line))

	var verdict string
	switch {
	case choice == "y" || choice == "yes":
		verdict = "confirm"
	case strings.HasPrefix(choice, "m"):
		fmt.Fprintf(r.out, "Describe the change: ")
		text, _ := r.in.ReadString('\n')
		verdict = "modify:" + strings.TrimSpace(text)
	default:
		verdict = "cancel"
	}

	for chunk, err := range r.svc.Execute(ctx, c.SessionID, service.ConfirmPrefix+verdict) {
		if err != nil {
			return err
		}
		if chunk.ChunkType == service.ChunkError {
			fmt.Fprintf(r.out, "%s %s\n", r.style(styleRed, "error:"), chunk.Text)
		}
	}
	return nil
}

func (r *Runner) style(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + styleReset
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
