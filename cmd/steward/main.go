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

// Command steward is the CLI for the steward runtime.
//
// Usage:
//
//	steward run "summarize the files in ./docs"
//	steward serve --config steward.yaml
//	steward validate --config steward.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/logger"
	"github.com/stewardai/steward/pkg/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Execute one request and stream the result."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to a project config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*CLI) error {
	fmt.Printf("steward %s (%s, built %s)\n", version.Version, version.Commit, version.Date)
	return nil
}

// ValidateCmd loads and validates the configuration, printing nothing
// on success.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli, nil)
	if err != nil {
		return err
	}
	fmt.Printf("configuration valid: %d servers enabled\n", countEnabled(cfg))
	return nil
}

func countEnabled(cfg *config.Config) int {
	n := 0
	for _, sc := range cfg.Servers {
		if sc.Enabled {
			n++
		}
	}
	return n
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("steward"),
		kong.Description("An AI orchestration runtime with tool servers and human-in-the-loop confirmation."),
		kong.UsageOnError(),
	)

	closeLog, err := initLogging(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(cli *CLI) (func(), error) {
	level := logger.ParseLevel(cli.LogLevel)
	out := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		f, closer, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		out = f
		cleanup = closer
	}
	logger.Init(level, out, cli.LogFormat)
	return cleanup, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
