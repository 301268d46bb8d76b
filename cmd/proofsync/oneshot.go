package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/proofsync/proofsync/internal/config"
	"github.com/proofsync/proofsync/internal/diagnostics"
	"github.com/proofsync/proofsync/internal/jobserver"
)

// OneshotCommand implements the format and lint commands, which go
// through the job server's synchronous single-file endpoints. No job is
// created and nothing is synced.
type OneshotCommand struct {
	tool string // "format" or "lint"
}

// NewOneshotCommand creates a format or lint command.
func NewOneshotCommand(tool string) *OneshotCommand {
	return &OneshotCommand{tool: tool}
}

// Run executes the command.
func (cmd *OneshotCommand) Run(args []string) error {
	fs := flag.NewFlagSet(cmd.tool, flag.ExitOnError)
	var write bool
	if cmd.tool == "format" {
		fs.BoolVar(&write, "w", true, "Write the result back to the file")
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: proofsync %s <file>\n", cmd.tool)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one file argument is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := fs.Arg(0)
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	client := jobserver.NewClient(cfg.JobServerURL)
	ctx := context.Background()

	switch cmd.tool {
	case "format":
		formatted, err := client.Format(ctx, path, body)
		if err != nil {
			return err
		}
		if !write {
			os.Stdout.Write(formatted)
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, formatted, info.Mode()); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Printf("Formatted %s\n", path)
		return nil

	case "lint":
		errs, err := client.Lint(ctx, path, body)
		if err != nil {
			return err
		}
		if len(errs) == 0 {
			fmt.Printf("%s: no problems found\n", path)
			return nil
		}
		for _, d := range diagnostics.FromPositional(errs) {
			fmt.Println(d.Format(path))
		}
		return fmt.Errorf("%d problem(s) found", len(errs))
	}
	return fmt.Errorf("unknown tool %q", cmd.tool)
}
