package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/proofsync/proofsync/internal/jobs"
)

// VerifyCommand implements the verify command.
type VerifyCommand struct{}

// NewVerifyCommand creates a new verify command.
func NewVerifyCommand() *VerifyCommand {
	return &VerifyCommand{}
}

// Run executes the verify command: one sync cycle, then a remote
// verification job polled to completion with progress on stdout.
func (cmd *VerifyCommand) Run(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: proofsync verify <file>")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one file argument is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	target, err := a.resolveTarget(fs.Arg(0))
	if err != nil {
		return err
	}

	// Ctrl-C cancels the remote job best-effort instead of just killing
	// the poll loop.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		a.runner.Cancel()
	}()

	outcome, err := a.pipeline.Run(ctx, target, os.Stdout)
	if err != nil {
		return err
	}

	switch outcome.Result.State {
	case jobs.StateSucceeded:
		fmt.Println("Verification succeeded.")
		return nil
	case jobs.StateCancelled:
		fmt.Println("Verification cancelled.")
		return nil
	case jobs.StateFailed:
		if outcome.Result.Err != nil {
			return fmt.Errorf("verification aborted: %w", outcome.Result.Err)
		}
		if text := outcome.Result.Snapshot.MakeenvText; text != "" && !outcome.Result.Snapshot.MakeenvSuccess {
			fmt.Fprintln(os.Stderr, text)
		}
		for _, d := range outcome.Diags {
			fmt.Println(d.Format(fs.Arg(0)))
		}
		return fmt.Errorf("verification failed with %d error(s)", outcome.Result.Snapshot.ErrorCount)
	}
	return nil
}
