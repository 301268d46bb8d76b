package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

// SyncCommand implements the sync command.
type SyncCommand struct{}

// NewSyncCommand creates a new sync command.
func NewSyncCommand() *SyncCommand {
	return &SyncCommand{}
}

// Run executes one sync cycle for the given files against the shadow
// branch, without submitting a job.
func (cmd *SyncCommand) Run(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: proofsync sync <file> [file...]")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("at least one file argument is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	for _, arg := range fs.Args() {
		target, err := a.resolveTarget(arg)
		if err != nil {
			return err
		}
		a.tracker.Record(target)
	}

	paths := a.tracker.Snapshot()
	stats, err := a.pipeline.Engine.Sync(context.Background(), paths)
	if err != nil {
		return err
	}
	a.tracker.Forget(paths)

	fmt.Printf("Synced to %s: %d blob(s), %d commit(s), %d deletion(s), %d unchanged\n",
		a.pipeline.Engine.Branch(), stats.Blobs, stats.Commits, stats.Deletions, stats.Skipped)
	return nil
}
