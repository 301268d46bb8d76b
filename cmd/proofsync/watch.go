package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/proofsync/proofsync/internal/config"
	"github.com/proofsync/proofsync/internal/daemon"
)

// WatchCommand implements the watch command.
type WatchCommand struct{}

// NewWatchCommand creates a new watch command.
func NewWatchCommand() *WatchCommand {
	return &WatchCommand{}
}

// Run executes the watch command: the workspace watcher and the loopback
// dashboard run in the foreground until interrupted.
func (cmd *WatchCommand) Run(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: proofsync watch")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ok, err := config.EnsureExists()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("setup was not completed")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	d, err := daemon.New(*cfg, root)
	if err != nil {
		return err
	}
	if err := d.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
