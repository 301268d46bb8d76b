// Package daemon runs proofsync's watch mode: the workspace watcher feeds
// the change tracker continuously, the dashboard serves status on
// loopback, and verification runs are triggered on demand against the
// project's main file.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/proofsync/proofsync/internal/changeset"
	"github.com/proofsync/proofsync/internal/config"
	"github.com/proofsync/proofsync/internal/dashboard"
	"github.com/proofsync/proofsync/internal/diagnostics"
	"github.com/proofsync/proofsync/internal/hosting"
	"github.com/proofsync/proofsync/internal/jobs"
	"github.com/proofsync/proofsync/internal/jobserver"
	"github.com/proofsync/proofsync/internal/syncer"
	"github.com/proofsync/proofsync/internal/verify"
)

// Daemon is one running watch-mode instance.
type Daemon struct {
	cfg      config.Config
	root     string
	mainFile string

	tracker  *changeset.Tracker
	pipeline *verify.Pipeline
	runner   *jobs.Runner
	dash     *dashboard.Server
	logger   *log.Logger
}

// New wires a daemon for the workspace rooted at root. The per-project
// overlay is applied on top of cfg, and the hosting credential is loaded
// from the secrets file.
func New(cfg config.Config, root string) (*Daemon, error) {
	project, err := config.LoadProject(root)
	if err != nil {
		return nil, err
	}
	cfg = project.Apply(cfg)

	token, err := config.LoadToken()
	if err != nil {
		return nil, err
	}

	host, err := hosting.NewClient(cfg.HostingAPIURL, cfg.Repository, token)
	if err != nil {
		return nil, err
	}

	tracker := changeset.NewTracker()
	engine := syncer.New(host, root, cfg.Branch)
	runner := jobs.NewRunner(jobserver.NewClient(cfg.JobServerURL))
	runner.PollInterval = time.Duration(cfg.PollIntervalMs) * time.Millisecond
	runner.QueueGrace = time.Duration(cfg.QueueGraceMs) * time.Millisecond
	diags := diagnostics.NewStore()
	pipeline := verify.NewPipeline(root, cfg.Repository, tracker, engine, runner, diags)

	d := &Daemon{
		cfg:      cfg,
		root:     root,
		mainFile: project.MainFile,
		tracker:  tracker,
		pipeline: pipeline,
		runner:   runner,
		logger:   log.With("component", "daemon"),
	}
	d.dash = dashboard.New(cfg.DashboardPort, tracker, diags, runner, d.triggerVerify)
	return d, nil
}

// Run starts the watcher and the dashboard, then blocks until ctx is
// cancelled or an interrupt arrives.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := changeset.NewWatcher(d.root, d.cfg.SourceExtensions, d.tracker)
	if err != nil {
		return fmt.Errorf("failed to start workspace watcher: %w", err)
	}
	defer watcher.Stop()

	if err := d.dash.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.dash.Shutdown(shutdownCtx)
	}()

	d.logger.Info("watching workspace", "root", d.root, "extensions", d.cfg.SourceExtensions)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		d.logger.Info("shutting down", "signal", sig.String())
		d.runner.Cancel()
		return nil
	}
}

// triggerVerify starts a verification of the project's main file in the
// background. Rejected with jobs.ErrBusy while a run is active.
func (d *Daemon) triggerVerify() error {
	if d.mainFile == "" {
		return fmt.Errorf("no main_file configured in %s", config.ProjectFileName)
	}
	if d.runner.Active() != nil {
		return jobs.ErrBusy
	}

	target := filepath.Join(d.root, filepath.FromSlash(d.mainFile))
	go func() {
		outcome, err := d.pipeline.Run(context.Background(), target, d.dash.ProgressWriter(), d.dash.Observer())
		if err != nil {
			d.logger.Error("verification run failed", "target", d.mainFile, "err", err)
			return
		}
		d.dash.SetLastSync(outcome.SyncStats)
		d.logger.Info("verification resolved",
			"target", d.mainFile,
			"state", outcome.Result.State.String(),
			"diagnostics", len(outcome.Diags))
	}()
	return nil
}
