package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/proofsync/proofsync/internal/changeset"
	"github.com/proofsync/proofsync/internal/config"
	"github.com/proofsync/proofsync/internal/diagnostics"
	"github.com/proofsync/proofsync/internal/hosting"
	"github.com/proofsync/proofsync/internal/jobs"
	"github.com/proofsync/proofsync/internal/jobserver"
	"github.com/proofsync/proofsync/internal/syncer"
	"github.com/proofsync/proofsync/internal/verify"
)

// app holds the wired collaborators every command works against. The
// workspace root is the current directory, with the per-project overlay
// applied on top of the global config.
type app struct {
	cfg      config.Config
	root     string
	project  config.Project
	jobSrv   *jobserver.Client
	tracker  *changeset.Tracker
	runner   *jobs.Runner
	diags    *diagnostics.Store
	pipeline *verify.Pipeline
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	project, err := config.LoadProject(root)
	if err != nil {
		return nil, err
	}
	effective := project.Apply(*cfg)

	token, err := config.LoadToken()
	if err != nil {
		return nil, err
	}

	host, err := hosting.NewClient(effective.HostingAPIURL, effective.Repository, token)
	if err != nil {
		return nil, err
	}

	jobSrv := jobserver.NewClient(effective.JobServerURL)
	tracker := changeset.NewTracker()
	engine := syncer.New(host, root, effective.Branch)
	runner := jobs.NewRunner(jobSrv)
	runner.PollInterval = time.Duration(effective.PollIntervalMs) * time.Millisecond
	runner.QueueGrace = time.Duration(effective.QueueGraceMs) * time.Millisecond
	diags := diagnostics.NewStore()

	return &app{
		cfg:      effective,
		root:     root,
		project:  project,
		jobSrv:   jobSrv,
		tracker:  tracker,
		runner:   runner,
		diags:    diags,
		pipeline: verify.NewPipeline(root, effective.Repository, tracker, engine, runner, diags),
	}, nil
}

// resolveTarget turns a command-line file argument into an absolute path
// inside the workspace.
func (a *app) resolveTarget(arg string) (string, error) {
	target, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	if _, err := filepath.Rel(a.root, target); err != nil {
		return "", fmt.Errorf("%s is not inside the workspace %s", arg, a.root)
	}
	return target, nil
}
