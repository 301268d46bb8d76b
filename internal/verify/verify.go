// Package verify runs the full verification pipeline: push the pending
// change set to the shadow branch, submit a job against it, poll to a
// terminal state while rendering progress, and publish diagnostics on
// failure. Both the CLI and the watch-mode dashboard drive this one path.
package verify

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/proofsync/proofsync/internal/changeset"
	"github.com/proofsync/proofsync/internal/diagnostics"
	"github.com/proofsync/proofsync/internal/jobs"
	"github.com/proofsync/proofsync/internal/jobserver"
	"github.com/proofsync/proofsync/internal/progress"
	"github.com/proofsync/proofsync/internal/syncer"
)

// CommandVerify is the job command for a full verification run.
const CommandVerify = "verifier"

// Pipeline owns the collaborators of one workspace's verification flow.
type Pipeline struct {
	Root       string
	Repository string // owner/name slug, forwarded to the job server
	Tracker    *changeset.Tracker
	Engine     *syncer.Engine
	Runner     *jobs.Runner
	Diags      *diagnostics.Store
	Width      int // progress bar width, 0 for the default

	logger *log.Logger
}

// NewPipeline wires a pipeline. All collaborators are required.
func NewPipeline(root, repository string, tracker *changeset.Tracker, engine *syncer.Engine, runner *jobs.Runner, diags *diagnostics.Store) *Pipeline {
	return &Pipeline{
		Root:       root,
		Repository: repository,
		Tracker:    tracker,
		Engine:     engine,
		Runner:     runner,
		Diags:      diags,
		logger:     log.With("component", "verify"),
	}
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	SyncStats syncer.Stats
	Result    jobs.Result
	Diags     []diagnostics.Diagnostic
}

// Failed reports whether the job reached a failing terminal state.
func (o Outcome) Failed() bool {
	return o.Result.State == jobs.StateFailed
}

// Run verifies target, an absolute path inside the workspace. Progress is
// rendered to out; extra observers (the dashboard broadcast) see every
// snapshot as well. Returns jobs.ErrBusy without syncing or contacting the
// server if a run is already active.
func (p *Pipeline) Run(ctx context.Context, target string, out io.Writer, extra ...jobs.Observer) (Outcome, error) {
	var outcome Outcome

	if p.Runner.Active() != nil {
		return outcome, jobs.ErrBusy
	}

	// The target itself counts as touched even when no watcher is running.
	p.Tracker.Record(target)

	paths := p.Tracker.Snapshot()
	stats, err := p.Engine.Sync(ctx, paths)
	if err != nil {
		// Keep the change set: the next cycle re-diffs and retries safely.
		return outcome, fmt.Errorf("sync failed: %w", err)
	}
	outcome.SyncStats = stats
	p.Tracker.Forget(paths)

	rel, err := filepath.Rel(p.Root, target)
	if err != nil {
		return outcome, fmt.Errorf("target %s is not under workspace %s: %w", target, p.Root, err)
	}

	renderer := progress.NewRenderer(out, p.Width)
	observers := append([]jobs.Observer{renderObserver(renderer)}, extra...)

	run, err := p.Runner.Start(ctx, jobserver.SubmitRequest{
		Command:       CommandVerify,
		TargetPath:    filepath.ToSlash(rel),
		RepositoryRef: p.Repository + "@" + p.Engine.Branch(),
	}, multiObserver(observers))
	if err != nil {
		return outcome, err
	}

	<-run.Done()
	outcome.Result = run.Result()

	if outcome.Result.State.Terminal() && !run.Cancelled() {
		renderer.Finish(outcome.Result.Snapshot.ErrorCount)
	}

	switch outcome.Result.State {
	case jobs.StateFailed:
		outcome.Diags = diagnostics.FromPositional(outcome.Result.Snapshot.Errors)
		p.Diags.Publish(target, outcome.Diags)
	case jobs.StateSucceeded:
		p.Diags.Publish(target, nil)
	}

	return outcome, nil
}

// Lint runs the synchronous linter against target and publishes the
// resulting diagnostics, replacing the document's previous set.
func (p *Pipeline) Lint(ctx context.Context, client *jobserver.Client, target string, body []byte) ([]diagnostics.Diagnostic, error) {
	errs, err := client.Lint(ctx, filepath.Base(target), body)
	if err != nil {
		return nil, err
	}
	diags := diagnostics.FromPositional(errs)
	p.Diags.Publish(target, diags)
	return diags, nil
}

// renderObserver feeds analysis-stage snapshots into the renderer. Queued
// and makeenv snapshots carry no phase data worth drawing.
func renderObserver(r *progress.Renderer) jobs.Observer {
	return jobs.ObserverFunc(func(_ *jobs.Run, state jobs.State, snap jobserver.Snapshot) {
		if state != jobs.StateRunningAnalysis && !state.Terminal() {
			return
		}
		r.Observe(snap.Phases, snap.Percent, snap.ErrorCount)
	})
}

func multiObserver(observers []jobs.Observer) jobs.Observer {
	return jobs.ObserverFunc(func(run *jobs.Run, state jobs.State, snap jobserver.Snapshot) {
		for _, o := range observers {
			o.OnSnapshot(run, state, snap)
		}
	})
}
