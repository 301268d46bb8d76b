// Package jobs drives a remote verification job from submission to a
// terminal state. Polling is strictly sequential: the next request is
// scheduled only after the previous one settles, so state transitions are
// observed in the order the server reports them.
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/proofsync/proofsync/internal/jobserver"
)

// ErrBusy is returned when a job is started while one is already active.
// The rejection is local; no request reaches the server.
var ErrBusy = errors.New("a verification job is already active")

// State is the client-side view of a job's lifecycle.
type State int

const (
	StateQueued State = iota
	StatePreparingEnv
	StateRunningAnalysis
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePreparingEnv:
		return "preparing-env"
	case StateRunningAnalysis:
		return "running-analysis"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can follow.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Classify derives the lifecycle state from a snapshot. A makeenv failure
// is terminal on its own: the analysis stage is never entered.
func Classify(snap jobserver.Snapshot) State {
	if !snap.MakeenvFinish {
		if snap.QueueNum > 0 {
			return StateQueued
		}
		return StatePreparingEnv
	}
	if !snap.MakeenvSuccess {
		return StateFailed
	}
	if !snap.VerifierFinish {
		return StateRunningAnalysis
	}
	if snap.VerifierSuccess {
		return StateSucceeded
	}
	return StateFailed
}

// Poller is the job-server surface the runner needs. *jobserver.Client
// satisfies it.
type Poller interface {
	Submit(ctx context.Context, req jobserver.SubmitRequest) (string, error)
	Status(ctx context.Context, id string) (jobserver.Snapshot, error)
	Cancel(ctx context.Context, id string) error
}

// Observer receives every snapshot of a run, on the run's own goroutine.
type Observer interface {
	OnSnapshot(run *Run, state State, snap jobserver.Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(run *Run, state State, snap jobserver.Snapshot)

func (f ObserverFunc) OnSnapshot(run *Run, state State, snap jobserver.Snapshot) {
	f(run, state, snap)
}

// Result is the final outcome of a run.
type Result struct {
	State    State
	Snapshot jobserver.Snapshot
	Err      error
}

// Run is one submitted job being polled to completion.
type Run struct {
	ID    string // client-side run id
	JobID string // server-assigned job id

	cancelled atomic.Bool
	cancelCh  chan struct{}
	doneCh    chan struct{}
	result    Result
}

// Done is closed once the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.doneCh
}

// Result returns the outcome. Valid only after Done is closed.
func (r *Run) Result() Result {
	return r.result
}

// Cancelled reports whether Cancel was requested.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Runner owns at most one active run at a time.
type Runner struct {
	poller Poller
	logger *log.Logger

	// PollInterval is the steady cadence between polls. QueueGrace
	// replaces it for the wait after a snapshot that reports a nonzero
	// queue depth, so a queued job is not hammered.
	PollInterval time.Duration
	QueueGrace   time.Duration

	// MaxPollFailures is how many consecutive poll errors are tolerated
	// before the run is failed.
	MaxPollFailures int

	mu     sync.Mutex
	active *Run
}

// NewRunner creates a runner with the standard cadence.
func NewRunner(poller Poller) *Runner {
	return &Runner{
		poller:          poller,
		logger:          log.With("component", "jobs"),
		PollInterval:    time.Second,
		QueueGrace:      5 * time.Second,
		MaxPollFailures: 5,
	}
}

// Active returns the currently active run, or nil.
func (r *Runner) Active() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start submits a job and begins polling it. Returns ErrBusy without
// contacting the server if a run is already active.
func (r *Runner) Start(ctx context.Context, req jobserver.SubmitRequest, obs Observer) (*Run, error) {
	run := &Run{
		ID:       uuid.New().String(),
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.active = run
	r.mu.Unlock()

	jobID, err := r.poller.Submit(ctx, req)
	if err != nil {
		r.clearActive(run)
		close(run.doneCh)
		return nil, err
	}
	run.JobID = jobID
	r.logger.Info("job submitted", "run", run.ID, "job", jobID, "command", req.Command)

	go r.loop(ctx, run, obs)
	return run, nil
}

// Cancel stops the active run: polling ends immediately and the server is
// notified best-effort, fire-and-forget. A poll response already in flight
// is discarded on arrival.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	run := r.active
	r.mu.Unlock()
	if run == nil {
		return false
	}

	if run.cancelled.CompareAndSwap(false, true) {
		close(run.cancelCh)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.poller.Cancel(ctx, run.JobID); err != nil {
				r.logger.Warn("server-side cancel failed", "job", run.JobID, "err", err)
			}
		}()
	}
	return true
}

func (r *Runner) loop(ctx context.Context, run *Run, obs Observer) {
	delay := r.PollInterval
	failures := 0

	for {
		timer := time.NewTimer(delay)
		select {
		case <-run.cancelCh:
			timer.Stop()
			r.finish(run, Result{State: StateCancelled})
			return
		case <-ctx.Done():
			timer.Stop()
			r.finish(run, Result{State: StateCancelled, Err: ctx.Err()})
			return
		case <-timer.C:
		}

		snap, err := r.poller.Status(ctx, run.JobID)

		// A response that was in flight when Cancel hit is not abortable;
		// discard it instead of acting on stale state.
		if run.Cancelled() {
			r.finish(run, Result{State: StateCancelled})
			return
		}

		if err != nil {
			failures++
			r.logger.Warn("poll failed", "job", run.JobID, "attempt", failures, "err", err)
			if failures >= r.MaxPollFailures {
				r.finish(run, Result{State: StateFailed, Err: err})
				return
			}
			delay = r.PollInterval
			continue
		}
		failures = 0

		state := Classify(snap)
		if obs != nil {
			obs.OnSnapshot(run, state, snap)
		}

		if state.Terminal() {
			r.finish(run, Result{State: state, Snapshot: snap})
			return
		}

		if snap.QueueNum > 0 {
			delay = r.QueueGrace
		} else {
			delay = r.PollInterval
		}
	}
}

func (r *Runner) finish(run *Run, res Result) {
	run.result = res
	r.clearActive(run)
	close(run.doneCh)
	r.logger.Info("job resolved", "run", run.ID, "job", run.JobID, "state", res.State.String())
}

func (r *Runner) clearActive(run *Run) {
	r.mu.Lock()
	if r.active == run {
		r.active = nil
	}
	r.mu.Unlock()
}
