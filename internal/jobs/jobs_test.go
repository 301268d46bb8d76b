package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/proofsync/proofsync/internal/jobserver"
)

type statusReply struct {
	snap jobserver.Snapshot
	err  error
}

// fakePoller serves a scripted sequence of status replies; the last reply
// repeats once the script runs out.
type fakePoller struct {
	mu          sync.Mutex
	submits     int
	submitErr   error
	statuses    []statusReply
	statusTimes []time.Time
	cancels     []string

	// blockStatus, when non-nil, makes Status wait until it is closed.
	blockStatus chan struct{}
}

func (f *fakePoller) Submit(ctx context.Context, req jobserver.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakePoller) Status(ctx context.Context, id string) (jobserver.Snapshot, error) {
	f.mu.Lock()
	block := f.blockStatus
	f.statusTimes = append(f.statusTimes, time.Now())
	var reply statusReply
	if len(f.statuses) > 0 {
		reply = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return reply.snap, reply.err
}

func (f *fakePoller) Cancel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakePoller) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakePoller) pollTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.statusTimes))
	copy(out, f.statusTimes)
	return out
}

func fastRunner(p Poller) *Runner {
	r := NewRunner(p)
	r.PollInterval = 2 * time.Millisecond
	r.QueueGrace = 60 * time.Millisecond
	return r
}

func snapQueued(n int) jobserver.Snapshot {
	return jobserver.Snapshot{QueueNum: n}
}

func snapRunning(phases []string, percent float64) jobserver.Snapshot {
	return jobserver.Snapshot{
		MakeenvFinish:  true,
		MakeenvSuccess: true,
		Phases:         phases,
		Percent:        percent,
	}
}

func snapDone(success bool, errs []jobserver.PositionalError) jobserver.Snapshot {
	return jobserver.Snapshot{
		MakeenvFinish:   true,
		MakeenvSuccess:  true,
		VerifierFinish:  true,
		VerifierSuccess: success,
		ErrorCount:      len(errs),
		Errors:          errs,
	}
}

func waitDone(t *testing.T, run *Run) Result {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
	return run.Result()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		snap jobserver.Snapshot
		want State
	}{
		{"queued", snapQueued(3), StateQueued},
		{"preparing", jobserver.Snapshot{}, StatePreparingEnv},
		{"makeenv failed", jobserver.Snapshot{MakeenvFinish: true}, StateFailed},
		{"running", snapRunning([]string{"Parser"}, 10), StateRunningAnalysis},
		{"succeeded", snapDone(true, nil), StateSucceeded},
		{"failed", snapDone(false, nil), StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.snap); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunnerSuccessPath(t *testing.T) {
	poller := &fakePoller{statuses: []statusReply{
		{snap: snapQueued(2)},
		{snap: snapRunning([]string{"Parser"}, 40)},
		{snap: snapDone(true, nil)},
	}}
	// QueueGrace at the poll interval so the queued snapshot does not slow
	// this test down.
	r := fastRunner(poller)
	r.QueueGrace = r.PollInterval

	var mu sync.Mutex
	var seen []State
	obs := ObserverFunc(func(run *Run, state State, snap jobserver.Snapshot) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	})

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{Command: "verifier"}, obs)
	if err != nil {
		t.Fatal(err)
	}
	res := waitDone(t, run)

	if res.State != StateSucceeded {
		t.Errorf("final state = %v, want succeeded", res.State)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateQueued, StateRunningAnalysis, StateSucceeded}
	if len(seen) != len(want) {
		t.Fatalf("observer saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("observer transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
	if r.Active() != nil {
		t.Error("runner still reports an active run after completion")
	}
}

func TestRunnerRejectsConcurrentStart(t *testing.T) {
	release := make(chan struct{})
	poller := &fakePoller{
		statuses:    []statusReply{{snap: snapDone(true, nil)}},
		blockStatus: release,
	}
	r := fastRunner(poller)

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start error = %v, want ErrBusy", err)
	}
	if got := poller.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1 (busy rejection must be local)", got)
	}

	close(release)
	waitDone(t, run)
}

func TestRunnerMakeenvFailureIsTerminal(t *testing.T) {
	snap := jobserver.Snapshot{
		MakeenvFinish: true,
		MakeenvText:   "environment: missing vocabulary file",
	}
	poller := &fakePoller{statuses: []statusReply{{snap: snap}}}
	r := fastRunner(poller)

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := waitDone(t, run)

	if res.State != StateFailed {
		t.Errorf("state = %v, want failed", res.State)
	}
	if res.Snapshot.MakeenvText != snap.MakeenvText {
		t.Errorf("makeenv text not preserved: %q", res.Snapshot.MakeenvText)
	}
	if len(poller.pollTimes()) != 1 {
		t.Errorf("polled %d times after a terminal snapshot, want 1", len(poller.pollTimes()))
	}
}

func TestRunnerQueueBackoff(t *testing.T) {
	poller := &fakePoller{statuses: []statusReply{
		{snap: snapQueued(1)},
		{snap: snapDone(true, nil)},
	}}
	r := fastRunner(poller)

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, run)

	times := poller.pollTimes()
	if len(times) != 2 {
		t.Fatalf("polled %d times, want 2", len(times))
	}
	gap := times[1].Sub(times[0])
	if gap < r.QueueGrace/2 {
		t.Errorf("poll after queued snapshot came after %v, want at least ~%v", gap, r.QueueGrace)
	}
}

func TestRunnerCancelDiscardsInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	poller := &fakePoller{
		statuses:    []statusReply{{snap: snapDone(true, nil)}},
		blockStatus: release,
	}
	r := fastRunner(poller)

	var mu sync.Mutex
	observed := 0
	obs := ObserverFunc(func(run *Run, state State, snap jobserver.Snapshot) {
		mu.Lock()
		observed++
		mu.Unlock()
	})

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, obs)
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the poll to be in flight, then cancel and let it return.
	for len(poller.pollTimes()) == 0 {
		time.Sleep(time.Millisecond)
	}
	if !r.Cancel() {
		t.Fatal("Cancel reported no active run")
	}
	close(release)

	res := waitDone(t, run)
	if res.State != StateCancelled {
		t.Errorf("state = %v, want cancelled (in-flight success must be discarded)", res.State)
	}
	mu.Lock()
	if observed != 0 {
		t.Errorf("observer saw %d snapshots after cancel, want 0", observed)
	}
	mu.Unlock()
}

func TestRunnerCancelNotifiesServer(t *testing.T) {
	release := make(chan struct{})
	poller := &fakePoller{
		statuses:    []statusReply{{snap: snapRunning(nil, 0)}},
		blockStatus: release,
	}
	r := fastRunner(poller)

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Cancel()
	close(release)
	waitDone(t, run)

	deadline := time.After(2 * time.Second)
	for {
		poller.mu.Lock()
		n := len(poller.cancels)
		poller.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server-side cancel was never sent")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRunnerCancelWithoutActiveRun(t *testing.T) {
	r := fastRunner(&fakePoller{})
	if r.Cancel() {
		t.Error("Cancel reported an active run when there was none")
	}
}

func TestRunnerToleratesTransientPollFailures(t *testing.T) {
	pollErr := errors.New("connection refused")
	poller := &fakePoller{statuses: []statusReply{
		{err: pollErr},
		{err: pollErr},
		{snap: snapDone(true, nil)},
	}}
	r := fastRunner(poller)

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := waitDone(t, run)
	if res.State != StateSucceeded {
		t.Errorf("state = %v, want succeeded after transient failures", res.State)
	}
}

func TestRunnerFailsAfterRepeatedPollFailures(t *testing.T) {
	pollErr := errors.New("connection refused")
	poller := &fakePoller{statuses: []statusReply{{err: pollErr}}}
	r := fastRunner(poller)
	r.MaxPollFailures = 3

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := waitDone(t, run)

	if res.State != StateFailed {
		t.Errorf("state = %v, want failed", res.State)
	}
	if !errors.Is(res.Err, pollErr) {
		t.Errorf("result error = %v, want the poll error", res.Err)
	}
	if got := len(poller.pollTimes()); got != 3 {
		t.Errorf("polled %d times, want exactly MaxPollFailures", got)
	}
}

func TestRunnerSubmitFailureReleasesSlot(t *testing.T) {
	poller := &fakePoller{submitErr: errors.New("job server unavailable")}
	r := fastRunner(poller)

	if _, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil); err == nil {
		t.Fatal("Start succeeded despite submit failure")
	}

	poller.mu.Lock()
	poller.submitErr = nil
	poller.statuses = []statusReply{{snap: snapDone(true, nil)}}
	poller.mu.Unlock()

	run, err := r.Start(context.Background(), jobserver.SubmitRequest{}, nil)
	if err != nil {
		t.Fatalf("Start after failed submit = %v, want the slot released", err)
	}
	waitDone(t, run)
}
