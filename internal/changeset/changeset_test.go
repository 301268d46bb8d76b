package changeset

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTrackerRecordIsIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Record("/ws/a.miz")
	tr.Record("/ws/a.miz")
	tr.RecordDeletion("/ws/a.miz")

	if got := tr.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestTrackerDrainClearsSet(t *testing.T) {
	tr := NewTracker()
	tr.Record("/ws/b.miz")
	tr.Record("/ws/a.miz")

	got := tr.Drain()
	if len(got) != 2 {
		t.Fatalf("Drain() returned %d paths, want 2", len(got))
	}
	// Sorted output.
	if got[0] != "/ws/a.miz" || got[1] != "/ws/b.miz" {
		t.Errorf("Drain() = %v, want sorted paths", got)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() after Drain() = %d, want 0", tr.Len())
	}
}

func TestTrackerSnapshotLeavesSetIntact(t *testing.T) {
	tr := NewTracker()
	tr.Record("/ws/a.miz")

	if got := tr.Snapshot(); len(got) != 1 {
		t.Fatalf("Snapshot() returned %d paths, want 1", len(got))
	}
	if tr.Len() != 1 {
		t.Errorf("Len() after Snapshot() = %d, want 1", tr.Len())
	}
}

func TestTrackerForgetKeepsLaterRecords(t *testing.T) {
	tr := NewTracker()
	tr.Record("/ws/a.miz")
	snap := tr.Snapshot()

	// Recorded while a sync of snap is in flight.
	tr.Record("/ws/b.miz")

	tr.Forget(snap)
	got := tr.Snapshot()
	if len(got) != 1 || got[0] != "/ws/b.miz" {
		t.Errorf("Snapshot() after Forget = %v, want [/ws/b.miz]", got)
	}
}

func waitFor(t *testing.T, tr *Tracker, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if tr.Len() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d tracked paths, have %d", want, tr.Len())
		default:
			time.Sleep(25 * time.Millisecond)
		}
	}
}

func TestWatcherTracksWrites(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker()

	w, err := NewWatcher(dir, []string{".miz"}, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "article.miz")
	if err := os.WriteFile(path, []byte("theorem"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, tr, 1)
	got := tr.Snapshot()
	if got[0] != path {
		t.Errorf("tracked %q, want %q", got[0], path)
	}
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker()

	w, err := NewWatcher(dir, []string{".miz"}, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if tr.Len() != 0 {
		t.Errorf("tracked %v, want nothing", tr.Snapshot())
	}
}

func TestWatcherTracksDeletions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.miz")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tr := NewTracker()
	w, err := NewWatcher(dir, []string{".miz"}, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	waitFor(t, tr, 1)
	if got := tr.Snapshot(); got[0] != path {
		t.Errorf("tracked %q, want %q", got[0], path)
	}
}
