// Package changeset tracks which workspace paths were touched or deleted
// since the last successful sync. Edits and deletions share a single set;
// the sync engine disambiguates by probing local existence at sync time.
package changeset

import (
	"sort"
	"sync"
)

// Tracker records paths touched during an edit session.
type Tracker struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{paths: make(map[string]struct{})}
}

// Record marks a path as touched. Idempotent.
func (t *Tracker) Record(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths[path] = struct{}{}
}

// RecordDeletion marks a path as deleted. Deletions share the set with
// edits on purpose; existence probing disambiguates later.
func (t *Tracker) RecordDeletion(path string) {
	t.Record(path)
}

// Len returns the number of tracked paths.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}

// Snapshot returns a sorted copy of the tracked set without clearing it.
// Sync cycles read from a snapshot so that paths recorded while a sync is
// in flight are never lost.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// Drain returns the tracked set and resets it to empty. Call only after
// the sync that consumed the set fully succeeded; on failure leave the set
// intact so the next cycle retries.
func (t *Tracker) Drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := t.sortedLocked()
	t.paths = make(map[string]struct{})
	return paths
}

// Forget removes exactly the given paths, leaving anything recorded since
// the snapshot was taken. Used after a successful sync of a snapshot.
func (t *Tracker) Forget(paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		delete(t.paths, p)
	}
}

func (t *Tracker) sortedLocked() []string {
	paths := make([]string, 0, len(t.paths))
	for p := range t.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
