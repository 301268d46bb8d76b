// Package syncer mirrors local edits onto a shadow branch of the hosting
// repository using content-addressed blob/tree/commit primitives. Every
// cycle re-diffs remote content before mutating anything, so a failed
// cycle can simply be retried against the same change set.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/proofsync/proofsync/internal/hosting"
)

// DefaultBranch is the shadow branch name.
const DefaultBranch = "verifier"

// Host is the subset of the hosting client the engine uses. *hosting.Client
// satisfies it; tests substitute a fake.
type Host interface {
	GetRepository(ctx context.Context) (hosting.Repository, error)
	GetBranch(ctx context.Context, name string) (hosting.Branch, error)
	CreateRef(ctx context.Context, ref, sha string) error
	UpdateRef(ctx context.Context, ref, sha string) error
	GetFile(ctx context.Context, path, ref string) (hosting.File, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []hosting.TreeEntry) (string, error)
	GetCommit(ctx context.Context, sha string) (hosting.Commit, error)
	CreateCommit(ctx context.Context, message, tree, parent string) (string, error)
	DeleteFile(ctx context.Context, path, message, sha, branch string) error
}

// Stats summarizes what one sync cycle did remotely.
type Stats struct {
	Blobs     int `json:"blobs"`
	Commits   int `json:"commits"`
	Deletions int `json:"deletions"`
	Skipped   int `json:"skipped"`
}

// Engine pushes change sets to the shadow branch.
type Engine struct {
	host   Host
	root   string
	branch string
	logger *log.Logger
}

// New creates an engine for the workspace rooted at root. branch defaults
// to DefaultBranch when empty.
func New(host Host, root, branch string) *Engine {
	if branch == "" {
		branch = DefaultBranch
	}
	return &Engine{
		host:   host,
		root:   root,
		branch: branch,
		logger: log.With("component", "sync"),
	}
}

// Branch returns the shadow branch name.
func (e *Engine) Branch() string {
	return e.branch
}

// Sync pushes the given change set to the shadow branch. Paths are
// absolute; a path that no longer exists locally is treated as a deletion.
// All content changes land in at most one commit; deletions then go
// through the contents API one file at a time because the hosting API has
// no batched delete.
//
// On any error the caller must keep the change set for the next cycle;
// the content diff in collectChanges makes retries idempotent.
func (e *Engine) Sync(ctx context.Context, paths []string) (Stats, error) {
	var stats Stats
	if len(paths) == 0 {
		return stats, nil
	}

	if err := e.ensureBranch(ctx); err != nil {
		return stats, err
	}

	entries, deletions, skipped, err := e.collectChanges(ctx, paths)
	if err != nil {
		return stats, err
	}
	stats.Skipped = skipped

	if len(entries) > 0 {
		if err := e.commitEntries(ctx, entries); err != nil {
			return stats, err
		}
		stats.Blobs = len(entries)
		stats.Commits = 1
	}

	for _, rel := range deletions {
		deleted, err := e.deleteFile(ctx, rel)
		if err != nil {
			return stats, err
		}
		if deleted {
			stats.Deletions++
		} else {
			stats.Skipped++
		}
	}

	e.logger.Info("sync cycle complete",
		"blobs", stats.Blobs, "commits", stats.Commits,
		"deletions", stats.Deletions, "skipped", stats.Skipped)
	return stats, nil
}

// ensureBranch creates the shadow branch at the default branch head if it
// does not exist yet. Two callers racing to create the same ref are both
// fine: the loser's conflict is swallowed.
func (e *Engine) ensureBranch(ctx context.Context) error {
	_, err := e.host.GetBranch(ctx, e.branch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, hosting.ErrNotFound) {
		return fmt.Errorf("failed to look up branch %s: %w", e.branch, err)
	}

	repo, err := e.host.GetRepository(ctx)
	if err != nil {
		return fmt.Errorf("failed to get repository: %w", err)
	}
	head, err := e.host.GetBranch(ctx, repo.DefaultBranch)
	if err != nil {
		return fmt.Errorf("failed to resolve default branch %s: %w", repo.DefaultBranch, err)
	}

	err = e.host.CreateRef(ctx, "refs/heads/"+e.branch, head.Commit.SHA)
	if err != nil && !errors.Is(err, hosting.ErrConflict) {
		return fmt.Errorf("failed to create branch %s: %w", e.branch, err)
	}
	if err == nil {
		e.logger.Info("created shadow branch", "branch", e.branch, "at", head.Commit.SHA)
	}
	return nil
}

// collectChanges diffs each path against the branch and splits the set
// into blob entries for changed files and repository-relative paths to
// delete. A path never yields more than one entry per cycle.
func (e *Engine) collectChanges(ctx context.Context, paths []string) (entries []hosting.TreeEntry, deletions []string, skipped int, err error) {
	seen := make(map[string]struct{})
	for _, path := range paths {
		rel, relErr := e.relPath(path)
		if relErr != nil {
			return nil, nil, 0, relErr
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}

		local, readErr := os.ReadFile(path)
		if readErr != nil {
			if !os.IsNotExist(readErr) {
				return nil, nil, 0, fmt.Errorf("failed to read %s: %w", path, readErr)
			}
			// Gone locally: deletion candidate. Whether it still exists
			// remotely is probed at delete time, never cached.
			deletions = append(deletions, rel)
			continue
		}

		remote, fetchErr := e.host.GetFile(ctx, rel, e.branch)
		switch {
		case fetchErr == nil:
			if sameContent(local, remote.Content) {
				skipped++
				continue
			}
		case errors.Is(fetchErr, hosting.ErrNotFound):
			// New file.
		default:
			return nil, nil, 0, fmt.Errorf("failed to fetch %s@%s: %w", rel, e.branch, fetchErr)
		}

		sha, blobErr := e.host.CreateBlob(ctx, local)
		if blobErr != nil {
			return nil, nil, 0, fmt.Errorf("failed to create blob for %s: %w", rel, blobErr)
		}
		entries = append(entries, hosting.TreeEntry{
			Path: rel,
			Mode: "100644",
			Type: "blob",
			SHA:  sha,
		})
	}
	return entries, deletions, skipped, nil
}

// commitEntries builds one tree and one commit on the branch's current
// head and fast-forwards the ref. A refused ref update means someone else
// advanced the branch; that is fatal for this cycle and the next cycle
// recomputes against the new head.
func (e *Engine) commitEntries(ctx context.Context, entries []hosting.TreeEntry) error {
	branch, err := e.host.GetBranch(ctx, e.branch)
	if err != nil {
		return fmt.Errorf("failed to resolve head of %s: %w", e.branch, err)
	}
	parent, err := e.host.GetCommit(ctx, branch.Commit.SHA)
	if err != nil {
		return fmt.Errorf("failed to fetch head commit: %w", err)
	}

	tree, err := e.host.CreateTree(ctx, parent.Tree.SHA, entries)
	if err != nil {
		return fmt.Errorf("failed to create tree: %w", err)
	}
	commit, err := e.host.CreateCommit(ctx, commitMessage(entries), tree, parent.SHA)
	if err != nil {
		return fmt.Errorf("failed to create commit: %w", err)
	}

	if err := e.host.UpdateRef(ctx, "heads/"+e.branch, commit); err != nil {
		if errors.Is(err, hosting.ErrConflict) {
			return fmt.Errorf("branch %s moved during sync: %w", e.branch, err)
		}
		return fmt.Errorf("failed to advance %s: %w", e.branch, err)
	}
	return nil
}

// deleteFile removes rel from the branch. The current blob hash is fetched
// immediately before the delete call; the hosting API requires it as a
// precondition and a cached hash would race with the commit this cycle
// just made. Returns false if the path is already gone remotely.
func (e *Engine) deleteFile(ctx context.Context, rel string) (bool, error) {
	remote, err := e.host.GetFile(ctx, rel, e.branch)
	if err != nil {
		if errors.Is(err, hosting.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch %s before delete: %w", rel, err)
	}

	msg := fmt.Sprintf("proofsync: delete %s", rel)
	if err := e.host.DeleteFile(ctx, rel, msg, remote.SHA, e.branch); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	return true, nil
}

// relPath converts an absolute workspace path to the repository-relative
// slash form used on the remote.
func (e *Engine) relPath(path string) (string, error) {
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		return "", fmt.Errorf("path %s is not under workspace %s: %w", path, e.root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside workspace %s", path, e.root)
	}
	return filepath.ToSlash(rel), nil
}

func commitMessage(entries []hosting.TreeEntry) string {
	if len(entries) == 1 {
		return fmt.Sprintf("proofsync: update %s", entries[0].Path)
	}
	return fmt.Sprintf("proofsync: update %d files", len(entries))
}

// sameContent reports whether local and remote bytes are identical. Kept
// as its own function so the skip condition is testable in isolation.
func sameContent(local, remote []byte) bool {
	return bytes.Equal(local, remote)
}
