package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StatusEntry is one path in a porcelain status listing. Staged and
// Unstaged carry the raw two-letter status codes; OrigPath is set for
// renames and copies, which report the pre-move path as a second record.
type StatusEntry struct {
	Staged    byte
	Unstaged  byte
	Path      string
	OrigPath  string
	Untracked bool
}

// WorktreeStatus lists local modifications in a checkout, in the order
// git reports them, with aggregate counts.
type WorktreeStatus struct {
	Entries            []StatusEntry
	UntrackedFiles     int // Paths git does not know about ("??")
	UncommittedChanges int // Tracked paths with staged or unstaged modifications
}

// IsClean reports whether the checkout has no local modifications at all.
func (st *WorktreeStatus) IsClean() bool {
	return st.UntrackedFiles == 0 && st.UncommittedChanges == 0
}

// GetWorktreeStatus parses the state of a checkout from the NUL-delimited
// porcelain format, which is stable across git versions and unambiguous
// for paths with spaces or newlines.
func (s *GitService) GetWorktreeStatus(ctx context.Context, worktreePath string) (*WorktreeStatus, error) {
	if err := s.ensureAvailable(); err != nil {
		return nil, err
	}
	output, err := s.executor.Output(ctx, worktreePath, "git", "status", "--porcelain", "-z")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	status := &WorktreeStatus{}
	records := strings.Split(string(output), "\x00")
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if len(rec) < 4 {
			continue
		}

		entry := StatusEntry{Staged: rec[0], Unstaged: rec[1], Path: rec[3:]}

		// Renames and copies are followed by a second NUL-terminated
		// record holding the original path.
		if entry.Staged == 'R' || entry.Staged == 'C' || entry.Unstaged == 'R' || entry.Unstaged == 'C' {
			if i+1 < len(records) {
				i++
				entry.OrigPath = records[i]
			}
		}

		if entry.Staged == '?' && entry.Unstaged == '?' {
			entry.Untracked = true
			status.UntrackedFiles++
		} else if entry.Staged != ' ' || entry.Unstaged != ' ' {
			status.UncommittedChanges++
		}
		status.Entries = append(status.Entries, entry)
	}

	return status, nil
}

// DirtyPaths lists every path with local modifications, untracked files
// included. Rename records report the new path.
func (s *GitService) DirtyPaths(ctx context.Context, worktreePath string) ([]string, error) {
	status, err := s.GetWorktreeStatus(ctx, worktreePath)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range status.Entries {
		paths = append(paths, entry.Path)
	}
	return paths, nil
}

// CheckWorktreeClean returns nil for a clean checkout and a
// *WorktreeDirtyError carrying the dirty paths otherwise.
func (s *GitService) CheckWorktreeClean(ctx context.Context, worktreePath string) error {
	paths, err := s.DirtyPaths(ctx, worktreePath)
	if err != nil {
		return err
	}
	if len(paths) > 0 {
		return &WorktreeDirtyError{Paths: paths}
	}
	return nil
}

// HasChanges reports whether the checkout has any local modifications.
// Runs with --no-optional-locks so a background poll never contends with
// an interactive git process over index locks.
func (s *GitService) HasChanges(ctx context.Context, worktreePath string) (bool, error) {
	if err := s.ensureAvailable(); err != nil {
		return false, err
	}
	output, err := s.executor.Output(ctx, worktreePath, "git", "--no-optional-locks", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// IsWorkingTreeClean reports whether the checkout has no uncommitted
// changes and no untracked files.
func (s *GitService) IsWorkingTreeClean(ctx context.Context, worktreePath string) (bool, error) {
	status, err := s.GetWorktreeStatus(ctx, worktreePath)
	if err != nil {
		return false, err
	}
	return status.IsClean(), nil
}

// GetConflictedFiles returns the list of files with merge conflicts in a repo.
func (s *GitService) GetConflictedFiles(ctx context.Context, repoPath string) ([]string, error) {
	output, err := s.run(ctx, repoPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicted files: %w", err)
	}

	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}

// IsMergeInProgress checks if a merge is currently in progress in the repo.
// It returns true if MERGE_HEAD exists (meaning there's an ongoing merge).
func (s *GitService) IsMergeInProgress(ctx context.Context, repoPath string) (bool, error) {
	return s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "MERGE_HEAD"), nil
}

// WorktreeEntry is one worktree known to a repository, as reported by
// git worktree list.
type WorktreeEntry struct {
	Path     string
	HeadSHA  string
	Branch   string // Empty when detached
	Bare     bool
	Detached bool
}

// ListWorktrees returns all worktrees registered with the repository,
// including the main checkout.
func (s *GitService) ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeEntry, error) {
	output, err := s.run(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(output), nil
}

// parseWorktreeList parses git worktree list --porcelain output.
// Records are blank-line separated; each starts with a "worktree <path>"
// line. A record without a HEAD line (a bare repo entry mid-parse) is
// only emitted once complete.
func parseWorktreeList(output string) []WorktreeEntry {
	var entries []WorktreeEntry
	var cur *WorktreeEntry

	flush := func() {
		if cur == nil {
			return
		}
		if cur.Bare || cur.HeadSHA != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &WorktreeEntry{Path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			cur.HeadSHA = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			cur.Bare = true
		case line == "detached":
			cur.Detached = true
		}
	}
	flush()

	return entries
}

// pathExistsInWorktree resolves a possibly relative git path against the
// checkout and reports whether it exists.
func pathExistsInWorktree(worktreePath, p string) bool {
	if !filepath.IsAbs(p) {
		p = filepath.Join(worktreePath, p)
	}
	_, err := os.Stat(p)
	return err == nil
}
