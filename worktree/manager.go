// Package worktree manages the lifecycle of linked git worktrees: locked
// creation with retry, validity reconciliation against the repository's
// worktree metadata, and cleanup that survives partial prior failures.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zhubert/vibegit-core/git"
	"github.com/zhubert/vibegit-core/logger"
)

// State classifies a worktree path against its two sources of truth: the
// physical directory and the repository's worktree metadata back-link.
type State int

const (
	// StateAbsent means neither the directory nor metadata exists.
	StateAbsent State = iota
	// StateMetadataOnly means the repository registers the worktree but
	// the directory is gone (deleted externally).
	StateMetadataOnly
	// StateFilesystemOnly means the directory exists but the repository
	// has no metadata entry back-linking to it.
	StateFilesystemOnly
	// StateValid means the directory exists and the metadata back-link
	// canonicalizes to it.
	StateValid
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateMetadataOnly:
		return "metadata-only"
	case StateFilesystemOnly:
		return "filesystem-only"
	case StateValid:
		return "valid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager owns worktree lifecycle operations. All mutating operations on a
// given path serialize on a per-path lock, so concurrent callers racing to
// create or destroy the same worktree observe strict ordering. Operations
// on distinct paths proceed in parallel.
type Manager struct {
	git *git.GitService

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager using the given git service.
func NewManager(gitSvc *git.GitService) *Manager {
	return &Manager{
		git:   gitSvc,
		locks: make(map[string]*sync.Mutex),
	}
}

// canonicalPath resolves symlinks so that two spellings of the same
// directory map to one lock entry. Paths that do not exist yet fall back
// to their absolute form.
func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// lockFor returns the lock guarding the canonicalized path, creating it on
// first use. Entries are never removed; the table grows with the set of
// distinct paths ever operated on.
func (m *Manager) lockFor(path string) *sync.Mutex {
	key := canonicalPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Inspect reports the lifecycle state of worktreePath relative to repoPath.
func (m *Manager) Inspect(ctx context.Context, repoPath, worktreePath string) (State, error) {
	lock := m.lockFor(worktreePath)
	lock.Lock()
	defer lock.Unlock()
	return m.inspectLocked(ctx, repoPath, worktreePath)
}

func (m *Manager) inspectLocked(ctx context.Context, repoPath, worktreePath string) (State, error) {
	fsExists := dirExists(worktreePath)

	metaDir, err := m.findMetadataEntry(ctx, repoPath, worktreePath)
	if err != nil {
		return StateAbsent, err
	}
	hasMetadata := metaDir != ""

	switch {
	case fsExists && hasMetadata:
		return StateValid, nil
	case fsExists:
		return StateFilesystemOnly, nil
	case hasMetadata:
		return StateMetadataOnly, nil
	default:
		return StateAbsent, nil
	}
}

// findMetadataEntry scans the repository's worktrees metadata directory for
// an entry whose gitdir back-link canonicalizes to worktreePath. Returns
// the entry's directory path, or empty when no entry matches. Stale entries
// left by externally deleted worktrees do not match.
func (m *Manager) findMetadataEntry(ctx context.Context, repoPath, worktreePath string) (string, error) {
	commonDir, err := m.git.GetGitCommonDir(ctx, repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve git common dir: %w", err)
	}

	worktreesMetaDir := filepath.Join(commonDir, "worktrees")
	entries, err := os.ReadDir(worktreesMetaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read worktree metadata: %w", err)
	}

	target := canonicalPath(worktreePath)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		entryDir := filepath.Join(worktreesMetaDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(entryDir, "gitdir"))
		if err != nil {
			continue
		}
		// The back-link points at <worktree>/.git; its parent is the
		// worktree directory itself.
		linked := filepath.Dir(strings.TrimSpace(string(data)))
		if canonicalPath(linked) == target {
			return entryDir, nil
		}
	}
	return "", nil
}

// staleMetadataDir returns the metadata entry matching the worktree's base
// name regardless of where its back-link points. Used by cleanup to clear
// entries whose back-link no longer resolves.
func (m *Manager) staleMetadataDir(ctx context.Context, repoPath, worktreePath string) string {
	commonDir, err := m.git.GetGitCommonDir(ctx, repoPath)
	if err != nil {
		return ""
	}
	entryDir := filepath.Join(commonDir, "worktrees", filepath.Base(worktreePath))
	if dirExists(entryDir) {
		return entryDir
	}
	return ""
}

// EnsureExists guarantees a valid worktree for branch at worktreePath. A
// worktree that is already valid is left untouched. Anything else (absent,
// stale metadata, orphaned directory) is torn down and recreated. The
// per-path lock is held across the whole inspect/cleanup/create sequence.
func (m *Manager) EnsureExists(ctx context.Context, repoPath, branch, worktreePath string) error {
	log := logger.WithComponent("worktree")

	lock := m.lockFor(worktreePath)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.inspectLocked(ctx, repoPath, worktreePath)
	if err != nil {
		return err
	}
	if state == StateValid {
		log.Debug("worktree already valid", "worktree", worktreePath, "branch", branch)
		return nil
	}

	log.Info("recreating worktree", "worktree", worktreePath, "branch", branch, "state", state.String())

	if err := m.cleanupLocked(ctx, repoPath, worktreePath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent directory: %w", err)
	}

	createBranch := !m.git.BranchExists(ctx, repoPath, branch)
	return m.createWithRetry(ctx, repoPath, worktreePath, branch, createBranch, "")
}

// CreateWorktree creates a worktree at worktreePath on a new branch based
// on baseBranch. The path must not already hold a valid worktree.
func (m *Manager) CreateWorktree(ctx context.Context, repoPath, worktreePath, branch, baseBranch string) error {
	lock := m.lockFor(worktreePath)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.inspectLocked(ctx, repoPath, worktreePath)
	if err != nil {
		return err
	}
	if state == StateValid {
		return fmt.Errorf("worktree already exists at %s", worktreePath)
	}
	if state != StateAbsent {
		if err := m.cleanupLocked(ctx, repoPath, worktreePath); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent directory: %w", err)
	}

	return m.createWithRetry(ctx, repoPath, worktreePath, branch, true, baseBranch)
}

// createWithRetry attempts worktree add, and on failure force-clears any
// stale metadata entry and leftover directory and tries exactly once more.
func (m *Manager) createWithRetry(ctx context.Context, repoPath, worktreePath, branch string, createBranch bool, startPoint string) error {
	log := logger.WithComponent("worktree")

	firstErr := m.git.WorktreeAdd(ctx, repoPath, worktreePath, branch, createBranch, startPoint)
	if firstErr == nil {
		return nil
	}

	log.Warn("worktree add failed, resetting and retrying",
		"worktree", worktreePath, "branch", branch, "error", firstErr)

	if metaDir := m.staleMetadataDir(ctx, repoPath, worktreePath); metaDir != "" {
		if err := os.RemoveAll(metaDir); err != nil {
			log.Warn("failed to clear stale worktree metadata", "path", metaDir, "error", err)
		}
	}
	if err := os.RemoveAll(worktreePath); err != nil {
		log.Warn("failed to clear leftover worktree directory", "worktree", worktreePath, "error", err)
	}
	if err := m.git.WorktreePrune(ctx, repoPath); err != nil {
		log.Warn("worktree prune failed", "repo", repoPath, "error", err)
	}

	if err := m.git.WorktreeAdd(ctx, repoPath, worktreePath, branch, createBranch, startPoint); err != nil {
		return fmt.Errorf("failed to create worktree after retry: %w", err)
	}
	return nil
}

// Cleanup removes the worktree at worktreePath. When repoPath is empty the
// repository is inferred from the worktree's own git metadata; if that
// fails too, the directory is deleted bare with no git-aware teardown.
func (m *Manager) Cleanup(ctx context.Context, worktreePath, repoPath string) error {
	log := logger.WithComponent("worktree")

	lock := m.lockFor(worktreePath)
	lock.Lock()
	defer lock.Unlock()

	if repoPath == "" {
		inferred, err := m.git.ResolveRepoFromWorktree(ctx, worktreePath)
		if err != nil {
			log.Warn("could not infer repository for worktree, removing directory only",
				"worktree", worktreePath, "error", err)
			if err := os.RemoveAll(worktreePath); err != nil {
				return fmt.Errorf("failed to remove worktree directory: %w", err)
			}
			return nil
		}
		repoPath = inferred
	}

	return m.cleanupLocked(ctx, repoPath, worktreePath)
}

// cleanupLocked tears a worktree down completely. Every step is best-effort
// except the physical directory removal: cleanup must tolerate whatever a
// prior partial failure left behind, but may not report success while the
// directory still exists.
func (m *Manager) cleanupLocked(ctx context.Context, repoPath, worktreePath string) error {
	log := logger.WithComponent("worktree")

	if err := m.git.WorktreeRemove(ctx, repoPath, worktreePath, true); err != nil {
		log.Debug("worktree remove failed during cleanup", "worktree", worktreePath, "error", err)
	}

	if metaDir := m.staleMetadataDir(ctx, repoPath, worktreePath); metaDir != "" {
		if err := os.RemoveAll(metaDir); err != nil {
			log.Warn("failed to remove worktree metadata", "path", metaDir, "error", err)
		}
	}

	if err := os.RemoveAll(worktreePath); err != nil {
		return fmt.Errorf("failed to remove worktree directory %s: %w", worktreePath, err)
	}

	if err := m.git.WorktreePrune(ctx, repoPath); err != nil {
		log.Debug("worktree prune failed during cleanup", "repo", repoPath, "error", err)
	}

	return nil
}

// Target identifies one worktree for batch cleanup. RepoPath may be empty,
// in which case the repository is inferred per member.
type Target struct {
	WorktreePath string
	RepoPath     string
}

// BatchCleanup removes every target worktree, logging per-member failures
// rather than stopping, and returns how many were cleaned up.
func (m *Manager) BatchCleanup(ctx context.Context, targets []Target) int {
	log := logger.WithComponent("worktree")

	cleaned := 0
	for _, t := range targets {
		if err := m.Cleanup(ctx, t.WorktreePath, t.RepoPath); err != nil {
			log.Error("failed to clean up worktree", "worktree", t.WorktreePath, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned
}

// Move relocates a worktree, serializing on both the old and new path
// locks in a stable order so concurrent moves cannot deadlock.
func (m *Manager) Move(ctx context.Context, repoPath, oldPath, newPath string) error {
	oldKey, newKey := canonicalPath(oldPath), canonicalPath(newPath)
	first, second := m.lockFor(oldPath), m.lockFor(newPath)
	if oldKey > newKey {
		first, second = second, first
	}
	first.Lock()
	defer first.Unlock()
	if first != second {
		second.Lock()
		defer second.Unlock()
	}

	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := m.git.WorktreeMove(ctx, repoPath, oldPath, newPath); err != nil {
		return err
	}
	logger.WithComponent("worktree").Info("moved worktree", "from", oldPath, "to", newPath)
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
