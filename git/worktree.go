package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zhubert/vibegit-core/logger"
)

// WorktreeAdd creates a worktree at worktreePath checked out to branch.
// When createBranch is set, the branch is created at startPoint (HEAD if
// empty); otherwise the existing branch is checked out.
//
// If the parent repository uses sparse-checkout, the pattern set is
// reapplied in the new worktree so it starts with the same layout.
func (s *GitService) WorktreeAdd(ctx context.Context, repoPath, worktreePath, branch string, createBranch bool, startPoint string) error {
	log := logger.WithComponent("git")

	args := []string{"worktree", "add"}
	if createBranch {
		args = append(args, "-b", branch, worktreePath)
		if startPoint != "" {
			args = append(args, startPoint)
		}
	} else {
		args = append(args, worktreePath, branch)
	}

	if _, err := s.run(ctx, repoPath, args...); err != nil {
		return err
	}

	// Best-effort: a failure just leaves a full checkout.
	if _, err := s.run(ctx, worktreePath, "sparse-checkout", "reapply"); err != nil {
		log.Debug("sparse-checkout reapply skipped", "worktree", worktreePath, "error", err)
	}

	log.Info("added worktree", "worktree", worktreePath, "branch", branch, "createBranch", createBranch)
	return nil
}

// WorktreeRemove removes a worktree registration and its checkout.
// With force set, a dirty worktree is removed as well.
func (s *GitService) WorktreeRemove(ctx context.Context, repoPath, worktreePath string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)

	if _, err := s.run(ctx, repoPath, args...); err != nil {
		return err
	}
	logger.WithComponent("git").Info("removed worktree", "worktree", worktreePath)
	return nil
}

// WorktreeMove relocates a worktree's checkout to a new path and updates
// the repository's metadata to match.
func (s *GitService) WorktreeMove(ctx context.Context, repoPath, oldPath, newPath string) error {
	if _, err := s.run(ctx, repoPath, "worktree", "move", oldPath, newPath); err != nil {
		return err
	}
	logger.WithComponent("git").Info("moved worktree", "from", oldPath, "to", newPath)
	return nil
}

// WorktreePrune drops metadata for worktrees whose checkouts no longer
// exist on disk.
func (s *GitService) WorktreePrune(ctx context.Context, repoPath string) error {
	if _, err := s.run(ctx, repoPath, "worktree", "prune"); err != nil {
		return err
	}
	return nil
}

// GetGitCommonDir returns the repository's common git directory for the
// given checkout (the shared .git directory even when called from a
// linked worktree). The result is absolute.
func (s *GitService) GetGitCommonDir(ctx context.Context, path string) (string, error) {
	out, err := s.run(ctx, path, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("failed to resolve git common dir: %w", err)
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(path, out)
	}
	return filepath.Clean(out), nil
}

// ResolveRepoFromWorktree infers the main repository path for a worktree
// by walking up from its common git directory. A common dir ending in
// .git belongs to a normal repository; anything else (a bare repo) is
// returned as-is.
func (s *GitService) ResolveRepoFromWorktree(ctx context.Context, worktreePath string) (string, error) {
	commonDir, err := s.GetGitCommonDir(ctx, worktreePath)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(commonDir, string(filepath.Separator)+".git") || filepath.Base(commonDir) == ".git" {
		return filepath.Dir(commonDir), nil
	}
	return commonDir, nil
}
