package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	vexec "github.com/zhubert/vibegit-core/exec"
)

// GetWorktreeDiff compares the working tree of a checkout (untracked files
// included) against a base commit. The working tree is snapshotted into a
// throwaway tree object via a temporary index so the comparison runs
// through the same tree differ as every other target.
func (s *GitService) GetWorktreeDiff(ctx context.Context, worktreePath, baseCommit string, opts DiffOptions) (*Diff, error) {
	treeSHA, err := s.snapshotWorktree(ctx, worktreePath)
	if err != nil {
		return nil, err
	}

	repo, err := OpenRepository(worktreePath)
	if err != nil {
		return nil, err
	}
	return repo.DiffRefs(ctx, baseCommit, treeSHA, opts)
}

// GetBranchDiff compares a branch against its merge base with the base
// branch, so commits the base gained since the fork do not show up as
// reversed changes.
func (s *GitService) GetBranchDiff(ctx context.Context, repoPath, branch, base string, opts DiffOptions) (*Diff, error) {
	repo, err := OpenRepository(repoPath)
	if err != nil {
		return nil, err
	}

	mergeBase, err := repo.MergeBase(base, branch)
	if err != nil {
		return nil, fmt.Errorf("no merge base between %s and %s: %w", base, branch, err)
	}
	return repo.DiffRefs(ctx, mergeBase, branch, opts)
}

// GetCommitDiff compares a commit against its first parent. A root commit
// diffs against the empty tree, so everything reports as added.
func (s *GitService) GetCommitDiff(ctx context.Context, repoPath, sha string, opts DiffOptions) (*Diff, error) {
	repo, err := OpenRepository(repoPath)
	if err != nil {
		return nil, err
	}

	parent := sha + "^"
	if !s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", parent) {
		parent = ""
	}
	return repo.DiffRefs(ctx, parent, sha, opts)
}

// snapshotWorktree writes the current working tree, untracked files
// included, into a tree object using a temporary index. The real index
// and HEAD are untouched.
func (s *GitService) snapshotWorktree(ctx context.Context, worktreePath string) (string, error) {
	if err := s.ensureAvailable(); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp("", "vibegit-index-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary index: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	// git refuses to use an existing empty file as an index
	os.Remove(tmpName)
	defer os.Remove(tmpName)

	env := []string{"GIT_INDEX_FILE=" + tmpName}

	if stdout, stderr, err := s.executor.RunWithOptions(ctx, worktreePath, vexec.RunOptions{Env: env}, "git", "add", "-A"); err != nil {
		return "", &CommandError{Args: []string{"add", "-A"}, Stdout: string(stdout), Stderr: string(stderr), Err: err}
	}

	stdout, stderr, err := s.executor.RunWithOptions(ctx, worktreePath, vexec.RunOptions{Env: env}, "git", "write-tree")
	if err != nil {
		return "", &CommandError{Args: []string{"write-tree"}, Stdout: string(stdout), Stderr: string(stderr), Err: err}
	}
	return strings.TrimSpace(string(stdout)), nil
}
