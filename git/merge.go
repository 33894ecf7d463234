package git

import (
	"context"
	"fmt"
	"strings"

	vexec "github.com/zhubert/vibegit-core/exec"
	"github.com/zhubert/vibegit-core/logger"
)

// ConflictOp identifies which kind of operation is stopped on conflicts.
type ConflictOp string

const (
	ConflictNone       ConflictOp = ""
	ConflictRebase     ConflictOp = "rebase"
	ConflictMerge      ConflictOp = "merge"
	ConflictCherryPick ConflictOp = "cherry-pick"
	ConflictRevert     ConflictOp = "revert"
)

// ConflictState describes an in-progress conflicted operation in a checkout.
type ConflictState struct {
	Op    ConflictOp
	Files []string // Paths currently in conflict (unmerged in the index)
}

// GetForkPoint returns the best common ancestor of branch and base.
// Tries --fork-point first, which consults the reflog and gives a better
// answer after the base was rewritten, then falls back to a plain
// merge-base for histories where no fork point is recorded.
func (s *GitService) GetForkPoint(ctx context.Context, repoPath, base, branch string) (string, error) {
	if sha, err := s.run(ctx, repoPath, "merge-base", "--fork-point", base, branch); err == nil && sha != "" {
		return sha, nil
	}

	sha, err := s.run(ctx, repoPath, "merge-base", base, branch)
	if err != nil {
		return "", fmt.Errorf("no common ancestor between %s and %s: %w", base, branch, err)
	}
	return sha, nil
}

// RebaseBranch rebases the branch checked out in worktreePath onto the
// given ref and returns the new HEAD SHA. The working tree must be clean
// and no rebase may already be running. On conflict the rebase is left in
// place for resolution and a *MergeConflictError is returned.
func (s *GitService) RebaseBranch(ctx context.Context, worktreePath, onto string) (string, error) {
	log := logger.WithComponent("git")

	if err := s.CheckWorktreeClean(ctx, worktreePath); err != nil {
		return "", err
	}

	if s.isRebaseInProgress(ctx, worktreePath) {
		return "", ErrRebaseInProgress
	}

	if _, err := s.runNoEditor(ctx, worktreePath, "rebase", onto); err != nil {
		files, filesErr := s.GetConflictedFiles(ctx, worktreePath)
		if filesErr == nil && len(files) > 0 {
			log.Warn("rebase stopped on conflicts", "worktree", worktreePath, "onto", onto, "files", len(files))
			return "", &MergeConflictError{Files: files}
		}
		if cmdErr, ok := err.(*CommandError); ok && strings.Contains(cmdErr.CombinedOutput(), "CONFLICT") {
			return "", &MergeConflictError{}
		}
		return "", err
	}

	sha, err := s.run(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve rebased HEAD: %w", err)
	}

	log.Info("rebased branch", "worktree", worktreePath, "onto", onto, "sha", sha)
	return sha, nil
}

// RebaseOnto transplants taskBranch from oldBase onto newBase and returns
// the new HEAD SHA. The commits replayed are those after the fork point
// of oldBase and taskBranch; when no fork point exists, oldBase itself
// bounds the range.
func (s *GitService) RebaseOnto(ctx context.Context, worktreePath, taskBranch, oldBase, newBase string) (string, error) {
	upstream := oldBase
	if sha, err := s.run(ctx, worktreePath, "merge-base", oldBase, taskBranch); err == nil && sha != "" {
		upstream = sha
	}

	if s.isRebaseInProgress(ctx, worktreePath) {
		return "", ErrRebaseInProgress
	}

	if _, err := s.runNoEditor(ctx, worktreePath, "rebase", "--onto", newBase, upstream, taskBranch); err != nil {
		files, filesErr := s.GetConflictedFiles(ctx, worktreePath)
		if filesErr == nil && len(files) > 0 {
			return "", &MergeConflictError{Files: files}
		}
		return "", err
	}

	sha, err := s.run(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve rebased HEAD: %w", err)
	}

	logger.WithComponent("git").Info("rebased onto new base",
		"taskBranch", taskBranch, "oldBase", oldBase, "newBase", newBase, "sha", sha)
	return sha, nil
}

// SquashMerge collapses all commits of taskBranch into a single commit on
// baseBranch, then moves the task branch ref to the squash commit so both
// branches agree afterwards. repoPath must be the checkout that has
// baseBranch checked out (or can check it out).
//
// Preconditions enforced here: the task branch must not be behind the base
// (rebase first), and the base checkout must have nothing staged that the
// squash would sweep into its commit.
func (s *GitService) SquashMerge(ctx context.Context, repoPath, taskBranch, baseBranch, message string) (string, error) {
	log := logger.WithComponent("git")

	div, err := s.GetBranchDivergence(ctx, repoPath, taskBranch, baseBranch)
	if err != nil {
		return "", err
	}
	if div.Behind > 0 {
		return "", &DivergedError{Branch: taskBranch, Base: baseBranch, Behind: div.Behind}
	}

	staged, err := s.HasStagedChanges(ctx, repoPath)
	if err != nil {
		return "", err
	}
	if staged {
		return "", fmt.Errorf("base checkout has staged changes that would be folded into the squash commit: %w", ErrUncommittedChanges)
	}

	if err := s.CheckoutBranch(ctx, repoPath, baseBranch); err != nil {
		return "", fmt.Errorf("failed to checkout %s: %w", baseBranch, err)
	}

	if _, err := s.run(ctx, repoPath, "merge", "--squash", "--no-commit", taskBranch); err != nil {
		files, filesErr := s.GetConflictedFiles(ctx, repoPath)
		if filesErr == nil && len(files) > 0 {
			return "", &MergeConflictError{Files: files}
		}
		return "", err
	}

	if err := s.EnsureCommitIdentity(ctx, repoPath); err != nil {
		return "", err
	}

	if _, err := s.run(ctx, repoPath, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("failed to commit squashed changes: %w", err)
	}

	sha, err := s.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve squash commit: %w", err)
	}

	// Move the task branch to the squash commit so a follow-up diff of
	// task vs base is empty instead of replaying the old commits.
	if err := s.UpdateRef(ctx, repoPath, "refs/heads/"+taskBranch, sha); err != nil {
		return "", fmt.Errorf("failed to move %s to squash commit: %w", taskBranch, err)
	}

	log.Info("squash merged", "taskBranch", taskBranch, "baseBranch", baseBranch, "sha", sha)
	return sha, nil
}

// DetectConflicts inspects the checkout for an in-progress conflicted
// operation. When several markers are present (git leaves MERGE_HEAD
// around during some rebases), the outer operation wins: rebase over
// merge over cherry-pick over revert.
func (s *GitService) DetectConflicts(ctx context.Context, repoPath string) (*ConflictState, error) {
	files, err := s.GetConflictedFiles(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	op := ConflictNone
	switch {
	case s.isRebaseInProgress(ctx, repoPath):
		op = ConflictRebase
	case s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "MERGE_HEAD"):
		op = ConflictMerge
	case s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "CHERRY_PICK_HEAD"):
		op = ConflictCherryPick
	case s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "REVERT_HEAD"):
		op = ConflictRevert
	}

	if op == ConflictNone && len(files) == 0 {
		return nil, nil
	}
	return &ConflictState{Op: op, Files: files}, nil
}

// AbortConflicts aborts whatever conflicted operation is in progress,
// restoring the pre-operation state. A rebase with no remaining conflicted
// files has already applied everything; git rejects --abort there, so
// --quit is used to discard the rebase state while keeping the result.
func (s *GitService) AbortConflicts(ctx context.Context, repoPath string) error {
	state, err := s.DetectConflicts(ctx, repoPath)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no conflicted operation in progress")
	}

	switch state.Op {
	case ConflictRebase:
		if len(state.Files) == 0 {
			_, err = s.run(ctx, repoPath, "rebase", "--quit")
		} else {
			_, err = s.run(ctx, repoPath, "rebase", "--abort")
		}
	case ConflictMerge:
		_, err = s.run(ctx, repoPath, "merge", "--abort")
	case ConflictCherryPick:
		_, err = s.run(ctx, repoPath, "cherry-pick", "--abort")
	case ConflictRevert:
		_, err = s.run(ctx, repoPath, "revert", "--abort")
	default:
		return fmt.Errorf("conflicted files present but no operation to abort")
	}
	if err != nil {
		return err
	}

	logger.WithComponent("git").Info("aborted conflicted operation", "op", state.Op, "repoPath", repoPath)
	return nil
}

// ContinueConflicts stages resolved files and continues the in-progress
// operation. Remaining conflict markers cause git to stop again; that
// error is surfaced as a *MergeConflictError.
func (s *GitService) ContinueConflicts(ctx context.Context, repoPath string) error {
	state, err := s.DetectConflicts(ctx, repoPath)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no conflicted operation in progress")
	}

	if _, err := s.run(ctx, repoPath, "add", "-A"); err != nil {
		return err
	}

	var op string
	switch state.Op {
	case ConflictRebase:
		op = "rebase"
	case ConflictMerge:
		op = "merge"
	case ConflictCherryPick:
		op = "cherry-pick"
	case ConflictRevert:
		op = "revert"
	default:
		return fmt.Errorf("conflicted files present but no operation to continue")
	}

	if _, err := s.runNoEditor(ctx, repoPath, op, "--continue"); err != nil {
		files, filesErr := s.GetConflictedFiles(ctx, repoPath)
		if filesErr == nil && len(files) > 0 {
			return &MergeConflictError{Files: files}
		}
		return err
	}

	logger.WithComponent("git").Info("continued conflicted operation", "op", state.Op, "repoPath", repoPath)
	return nil
}

// AbortMerge aborts an in-progress merge.
func (s *GitService) AbortMerge(ctx context.Context, repoPath string) error {
	if _, err := s.run(ctx, repoPath, "merge", "--abort"); err != nil {
		return fmt.Errorf("failed to abort merge: %w", err)
	}
	return nil
}

// isRebaseInProgress reports whether a rebase has state directories in
// the checkout's git dir.
func (s *GitService) isRebaseInProgress(ctx context.Context, repoPath string) bool {
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		path, err := s.run(ctx, repoPath, "rev-parse", "--git-path", dir)
		if err != nil {
			continue
		}
		if pathExistsInWorktree(repoPath, path) {
			return true
		}
	}
	return false
}

// runNoEditor runs a git command with the editor suppressed so that
// commands like rebase --continue never block on an interactive editor.
func (s *GitService) runNoEditor(ctx context.Context, repoPath string, args ...string) (string, error) {
	if err := s.ensureAvailable(); err != nil {
		return "", err
	}
	stdout, stderr, err := s.executor.RunWithOptions(ctx, repoPath, vexec.RunOptions{
		Env: []string{"GIT_EDITOR=true"},
	}, "git", args...)
	if err != nil {
		return "", &CommandError{
			Args:   args,
			Stdout: string(stdout),
			Stderr: string(stderr),
			Err:    err,
		}
	}
	return strings.TrimSpace(string(stdout)), nil
}
