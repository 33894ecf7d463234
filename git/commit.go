package git

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"

	"github.com/zhubert/vibegit-core/logger"
)

// Commit identity applied when the host has none configured. Operations
// like squash merge need an author to create commits at all.
const (
	DefaultCommitUserName  = "Vibe Git"
	DefaultCommitUserEmail = "noreply@vibegit.com"
)

// HeadInfo describes the current HEAD of a checkout.
type HeadInfo struct {
	Branch string // Empty when HEAD is detached
	SHA    string
}

// InitRepoWithMainBranch initializes a new repository at path with "main"
// as the initial branch and creates an empty initial commit so that
// branches and worktrees can be created immediately.
func (s *GitService) InitRepoWithMainBranch(ctx context.Context, path string) error {
	if _, err := s.run(ctx, path, "init", "--initial-branch=main"); err != nil {
		return err
	}

	if err := s.EnsureCommitIdentity(ctx, path); err != nil {
		return err
	}

	if _, err := s.run(ctx, path, "commit", "--allow-empty", "-m", "Initial commit"); err != nil {
		return err
	}

	logger.WithComponent("git").Info("initialized repository", "path", path)
	return nil
}

// EnsureCommitIdentity sets a fallback user.name and user.email on the
// repository when the host has neither configured. Without an identity,
// git refuses to create commits.
func (s *GitService) EnsureCommitIdentity(ctx context.Context, repoPath string) error {
	if _, err := s.run(ctx, repoPath, "config", "user.name"); err != nil {
		if _, err := s.run(ctx, repoPath, "config", "user.name", DefaultCommitUserName); err != nil {
			return fmt.Errorf("failed to set fallback user.name: %w", err)
		}
	}
	if _, err := s.run(ctx, repoPath, "config", "user.email"); err != nil {
		if _, err := s.run(ctx, repoPath, "config", "user.email", DefaultCommitUserEmail); err != nil {
			return fmt.Errorf("failed to set fallback user.email: %w", err)
		}
	}
	return nil
}

// EnsureMainBranchExists makes sure a "main" branch exists in the
// repository. A repository with no commits at all gets an empty initial
// commit on main; a repository whose history lacks a main branch gets one
// pointed at the current HEAD.
func (s *GitService) EnsureMainBranchExists(ctx context.Context, repoPath string) error {
	if s.BranchExists(ctx, repoPath, "main") {
		return nil
	}

	// No commits yet: HEAD does not resolve.
	if !s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "HEAD") {
		if err := s.EnsureCommitIdentity(ctx, repoPath); err != nil {
			return err
		}
		if _, err := s.run(ctx, repoPath, "checkout", "-b", "main"); err != nil {
			return err
		}
		return s.CreateInitialCommit(ctx, repoPath)
	}

	return s.CreateBranch(ctx, repoPath, "main", "HEAD")
}

// CreateInitialCommit creates an empty commit so the repository has a
// resolvable HEAD.
func (s *GitService) CreateInitialCommit(ctx context.Context, repoPath string) error {
	if err := s.EnsureCommitIdentity(ctx, repoPath); err != nil {
		return err
	}
	if _, err := s.run(ctx, repoPath, "commit", "--allow-empty", "-m", "Initial commit"); err != nil {
		return err
	}
	return nil
}

// CommitAll stages all changes and commits them with the given message.
func (s *GitService) CommitAll(ctx context.Context, worktreePath, message string) error {
	logger.WithComponent("git").Info("committing all changes", "worktree", worktreePath)

	if _, err := s.run(ctx, worktreePath, "add", "-A"); err != nil {
		return err
	}

	if err := s.EnsureCommitIdentity(ctx, worktreePath); err != nil {
		return err
	}

	if _, err := s.run(ctx, worktreePath, "commit", "-m", message); err != nil {
		return err
	}

	return nil
}

// CommitIfChanged commits all local modifications when there are any.
// Returns whether a commit was created.
func (s *GitService) CommitIfChanged(ctx context.Context, worktreePath, message string) (bool, error) {
	changed, err := s.HasChanges(ctx, worktreePath)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := s.CommitAll(ctx, worktreePath, message); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateRef points ref at sha without touching any checkout.
func (s *GitService) UpdateRef(ctx context.Context, repoPath, ref, sha string) error {
	if _, err := s.run(ctx, repoPath, "update-ref", ref, sha); err != nil {
		return fmt.Errorf("failed to update ref %s: %w", ref, err)
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD.
// git diff --cached --quiet exits 0 when clean and 1 when there are
// staged changes; any other exit code is a real failure.
func (s *GitService) HasStagedChanges(ctx context.Context, repoPath string) (bool, error) {
	if err := s.ensureAvailable(); err != nil {
		return false, err
	}
	_, stderr, err := s.executor.Run(ctx, repoPath, "git", "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}

	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}

	return false, &CommandError{
		Args:   []string{"diff", "--cached", "--quiet"},
		Stderr: string(stderr),
		Err:    err,
	}
}

// GetHeadInfo returns the branch and commit SHA of HEAD in the checkout.
// Branch is empty when HEAD is detached.
func (s *GitService) GetHeadInfo(ctx context.Context, repoPath string) (*HeadInfo, error) {
	sha, err := s.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	branch, err := s.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD branch: %w", err)
	}
	if branch == "HEAD" {
		branch = ""
	}

	return &HeadInfo{Branch: branch, SHA: sha}, nil
}

// ResetWorktreeToCommit hard-resets the checkout to the given commit.
// Unless force is set, tracked modifications block the reset; untracked
// files never do, since reset --hard leaves them alone anyway.
func (s *GitService) ResetWorktreeToCommit(ctx context.Context, worktreePath, sha string, force bool) error {
	if strings.TrimSpace(sha) == "" {
		return fmt.Errorf("empty commit SHA")
	}

	if !force {
		status, err := s.GetWorktreeStatus(ctx, worktreePath)
		if err != nil {
			return err
		}
		if status.UncommittedChanges > 0 {
			var dirty []string
			for _, e := range status.Entries {
				if !e.Untracked {
					dirty = append(dirty, e.Path)
				}
			}
			return &WorktreeDirtyError{Paths: dirty}
		}
	}

	if _, err := s.run(ctx, worktreePath, "reset", "--hard", sha); err != nil {
		return err
	}
	logger.WithComponent("git").Info("reset worktree", "worktree", worktreePath, "sha", sha, "force", force)
	return nil
}

// WorktreeResetOptions controls ReconcileWorktreeToCommit.
type WorktreeResetOptions struct {
	PerformReset     bool // False means only report whether a reset is needed
	ForceWhenDirty   bool // Reset even over local tracked modifications
	IsDirty          bool // Caller's view of the checkout's dirtiness
	LogSkipWhenDirty bool
}

// WorktreeResetOutcome reports what ReconcileWorktreeToCommit found and did.
type WorktreeResetOutcome struct {
	Needed  bool // HEAD differed from the target or the tree was dirty
	Applied bool // A reset actually ran
}

// ReconcileWorktreeToCommit brings a checkout back to a target commit
// when it has drifted, honoring the caller's dirty-tree policy. Reset
// failures are logged rather than returned: reconciliation is a
// best-effort convergence pass, and the outcome tells the caller whether
// the checkout still needs attention.
func (s *GitService) ReconcileWorktreeToCommit(ctx context.Context, worktreePath, targetSHA string, opts WorktreeResetOptions) WorktreeResetOutcome {
	log := logger.WithComponent("git")

	var headSHA string
	if head, err := s.GetHeadInfo(ctx, worktreePath); err == nil {
		headSHA = head.SHA
	}

	var outcome WorktreeResetOutcome
	if headSHA == targetSHA && !opts.IsDirty {
		return outcome
	}
	outcome.Needed = true

	if !opts.PerformReset {
		return outcome
	}
	if opts.IsDirty && !opts.ForceWhenDirty {
		if opts.LogSkipWhenDirty {
			log.Warn("worktree dirty, skipping reset", "worktree", worktreePath, "target", targetSHA)
		}
		return outcome
	}
	if err := s.ResetWorktreeToCommit(ctx, worktreePath, targetSHA, opts.ForceWhenDirty); err != nil {
		log.Error("failed to reset worktree", "worktree", worktreePath, "target", targetSHA, "error", err)
		return outcome
	}
	outcome.Applied = true
	return outcome
}

// GetCommitMessage returns the full message of the given commit.
func (s *GitService) GetCommitMessage(ctx context.Context, repoPath, sha string) (string, error) {
	out, err := s.run(ctx, repoPath, "log", "-1", "--format=%B", sha)
	if err != nil {
		return "", fmt.Errorf("failed to read commit message for %s: %w", sha, err)
	}
	return out, nil
}
