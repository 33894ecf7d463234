package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zhubert/vibegit-core/logger"
)

// Configuration constants for branch operations
const (
	// MaxBranchNameLength is the maximum length for generated branch names.
	MaxBranchNameLength = 50
)

// BranchDivergence represents the divergence between two branches.
type BranchDivergence struct {
	Behind int // Number of commits local is behind the other branch
	Ahead  int // Number of commits local is ahead of the other branch
}

// IsDiverged returns true if the branches have diverged (both ahead and behind).
func (d *BranchDivergence) IsDiverged() bool {
	return d.Behind > 0 && d.Ahead > 0
}

// CanFastForward returns true if local can fast-forward to the other branch (not ahead).
func (d *BranchDivergence) CanFastForward() bool {
	return d.Ahead == 0
}

// GetCurrentBranch returns the name of the currently checked out branch in the given repo/worktree.
// Returns ErrDetachedHead if HEAD is not on a branch.
func (s *GitService) GetCurrentBranch(ctx context.Context, repoPath string) (string, error) {
	branch, err := s.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	if branch == "HEAD" {
		return "", ErrDetachedHead
	}
	return branch, nil
}

// BranchExists reports whether a local branch with the given name exists.
func (s *GitService) BranchExists(ctx context.Context, repoPath, branch string) bool {
	return s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "refs/heads/"+branch)
}

// RemoteBranchExists checks if a remote-tracking reference exists (e.g., "origin/main").
func (s *GitService) RemoteBranchExists(ctx context.Context, repoPath, remoteBranch string) bool {
	return s.exitSuccess(ctx, repoPath, "rev-parse", "--verify", "refs/remotes/"+remoteBranch)
}

// CreateBranch creates a new branch at the given start point without
// checking it out. startPoint may be empty to branch from HEAD.
func (s *GitService) CreateBranch(ctx context.Context, repoPath, branch, startPoint string) error {
	args := []string{"branch", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	if _, err := s.run(ctx, repoPath, args...); err != nil {
		return err
	}
	logger.WithComponent("git").Info("created branch", "branch", branch, "startPoint", startPoint, "repoPath", repoPath)
	return nil
}

// DeleteBranch deletes a local branch. With force set, unmerged branches
// are deleted as well.
func (s *GitService) DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := s.run(ctx, repoPath, "branch", flag, branch); err != nil {
		return err
	}
	logger.WithComponent("git").Info("deleted branch", "branch", branch, "force", force)
	return nil
}

// RenameBranch renames a git branch in the given worktree.
func (s *GitService) RenameBranch(ctx context.Context, worktreePath, oldName, newName string) error {
	if _, err := s.run(ctx, worktreePath, "branch", "-m", oldName, newName); err != nil {
		return err
	}
	logger.WithComponent("git").Info("renamed branch", "oldName", oldName, "newName", newName, "worktree", worktreePath)
	return nil
}

// CheckoutBranch checks out the specified branch in the given repo.
// Returns an error if the checkout fails (e.g., uncommitted changes would be overwritten).
func (s *GitService) CheckoutBranch(ctx context.Context, repoPath, branch string) error {
	if _, err := s.run(ctx, repoPath, "checkout", branch); err != nil {
		return err
	}
	logger.WithComponent("git").Info("checked out branch", "branch", branch, "repoPath", repoPath)
	return nil
}

// CheckoutBranchIgnoreWorktrees checks out the specified branch, even if it's
// already checked out in another worktree.
func (s *GitService) CheckoutBranchIgnoreWorktrees(ctx context.Context, repoPath, branch string) error {
	if _, err := s.run(ctx, repoPath, "checkout", "--ignore-other-worktrees", branch); err != nil {
		return err
	}
	logger.WithComponent("git").Info("checked out branch (ignoring worktrees)", "branch", branch, "repoPath", repoPath)
	return nil
}

// GetDefaultBranch returns the default branch name (main or master)
func (s *GitService) GetDefaultBranch(ctx context.Context, repoPath string) string {
	// Try to get the default branch from origin
	ref, err := s.run(ctx, repoPath, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		// Output is like "refs/remotes/origin/main"
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
	}

	// Fallback: check if main exists, otherwise use master
	if s.BranchExists(ctx, repoPath, "main") {
		return "main"
	}

	return "master"
}

// GetBranchDivergence returns how many commits the local branch is behind and ahead
// of the other branch. Uses git rev-list --count --left-right which outputs "behind\tahead".
// Returns an error if either branch doesn't exist or comparison fails.
func (s *GitService) GetBranchDivergence(ctx context.Context, repoPath, localBranch, otherBranch string) (*BranchDivergence, error) {
	// git rev-list --count --left-right otherBranch...localBranch
	// Output format: "behind<tab>ahead"
	output, err := s.run(ctx, repoPath, "rev-list", "--count", "--left-right",
		fmt.Sprintf("%s...%s", otherBranch, localBranch))
	if err != nil {
		return nil, fmt.Errorf("failed to get branch divergence: %w", err)
	}

	parts := strings.Split(output, "\t")
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected rev-list output format: %q", output)
	}

	behind, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse behind count: %w", err)
	}

	ahead, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ahead count: %w", err)
	}

	return &BranchDivergence{Behind: behind, Ahead: ahead}, nil
}

// HasTrackingBranch checks if the given branch has an upstream tracking branch configured.
// Uses git config to check for branch.<name>.remote which is set when tracking is configured.
func (s *GitService) HasTrackingBranch(ctx context.Context, repoPath, branch string) bool {
	return s.exitSuccess(ctx, repoPath, "config", "--get", fmt.Sprintf("branch.%s.remote", branch))
}

// SetUpstream configures branch.<branch> to track <remote>/<branch>.
func (s *GitService) SetUpstream(ctx context.Context, repoPath, branch, remote string) error {
	if _, err := s.run(ctx, repoPath, "config", fmt.Sprintf("branch.%s.remote", branch), remote); err != nil {
		return err
	}
	if _, err := s.run(ctx, repoPath, "config", fmt.Sprintf("branch.%s.merge", branch), "refs/heads/"+branch); err != nil {
		return err
	}
	return nil
}

// SanitizeBranchName ensures a branch name is valid for git.
func SanitizeBranchName(name string) string {
	// Convert to lowercase
	name = strings.ToLower(name)

	// Replace spaces and underscores with hyphens
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")

	// Remove any characters that aren't alphanumeric or hyphens
	var result strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			result.WriteRune(c)
		}
	}
	name = result.String()

	// Remove leading/trailing hyphens and collapse multiple hyphens
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	name = strings.Trim(name, "-")

	// Truncate if too long
	if len(name) > MaxBranchNameLength {
		name = name[:MaxBranchNameLength]
		// Don't end with a hyphen
		name = strings.TrimRight(name, "-")
	}

	return name
}
