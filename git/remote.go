package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhubert/vibegit-core/logger"
)

// Remote is a configured remote and its fetch URL.
type Remote struct {
	Name string
	URL  string
}

// RemoteBranchStatus compares a local branch against its remote
// counterpart after a fresh fetch.
type RemoteBranchStatus struct {
	Exists bool
	Ahead  int // Commits local has that the remote lacks
	Behind int // Commits the remote has that local lacks
}

// HasRemoteOrigin checks if the repository has a remote named "origin".
func (s *GitService) HasRemoteOrigin(ctx context.Context, repoPath string) bool {
	return s.exitSuccess(ctx, repoPath, "remote", "get-url", "origin")
}

// GetRemoteURL returns the fetch URL of the given remote.
func (s *GitService) GetRemoteURL(ctx context.Context, repoPath, remote string) (string, error) {
	url, err := s.run(ctx, repoPath, "remote", "get-url", remote)
	if err != nil {
		return "", fmt.Errorf("failed to get URL for remote %s: %w", remote, err)
	}
	return url, nil
}

// ListRemotes returns the configured remotes with their fetch URLs.
func (s *GitService) ListRemotes(ctx context.Context, repoPath string) ([]Remote, error) {
	output, err := s.run(ctx, repoPath, "remote", "-v")
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}

	var remotes []Remote
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		// "<name>\t<url> (fetch|push)"
		if len(fields) < 2 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		remotes = append(remotes, Remote{Name: fields[0], URL: fields[1]})
	}
	return remotes, nil
}

// GetDefaultRemote picks the remote pushes should go to. remote.pushDefault
// wins when configured; otherwise origin if present, otherwise the sole
// configured remote.
func (s *GitService) GetDefaultRemote(ctx context.Context, repoPath string) (string, error) {
	if name, err := s.run(ctx, repoPath, "config", "--get", "remote.pushDefault"); err == nil && name != "" {
		return name, nil
	}

	remotes, err := s.ListRemotes(ctx, repoPath)
	if err != nil {
		return "", err
	}
	if len(remotes) == 0 {
		return "", fmt.Errorf("no remotes configured")
	}
	for _, r := range remotes {
		if r.Name == "origin" {
			return "origin", nil
		}
	}
	return remotes[0].Name, nil
}

// ExtractOwnerRepo extracts "owner/repo" from a git remote URL.
// Supports SSH (git@github.com:owner/repo.git) and HTTPS (https://github.com/owner/repo.git) formats.
// Returns empty string if the URL cannot be parsed.
func ExtractOwnerRepo(remoteURL string) string {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return ""
	}

	// SSH format: git@github.com:owner/repo.git
	if strings.Contains(remoteURL, ":") && strings.HasPrefix(remoteURL, "git@") {
		// Extract part after ":"
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) == 2 {
			path := strings.TrimSuffix(parts[1], ".git")
			if strings.Contains(path, "/") {
				return path
			}
		}
		return ""
	}

	// HTTPS/HTTP format: https://github.com/owner/repo.git
	// Strip scheme and host
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(remoteURL, prefix) {
			rest := remoteURL[len(prefix):]
			// rest is like "github.com/owner/repo.git"
			// Find first "/" to skip host
			_, after, ok := strings.Cut(rest, "/")
			if !ok {
				return ""
			}
			path := strings.TrimSuffix(after, ".git")
			if strings.Contains(path, "/") {
				return path
			}
			return ""
		}
	}

	return ""
}

// FetchBranch fetches a single branch from the remote into its
// remote-tracking ref. Authentication failures are reported as *AuthError.
func (s *GitService) FetchBranch(ctx context.Context, repoPath, remote, branch string) error {
	refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remote, branch)
	if _, err := s.runNetwork(ctx, repoPath, "fetch", remote, refspec); err != nil {
		return classifyNetworkError(err, remote)
	}
	return nil
}

// FetchAll fetches all branches from the remote.
func (s *GitService) FetchAll(ctx context.Context, repoPath, remote string) error {
	refspec := fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remote)
	if _, err := s.runNetwork(ctx, repoPath, "fetch", remote, refspec); err != nil {
		return classifyNetworkError(err, remote)
	}
	return nil
}

// CheckRemoteBranchExists asks the remote whether it has the branch,
// without mutating any local refs.
func (s *GitService) CheckRemoteBranchExists(ctx context.Context, repoPath, remote, branch string) (bool, error) {
	out, err := s.runNetwork(ctx, repoPath, "ls-remote", "--heads", remote, "refs/heads/"+branch)
	if err != nil {
		return false, classifyNetworkError(err, remote)
	}
	return out != "", nil
}

// GetRemoteBranchStatus fetches the branch and reports how the local
// branch relates to the remote one. A branch the remote does not have
// yields Exists=false with zero counts.
func (s *GitService) GetRemoteBranchStatus(ctx context.Context, repoPath, remote, branch string) (*RemoteBranchStatus, error) {
	exists, err := s.CheckRemoteBranchExists(ctx, repoPath, remote, branch)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &RemoteBranchStatus{Exists: false}, nil
	}

	if err := s.FetchBranch(ctx, repoPath, remote, branch); err != nil {
		return nil, err
	}

	div, err := s.GetBranchDivergence(ctx, repoPath, branch, fmt.Sprintf("%s/%s", remote, branch))
	if err != nil {
		return nil, err
	}
	return &RemoteBranchStatus{Exists: true, Ahead: div.Ahead, Behind: div.Behind}, nil
}

// PushToRemote pushes a branch to the repository's default remote and
// records the result locally: the remote-tracking ref is updated and the
// branch is set to track its remote counterpart.
//
// The working tree must be clean so that what lands on the remote is
// exactly what the caller reviewed.
func (s *GitService) PushToRemote(ctx context.Context, repoPath, branch string, force bool) error {
	log := logger.WithComponent("git")

	if err := s.CheckWorktreeClean(ctx, repoPath); err != nil {
		return err
	}

	remote, err := s.GetDefaultRemote(ctx, repoPath)
	if err != nil {
		return err
	}

	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	if force {
		refspec = "+" + refspec
	}

	if _, err := s.runNetwork(ctx, repoPath, "push", remote, refspec); err != nil {
		// The remote may refuse for auth, hooks, non-fast-forward or
		// network reasons; the raw output alone does not separate them
		// reliably, so every push failure is reported as a rejection
		// with the command output attached.
		if _, ok := err.(*CommandError); ok {
			return &PushRejectedError{Branch: branch, Err: err}
		}
		return err
	}

	// Mirror the push locally so status queries agree with the remote
	// without a fetch round trip.
	sha, err := s.run(ctx, repoPath, "rev-parse", "refs/heads/"+branch)
	if err != nil {
		return fmt.Errorf("failed to resolve pushed branch: %w", err)
	}
	if err := s.UpdateRef(ctx, repoPath, fmt.Sprintf("refs/remotes/%s/%s", remote, branch), sha); err != nil {
		return fmt.Errorf("failed to update remote-tracking ref: %w", err)
	}
	if err := s.SetUpstream(ctx, repoPath, branch, remote); err != nil {
		return fmt.Errorf("failed to set upstream: %w", err)
	}

	log.Info("pushed branch", "branch", branch, "remote", remote, "force", force)
	return nil
}

// classifyNetworkError upgrades a CommandError from a fetch or ls-remote
// to an AuthError. With terminal prompts disabled, the dominant failure
// for these read operations is missing credentials, and callers need
// that distinction more than the raw exit status; the original command
// output stays attached for diagnostics.
func classifyNetworkError(err error, remote string) error {
	if _, ok := err.(*CommandError); ok {
		return &AuthError{Remote: remote, Err: err}
	}
	return err
}
