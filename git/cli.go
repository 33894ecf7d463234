package git

import (
	"context"
	"strings"

	vexec "github.com/zhubert/vibegit-core/exec"
)

// run executes a git command in repoPath and returns trimmed stdout.
// On failure the error is a *CommandError carrying both output streams.
func (s *GitService) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	if err := s.ensureAvailable(); err != nil {
		return "", err
	}
	stdout, stderr, err := s.executor.Run(ctx, repoPath, "git", args...)
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

// runNetwork executes a git command that may touch a remote. Terminal
// credential prompts are disabled so a missing credential fails fast
// instead of hanging a background operation.
func (s *GitService) runNetwork(ctx context.Context, repoPath string, args ...string) (string, error) {
	if err := s.ensureAvailable(); err != nil {
		return "", err
	}
	stdout, stderr, err := s.executor.RunWithOptions(ctx, repoPath, vexec.RunOptions{
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
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

// exitSuccess runs a git command and reports only whether it exited zero.
// Used for predicates like rev-parse --verify where output is irrelevant.
func (s *GitService) exitSuccess(ctx context.Context, repoPath string, args ...string) bool {
	if s.ensureAvailable() != nil {
		return false
	}
	_, _, err := s.executor.Run(ctx, repoPath, "git", args...)
	return err == nil
}
