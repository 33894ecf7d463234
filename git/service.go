package git

import (
	osexec "os/exec"
	"sync"

	vexec "github.com/zhubert/vibegit-core/exec"
)

// GitService provides git operations with explicit dependency injection.
// Instead of using a package-level executor variable, each GitService instance
// holds its own executor, enabling proper testing and avoiding global state.
//
// Mutating operations (checkout, merge, rebase, worktree add) shell out to
// the git CLI so hooks, sparse-checkout and credential helpers behave exactly
// as they do in a terminal. Read-only history queries go through the
// in-process object graph in repository.go.
type GitService struct {
	executor vexec.CommandExecutor

	availOnce sync.Once
	availErr  error
}

// NewGitService creates a new GitService with the default real executor.
func NewGitService() *GitService {
	return &GitService{executor: vexec.NewRealExecutor()}
}

// NewGitServiceWithExecutor creates a new GitService with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewGitServiceWithExecutor(exec vexec.CommandExecutor) *GitService {
	return &GitService{executor: exec}
}

// ensureAvailable verifies once per service that a working git binary is
// on PATH, so a missing install surfaces as ErrGitNotAvailable instead of
// an opaque exec failure on every call. The check runs directly against
// the real binary even when a mock executor is injected, since it asks
// about the host, not about a repository.
func (s *GitService) ensureAvailable() error {
	s.availOnce.Do(func() {
		path, err := osexec.LookPath("git")
		if err != nil {
			s.availErr = ErrGitNotAvailable
			return
		}
		if err := osexec.Command(path, "--version").Run(); err != nil {
			s.availErr = ErrGitNotAvailable
		}
	})
	return s.availErr
}

// IsAvailable reports whether a working git binary is on PATH.
func (s *GitService) IsAvailable() bool {
	return s.ensureAvailable() == nil
}
