package git

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure classes.
var (
	// ErrGitNotAvailable means the git binary could not be found on PATH.
	ErrGitNotAvailable = errors.New("git is not installed or not in PATH")

	// ErrNotRepository means the path is not inside a git repository.
	ErrNotRepository = errors.New("not a git repository")

	// ErrRebaseInProgress means an operation was refused because a rebase
	// is already underway in the target checkout.
	ErrRebaseInProgress = errors.New("a rebase is already in progress")

	// ErrUncommittedChanges means an operation requires a clean working
	// tree but found local modifications.
	ErrUncommittedChanges = errors.New("working tree has uncommitted changes")

	// ErrDetachedHead means HEAD is not on a branch.
	ErrDetachedHead = errors.New("HEAD is detached (not on a branch)")
)

// WorktreeDirtyError means an operation requires a clean working tree and
// carries the dirty paths for diagnostics. Matches ErrUncommittedChanges
// under errors.Is.
type WorktreeDirtyError struct {
	Paths []string
}

func (e *WorktreeDirtyError) Error() string {
	if len(e.Paths) == 0 {
		return ErrUncommittedChanges.Error()
	}
	return fmt.Sprintf("working tree has uncommitted changes in %d path(s): %s",
		len(e.Paths), strings.Join(e.Paths, ", "))
}

func (e *WorktreeDirtyError) Is(target error) bool {
	return target == ErrUncommittedChanges
}

// CommandError wraps a failed git invocation with its captured output.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s failed: %s", strings.Join(e.Args, " "), e.CombinedOutput())
}

func (e *CommandError) Unwrap() error { return e.Err }

// CombinedOutput renders the captured output for error messages.
// Prefers stderr, falls back to stdout, labels both when both are present.
func (e *CommandError) CombinedOutput() string {
	stderr := strings.TrimSpace(e.Stderr)
	stdout := strings.TrimSpace(e.Stdout)
	switch {
	case stderr != "" && stdout != "":
		return fmt.Sprintf("stderr: %s\nstdout: %s", stderr, stdout)
	case stderr != "":
		return stderr
	case stdout != "":
		return stdout
	default:
		return "Command failed with no output"
	}
}

// AuthError means a network operation failed due to authentication.
type AuthError struct {
	Remote string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for remote %s: %v", e.Remote, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PushRejectedError means the remote refused a push (non-fast-forward or
// a server-side hook).
type PushRejectedError struct {
	Branch string
	Err    error
}

func (e *PushRejectedError) Error() string {
	return fmt.Sprintf("push of branch %s rejected by remote: %v", e.Branch, e.Err)
}

func (e *PushRejectedError) Unwrap() error { return e.Err }

// MergeConflictError means a merge or rebase stopped on conflicts.
type MergeConflictError struct {
	Files []string
}

func (e *MergeConflictError) Error() string {
	if len(e.Files) == 0 {
		return "merge conflicts detected"
	}
	return fmt.Sprintf("merge conflicts in %d file(s): %s", len(e.Files), strings.Join(e.Files, ", "))
}

// DivergedError means the task branch is behind its base so a merge would
// lose or rewrite history.
type DivergedError struct {
	Branch string
	Base   string
	Behind int
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("branch %s is %d commit(s) behind %s: rebase before merging", e.Branch, e.Behind, e.Base)
}
