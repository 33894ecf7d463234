// Package workspace creates and destroys sets of worktrees that share one
// logical task: one worktree per source repository, all on the same branch
// name, created all-or-nothing.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/zhubert/vibegit-core/config"
	"github.com/zhubert/vibegit-core/logger"
	"github.com/zhubert/vibegit-core/paths"
	"github.com/zhubert/vibegit-core/worktree"
)

// RepoWorktree is one member of a workspace: a worktree of a configured
// repository checked out inside the workspace directory.
type RepoWorktree struct {
	RepoID         string
	RepoName       string
	SourceRepoPath string
	WorktreePath   string
}

// Workspace is a set of worktrees created together under one directory.
// A Workspace value only exists when every member was created successfully.
type Workspace struct {
	Dir     string
	Members []RepoWorktree
}

// Manager orchestrates multi-repository workspaces on top of the worktree
// manager, which provides the per-path locking.
type Manager struct {
	worktrees *worktree.Manager
}

// NewManager creates a workspace Manager using the given worktree manager.
func NewManager(wt *worktree.Manager) *Manager {
	return &Manager{worktrees: wt}
}

// CreateWorkspace creates one worktree per repo at workspaceDir/<repoName>,
// each on a new branch named branchName cut from the repo's target branch.
// Creation is sequential; on the first failure every worktree created so
// far is rolled back and no Workspace is returned.
func (m *Manager) CreateWorkspace(ctx context.Context, workspaceDir string, repos []config.Repo, branchName string) (*Workspace, error) {
	log := logger.WithComponent("workspace")

	if len(repos) == 0 {
		return nil, fmt.Errorf("cannot create workspace with no repositories")
	}
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	log.Info("creating workspace", "dir", workspaceDir, "repos", len(repos), "branch", branchName)

	var members []RepoWorktree
	for _, repo := range repos {
		base := repo.TargetBranch
		if base == "" {
			base = "main"
		}
		wtPath := filepath.Join(workspaceDir, repo.Name)

		if err := m.worktrees.CreateWorktree(ctx, repo.Path, wtPath, branchName, base); err != nil {
			log.Error("workspace member creation failed, rolling back",
				"repo", repo.Name, "created", len(members), "error", err)
			m.rollback(ctx, workspaceDir, members)
			return nil, fmt.Errorf("failed to create worktree for %s: %w", repo.Name, err)
		}

		members = append(members, RepoWorktree{
			RepoID:         repo.ID,
			RepoName:       repo.Name,
			SourceRepoPath: repo.Path,
			WorktreePath:   wtPath,
		})
	}

	log.Info("workspace created", "dir", workspaceDir, "members", len(members))
	return &Workspace{Dir: workspaceDir, Members: members}, nil
}

// rollback removes the worktrees created before a failure, then the
// workspace directory itself.
func (m *Manager) rollback(ctx context.Context, workspaceDir string, members []RepoWorktree) {
	log := logger.WithComponent("workspace")

	targets := make([]worktree.Target, 0, len(members))
	for _, member := range members {
		targets = append(targets, worktree.Target{
			WorktreePath: member.WorktreePath,
			RepoPath:     member.SourceRepoPath,
		})
	}
	cleaned := m.worktrees.BatchCleanup(ctx, targets)
	if cleaned != len(targets) {
		log.Warn("rollback left worktrees behind", "wanted", len(targets), "cleaned", cleaned)
	}

	if err := os.Remove(workspaceDir); err != nil && !os.IsNotExist(err) {
		log.Debug("workspace directory not removed during rollback", "dir", workspaceDir, "error", err)
	}
}

// CleanupWorkspace tears down every member worktree. Per-member failures
// are logged rather than aborting, so one stuck repository does not block
// cleanup of the rest. The workspace directory is removed afterwards when
// nothing else remains inside it.
func (m *Manager) CleanupWorkspace(ctx context.Context, ws *Workspace) error {
	log := logger.WithComponent("workspace")

	targets := make([]worktree.Target, 0, len(ws.Members))
	for _, member := range ws.Members {
		targets = append(targets, worktree.Target{
			WorktreePath: member.WorktreePath,
			RepoPath:     member.SourceRepoPath,
		})
	}

	cleaned := m.worktrees.BatchCleanup(ctx, targets)
	if cleaned != len(targets) {
		return fmt.Errorf("cleaned up %d of %d workspace members", cleaned, len(targets))
	}

	if err := os.Remove(ws.Dir); err != nil && !os.IsNotExist(err) {
		log.Debug("workspace directory not removed", "dir", ws.Dir, "error", err)
	}
	log.Info("workspace cleaned up", "dir", ws.Dir, "members", len(targets))
	return nil
}

// CreateTempWorkspaceDir reserves a fresh directory under the configured
// workspaces root, named prefix plus a UUID so concurrent callers never
// collide.
func (m *Manager) CreateTempWorkspaceDir(prefix string) (string, error) {
	root, err := paths.WorkspacesDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspaces directory: %w", err)
	}

	name := uuid.New().String()
	if prefix != "" {
		name = prefix + "-" + name
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return dir, nil
}

// CreateFromManifest creates a workspace from a workspace.yaml manifest in
// manifestDir. Relative repository paths in the manifest resolve against
// the manifest's own directory. The workspace lands in a fresh directory
// named after the manifest.
func (m *Manager) CreateFromManifest(ctx context.Context, manifestDir, branchName string) (*Workspace, error) {
	manifest, err := config.LoadManifest(manifestDir)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, fmt.Errorf("no workspace manifest found in %s", manifestDir)
	}

	repos := make([]config.Repo, 0, len(manifest.Repos))
	for _, mr := range manifest.Repos {
		repoPath := mr.Path
		if !filepath.IsAbs(repoPath) {
			repoPath = filepath.Join(manifestDir, repoPath)
		}
		repos = append(repos, config.Repo{
			ID:           mr.Name,
			Name:         mr.Name,
			Path:         repoPath,
			TargetBranch: mr.TargetBranch,
		})
	}

	dir, err := m.CreateTempWorkspaceDir(manifest.Name)
	if err != nil {
		return nil, err
	}
	ws, err := m.CreateWorkspace(ctx, dir, repos, branchName)
	if err != nil {
		if rmErr := os.Remove(dir); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.WithComponent("workspace").Debug("manifest workspace directory not removed", "dir", dir, "error", rmErr)
		}
		return nil, err
	}
	return ws, nil
}
