package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zhubert/vibegit-core/config"
	"github.com/zhubert/vibegit-core/git"
	"github.com/zhubert/vibegit-core/paths"
	"github.com/zhubert/vibegit-core/worktree"
)

var ctx = context.Background()

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func createTestRepo(t *testing.T, name string) config.Repo {
	t.Helper()

	if !git.NewGitService().IsAvailable() {
		t.Skip("git not installed")
	}

	tmpDir, err := os.MkdirTemp("", "vibegit-workspace-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	runGit(t, tmpDir, "init", "-b", "main")
	runGit(t, tmpDir, "config", "user.email", "test@example.com")
	runGit(t, tmpDir, "config", "user.name", "Test User")

	if err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# "+name), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, tmpDir, "add", ".")
	runGit(t, tmpDir, "commit", "-m", "Initial commit")

	return config.Repo{ID: name, Name: name, Path: tmpDir, TargetBranch: "main"}
}

func newTestManager() *Manager {
	return NewManager(worktree.NewManager(git.NewGitService()))
}

func TestCreateWorkspace_EmptyReposRejected(t *testing.T) {
	m := newTestManager()

	_, err := m.CreateWorkspace(ctx, t.TempDir(), nil, "task-branch")
	if err == nil {
		t.Fatal("empty repo list should be rejected")
	}
}

func TestCreateWorkspace(t *testing.T) {
	m := newTestManager()
	repoA := createTestRepo(t, "alpha")
	repoB := createTestRepo(t, "beta")
	wsDir := filepath.Join(t.TempDir(), "ws")

	ws, err := m.CreateWorkspace(ctx, wsDir, []config.Repo{repoA, repoB}, "task-branch")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	if ws.Dir != wsDir {
		t.Errorf("ws.Dir = %q, want %q", ws.Dir, wsDir)
	}
	if len(ws.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(ws.Members))
	}

	for i, name := range []string{"alpha", "beta"} {
		member := ws.Members[i]
		if member.RepoName != name {
			t.Errorf("member %d name = %q, want %q", i, member.RepoName, name)
		}
		wantPath := filepath.Join(wsDir, name)
		if member.WorktreePath != wantPath {
			t.Errorf("member %d path = %q, want %q", i, member.WorktreePath, wantPath)
		}
		branch := runGit(t, member.WorktreePath, "rev-parse", "--abbrev-ref", "HEAD")
		if branch != "task-branch" {
			t.Errorf("member %d branch = %q, want 'task-branch'", i, branch)
		}
	}
}

func TestCreateWorkspace_DefaultsTargetBranch(t *testing.T) {
	m := newTestManager()
	repo := createTestRepo(t, "solo")
	repo.TargetBranch = ""

	ws, err := m.CreateWorkspace(ctx, filepath.Join(t.TempDir(), "ws"), []config.Repo{repo}, "task-branch")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if len(ws.Members) != 1 {
		t.Fatalf("members = %d, want 1", len(ws.Members))
	}
}

func TestCreateWorkspace_RollbackOnFailure(t *testing.T) {
	m := newTestManager()
	repoA := createTestRepo(t, "alpha")
	broken := config.Repo{ID: "broken", Name: "broken", Path: "/nonexistent/repo", TargetBranch: "main"}
	wsDir := filepath.Join(t.TempDir(), "ws")

	ws, err := m.CreateWorkspace(ctx, wsDir, []config.Repo{repoA, broken}, "task-branch")
	if err == nil {
		t.Fatal("CreateWorkspace should fail when a member repo is broken")
	}
	if ws != nil {
		t.Error("no Workspace value should be returned on failure")
	}

	// The successfully created prefix was rolled back
	if _, statErr := os.Stat(filepath.Join(wsDir, "alpha")); !os.IsNotExist(statErr) {
		t.Error("alpha worktree should be rolled back")
	}
	if _, statErr := os.Stat(wsDir); !os.IsNotExist(statErr) {
		t.Error("workspace directory should be removed after rollback")
	}

	// The source repo no longer registers the worktree
	out := runGit(t, repoA.Path, "worktree", "list", "--porcelain")
	if strings.Contains(out, "alpha") {
		t.Errorf("source repo still registers the rolled-back worktree:\n%s", out)
	}
}

func TestCleanupWorkspace(t *testing.T) {
	m := newTestManager()
	repoA := createTestRepo(t, "alpha")
	repoB := createTestRepo(t, "beta")
	wsDir := filepath.Join(t.TempDir(), "ws")

	ws, err := m.CreateWorkspace(ctx, wsDir, []config.Repo{repoA, repoB}, "task-branch")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.CleanupWorkspace(ctx, ws); err != nil {
		t.Fatalf("CleanupWorkspace: %v", err)
	}

	if _, err := os.Stat(wsDir); !os.IsNotExist(err) {
		t.Error("workspace directory should be removed")
	}
	for _, repo := range []config.Repo{repoA, repoB} {
		out := runGit(t, repo.Path, "worktree", "list", "--porcelain")
		if strings.Contains(out, wsDir) {
			t.Errorf("repo %s still registers a workspace worktree:\n%s", repo.Name, out)
		}
	}
}

func TestCreateTempWorkspaceDir(t *testing.T) {
	override := t.TempDir()
	paths.SetWorkspaceDirOverride(override)
	t.Cleanup(func() { paths.SetWorkspaceDirOverride("") })

	m := newTestManager()

	dir1, err := m.CreateTempWorkspaceDir("task")
	if err != nil {
		t.Fatalf("CreateTempWorkspaceDir: %v", err)
	}
	dir2, err := m.CreateTempWorkspaceDir("task")
	if err != nil {
		t.Fatal(err)
	}

	if dir1 == dir2 {
		t.Error("consecutive calls should produce distinct directories")
	}
	for _, dir := range []string{dir1, dir2} {
		if !strings.HasPrefix(filepath.Base(dir), "task-") {
			t.Errorf("dir %q should carry the 'task-' prefix", dir)
		}
		if !strings.HasPrefix(dir, override) {
			t.Errorf("dir %q should live under the override root %q", dir, override)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("dir %q should exist", dir)
		}
	}
}

func TestCreateFromManifest(t *testing.T) {
	override := t.TempDir()
	paths.SetWorkspaceDirOverride(override)
	t.Cleanup(func() { paths.SetWorkspaceDirOverride("") })

	m := newTestManager()
	repoA := createTestRepo(t, "alpha")
	repoB := createTestRepo(t, "beta")

	manifestDir := t.TempDir()
	manifest := &config.Manifest{
		Name: "demo",
		Repos: []config.ManifestRepo{
			{Name: "alpha", Path: repoA.Path, TargetBranch: "main"},
			{Name: "beta", Path: repoB.Path},
		},
	}
	if err := config.SaveManifest(manifestDir, manifest); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}

	ws, err := m.CreateFromManifest(ctx, manifestDir, "task-branch")
	if err != nil {
		t.Fatalf("CreateFromManifest: %v", err)
	}
	if len(ws.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(ws.Members))
	}
	if !strings.HasPrefix(filepath.Base(ws.Dir), "demo-") {
		t.Errorf("workspace dir %q should be named after the manifest", ws.Dir)
	}
	branch := runGit(t, ws.Members[0].WorktreePath, "rev-parse", "--abbrev-ref", "HEAD")
	if branch != "task-branch" {
		t.Errorf("branch = %q, want 'task-branch'", branch)
	}
}

func TestCreateFromManifest_Missing(t *testing.T) {
	m := newTestManager()

	if _, err := m.CreateFromManifest(ctx, t.TempDir(), "task-branch"); err == nil {
		t.Error("missing manifest should be an error")
	}
}
