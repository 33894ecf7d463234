package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhubert/vibegit-core/paths"
)

// Repo is a registered repository that worktrees and workspaces can be
// created from.
type Repo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	TargetBranch string `json:"target_branch,omitempty"` // Branch new task branches are cut from (default "main")
}

// Config holds the application configuration
type Config struct {
	Repos             []Repo          `json:"repos"`
	RepoSquashOnMerge map[string]bool `json:"repo_squash_on_merge,omitempty"` // Per-repo squash-on-merge setting

	DefaultBranchPrefix string `json:"default_branch_prefix,omitempty"` // Prefix for generated branch names (e.g., "zhubert/")
	WorkspaceDir        string `json:"workspace_dir,omitempty"`         // Custom base directory for workspaces

	mu       sync.RWMutex
	filePath string
}

// Load reads the config from disk, or creates a new one if it doesn't exist
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Repos:    []Repo{},
		filePath: path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Ensure slices and maps are initialized (not nil) after unmarshaling
	// This must happen before Validate() since Validate() only reads
	cfg.ensureInitialized()

	// Validate loaded config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ensureInitialized ensures all slices and maps are initialized (not nil).
//
// Thread-safety: This method is NOT thread-safe and must only be called
// during single-threaded initialization (i.e., from Load() before the Config
// is shared across goroutines).
func (c *Config) ensureInitialized() {
	if c.Repos == nil {
		c.Repos = []Repo{}
	}
	if c.RepoSquashOnMerge == nil {
		c.RepoSquashOnMerge = make(map[string]bool)
	}
}

// Validate checks that the config is internally consistent.
// This is a read-only operation - call ensureInitialized() first if needed.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Check for duplicate repo IDs and paths (filesystem-aware: handles case, symlinks)
	seenIDs := make(map[string]bool)
	for i, repo := range c.Repos {
		if repo.ID == "" {
			return fmt.Errorf("repo with empty ID found")
		}
		if seenIDs[repo.ID] {
			return fmt.Errorf("duplicate repo ID: %s", repo.ID)
		}
		seenIDs[repo.ID] = true

		if repo.Path == "" {
			return fmt.Errorf("repo %s has empty path", repo.ID)
		}
		for j := i + 1; j < len(c.Repos); j++ {
			if SamePath(repo.Path, c.Repos[j].Path) {
				return fmt.Errorf("duplicate repo path: %s", repo.Path)
			}
		}
	}

	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// config behind.
	tmpPath := c.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, c.filePath)
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// AddRepo adds a repository if its path isn't already registered.
// The path is resolved to an absolute path before storing.
func (c *Config) AddRepo(repo Repo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	absPath, err := filepath.Abs(repo.Path)
	if err != nil {
		absPath = repo.Path
	}
	repo.Path = absPath

	if repo.Name == "" {
		repo.Name = filepath.Base(absPath)
	}
	if repo.TargetBranch == "" {
		repo.TargetBranch = "main"
	}

	// Check if already exists (filesystem-aware: handles case, symlinks)
	for _, r := range c.Repos {
		if SamePath(r.Path, absPath) {
			return false
		}
	}

	c.Repos = append(c.Repos, repo)
	return true
}

// RemoveRepo removes a repository from the config by path.
// Returns true if the repo was found and removed, false otherwise.
func (c *Config) RemoveRepo(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.Repos {
		if SamePath(r.Path, path) {
			c.Repos = append(c.Repos[:i], c.Repos[i+1:]...)
			return true
		}
	}
	return false
}

// GetRepos returns a copy of the repos slice
func (c *Config) GetRepos() []Repo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	repos := make([]Repo, len(c.Repos))
	copy(repos, c.Repos)
	return repos
}

// GetRepo returns the repo with the given ID, or false if not registered.
func (c *Config) GetRepo(id string) (Repo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.Repos {
		if r.ID == id {
			return r, true
		}
	}
	return Repo{}, false
}

// GetRepoByPath returns the repo registered at the given path, or false
// if no registered repo refers to the same filesystem entry.
func (c *Config) GetRepoByPath(path string) (Repo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.Repos {
		if SamePath(r.Path, path) {
			return r, true
		}
	}
	return Repo{}, false
}

// GetDefaultBranchPrefix returns the default branch prefix
func (c *Config) GetDefaultBranchPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultBranchPrefix
}

// SetDefaultBranchPrefix sets the default branch prefix
func (c *Config) SetDefaultBranchPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DefaultBranchPrefix = prefix
}

// GetWorkspaceDir returns the custom workspace base directory, or empty
// string when the default location is in use.
func (c *Config) GetWorkspaceDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.WorkspaceDir
}

// SetWorkspaceDir sets the custom workspace base directory and applies it
// to path resolution. An empty string restores the default.
func (c *Config) SetWorkspaceDir(dir string) {
	c.mu.Lock()
	c.WorkspaceDir = dir
	c.mu.Unlock()
	paths.SetWorkspaceDirOverride(dir)
}

// GetSquashOnMerge returns whether squash-on-merge is enabled for a repo
func (c *Config) GetSquashOnMerge(repoPath string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.RepoSquashOnMerge == nil {
		return false
	}
	resolved := resolveRepoPath(c.Repos, repoPath)
	return c.RepoSquashOnMerge[resolved]
}

// SetSquashOnMerge sets whether squash-on-merge is enabled for a repo
func (c *Config) SetSquashOnMerge(repoPath string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RepoSquashOnMerge == nil {
		c.RepoSquashOnMerge = make(map[string]bool)
	}
	resolved := resolveRepoPath(c.Repos, repoPath)
	if enabled {
		c.RepoSquashOnMerge[resolved] = true
	} else {
		delete(c.RepoSquashOnMerge, resolved)
	}
}
