package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const manifestFileName = "workspace.yaml"

// Manifest describes a multi-repo workspace: which repositories belong to
// it and which branch each task branch is cut from.
type Manifest struct {
	Name  string         `yaml:"name"`
	Repos []ManifestRepo `yaml:"repos"`
}

// ManifestRepo is a single repository entry in a workspace manifest.
type ManifestRepo struct {
	Name         string `yaml:"name"`
	Path         string `yaml:"path"`
	TargetBranch string `yaml:"target_branch,omitempty"`
}

// LoadManifest reads and parses workspace.yaml from the given directory.
// Returns nil, nil if the file does not exist.
func LoadManifest(dir string) (*Manifest, error) {
	fp := filepath.Join(dir, manifestFileName)

	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workspace manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse workspace manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks that the manifest is usable.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("workspace manifest has no name")
	}
	seen := make(map[string]bool, len(m.Repos))
	for _, r := range m.Repos {
		if r.Name == "" {
			return fmt.Errorf("workspace manifest %s has a repo with no name", m.Name)
		}
		if r.Path == "" {
			return fmt.Errorf("workspace manifest repo %s has no path", r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate repo name in workspace manifest: %s", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// SaveManifest writes the manifest to workspace.yaml in the given directory.
func SaveManifest(dir string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode workspace manifest: %w", err)
	}

	fp := filepath.Join(dir, manifestFileName)
	return os.WriteFile(fp, data, 0644)
}
