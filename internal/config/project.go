package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-project overlay at the workspace root.
const ProjectFileName = ".proofsync.yaml"

// Project is the per-project overlay. Any set field overrides the global
// config for work inside that workspace.
type Project struct {
	// Repository overrides the synced repository slug.
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	// Branch overrides the shadow branch name.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
	// MainFile is the article the watch-mode dashboard verifies by
	// default, relative to the workspace root.
	MainFile string `json:"main_file,omitempty" yaml:"main_file,omitempty"`
	// SourceExtensions overrides the tracked extensions.
	SourceExtensions []string `json:"source_extensions,omitempty" yaml:"source_extensions,omitempty"`
}

// LoadProject reads the overlay from the workspace root. A missing file is
// not an error; it returns an empty Project.
func LoadProject(root string) (Project, error) {
	var p Project
	data, err := os.ReadFile(filepath.Join(root, ProjectFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("failed to read %s: %w", ProjectFileName, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, ProjectFileName, err)
	}
	return p, nil
}

// Apply folds the overlay into a copy of the config.
func (p Project) Apply(cfg Config) Config {
	if p.Repository != "" {
		cfg.Repository = p.Repository
	}
	if p.Branch != "" {
		cfg.Branch = p.Branch
	}
	if len(p.SourceExtensions) > 0 {
		cfg.SourceExtensions = p.SourceExtensions
	}
	return cfg
}
