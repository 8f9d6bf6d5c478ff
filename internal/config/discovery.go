package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigFiles inventories a config directory: config.yaml is
// mandatory, projects/*.yaml fragments are optional and returned sorted.
func DiscoverConfigFiles(configDir string) (*ConfigFiles, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config dir %q: %w", configDir, err)
	}

	rootConfig := filepath.Join(absDir, "config.yaml")
	if !fileExists(rootConfig) {
		return nil, fmt.Errorf("config.yaml not found in %s", absDir)
	}

	// Glob returns sorted matches and nil for a missing directory, which is
	// exactly the fragment contract.
	fragments, err := filepath.Glob(filepath.Join(absDir, "projects", "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan projects/: %w", err)
	}

	return &ConfigFiles{
		Root:     absDir,
		Config:   rootConfig,
		Projects: fragments,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
