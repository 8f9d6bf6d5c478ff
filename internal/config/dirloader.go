package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDir loads configuration from a config directory: config.yaml plus any
// projects/*.yaml fragments, each contributing entries to the projects map.
func LoadDir(configDir string) (*Config, error) {
	// 1. Discover files
	files, err := DiscoverConfigFiles(configDir)
	if err != nil {
		return nil, fmt.Errorf("config discovery: %w", err)
	}

	// 2. Integrity verification: a .checksums manifest, when present, must
	// cover every discovered file and match.
	if fileExists(filepath.Join(files.Root, ".checksums")) {
		manifest, err := LoadChecksums(files.Root)
		if err != nil {
			return nil, err
		}
		for _, path := range files.AllFiles() {
			if err := verifyManifestEntry(manifest, path, files.RelPath(path)); err != nil {
				return nil, err
			}
		}
	}

	// 3. Load root config.yaml
	cfg, rootNode, err := parseConfigFile(files.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config.yaml: %w", err)
	}
	cfg.ConfigDir = files.Root
	cfg.SourceFiles = map[string]*yaml.Node{files.Config: rootNode}
	cfg.ProjectSources = make(map[string]string, len(cfg.Projects))
	for id := range cfg.Projects {
		cfg.ProjectSources[id] = files.Config
	}

	// 4. Graft projects/*.yaml
	if err := graftProjects(cfg, files); err != nil {
		return nil, err
	}

	// 5. Apply defaults and validate
	cfg = applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// graftProjects merges project definitions from projects/*.yaml into cfg.
// A project id defined twice is an error, not a silent override.
func graftProjects(cfg *Config, files *ConfigFiles) error {
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]ProjectConfig)
	}
	for _, path := range files.Projects {
		partial, node, err := parseProjectsFile(path)
		if err != nil {
			return err
		}
		cfg.SourceFiles[path] = node
		for id, project := range partial.Projects {
			if owner, exists := cfg.ProjectSources[id]; exists {
				return fmt.Errorf("project %q defined in both %s and %s", id, owner, path)
			}
			cfg.Projects[id] = project
			cfg.ProjectSources[id] = path
		}
	}
	return nil
}

// parseProjectsFile reads one projects/*.yaml fragment, interpolated into the
// typed shape and raw into a document node for in-place editing.
func parseProjectsFile(path string) (*projectsFileConfig, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	interpolated := interpolateEnv(string(data))

	var pf projectsFileConfig
	if err := yaml.Unmarshal([]byte(interpolated), &pf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &pf, &node, nil
}
