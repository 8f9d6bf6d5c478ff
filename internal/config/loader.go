package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a config directory.
// A directory must contain config.yaml and may carry projects/*.yaml fragments.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		return LoadDir(absPath)
	}

	cfg, node, err := parseConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg.SourceFiles = map[string]*yaml.Node{absPath: node}
	cfg.ProjectSources = make(map[string]string, len(cfg.Projects))
	for id := range cfg.Projects {
		cfg.ProjectSources[id] = absPath
	}

	cfg = applyDefaults(cfg)

	// Single-file mode: a .checksums manifest next to the file, when present,
	// must cover it and match.
	dir := filepath.Dir(absPath)
	if fileExists(filepath.Join(dir, ".checksums")) {
		manifest, err := LoadChecksums(dir)
		if err != nil {
			return nil, err
		}
		if err := verifyManifestEntry(manifest, absPath, filepath.Base(absPath)); err != nil {
			return nil, err
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the configuration by checking standard locations.
// Priority order: $PULLDOCK_CONFIG (file or directory), ~/.config/pulldock,
// /etc/pulldock, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("PULLDOCK_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "pulldock")
		if dirExists(userConfigDir) {
			return userConfigDir, nil
		}
	}

	if dirExists("/etc/pulldock") {
		return "/etc/pulldock", nil
	}

	if fileExists("./config.yaml") {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $PULLDOCK_CONFIG, ~/.config/pulldock, /etc/pulldock, ./config.yaml)")
}

// parseConfigFile reads one YAML file twice: interpolated into the typed
// config, and raw into a document node so get/set can edit placeholders
// without baking in secrets.
func parseConfigFile(path string) (*Config, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, &node, nil
}

// verifyManifestEntry checks one file against the manifest under key.
func verifyManifestEntry(manifest *ChecksumManifest, path, key string) error {
	expectedHash, ok := manifest.Hashes[key]
	if !ok {
		return fmt.Errorf("config file %s has no hash in .checksums\n"+
			"Run: pulldock config lock", key)
	}
	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: pulldock config lock", path, err)
	}
	return nil
}

// applyDefaults merges stock default values into config where not explicitly
// set, then merges the defaults block into every project.
func applyDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}
	if cfg.Limits.MaxBodySize == 0 {
		cfg.Limits.MaxBodySize = defaults.Limits.MaxBodySize
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaults.History.Path
	}
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]ProjectConfig)
	}

	for id, project := range cfg.Projects {
		cfg.Projects[id] = mergeProjectDefaults(project, cfg.Defaults)
	}

	return cfg
}

// mergeProjectDefaults fills project fields from the defaults block when the
// project omits them. Branch falls back to main last.
func mergeProjectDefaults(p ProjectConfig, d DefaultsConfig) ProjectConfig {
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
	if p.Branch == "" {
		p.Branch = d.Branch
	}
	if p.Branch == "" {
		p.Branch = "main"
	}
	return p
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs structural validation on the configuration. Action
// variants are checked here so a bad config fails at startup, not mid-dispatch.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", cfg.Server.Port)
	}

	validLogLevels := map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}
	if !validLogLevels[strings.ToUpper(cfg.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be one of: DEBUG, INFO, WARN, ERROR (got %q)", cfg.Server.LogLevel)
	}

	if err := checkResolved("server.admin_token", cfg.Server.AdminToken); err != nil {
		return err
	}

	if cfg.Limits.MaxBodySize <= 0 {
		return fmt.Errorf("limits.max_body_size must be positive")
	}
	if cfg.Limits.RatePerMinute < 0 {
		return fmt.Errorf("limits.rate_per_minute must not be negative")
	}

	if cfg.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}

	for _, id := range cfg.ProjectIDs() {
		if err := validateProject(id, cfg.Projects[id]); err != nil {
			return err
		}
	}

	return nil
}

func validateProject(id string, p ProjectConfig) error {
	if p.Repository == "" {
		return fmt.Errorf("project %q: repository is required", id)
	}
	if p.Secret == "" {
		return fmt.Errorf("project %q: secret is required", id)
	}
	if err := checkResolved(fmt.Sprintf("project %q: secret", id), p.Secret); err != nil {
		return err
	}
	if err := checkResolved(fmt.Sprintf("project %q: repository", id), p.Repository); err != nil {
		return err
	}
	if p.Timeout < 0 {
		return fmt.Errorf("project %q: timeout must not be negative", id)
	}

	for i, a := range p.Actions {
		if !a.Type.IsValid() {
			return fmt.Errorf("project %q: actions[%d]: unknown action type %q", id, i, a.Type)
		}
		if a.Type == ActionGitPull {
			if p.LocalPath == "" {
				return fmt.Errorf("project %q: actions[%d]: git_pull requires local_path", id, i)
			}
		} else if a.Command == "" {
			return fmt.Errorf("project %q: actions[%d]: command is required for %s actions", id, i, a.Type)
		}
		if a.Timeout < 0 {
			return fmt.Errorf("project %q: actions[%d]: timeout must not be negative", id, i)
		}
	}

	return nil
}

// checkResolved rejects values still carrying ${VAR} placeholders after
// interpolation (security: no secrets missing silently).
func checkResolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
