package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pulldock configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Defaults DefaultsConfig           `yaml:"defaults,omitempty"`
	Limits   LimitsConfig             `yaml:"limits,omitempty"`
	History  HistoryConfig            `yaml:"history,omitempty"`
	Projects map[string]ProjectConfig `yaml:"projects"`

	// ConfigDir is set when the config was loaded from a directory.
	ConfigDir string `yaml:"-"`
	// SourceFiles maps absolute file paths to their parsed document nodes,
	// preserving comments and ${VAR} placeholders for in-place editing.
	SourceFiles map[string]*yaml.Node `yaml:"-"`
	// ProjectSources maps project id to the file that defined it.
	ProjectSources map[string]string `yaml:"-"`
}

// ServerConfig defines the HTTP listener settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PublicURL  string `yaml:"public_url,omitempty"`
	LogFile    string `yaml:"log_file,omitempty"`
	LogLevel   string `yaml:"log_level"`
	AdminToken string `yaml:"admin_token,omitempty"`
}

// DefaultsConfig holds values merged into every project that omits them.
type DefaultsConfig struct {
	Timeout int    `yaml:"timeout,omitempty"`
	Branch  string `yaml:"branch,omitempty"`
}

// LimitsConfig defines transport-level request guards.
type LimitsConfig struct {
	// MaxBodySize caps webhook payloads in bytes.
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
	// RatePerMinute is the per-source webhook budget. Zero disables limiting.
	RatePerMinute int `yaml:"rate_per_minute,omitempty"`
}

// HistoryConfig defines delivery history storage settings.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ProjectConfig describes one deployable project keyed by its id.
type ProjectConfig struct {
	Name       string   `yaml:"name,omitempty"`
	Repository string   `yaml:"repository"`
	Branch     string   `yaml:"branch,omitempty"`
	Secret     string   `yaml:"secret"`
	LocalPath  string   `yaml:"local_path,omitempty"`
	Enabled    bool     `yaml:"enabled"`
	Timeout    int      `yaml:"timeout,omitempty"`
	Actions    []Action `yaml:"actions"`
}

// ActionType enumerates the supported action kinds.
type ActionType string

const (
	ActionGitPull        ActionType = "git_pull"
	ActionFixPermissions ActionType = "fix_permissions"
	ActionCustomCommand  ActionType = "custom_command"
	ActionBuild          ActionType = "build"
	ActionRestartService ActionType = "restart_service"
)

// ValidActionTypes lists every accepted action type, in documentation order.
func ValidActionTypes() []ActionType {
	return []ActionType{
		ActionGitPull,
		ActionFixPermissions,
		ActionCustomCommand,
		ActionBuild,
		ActionRestartService,
	}
}

// IsValid reports whether t is a member of the closed action-type set.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionGitPull, ActionFixPermissions, ActionCustomCommand, ActionBuild, ActionRestartService:
		return true
	}
	return false
}

// Action is one declarative step in a project's deployment sequence.
// Command is required for every type except git_pull, which derives its own.
type Action struct {
	Type    ActionType `yaml:"type"`
	Command string     `yaml:"command,omitempty"`
	Timeout int        `yaml:"timeout,omitempty"`
}

// Default action timeouts in seconds, applied when neither the action nor the
// project sets one.
const (
	DefaultActionTimeoutSecs = 30
	DefaultBuildTimeoutSecs  = 120
)

// ActionTimeout resolves the effective timeout for one action:
// action override, then project override, then the per-type default.
func (p ProjectConfig) ActionTimeout(a Action) time.Duration {
	if a.Timeout > 0 {
		return time.Duration(a.Timeout) * time.Second
	}
	if p.Timeout > 0 {
		return time.Duration(p.Timeout) * time.Second
	}
	if a.Type == ActionBuild {
		return DefaultBuildTimeoutSecs * time.Second
	}
	return DefaultActionTimeoutSecs * time.Second
}

// ExpectedRef returns the fully qualified ref a push must carry to dispatch.
func (p ProjectConfig) ExpectedRef() string {
	return "refs/heads/" + p.Branch
}

// DisplayName returns the project name, falling back to the id.
func (p ProjectConfig) DisplayName(id string) string {
	if p.Name != "" {
		return p.Name
	}
	return id
}

// ListenAddr returns the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// PublicBaseURL returns the externally visible base URL used to construct
// per-project webhook URLs, falling back to the bind address.
func (c *Config) PublicBaseURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	return fmt.Sprintf("http://%s", c.ListenAddr())
}

// WebhookURL returns the delivery URL for one project id.
func (c *Config) WebhookURL(projectID string) string {
	return c.PublicBaseURL() + "/webhook/" + projectID
}

// ProjectIDs returns configured project ids in sorted order.
func (c *Config) ProjectIDs() []string {
	ids := make([]string, 0, len(c.Projects))
	for id := range c.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChecksumManifest is the parsed .checksums file guarding config integrity.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ConfigFiles is the manifest of files discovered in a config directory.
type ConfigFiles struct {
	Root     string
	Config   string   // config.yaml, mandatory
	Projects []string // projects/*.yaml, sorted
}

// AllFiles returns every discovered file, root config first.
func (cf *ConfigFiles) AllFiles() []string {
	files := make([]string, 0, 1+len(cf.Projects))
	files = append(files, cf.Config)
	files = append(files, cf.Projects...)
	return files
}

// RelPath returns the manifest key for a discovered file: its path relative
// to the config root, always slash-separated.
func (cf *ConfigFiles) RelPath(path string) string {
	rel := strings.TrimPrefix(path, cf.Root)
	return strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
}

// projectsFileConfig is the shape of a projects/*.yaml fragment.
type projectsFileConfig struct {
	Projects map[string]ProjectConfig `yaml:"projects"`
}

// Defaults returns a Config with the stock defaults applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8090,
			LogLevel: "INFO",
		},
		Limits: LimitsConfig{
			MaxBodySize: 1 << 20,
		},
		History: HistoryConfig{
			Path: "./pulldock.db",
		},
		Projects: make(map[string]ProjectConfig),
	}
}
