// Package doctor validates pulldock configuration beyond what loading enforces.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/pulldock/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var repoNamePattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServer(r)
	d.validateLimits(r)
	d.validateHistory(r)
	d.validateProjects(r)
	d.warnDuplicateTargets(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServer checks listener and logging settings.
func (d *Doctor) validateServer(r *Result) {
	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		d.addError(r, "server", "server.port",
			fmt.Sprintf("port must be in 1..65535 (got %d)", d.cfg.Server.Port))
	}

	switch strings.ToUpper(d.cfg.Server.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		d.addError(r, "server", "server.log_level",
			fmt.Sprintf("log_level must be one of DEBUG, INFO, WARN, ERROR (got %q)", d.cfg.Server.LogLevel))
	}

	if d.cfg.Server.PublicURL != "" {
		u, err := url.Parse(d.cfg.Server.PublicURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			d.addError(r, "server", "server.public_url",
				fmt.Sprintf("public_url must be an absolute http(s) URL (got %q)", d.cfg.Server.PublicURL))
		}
	}

	if d.cfg.Server.AdminToken != "" && len(d.cfg.Server.AdminToken) < 16 {
		d.addWarning(r, "server", "server.admin_token",
			"admin_token is shorter than 16 characters")
	}
}

// validateLimits checks transport guards.
func (d *Doctor) validateLimits(r *Result) {
	if d.cfg.Limits.MaxBodySize <= 0 {
		d.addError(r, "limits", "limits.max_body_size", "max_body_size must be positive")
	}
	if d.cfg.Limits.MaxBodySize > 25<<20 {
		d.addWarning(r, "limits", "limits.max_body_size",
			"max_body_size exceeds GitHub's 25MB payload cap")
	}
	if d.cfg.Limits.RatePerMinute < 0 {
		d.addError(r, "limits", "limits.rate_per_minute", "rate_per_minute must not be negative")
	}
}

// validateHistory checks delivery history settings.
func (d *Doctor) validateHistory(r *Result) {
	if d.cfg.History.Path == "" {
		d.addError(r, "history", "history.path", "history.path is required")
	}
}

// validateProjects checks each project's deploy configuration.
func (d *Doctor) validateProjects(r *Result) {
	if len(d.cfg.Projects) == 0 {
		d.addWarning(r, "projects", "projects",
			"no projects configured; every webhook will be rejected")
		return
	}

	for _, id := range d.cfg.ProjectIDs() {
		p := d.cfg.Projects[id]
		field := func(suffix string) string { return fmt.Sprintf("projects.%s.%s", id, suffix) }

		if p.Repository == "" {
			d.addError(r, "projects", field("repository"),
				fmt.Sprintf("project %q: repository is required", id))
		} else if !repoNamePattern.MatchString(p.Repository) {
			d.addWarning(r, "projects", field("repository"),
				fmt.Sprintf("project %q: repository %q does not look like owner/repo", id, p.Repository))
		}

		if p.Secret == "" {
			d.addError(r, "projects", field("secret"),
				fmt.Sprintf("project %q: secret is required", id))
		} else if len(p.Secret) < 16 {
			d.addWarning(r, "projects", field("secret"),
				fmt.Sprintf("project %q: secret is shorter than 16 characters", id))
		}

		if p.Branch == "" {
			d.addError(r, "projects", field("branch"),
				fmt.Sprintf("project %q: branch is required", id))
		}

		if p.Enabled && len(p.Actions) == 0 {
			d.addWarning(r, "projects", field("actions"),
				fmt.Sprintf("project %q: enabled but has no actions; pushes will be acknowledged and do nothing", id))
		}

		if p.LocalPath != "" && !filepath.IsAbs(p.LocalPath) {
			d.addWarning(r, "projects", field("local_path"),
				fmt.Sprintf("project %q: local_path %q is not absolute", id, p.LocalPath))
		}

		if p.Timeout < 0 {
			d.addError(r, "projects", field("timeout"),
				fmt.Sprintf("project %q: timeout must not be negative", id))
		}

		d.validateActions(r, id, p)
	}
}

func (d *Doctor) validateActions(r *Result, id string, p config.ProjectConfig) {
	for i, a := range p.Actions {
		field := fmt.Sprintf("projects.%s.actions[%d]", id, i)

		if !a.Type.IsValid() {
			d.addError(r, "projects", field,
				fmt.Sprintf("project %q: unknown action type %q", id, a.Type))
			continue
		}

		if a.Type == config.ActionGitPull {
			if p.LocalPath == "" {
				d.addError(r, "projects", field,
					fmt.Sprintf("project %q: git_pull requires local_path", id))
			}
		} else if a.Command == "" {
			d.addError(r, "projects", field,
				fmt.Sprintf("project %q: command is required for %s actions", id, a.Type))
		}

		if a.Timeout < 0 {
			d.addError(r, "projects", field,
				fmt.Sprintf("project %q: action timeout must not be negative", id))
		}
		if a.Timeout > 3600 {
			d.addWarning(r, "projects", field,
				fmt.Sprintf("project %q: action timeout %ds is unusually long", id, a.Timeout))
		}
	}
}

// warnDuplicateTargets flags enabled projects watching the same repository and
// branch; one push would run both action sequences.
func (d *Doctor) warnDuplicateTargets(r *Result) {
	seen := make(map[string]string)
	for _, id := range d.cfg.ProjectIDs() {
		p := d.cfg.Projects[id]
		if !p.Enabled {
			continue
		}
		key := p.Repository + "#" + p.Branch
		if prev, ok := seen[key]; ok {
			d.addWarning(r, "projects", fmt.Sprintf("projects.%s", id),
				fmt.Sprintf("project %q watches %s branch %s, same as project %q", id, p.Repository, p.Branch, prev))
			continue
		}
		seen[key] = id
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
