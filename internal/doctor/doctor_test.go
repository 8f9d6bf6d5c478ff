package doctor

import (
	"strings"
	"testing"

	"github.com/mattjoyce/pulldock/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Projects["website"] = config.ProjectConfig{
		Name:       "Company Website",
		Repository: "acme/site",
		Branch:     "main",
		Secret:     "a-long-enough-webhook-secret",
		LocalPath:  "/srv/site",
		Enabled:    true,
		Actions: []config.Action{
			{Type: config.ActionGitPull},
			{Type: config.ActionBuild, Command: "make build"},
		},
	}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_BadPort(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.Port = 70000
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "server", "port")
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "server", "log_level")
}

func TestValidate_BadPublicURL(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.PublicURL = "hooks.example.com/base"
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "server", "public_url")
}

func TestValidate_ShortAdminToken(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.AdminToken = "short"
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "server", "admin_token")
}

func TestValidate_BadLimits(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Limits.MaxBodySize = -1
	cfg.Limits.RatePerMinute = -5
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "limits", "max_body_size")
	assertHasError(t, r, "limits", "rate_per_minute")
}

func TestValidate_MissingHistoryPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.History.Path = ""
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "history", "history.path")
}

func TestValidate_NoProjects(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Projects = map[string]config.ProjectConfig{}
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "no projects")
}

func TestValidate_MissingRepository(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.Repository = ""
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "projects", "repository is required")
}

func TestValidate_OddRepositoryName(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.Repository = "just-a-name"
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "owner/repo")
}

func TestValidate_ShortSecret(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.Secret = "hunter2"
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "shorter than 16")
}

func TestValidate_EnabledWithoutActions(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.Actions = nil
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "has no actions")
}

func TestValidate_UnknownActionType(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.Actions = []config.Action{{Type: "deploy_rockets"}}
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "projects", "deploy_rockets")
}

func TestValidate_GitPullWithoutLocalPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.LocalPath = ""
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "projects", "local_path")
}

func TestValidate_CommandRequired(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.Actions = []config.Action{{Type: config.ActionCustomCommand}}
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "projects", "command is required")
}

func TestValidate_RelativeLocalPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	p := cfg.Projects["website"]
	p.LocalPath = "./site"
	cfg.Projects["website"] = p
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "not absolute")
}

func TestValidate_DuplicateTargets(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Projects["mirror"] = config.ProjectConfig{
		Repository: "acme/site",
		Branch:     "main",
		Secret:     "another-long-enough-secret",
		Enabled:    true,
		Actions:    []config.Action{{Type: config.ActionCustomCommand, Command: "echo hi"}},
	}
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "same as project")
}

func TestValidate_DisabledDuplicateIsFine(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Projects["mirror"] = config.ProjectConfig{
		Repository: "acme/site",
		Branch:     "main",
		Secret:     "another-long-enough-secret",
		Enabled:    false,
	}
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	for _, w := range r.Warnings {
		if strings.Contains(w.Message, "same as project") {
			t.Fatalf("disabled project should not trigger duplicate warning: %v", w)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && (strings.Contains(e.Message, substring) || strings.Contains(e.Field, substring)) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && (strings.Contains(w.Message, substring) || strings.Contains(w.Field, substring)) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
