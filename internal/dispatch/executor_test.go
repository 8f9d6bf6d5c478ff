package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/pulldock/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunShellSuccess(t *testing.T) {
	t.Parallel()

	res, err := runShell("echo hello", 5*time.Second, discardLogger())
	if err != nil {
		t.Fatalf("runShell: %v", err)
	}
	if res.exitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.exitCode)
	}
	if !strings.Contains(res.stdout, "hello") {
		t.Fatalf("stdout = %q, want it to contain %q", res.stdout, "hello")
	}
}

func TestRunShellEmptyCommandIsNoop(t *testing.T) {
	t.Parallel()

	res, err := runShell("", time.Second, discardLogger())
	if err != nil {
		t.Fatalf("runShell: %v", err)
	}
	if res.exitCode != 0 || res.stdout != "" || res.stderr != "" {
		t.Fatalf("expected empty result, got %#v", res)
	}
}

func TestRunShellNonZeroExit(t *testing.T) {
	t.Parallel()

	res, err := runShell("exit 3", 5*time.Second, discardLogger())
	if err != nil {
		t.Fatalf("runShell: %v", err)
	}
	if res.exitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.exitCode)
	}
}

func TestRunShellCapturesStderr(t *testing.T) {
	t.Parallel()

	res, err := runShell("echo oops >&2; exit 1", 5*time.Second, discardLogger())
	if err != nil {
		t.Fatalf("runShell: %v", err)
	}
	if res.exitCode != 1 {
		t.Fatalf("exit code = %d, want 1", res.exitCode)
	}
	if !strings.Contains(res.stderr, "oops") {
		t.Fatalf("stderr = %q, want it to contain %q", res.stderr, "oops")
	}
}

func TestRunShellTimeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	res, err := runShell("sleep 5", 100*time.Millisecond, discardLogger())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if res.exitCode != -1 {
		t.Fatalf("exit code = %d, want -1", res.exitCode)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout enforcement took too long: %v", elapsed)
	}
}

func TestCommandForGitPull(t *testing.T) {
	t.Parallel()

	localPath := t.TempDir()
	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		LocalPath:  localPath,
	}

	command, err := commandFor(project, config.Action{Type: config.ActionGitPull})
	if err != nil {
		t.Fatalf("commandFor: %v", err)
	}
	want := "cd " + localPath + " && git pull origin main"
	if command != want {
		t.Fatalf("command = %q, want %q", command, want)
	}
}

func TestCommandForGitPullMissingPath(t *testing.T) {
	t.Parallel()

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		LocalPath:  filepath.Join(t.TempDir(), "does-not-exist"),
	}

	_, err := commandFor(project, config.Action{Type: config.ActionGitPull})
	if err == nil {
		t.Fatal("expected error for missing local path")
	}
	if !strings.Contains(err.Error(), "local path does not exist") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCommandForCustomCommand(t *testing.T) {
	t.Parallel()

	project := config.ProjectConfig{Repository: "acme/website"}
	action := config.Action{Type: config.ActionCustomCommand, Command: "make deploy"}

	command, err := commandFor(project, action)
	if err != nil {
		t.Fatalf("commandFor: %v", err)
	}
	if command != "make deploy" {
		t.Fatalf("command = %q, want %q", command, "make deploy")
	}
}
