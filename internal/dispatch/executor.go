package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/pulldock/internal/config"
)

const (
	// maxStderrBytes caps the amount of stderr captured from action execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// shellResult is the raw outcome of one shell invocation.
type shellResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// commandFor resolves the shell command an action will run. git_pull derives
// its command from the project checkout, checked at execution time so a path
// created after startup still works; every other type runs the configured
// command verbatim.
func commandFor(project config.ProjectConfig, action config.Action) (string, error) {
	if action.Type == config.ActionGitPull {
		if _, err := os.Stat(project.LocalPath); err != nil {
			return "", fmt.Errorf("local path does not exist: %s", project.LocalPath)
		}
		return fmt.Sprintf("cd %s && git pull origin %s", project.LocalPath, project.Branch), nil
	}
	return action.Command, nil
}

// runShell executes command via bash -c with a hard timeout. The subprocess
// is deliberately not tied to a context (don't use CommandContext - we manage
// termination ourselves): on timeout the process gets SIGTERM, then SIGKILL
// after the grace period. An empty command is a no-op success.
func runShell(command string, timeout time.Duration, logger *slog.Logger) (shellResult, error) {
	if command == "" {
		return shellResult{}, nil
	}

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	cmd := exec.Command("bash", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("running command", "command", command, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return shellResult{exitCode: -1}, fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("command timed out, sending SIGTERM", "timeout", timeout)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("command exited after SIGTERM")
		case <-grace.C:
			logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr // Wait for process to die
		}

		return shellResult{
			exitCode: -1,
			stdout:   stdout.String(),
			stderr:   truncateStderr(stderr.String()),
		}, context.DeadlineExceeded

	case err := <-waitErr:
		res := shellResult{
			stdout: stdout.String(),
			stderr: truncateStderr(stderr.String()),
		}
		if err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				res.exitCode = -1
				return res, fmt.Errorf("wait for process: %w", err)
			}
			res.exitCode = exitErr.ExitCode()
		}
		return res, nil
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
