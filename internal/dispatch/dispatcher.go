package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/pulldock/internal/config"
	"github.com/mattjoyce/pulldock/internal/events"
	"github.com/mattjoyce/pulldock/internal/history"
	"github.com/mattjoyce/pulldock/internal/log"
)

// Dispatcher runs project action sequences for verified deliveries.
type Dispatcher struct {
	cfg    *config.Config
	store  *history.Store
	hub    *events.Hub
	logger *slog.Logger

	// mu serializes action execution so overlapping deliveries never run
	// shell commands concurrently, even across projects.
	mu sync.Mutex
}

// New creates a new Dispatcher.
func New(cfg *config.Config, store *history.Store, hub *events.Hub) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		logger: log.WithComponent("dispatch"),
	}
}

// Request is one verified, parsed webhook delivery ready for processing.
type Request struct {
	DeliveryID string
	ProjectID  string
	Project    config.ProjectConfig
	Event      *PushEvent
	RemoteAddr string
	ReceivedAt time.Time
}

// Outcome is what the HTTP layer needs to shape its response.
type Outcome struct {
	Success      bool
	Message      string
	Status       history.DeliveryStatus
	ActionsTotal int
	ActionsOK    int
}

// Dispatch applies the project gate checks and, if they pass, runs the
// configured actions in order. The delivery is recorded and published
// whatever the outcome. This blocks until the sequence finishes; the HTTP
// handler returns the result to the webhook sender.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	// A dropped client must not cancel running actions or the history write.
	ctx = context.WithoutCancel(ctx)

	logger := d.logger.With(
		slog.String("project", req.ProjectID),
		slog.String("delivery_id", req.DeliveryID),
	)

	d.hub.Publish(events.TypeDeliveryReceived, events.DeliveryEvent{
		DeliveryID: req.DeliveryID,
		Project:    req.ProjectID,
	})

	if !req.Project.Enabled {
		logger.Warn("project is disabled")
		return d.finishSkipped(ctx, req, logger, "Project disabled")
	}

	repoName := req.Event.Repository.FullName
	if repoName != req.Project.Repository {
		logger.Warn("repository mismatch", "got", repoName, "expected", req.Project.Repository)
		return d.finishSkipped(ctx, req, logger, "Repository mismatch")
	}

	expectedRef := req.Project.ExpectedRef()
	if req.Event.Ref != expectedRef {
		logger.Info("ignoring push", "ref", req.Event.Ref, "expected", expectedRef)
		return d.finishSkipped(ctx, req, logger, "Branch mismatch")
	}

	logger.Info("processing push",
		"name", req.Project.DisplayName(req.ProjectID),
		"repository", repoName,
		"ref", req.Event.Ref,
		"pusher", req.Event.Pusher.Name,
	)

	// One action sequence at a time, across all projects.
	d.mu.Lock()
	records := d.runActions(req, logger)
	d.mu.Unlock()

	total := len(req.Project.Actions)
	ok := 0
	for _, rec := range records {
		if rec.Status == history.ActionSucceeded {
			ok++
		}
	}

	out := Outcome{ActionsTotal: total, ActionsOK: ok}
	if ok == total {
		out.Success = true
		out.Message = "All actions completed successfully"
		out.Status = history.StatusCompleted
		logger.Info("all actions completed", "total", total)
	} else {
		out.Message = fmt.Sprintf("Only %d/%d actions completed", ok, total)
		out.Status = history.StatusPartial
		logger.Warn("action sequence incomplete", "ok", ok, "total", total)
	}

	d.record(ctx, req, out, records, logger)
	d.hub.Publish(events.TypeDeliveryCompleted, events.DeliveryEvent{
		DeliveryID: req.DeliveryID,
		Project:    req.ProjectID,
		Status:     string(out.Status),
		Message:    out.Message,
	})
	return out
}

// finishSkipped records a delivery that passed verification but ran nothing.
func (d *Dispatcher) finishSkipped(ctx context.Context, req Request, logger *slog.Logger, reason string) Outcome {
	out := Outcome{
		Message: reason,
		Status:  history.StatusSkipped,
	}
	d.record(ctx, req, out, nil, logger)
	d.hub.Publish(events.TypeDeliveryCompleted, events.DeliveryEvent{
		DeliveryID: req.DeliveryID,
		Project:    req.ProjectID,
		Status:     string(history.StatusSkipped),
		Message:    reason,
	})
	return out
}

// runActions executes every configured action in order. A failed action does
// not stop the sequence; it only counts against the outcome.
func (d *Dispatcher) runActions(req Request, logger *slog.Logger) []history.ActionRecord {
	records := make([]history.ActionRecord, 0, len(req.Project.Actions))

	for i, action := range req.Project.Actions {
		d.hub.Publish(events.TypeActionStarted, events.ActionEvent{
			DeliveryID: req.DeliveryID,
			Project:    req.ProjectID,
			Seq:        i,
			ActionType: string(action.Type),
		})

		rec := d.runAction(req.Project, action, logger)
		rec.Seq = i
		records = append(records, rec)

		ev := events.ActionEvent{
			DeliveryID: req.DeliveryID,
			Project:    req.ProjectID,
			Seq:        i,
			ActionType: string(action.Type),
			DurationMs: rec.DurationMs,
			ExitCode:   rec.ExitCode,
		}
		if rec.Status == history.ActionSucceeded {
			d.hub.Publish(events.TypeActionCompleted, ev)
		} else {
			ev.Error = string(rec.Status)
			d.hub.Publish(events.TypeActionFailed, ev)
			logger.Error("action failed", "action", action.Type, "seq", i, "status", rec.Status)
		}
	}
	return records
}

// runAction executes a single action and returns its record.
func (d *Dispatcher) runAction(project config.ProjectConfig, action config.Action, logger *slog.Logger) history.ActionRecord {
	timeout := project.ActionTimeout(action)
	started := time.Now()

	rec := history.ActionRecord{Type: string(action.Type)}

	command, err := commandFor(project, action)
	if err != nil {
		logger.Error("action setup failed", "action", action.Type, "error", err)
		rec.Status = history.ActionFailed
		rec.ExitCode = -1
		rec.StderrTail = err.Error()
		rec.DurationMs = time.Since(started).Milliseconds()
		return rec
	}
	rec.Command = command

	logger.Info("executing action", "action", action.Type, "timeout", timeout)

	res, err := runShell(command, timeout, logger)
	rec.ExitCode = res.exitCode
	rec.DurationMs = time.Since(started).Milliseconds()
	rec.StderrTail = res.stderr

	if out := strings.TrimSpace(res.stdout); out != "" {
		logger.Info("command output", "stdout", out)
	}
	if errOut := strings.TrimSpace(res.stderr); errOut != "" {
		logger.Error("command error output", "stderr", errOut)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("action timed out", "action", action.Type, "timeout", timeout)
		rec.Status = history.ActionTimedOut
	case err != nil:
		logger.Error("action spawn failed", "action", action.Type, "error", err)
		rec.Status = history.ActionFailed
		if rec.StderrTail == "" {
			rec.StderrTail = err.Error()
		}
	case res.exitCode != 0:
		logger.Error("action exited non-zero", "action", action.Type, "exit_code", res.exitCode)
		rec.Status = history.ActionFailed
	default:
		logger.Info("action completed", "action", action.Type, "duration_ms", rec.DurationMs)
		rec.Status = history.ActionSucceeded
	}
	return rec
}

// record persists the finished delivery. Recording failures are logged and
// swallowed; the webhook response must still reach the sender.
func (d *Dispatcher) record(ctx context.Context, req Request, out Outcome, records []history.ActionRecord, logger *slog.Logger) {
	if d.store == nil {
		return
	}

	finished := time.Now().UTC()
	delivery := history.Delivery{
		ID:           req.DeliveryID,
		ProjectID:    req.ProjectID,
		Event:        "push",
		Repository:   req.Event.Repository.FullName,
		Ref:          req.Event.Ref,
		Pusher:       req.Event.Pusher.Name,
		Status:       out.Status,
		Message:      out.Message,
		ActionsTotal: out.ActionsTotal,
		ActionsOK:    out.ActionsOK,
		ReceivedAt:   req.ReceivedAt,
		FinishedAt:   finished,
		DurationMs:   finished.Sub(req.ReceivedAt).Milliseconds(),
		RemoteAddr:   req.RemoteAddr,
		Actions:      records,
	}
	if err := d.store.Record(ctx, delivery); err != nil {
		logger.Error("failed to record delivery", "error", err)
	}
}
