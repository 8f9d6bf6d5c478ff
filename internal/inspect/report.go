// Package inspect renders delivery history for the CLI.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/pulldock/internal/history"
)

// Report is the structured JSON representation of one delivery.
type Report struct {
	DeliveryID   string `json:"delivery_id"`
	Project      string `json:"project"`
	Event        string `json:"event"`
	Repository   string `json:"repository,omitempty"`
	Ref          string `json:"ref,omitempty"`
	Pusher       string `json:"pusher,omitempty"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	ReceivedAt   string `json:"received_at"`
	FinishedAt   string `json:"finished_at"`
	DurationMs   int64  `json:"duration_ms"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	ActionsTotal int    `json:"actions_total"`
	ActionsOK    int    `json:"actions_ok"`
	Steps        []Step `json:"steps"`
}

// Step is one action in the delivery's sequence.
type Step struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	Command    string `json:"command,omitempty"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	StderrTail string `json:"stderr_tail,omitempty"`
}

// BuildReport renders a terminal-friendly report for one delivery.
func BuildReport(ctx context.Context, store *history.Store, deliveryID string) (string, error) {
	report, err := gatherReportData(ctx, store, deliveryID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Delivery Report\n")
	fmt.Fprintf(&out, "Delivery ID : %s\n", report.DeliveryID)
	fmt.Fprintf(&out, "Project     : %s\n", report.Project)
	fmt.Fprintf(&out, "Event       : %s\n", report.Event)
	fmt.Fprintf(&out, "Repository  : %s\n", renderUnset(report.Repository, "<none>"))
	fmt.Fprintf(&out, "Ref         : %s\n", renderUnset(report.Ref, "<none>"))
	fmt.Fprintf(&out, "Pusher      : %s\n", renderUnset(report.Pusher, "<unknown>"))
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Message     : %s\n", renderUnset(report.Message, "<none>"))
	fmt.Fprintf(&out, "Received    : %s\n", report.ReceivedAt)
	fmt.Fprintf(&out, "Duration    : %dms\n", report.DurationMs)
	fmt.Fprintf(&out, "Remote      : %s\n", renderUnset(report.RemoteAddr, "<unknown>"))
	fmt.Fprintf(&out, "Actions     : %d/%d succeeded\n", report.ActionsOK, report.ActionsTotal)
	fmt.Fprintf(&out, "\n")

	if len(report.Steps) == 0 {
		fmt.Fprintf(&out, "No actions were run.\n")
		return out.String(), nil
	}

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s (%s)\n", step.Seq, step.Type, step.Status)
		fmt.Fprintf(&out, "    command  : %s\n", renderUnset(step.Command, "<none>"))
		fmt.Fprintf(&out, "    exit     : %d\n", step.ExitCode)
		fmt.Fprintf(&out, "    duration : %dms\n", step.DurationMs)
		if step.StderrTail != "" {
			fmt.Fprintf(&out, "    stderr   :\n")
			for _, line := range strings.Split(strings.TrimRight(step.StderrTail, "\n"), "\n") {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON delivery report.
func BuildJSONReport(ctx context.Context, store *history.Store, deliveryID string) (string, error) {
	report, err := gatherReportData(ctx, store, deliveryID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// BuildListReport renders recent deliveries as fixed-width rows, newest first.
func BuildListReport(ctx context.Context, store *history.Store, limit int, projectID string) (string, error) {
	deliveries, err := store.Recent(ctx, limit, projectID)
	if err != nil {
		return "", fmt.Errorf("list deliveries: %w", err)
	}

	if len(deliveries) == 0 {
		if projectID != "" {
			return fmt.Sprintf("No deliveries recorded for project %q.\n", projectID), nil
		}
		return "No deliveries recorded.\n", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%-20s  %-36s  %-12s  %-9s  %-7s  %s\n",
		"RECEIVED", "ID", "PROJECT", "STATUS", "ACTIONS", "MESSAGE")
	for _, d := range deliveries {
		fmt.Fprintf(&out, "%-20s  %-36s  %-12s  %-9s  %3d/%-3d  %s\n",
			d.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			d.ID,
			d.ProjectID,
			d.Status,
			d.ActionsOK, d.ActionsTotal,
			d.Message,
		)
	}
	return out.String(), nil
}

// BuildJSONListReport returns recent deliveries as indented JSON.
func BuildJSONListReport(ctx context.Context, store *history.Store, limit int, projectID string) (string, error) {
	deliveries, err := store.Recent(ctx, limit, projectID)
	if err != nil {
		return "", fmt.Errorf("list deliveries: %w", err)
	}

	data, err := json.MarshalIndent(deliveries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json list: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store *history.Store, deliveryID string) (*Report, error) {
	if strings.TrimSpace(deliveryID) == "" {
		return nil, fmt.Errorf("delivery_id is required")
	}

	d, err := store.Get(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, history.ErrDeliveryNotFound) {
			return nil, fmt.Errorf("delivery %q not found", deliveryID)
		}
		return nil, fmt.Errorf("load delivery %q: %w", deliveryID, err)
	}

	report := &Report{
		DeliveryID:   d.ID,
		Project:      d.ProjectID,
		Event:        d.Event,
		Repository:   d.Repository,
		Ref:          d.Ref,
		Pusher:       d.Pusher,
		Status:       string(d.Status),
		Message:      d.Message,
		ReceivedAt:   d.ReceivedAt.Format(time.RFC3339),
		FinishedAt:   d.FinishedAt.Format(time.RFC3339),
		DurationMs:   d.DurationMs,
		RemoteAddr:   d.RemoteAddr,
		ActionsTotal: d.ActionsTotal,
		ActionsOK:    d.ActionsOK,
		Steps:        make([]Step, 0, len(d.Actions)),
	}

	for _, a := range d.Actions {
		report.Steps = append(report.Steps, Step{
			Seq:        a.Seq,
			Type:       a.Type,
			Command:    a.Command,
			Status:     string(a.Status),
			ExitCode:   a.ExitCode,
			DurationMs: a.DurationMs,
			StderrTail: a.StderrTail,
		})
	}

	return report, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
