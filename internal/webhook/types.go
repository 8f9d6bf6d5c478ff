package webhook

import (
	"time"

	"github.com/mattjoyce/pulldock/internal/history"
)

// MessageResponse is the JSON body for accepted webhook deliveries.
type MessageResponse struct {
	Message    string `json:"message"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// ErrorResponse is the JSON body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                   `json:"status"`
	Timestamp     string                   `json:"timestamp"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Projects      map[string]ProjectHealth `json:"projects"`
	Deliveries    history.Stats            `json:"deliveries"`
	System        *SystemInfo              `json:"system,omitempty"`
}

// ProjectHealth is the per-project block inside HealthResponse.
type ProjectHealth struct {
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Repository string `json:"repository"`
}

// SystemInfo is a point-in-time host snapshot included in HealthResponse.
type SystemInfo struct {
	Hostname      string  `json:"hostname"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ProjectInfo is the per-project block returned by GET /projects.
type ProjectInfo struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// DeliverySummary is one row in GET /deliveries.
type DeliverySummary struct {
	ID           string    `json:"id"`
	Project      string    `json:"project"`
	Event        string    `json:"event"`
	Repository   string    `json:"repository,omitempty"`
	Ref          string    `json:"ref,omitempty"`
	Pusher       string    `json:"pusher,omitempty"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	ActionsOK    int       `json:"actions_ok"`
	ActionsTotal int       `json:"actions_total"`
	ReceivedAt   time.Time `json:"received_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// DeliveriesResponse is returned by GET /deliveries.
type DeliveriesResponse struct {
	Deliveries []DeliverySummary `json:"deliveries"`
}

// DeliveryDetail is returned by GET /deliveries/{id}.
type DeliveryDetail struct {
	DeliverySummary
	FinishedAt time.Time    `json:"finished_at"`
	RemoteAddr string       `json:"remote_addr,omitempty"`
	Actions    []ActionInfo `json:"actions"`
}

// ActionInfo is one action row inside DeliveryDetail.
type ActionInfo struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	Command    string `json:"command,omitempty"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	StderrTail string `json:"stderr_tail,omitempty"`
}

func summaryFromDelivery(d history.Delivery) DeliverySummary {
	return DeliverySummary{
		ID:           d.ID,
		Project:      d.ProjectID,
		Event:        d.Event,
		Repository:   d.Repository,
		Ref:          d.Ref,
		Pusher:       d.Pusher,
		Status:       string(d.Status),
		Message:      d.Message,
		ActionsOK:    d.ActionsOK,
		ActionsTotal: d.ActionsTotal,
		ReceivedAt:   d.ReceivedAt,
		DurationMs:   d.DurationMs,
	}
}

func detailFromDelivery(d *history.Delivery) DeliveryDetail {
	detail := DeliveryDetail{
		DeliverySummary: summaryFromDelivery(*d),
		FinishedAt:      d.FinishedAt,
		RemoteAddr:      d.RemoteAddr,
		Actions:         make([]ActionInfo, 0, len(d.Actions)),
	}
	for _, a := range d.Actions {
		detail.Actions = append(detail.Actions, ActionInfo{
			Seq:        a.Seq,
			Type:       a.Type,
			Command:    a.Command,
			Status:     string(a.Status),
			ExitCode:   a.ExitCode,
			DurationMs: a.DurationMs,
			StderrTail: a.StderrTail,
		})
	}
	return detail
}
