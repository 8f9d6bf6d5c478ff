package history

import (
	"errors"
	"time"
)

// DeliveryStatus is the terminal outcome of a webhook delivery.
type DeliveryStatus string

const (
	// StatusCompleted means every configured action succeeded.
	StatusCompleted DeliveryStatus = "completed"
	// StatusPartial means the action sequence stopped early.
	StatusPartial DeliveryStatus = "partial"
	// StatusSkipped means the delivery was valid but ran no actions
	// (project disabled, repository or branch mismatch).
	StatusSkipped DeliveryStatus = "skipped"
	// StatusRejected means the delivery never reached the action stage
	// (bad signature, oversized or malformed payload, rate limited).
	StatusRejected DeliveryStatus = "rejected"
)

// ActionStatus is the outcome of a single action within a delivery.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	ActionTimedOut  ActionStatus = "timed_out"
)

type Delivery struct {
	ID           string
	ProjectID    string
	Event        string
	Repository   string
	Ref          string
	Pusher       string
	Status       DeliveryStatus
	Message      string
	ActionsTotal int
	ActionsOK    int
	ReceivedAt   time.Time
	FinishedAt   time.Time
	DurationMs   int64
	RemoteAddr   string

	// Actions is populated by Get, not by Recent.
	Actions []ActionRecord
}

type ActionRecord struct {
	DeliveryID string
	Seq        int
	Type       string
	Command    string
	Status     ActionStatus
	ExitCode   int
	DurationMs int64
	StderrTail string
}

// Stats summarizes the delivery log for health reporting.
type Stats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Partial   int64 `json:"partial"`
	Skipped   int64 `json:"skipped"`
	Rejected  int64 `json:"rejected"`
}

var ErrDeliveryNotFound = errors.New("delivery not found")
