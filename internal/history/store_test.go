package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pulldock.db")
	store, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	received := time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC)

	d := Delivery{
		ID:           "d-1",
		ProjectID:    "website",
		Event:        "push",
		Repository:   "acme/website",
		Ref:          "refs/heads/main",
		Pusher:       "alice",
		Status:       StatusPartial,
		Message:      "Only 1/2 actions completed",
		ActionsTotal: 2,
		ActionsOK:    1,
		ReceivedAt:   received,
		FinishedAt:   received.Add(4 * time.Second),
		DurationMs:   4000,
		RemoteAddr:   "192.0.2.10",
		Actions: []ActionRecord{
			{Seq: 0, Type: "git_pull", Command: "cd /srv/website && git pull origin main", Status: ActionSucceeded, DurationMs: 1200},
			{Seq: 1, Type: "build", Command: "make build", Status: ActionFailed, ExitCode: 2, DurationMs: 2800, StderrTail: "make: *** [build] Error 2"},
		},
	}
	if err := store.Record(context.Background(), d); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ProjectID != "website" || got.Status != StatusPartial || got.Message != "Only 1/2 actions completed" {
		t.Fatalf("unexpected delivery: %#v", got)
	}
	if !got.ReceivedAt.Equal(received) {
		t.Fatalf("received_at = %v, want %v", got.ReceivedAt, received)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(got.Actions))
	}
	if got.Actions[0].Seq != 0 || got.Actions[0].Status != ActionSucceeded {
		t.Fatalf("unexpected first action: %#v", got.Actions[0])
	}
	if got.Actions[1].ExitCode != 2 || got.Actions[1].StderrTail == "" {
		t.Fatalf("unexpected second action: %#v", got.Actions[1])
	}
}

func TestGetUnknownDelivery(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestRecentNewestFirstAndProjectFilter(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	base := time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)

	seed := []Delivery{
		{ID: "d-1", ProjectID: "website", Event: "push", Status: StatusCompleted, ReceivedAt: base, FinishedAt: base},
		{ID: "d-2", ProjectID: "api", Event: "push", Status: StatusSkipped, ReceivedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute)},
		{ID: "d-3", ProjectID: "website", Event: "push", Status: StatusRejected, ReceivedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(2 * time.Minute)},
	}
	for _, d := range seed {
		if err := store.Record(context.Background(), d); err != nil {
			t.Fatalf("Record %s: %v", d.ID, err)
		}
	}

	all, err := store.Recent(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || all[0].ID != "d-3" || all[2].ID != "d-1" {
		t.Fatalf("unexpected order: %#v", all)
	}

	website, err := store.Recent(context.Background(), 10, "website")
	if err != nil {
		t.Fatalf("Recent(website): %v", err)
	}
	if len(website) != 2 || website[0].ID != "d-3" || website[1].ID != "d-1" {
		t.Fatalf("unexpected filtered result: %#v", website)
	}

	limited, err := store.Recent(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("Recent(limit 1): %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "d-3" {
		t.Fatalf("unexpected limited result: %#v", limited)
	}
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	now := time.Now().UTC()

	seed := []Delivery{
		{ID: "c-1", ProjectID: "p", Event: "push", Status: StatusCompleted, ReceivedAt: now, FinishedAt: now},
		{ID: "c-2", ProjectID: "p", Event: "push", Status: StatusCompleted, ReceivedAt: now, FinishedAt: now},
		{ID: "c-3", ProjectID: "p", Event: "push", Status: StatusRejected, ReceivedAt: now, FinishedAt: now},
		{ID: "c-4", ProjectID: "p", Event: "push", Status: StatusSkipped, ReceivedAt: now, FinishedAt: now},
	}
	for _, d := range seed {
		if err := store.Record(context.Background(), d); err != nil {
			t.Fatalf("Record %s: %v", d.ID, err)
		}
	}

	stats, err := store.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if stats.Total != 4 || stats.Completed != 2 || stats.Rejected != 1 || stats.Skipped != 1 || stats.Partial != 0 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}
