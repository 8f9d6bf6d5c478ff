package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/pulldock/internal/config"
	"github.com/mattjoyce/pulldock/internal/events"
	"github.com/mattjoyce/pulldock/internal/history"
	"github.com/mattjoyce/pulldock/internal/log"
)

func TestMain(m *testing.M) {
	_ = log.Setup("ERROR", "") // Suppress logs in tests
	os.Exit(m.Run())
}

func setupTestDispatcher(t *testing.T) (*Dispatcher, *history.Store, *events.Hub) {
	t.Helper()

	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := events.NewHub(64)
	cfg := config.Defaults()
	return New(cfg, store, hub), store, hub
}

func pushEvent(repo, ref string) *PushEvent {
	var ev PushEvent
	ev.Ref = ref
	ev.Repository.FullName = repo
	ev.Pusher.Name = "test-user"
	return &ev
}

func testRequest(id string, project config.ProjectConfig, ev *PushEvent) Request {
	return Request{
		DeliveryID: id,
		ProjectID:  "website",
		Project:    project,
		Event:      ev,
		RemoteAddr: "192.0.2.10",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestDispatchDisabledProject(t *testing.T) {
	disp, store, _ := setupTestDispatcher(t)

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    false,
	}

	out := disp.Dispatch(context.Background(), testRequest("d-disabled", project, pushEvent("acme/website", "refs/heads/main")))
	if out.Success {
		t.Fatal("expected success=false for disabled project")
	}
	if out.Message != "Project disabled" {
		t.Fatalf("message = %q, want %q", out.Message, "Project disabled")
	}

	got, err := store.Get(context.Background(), "d-disabled")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != history.StatusSkipped {
		t.Fatalf("status = %q, want %q", got.Status, history.StatusSkipped)
	}
}

func TestDispatchRepositoryMismatch(t *testing.T) {
	disp, _, _ := setupTestDispatcher(t)

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
	}

	out := disp.Dispatch(context.Background(), testRequest("d-repo", project, pushEvent("acme/other", "refs/heads/main")))
	if out.Success || out.Message != "Repository mismatch" {
		t.Fatalf("unexpected outcome: %#v", out)
	}
}

func TestDispatchBranchMismatch(t *testing.T) {
	disp, _, _ := setupTestDispatcher(t)

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
	}

	out := disp.Dispatch(context.Background(), testRequest("d-branch", project, pushEvent("acme/website", "refs/heads/dev")))
	if out.Success || out.Message != "Branch mismatch" {
		t.Fatalf("unexpected outcome: %#v", out)
	}
}

func TestDispatchRunsActionsInOrder(t *testing.T) {
	disp, store, _ := setupTestDispatcher(t)

	marker := filepath.Join(t.TempDir(), "order.txt")
	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
		Actions: []config.Action{
			{Type: config.ActionCustomCommand, Command: fmt.Sprintf("echo one >> %s", marker)},
			{Type: config.ActionCustomCommand, Command: fmt.Sprintf("echo two >> %s", marker)},
		},
	}

	out := disp.Dispatch(context.Background(), testRequest("d-order", project, pushEvent("acme/website", "refs/heads/main")))
	if !out.Success {
		t.Fatalf("expected success, got %#v", out)
	}
	if out.Message != "All actions completed successfully" {
		t.Fatalf("message = %q", out.Message)
	}
	if out.ActionsOK != 2 || out.ActionsTotal != 2 {
		t.Fatalf("counts = %d/%d, want 2/2", out.ActionsOK, out.ActionsTotal)
	}

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Fatalf("marker content = %q", string(data))
	}

	got, err := store.Get(context.Background(), "d-order")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != history.StatusCompleted || len(got.Actions) != 2 {
		t.Fatalf("unexpected delivery: %#v", got)
	}
	if got.Actions[0].Seq != 0 || got.Actions[1].Seq != 1 {
		t.Fatalf("unexpected action order: %#v", got.Actions)
	}
}

func TestDispatchFailedActionDoesNotStopSequence(t *testing.T) {
	disp, store, _ := setupTestDispatcher(t)

	marker := filepath.Join(t.TempDir(), "ran.txt")
	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
		Actions: []config.Action{
			{Type: config.ActionCustomCommand, Command: "exit 1"},
			{Type: config.ActionCustomCommand, Command: fmt.Sprintf("echo after >> %s", marker)},
		},
	}

	out := disp.Dispatch(context.Background(), testRequest("d-partial", project, pushEvent("acme/website", "refs/heads/main")))
	if out.Success {
		t.Fatal("expected success=false")
	}
	if out.Message != "Only 1/2 actions completed" {
		t.Fatalf("message = %q", out.Message)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("second action did not run: %v", err)
	}

	got, err := store.Get(context.Background(), "d-partial")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != history.StatusPartial {
		t.Fatalf("status = %q, want %q", got.Status, history.StatusPartial)
	}
	if got.Actions[0].Status != history.ActionFailed || got.Actions[0].ExitCode != 1 {
		t.Fatalf("unexpected first action: %#v", got.Actions[0])
	}
	if got.Actions[1].Status != history.ActionSucceeded {
		t.Fatalf("unexpected second action: %#v", got.Actions[1])
	}
}

func TestDispatchTimedOutActionThenNext(t *testing.T) {
	disp, store, _ := setupTestDispatcher(t)

	marker := filepath.Join(t.TempDir(), "after.txt")
	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
		Actions: []config.Action{
			{Type: config.ActionCustomCommand, Command: "sleep 10", Timeout: 1},
			{Type: config.ActionCustomCommand, Command: fmt.Sprintf("echo after >> %s", marker)},
		},
	}

	out := disp.Dispatch(context.Background(), testRequest("d-timeout", project, pushEvent("acme/website", "refs/heads/main")))
	if out.Success || out.Message != "Only 1/2 actions completed" {
		t.Fatalf("unexpected outcome: %#v", out)
	}

	got, err := store.Get(context.Background(), "d-timeout")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Actions[0].Status != history.ActionTimedOut {
		t.Fatalf("first action status = %q, want %q", got.Actions[0].Status, history.ActionTimedOut)
	}
	if got.Actions[1].Status != history.ActionSucceeded {
		t.Fatalf("second action status = %q, want %q", got.Actions[1].Status, history.ActionSucceeded)
	}
}

func TestDispatchNoActionsIsSuccess(t *testing.T) {
	disp, _, _ := setupTestDispatcher(t)

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
	}

	out := disp.Dispatch(context.Background(), testRequest("d-empty", project, pushEvent("acme/website", "refs/heads/main")))
	if !out.Success || out.Message != "All actions completed successfully" {
		t.Fatalf("unexpected outcome: %#v", out)
	}
	if out.ActionsTotal != 0 {
		t.Fatalf("total = %d, want 0", out.ActionsTotal)
	}
}

func TestDispatchGitPullMissingLocalPath(t *testing.T) {
	disp, store, _ := setupTestDispatcher(t)

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
		LocalPath:  filepath.Join(t.TempDir(), "missing"),
		Actions: []config.Action{
			{Type: config.ActionGitPull},
		},
	}

	out := disp.Dispatch(context.Background(), testRequest("d-gitpull", project, pushEvent("acme/website", "refs/heads/main")))
	if out.Success || out.Message != "Only 0/1 actions completed" {
		t.Fatalf("unexpected outcome: %#v", out)
	}

	got, err := store.Get(context.Background(), "d-gitpull")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(got.Actions[0].StderrTail, "local path does not exist") {
		t.Fatalf("unexpected stderr tail: %q", got.Actions[0].StderrTail)
	}
}

func TestDispatchPublishesLifecycleEvents(t *testing.T) {
	disp, _, hub := setupTestDispatcher(t)

	ch, cancel := hub.Subscribe()
	defer cancel()

	project := config.ProjectConfig{
		Repository: "acme/website",
		Branch:     "main",
		Enabled:    true,
		Actions: []config.Action{
			{Type: config.ActionCustomCommand, Command: "true"},
		},
	}

	disp.Dispatch(context.Background(), testRequest("d-events", project, pushEvent("acme/website", "refs/heads/main")))

	var types []string
drain:
	for {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		default:
			break drain
		}
	}

	want := []string{
		events.TypeDeliveryReceived,
		events.TypeActionStarted,
		events.TypeActionCompleted,
		events.TypeDeliveryCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestDispatchSerializesActionSequences(t *testing.T) {
	disp, _, _ := setupTestDispatcher(t)

	marker := filepath.Join(t.TempDir(), "interleave.txt")
	mkProject := func() config.ProjectConfig {
		return config.ProjectConfig{
			Repository: "acme/website",
			Branch:     "main",
			Enabled:    true,
			Actions: []config.Action{
				{Type: config.ActionCustomCommand, Command: fmt.Sprintf("echo start >> %s; sleep 0.2; echo end >> %s", marker, marker)},
			},
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := testRequest(fmt.Sprintf("d-sync-%d", n), mkProject(), pushEvent("acme/website", "refs/heads/main"))
			disp.Dispatch(context.Background(), req)
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	lines := strings.Fields(string(data))
	want := []string{"start", "end", "start", "end"}
	if len(lines) != len(want) {
		t.Fatalf("marker lines = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("sequences interleaved: %v", lines)
		}
	}
}
