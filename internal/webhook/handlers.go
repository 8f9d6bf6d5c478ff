package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/pulldock/internal/dispatch"
	"github.com/mattjoyce/pulldock/internal/events"
	"github.com/mattjoyce/pulldock/internal/history"
)

// handleWebhook handles POST /webhook/{project}.
//
// The rejection ladder is ordered so that callers always see the same status
// for the same defect: unknown project (404), rate limit (429), oversized
// body (413), bad signature (403), malformed JSON (400). Everything after
// verification answers 200, with the outcome in the message.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	receivedAt := time.Now().UTC()

	projectID := chi.URLParam(r, "project")
	project, ok := s.cfg.Projects[projectID]
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Project '%s' not found", projectID))
		return
	}

	deliveryID := uuid.NewString()

	if s.limiter != nil {
		if err := s.limiter.Allow(clientIP(r)); err != nil {
			s.logger.Warn("rate limit exceeded", "project", projectID, "remote_addr", r.RemoteAddr)
			s.recordRejected(r, deliveryID, projectID, receivedAt, "Rate limit exceeded")
			s.respondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
	}

	maxBody := s.cfg.Limits.MaxBodySize
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > maxBody {
		s.logger.Warn("payload too large", "project", projectID, "max_body_size", maxBody)
		s.recordRejected(r, deliveryID, projectID, receivedAt, "Payload too large")
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if err := verifySignature(body, signature, project.Secret); err != nil {
		s.logger.Warn("invalid signature received", "project", projectID, "remote_addr", r.RemoteAddr)
		s.recordRejected(r, deliveryID, projectID, receivedAt, "Invalid signature")
		s.respondError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	event, err := dispatch.ParsePushEvent(body)
	if err != nil {
		s.logger.Error("invalid JSON payload", "project", projectID, "error", err)
		s.recordRejected(r, deliveryID, projectID, receivedAt, "Invalid JSON payload")
		s.respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	out := s.dispatcher.Dispatch(ctx, dispatch.Request{
		DeliveryID: deliveryID,
		ProjectID:  projectID,
		Project:    project,
		Event:      event,
		RemoteAddr: r.RemoteAddr,
		ReceivedAt: receivedAt,
	})

	message := out.Message
	if !out.Success {
		// 200 either way so the sender does not retry.
		message = "Webhook received but no action taken: " + out.Message
	}
	s.respondJSON(w, http.StatusOK, MessageResponse{
		Message:    message,
		DeliveryID: deliveryID,
	})
}

// recordRejected logs a delivery that never reached the dispatcher.
func (s *Server) recordRejected(r *http.Request, deliveryID, projectID string, receivedAt time.Time, reason string) {
	s.hub.Publish(events.TypeDeliveryRejected, events.DeliveryEvent{
		DeliveryID: deliveryID,
		Project:    projectID,
		Status:     string(history.StatusRejected),
		Message:    reason,
	})

	if s.store == nil {
		return
	}
	finished := time.Now().UTC()
	d := history.Delivery{
		ID:         deliveryID,
		ProjectID:  projectID,
		Event:      "push",
		Status:     history.StatusRejected,
		Message:    reason,
		ReceivedAt: receivedAt,
		FinishedAt: finished,
		DurationMs: finished.Sub(receivedAt).Milliseconds(),
		RemoteAddr: r.RemoteAddr,
	}
	if err := s.store.Record(context.WithoutCancel(r.Context()), d); err != nil {
		s.logger.Error("failed to record rejected delivery", "delivery_id", deliveryID, "error", err)
	}
}

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	projects := make(map[string]ProjectHealth, len(s.cfg.Projects))
	for id, p := range s.cfg.Projects {
		projects[id] = ProjectHealth{
			Name:       p.DisplayName(id),
			Enabled:    p.Enabled,
			Repository: p.Repository,
		}
	}

	var stats history.Stats
	if s.store != nil {
		var err error
		stats, err = s.store.CountByStatus(r.Context())
		if err != nil {
			s.logger.Error("failed to count deliveries", "error", err)
		}
	}

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Projects:      projects,
		Deliveries:    stats,
		System:        systemSnapshot(s.logger),
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleProjects handles GET /projects.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects := make(map[string]ProjectInfo, len(s.cfg.Projects))
	for id, p := range s.cfg.Projects {
		projects[id] = ProjectInfo{
			Name:       p.DisplayName(id),
			Repository: p.Repository,
			Branch:     p.Branch,
			Enabled:    p.Enabled,
			WebhookURL: s.cfg.WebhookURL(id),
		}
	}
	s.respondJSON(w, http.StatusOK, projects)
}

// handleDeliveries handles GET /deliveries?limit=N&project=ID.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}
	projectID := r.URL.Query().Get("project")

	deliveries, err := s.store.Recent(r.Context(), limit, projectID)
	if err != nil {
		s.logger.Error("failed to list deliveries", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	resp := DeliveriesResponse{Deliveries: make([]DeliverySummary, 0, len(deliveries))}
	for _, d := range deliveries {
		resp.Deliveries = append(resp.Deliveries, summaryFromDelivery(d))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleDelivery handles GET /deliveries/{id}.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrDeliveryNotFound) {
		s.respondError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load delivery", "delivery_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load delivery")
		return
	}
	s.respondJSON(w, http.StatusOK, detailFromDelivery(d))
}
