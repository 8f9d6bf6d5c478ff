package webhook

import (
	"context"

	"github.com/mattjoyce/pulldock/internal/dispatch"
	"github.com/mattjoyce/pulldock/internal/history"
)

//go:generate mockgen -destination=mocks/mock_dispatcher.go -package=mocks github.com/mattjoyce/pulldock/internal/webhook ActionDispatcher

// ActionDispatcher runs the action sequence for a verified delivery.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

// DeliveryLog is the persistence surface the HTTP layer needs: recording
// rejected deliveries and serving the read endpoints.
type DeliveryLog interface {
	Record(ctx context.Context, d history.Delivery) error
	Recent(ctx context.Context, limit int, projectID string) ([]history.Delivery, error)
	Get(ctx context.Context, id string) (*history.Delivery, error)
	CountByStatus(ctx context.Context) (history.Stats, error)
}
