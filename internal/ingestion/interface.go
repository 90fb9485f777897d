package ingestion

import (
	"context"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

// WebhookService processes one raw webhook delivery.
type WebhookService interface {
	HandleWebhook(ctx context.Context, raw []byte) (model.Outcome, error)
}

// ServerInterface defines the lifecycle of the webhook server
type ServerInterface interface {
	// Start serves until Stop is called
	Start() error

	// Stop shuts the server down gracefully
	Stop(ctx context.Context) error
}

// Ensure Server implements ServerInterface
var _ ServerInterface = (*Server)(nil)
