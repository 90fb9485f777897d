package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/denkuservices/denku-mvp-sub000/internal/ingestion"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

// WebhookServiceMock is a mock implementation of ingestion.WebhookService
type WebhookServiceMock struct {
	mock.Mock
}

// Ensure WebhookServiceMock implements ingestion.WebhookService
var _ ingestion.WebhookService = (*WebhookServiceMock)(nil)

// HandleWebhook mocks the HandleWebhook method
func (m *WebhookServiceMock) HandleWebhook(ctx context.Context, raw []byte) (model.Outcome, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(model.Outcome), args.Error(1)
}
