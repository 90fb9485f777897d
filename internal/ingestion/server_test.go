package ingestion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/internal/ingestion"
	ingestionmock "github.com/denkuservices/denku-mvp-sub000/internal/ingestion/mock"
	"github.com/denkuservices/denku-mvp-sub000/internal/lease"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage/memory"
	"github.com/denkuservices/denku-mvp-sub000/internal/usecase"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Lease.TTL = 15 * time.Minute
	cfg.Lease.SweepInterval = time.Minute
	cfg.Phone.DefaultRegion = "US"
	cfg.Persona.Fallback = "support_en"
	return cfg
}

func newServer(t *testing.T, cfg *config.Config, service ingestion.WebhookService) http.Handler {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")
	return ingestion.NewServer(cfg, service, logger.Log).Handler()
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWebhook_Responses(t *testing.T) {
	completed := model.CompletionCompleted
	tests := []struct {
		name       string
		outcome    model.Outcome
		err        error
		wantStatus int
		want       map[string]interface{}
	}{
		{
			name:       "processed",
			outcome:    model.Outcome{Status: model.OutcomeProcessed, CallID: "call-1", Completion: &completed},
			wantStatus: http.StatusOK,
			want:       map[string]interface{}{"ok": true, "call_id": "call-1", "status": "processed", "completion_state": "completed"},
		},
		{
			name: "processed with warnings",
			outcome: model.Outcome{Status: model.OutcomeProcessed, CallID: "call-1", StepErrors: []*apperrors.StepError{
				apperrors.NewStepError(apperrors.StepPublishEvent, apperrors.ErrNATS),
			}},
			wantStatus: http.StatusOK,
			want:       map[string]interface{}{"ok": true, "call_id": "call-1", "warnings": float64(1)},
		},
		{
			name:       "ignored",
			outcome:    model.Outcome{Status: model.OutcomeIgnored, Reason: usecase.ReasonTenantNotFound},
			wantStatus: http.StatusOK,
			want:       map[string]interface{}{"ok": true, "ignored": true, "reason": "tenant_not_found"},
		},
		{
			name:       "rejected",
			outcome:    model.Outcome{Status: model.OutcomeRejected, Reason: "limit_reached", CallID: "call-2"},
			wantStatus: http.StatusOK,
			want:       map[string]interface{}{"ok": true, "rejected": true, "reason": "limit_reached"},
		},
		{
			name:       "upsert failure",
			outcome:    model.Outcome{Status: model.OutcomeProcessed, CallID: "call-3"},
			err:        apperrors.NewStepError(apperrors.StepUpsertCall, apperrors.ErrDatabase),
			wantStatus: http.StatusInternalServerError,
			want:       map[string]interface{}{"ok": false, "error": "internal error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(ingestionmock.WebhookServiceMock)
			service.On("HandleWebhook", mock.Anything, []byte(`{"message":{}}`)).Return(tt.outcome, tt.err).Once()
			h := newServer(t, testConfig(), service)

			w := post(h, "/webhooks/calls", `{"message":{}}`, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			for k, v := range tt.want {
				assert.Equal(t, v, body[k], k)
			}
			service.AssertExpectations(t)
		})
	}
}

func TestWebhook_ProviderAliasAndRequestID(t *testing.T) {
	service := new(ingestionmock.WebhookServiceMock)
	service.On("HandleWebhook", mock.Anything, mock.Anything).Return(model.Outcome{Status: model.OutcomeProcessed, CallID: "c"}, nil)
	h := newServer(t, testConfig(), service)

	w := post(h, "/webhooks/calls/vapi", `{}`, map[string]string{logger.HeaderRequestID: "req-123"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(logger.HeaderRequestID))

	w = post(h, "/webhooks/calls", `{}`, nil)
	assert.NotEmpty(t, w.Header().Get(logger.HeaderRequestID), "a request id is generated when absent")
}

func TestWebhook_SecretCheck(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.Secret = "s3cret"
	service := new(ingestionmock.WebhookServiceMock)
	service.On("HandleWebhook", mock.Anything, mock.Anything).Return(model.Outcome{Status: model.OutcomeProcessed}, nil).Once()
	h := newServer(t, cfg, service)

	w := post(h, "/webhooks/calls", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode(t, w)["error"])

	w = post(h, "/webhooks/calls", `{}`, map[string]string{ingestion.HeaderWebhookSecret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(h, "/webhooks/calls", `{}`, map[string]string{ingestion.HeaderWebhookSecret: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	service.AssertExpectations(t)
}

func TestWebhook_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.RateLimit.RPS = 0.001
	cfg.Webhook.RateLimit.Burst = 2
	service := new(ingestionmock.WebhookServiceMock)
	service.On("HandleWebhook", mock.Anything, mock.Anything).Return(model.Outcome{Status: model.OutcomeProcessed}, nil)
	h := newServer(t, cfg, service)

	assert.Equal(t, http.StatusOK, post(h, "/webhooks/calls", `{}`, nil).Code)
	assert.Equal(t, http.StatusOK, post(h, "/webhooks/calls", `{}`, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, "/webhooks/calls", `{}`, nil).Code)
	service.AssertNumberOfCalls(t, "HandleWebhook", 2)
}

func TestWebhook_RateLimitDisabled(t *testing.T) {
	service := new(ingestionmock.WebhookServiceMock)
	service.On("HandleWebhook", mock.Anything, mock.Anything).Return(model.Outcome{Status: model.OutcomeProcessed}, nil)
	h := newServer(t, testConfig(), service)

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, post(h, "/webhooks/calls", `{}`, nil).Code)
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	service := new(ingestionmock.WebhookServiceMock)
	h := newServer(t, testConfig(), service)

	w := post(h, "/webhooks/calls", `{"pad":"`+strings.Repeat("x", 3<<20)+`"}`, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	service.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything)
}

func TestWebhook_EndToEnd(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	ctx := context.Background()
	store := memory.NewStore()
	assistantID := "asst_e2e"
	ws := model.NewWorkspace(&model.Workspace{WorkspaceID: "ws_e2e", ConcurrencyLimit: 1, Active: true})
	require.NoError(t, store.SaveWorkspace(ctx, *ws))
	require.NoError(t, store.SaveAgent(ctx, *model.NewAgent(ws.WorkspaceID, &model.Agent{AssistantID: &assistantID})))

	cfg := testConfig()
	svc := usecase.NewCallService(cfg, usecase.Dependencies{
		Calls:      store,
		Directory:  store,
		Artifacts:  store,
		Rejections: store,
		Leases:     lease.NewPostgresManager(store),
	})
	h := ingestion.NewServer(cfg, svc, logger.Log).Handler()

	send := func(spec model.WebhookSpec) map[string]interface{} {
		spec.AssistantID = assistantID
		spec.From = "+16502530000"
		raw, err := json.Marshal(model.NewWebhookPayload(spec))
		require.NoError(t, err)
		w := post(h, "/webhooks/calls", string(raw), nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode(t, w)
	}

	body := send(model.WebhookSpec{CallID: "call-1", Type: "status-update", Status: "in-progress"})
	assert.Equal(t, "processed", body["status"])

	body = send(model.WebhookSpec{CallID: "call-2", Type: "status-update", Status: "in-progress"})
	assert.Equal(t, true, body["rejected"])
	assert.Equal(t, "limit_reached", body["reason"])

	body = send(model.WebhookSpec{CallID: "call-1", Type: "end-of-call-report", Transcript: "I need help, my router is broken", UserTurns: 3, Duration: time.Minute})
	assert.Equal(t, "completed", body["completion_state"])
	assert.NotNil(t, body["artifact"])
	assert.Len(t, store.Tickets(), 1)
}
