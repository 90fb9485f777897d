package ingestion

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// maxBodyBytes caps a webhook body. Provider reports with long transcripts
// stay well below it.
const maxBodyBytes = 2 << 20

// WebhookHandler answers provider webhook deliveries.
type WebhookHandler struct {
	service WebhookService
}

// NewWebhookHandler creates a handler around the call pipeline.
func NewWebhookHandler(service WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Handle reads the body, runs the pipeline and maps the outcome onto the
// response the provider sees. Only a failure to record the call answers
// with a 5xx, so the provider retries nothing else.
func (h *WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	if provider := c.Param("provider"); provider != "" {
		log = log.With(zap.String("provider", provider))
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("Webhook body too large", zap.Int64("limit", tooLarge.Limit))
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "payload too large"})
			return
		}
		log.Warn("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true, "reason": "malformed"})
		return
	}

	out, err := h.service.HandleWebhook(c.Request.Context(), raw)
	status, body := determineResponse(out, err)
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

// determineResponse decides the status code and body for a processed
// delivery.
func determineResponse(out model.Outcome, err error) (int, gin.H) {
	if err != nil {
		msg := "internal error"
		if apperrors.IsTimeoutError(err) {
			msg = "timeout"
		}
		return http.StatusInternalServerError, gin.H{"ok": false, "error": msg}
	}

	switch out.Status {
	case model.OutcomeIgnored:
		return http.StatusOK, gin.H{"ok": true, "ignored": true, "reason": out.Reason}
	case model.OutcomeRejected:
		return http.StatusOK, gin.H{"ok": true, "rejected": true, "reason": out.Reason, "call_id": out.CallID}
	}

	body := gin.H{"ok": true, "call_id": out.CallID, "status": string(out.Status)}
	if out.Completion != nil {
		body["completion_state"] = string(*out.Completion)
	}
	if out.Artifact != nil {
		body["artifact"] = out.Artifact
	}
	if n := len(out.StepErrors); n > 0 {
		body["warnings"] = n
	}
	return http.StatusOK, body
}
