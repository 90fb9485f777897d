package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// WriteJSONResponse writes data as JSON with the given status code. Encoding
// failures are logged; the status line has already been sent by then.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger.Log != nil {
		logger.Log.Warn("Failed to encode JSON response", zap.Int("status", statusCode), zap.Error(err))
	}
}
