package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

// writeError maps domain errors to statuses. Anything unrecognised is a 500
// and its detail stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := apperr.Stock(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     se.Error(),
			"productId": se.ProductID,
			"available": se.Available,
		})
		return
	}
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrItemNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, apperr.ErrEmptyCart), errors.Is(err, apperr.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrInvalidSignature), errors.Is(err, apperr.ErrWrongNamespace):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrInvalidTransition):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, apperr.ErrUnauthorized):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, apperr.ErrGateway):
		status, msg = http.StatusBadGateway, "payment provider unavailable, please retry"
	}
	log := logging.FromContext(r.Context())
	if status >= 500 {
		log.Error("request_failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request_rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
