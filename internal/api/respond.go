package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-checkout/internal/cart"
	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/logger"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context(), s.logger).Warn("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.respondJSON(w, r, status, errorResponse{Error: code, Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logger.FromContext(r.Context(), s.logger).Error(msg, zap.Error(err))
	s.respondError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

// respondResult writes a checkout Result; failures carry the status of their
// kind.
func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, okStatus int, result *checkout.Result) {
	if result.Success {
		s.respondJSON(w, r, okStatus, result)
		return
	}
	s.respondJSON(w, r, statusForKind(result.Kind), result)
}

func statusForKind(kind checkout.ErrorKind) int {
	switch kind {
	case checkout.KindNotFound:
		return http.StatusNotFound
	case checkout.KindInventoryBusy:
		return http.StatusConflict
	case checkout.KindPaymentFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusUnprocessableEntity
	}
}

// respondCartError maps cart service errors. Stock and availability failures
// reuse the checkout taxonomy.
func (s *Server) respondCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		s.respondError(w, r, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, cart.ErrProductNotFound):
		s.respondError(w, r, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, cart.ErrItemNotFound):
		s.respondError(w, r, http.StatusNotFound, "item_not_found", err.Error())
	case database.IsRetryable(err):
		s.respondError(w, r, http.StatusConflict, string(checkout.KindInventoryBusy), checkout.ErrInventoryBusy.Error())
	default:
		if result, ok := checkout.Failure(err); ok {
			s.respondResult(w, r, http.StatusOK, result)
			return
		}
		s.internalError(w, r, "cart operation failed", err)
	}
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func intQuery(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
