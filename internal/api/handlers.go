package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/sms-inbound/internal/storage"
)

const pingTimeout = 2 * time.Second

// handleHealthz reports store reachability and the stored message count.
// An unreachable store yields 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Database:      "ok",
	}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("store ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	n, err := s.store.CountMessages(ctx, "")
	if err != nil {
		s.logger.Error("failed to count messages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}
	resp.MessagesTotal = n

	respondJSON(w, http.StatusOK, resp)
}

// handleGetMessage handles GET /messages/{messageID}
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")

	msg, err := s.store.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			s.writeError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("failed to retrieve message", "message_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve message")
		return
	}

	respondJSON(w, http.StatusOK, msg)
}

// handleCountMessages handles GET /messages/count[?account_id=]
func (s *Server) handleCountMessages(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")

	n, err := s.store.CountMessages(r.Context(), accountID)
	if err != nil {
		s.logger.Error("failed to count messages", "account_id", accountID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	respondJSON(w, http.StatusOK, CountResponse{AccountID: accountID, Count: n})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
