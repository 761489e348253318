package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/order"
	"github.com/room4-2/ordercall/session"
	"github.com/room4-2/ordercall/store"
)

const (
	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second
)

var errHistoryDisabled = errors.New("call history is not enabled")

type startCallRequest struct {
	OrderData json.RawMessage `json:"order_data"`
}

type startCallResponse struct {
	SessionID       string `json:"session_id"`
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	DatabaseEnabled bool   `json:"database_enabled"`
}

type processRequest struct {
	Text string `json:"text"`
}

type processResponse struct {
	Response            string              `json:"response"`
	State               dialogue.Checkpoint `json:"state"`
	ConversationHistory []dialogue.Message  `json:"conversation_history"`
}

type historyResponse struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	dialogue.Snapshot
	Active    bool               `json:"is_active"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Order     *order.Record      `json:"order,omitempty"`
	Messages  []dialogue.Message `json:"messages"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "Order confirmation voice agent API",
		"status":           "running",
		"database_enabled": s.databaseEnabled,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	code, status, database := http.StatusOK, "healthy", "disabled"
	if s.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		database = "ok"
		if err := s.history.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("database ping failed")
			code, status, database = http.StatusServiceUnavailable, "degraded", "unreachable"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":           status,
		"database_enabled": s.databaseEnabled,
		"database":         database,
		"redis_enabled":    s.sessions.RedisEnabled(),
		"active_sessions":  s.sessions.GetActiveSessionCount(),
	})
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.OrderData) == 0 || string(req.OrderData) == "null" {
		writeError(w, http.StatusBadRequest, "invalid_order", "order_data is required")
		return
	}

	rec, err := order.Decode(req.OrderData)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	id, err := s.sessions.Start(r.Context(), rec)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, startCallResponse{
		SessionID:       id,
		OrderID:         rec.ID,
		Status:          "started",
		Message:         "Call session initialized",
		DatabaseEnabled: s.databaseEnabled,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	desc, err := s.sessions.Describe(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// handleHistory serves a call's persisted record. It works for ended calls
// too, as long as the database kept them.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeFailure(w, r, errHistoryDisabled)
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := s.history.Session(ctx, id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	msgs, err := s.history.Messages(ctx, id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []dialogue.Message{}
	}

	resp := historyResponse{
		SessionID: rec.SessionID,
		OrderID:   rec.OrderID,
		Snapshot:  rec.Snapshot,
		Active:    rec.Active,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
		Messages:  msgs,
	}
	resp.Order, err = s.history.Order(ctx, rec.OrderID)
	if err != nil {
		// the session row outlives a malformed or missing order document
		s.logger.Warn().Err(err).Str(logging.FieldSessionID, id).Msg("stored order unreadable")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.sessions.Turn(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Response:            reply.Response,
		State:               reply.Checkpoint,
		ConversationHistory: reply.Transcript,
	})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ended",
		"message": "Call session ended",
	})
}

// writeFailure maps domain errors to HTTP status codes
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
	case errors.Is(err, errHistoryDisabled):
		writeError(w, http.StatusServiceUnavailable, "database_disabled", "Call history is not enabled")
	case errors.Is(err, session.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, "too_many_sessions", err.Error())
	case errors.Is(err, order.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_order", err.Error())
	case errors.Is(err, dialogue.ErrMalformedUtterance):
		writeError(w, http.StatusBadRequest, "invalid_message", "Message text is required")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request_cancelled", err.Error())
	default:
		s.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str(logging.FieldSessionID, chi.URLParam(r, "id")).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	return sonic.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal_error","detail":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, errCode, detail string) {
	writeJSON(w, code, errorResponse{Error: errCode, Detail: detail})
}
