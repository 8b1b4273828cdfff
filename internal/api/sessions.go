package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/codepromptu/codepromptu/internal/parser"
	"github.com/codepromptu/codepromptu/internal/store"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{
		Status: store.SessionStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit"), 50, maxListLimit),
		Offset: queryInt(q.Get("offset"), 0, 1<<30),
	}
	sessions, err := s.prompts.ListSessions(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	session, err := s.prompts.GetSession(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	messages, err := s.prompts.SessionMessages(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.correlator.Close(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// usageRequest is the manual ingest DTO, for backfills and out-of-band
// capture sources.
type usageRequest struct {
	RequestID     string             `json:"request_id" validate:"required,max=256"`
	CorrelationID string             `json:"correlation_id" validate:"required,max=256"`
	PromptID      *uuid.UUID         `json:"prompt_id"`
	Provider      string             `json:"provider" validate:"required,oneof=OPENAI ANTHROPIC GOOGLE_AI UNKNOWN"`
	Model         string             `json:"model" validate:"omitempty,max=256"`
	RequestTime   time.Time          `json:"request_timestamp"`
	ResponseTime  time.Time          `json:"response_timestamp"`
	ClientIP      string             `json:"client_ip" validate:"omitempty,max=64"`
	UserAgent     string             `json:"user_agent" validate:"omitempty,max=512"`
	APIKeyHash    string             `json:"api_key_hash" validate:"omitempty,len=16,hexadecimal"`
	TokenUsage    *parser.TokenUsage `json:"token_usage"`
	Metadata      map[string]any     `json:"metadata"`
}

func (s *Server) handleIngestUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestTime.IsZero() {
		req.RequestTime = time.Now().UTC()
	}

	_, err := s.prompts.IngestUsage(r.Context(), store.PromptUsage{
		ID:                uuid.New(),
		RequestID:         req.RequestID,
		CorrelationID:     req.CorrelationID,
		PromptID:          req.PromptID,
		Provider:          req.Provider,
		Model:             req.Model,
		RequestTimestamp:  req.RequestTime,
		ResponseTimestamp: req.ResponseTime,
		ClientIP:          req.ClientIP,
		UserAgent:         req.UserAgent,
		APIKeyHash:        req.APIKeyHash,
		TokenUsage:        req.TokenUsage,
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
