package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codepromptu/codepromptu/internal/store"
)

// maxListLimit bounds page sizes on list endpoints.
const maxListLimit = 200

type promptRequest struct {
	Content         string         `json:"content" validate:"required"`
	Author          string         `json:"author" validate:"omitempty,max=256"`
	TeamOwner       string         `json:"team_owner" validate:"omitempty,max=256"`
	Purpose         string         `json:"purpose" validate:"omitempty,max=4096"`
	SuccessCriteria string         `json:"success_criteria" validate:"omitempty,max=4096"`
	ModelTarget     string         `json:"model_target" validate:"omitempty,max=256"`
	Tags            []string       `json:"tags" validate:"omitempty,dive,max=128"`
	Metadata        map[string]any `json:"metadata"`
	ParentID        *uuid.UUID     `json:"parent_id"`
	Version         int            `json:"version" validate:"omitempty,min=0"`
}

func (p promptRequest) draft() store.PromptDraft {
	return store.PromptDraft{
		Content:         p.Content,
		Author:          p.Author,
		TeamOwner:       p.TeamOwner,
		Purpose:         p.Purpose,
		SuccessCriteria: p.SuccessCriteria,
		ModelTarget:     p.ModelTarget,
		Tags:            p.Tags,
		Metadata:        p.Metadata,
		ParentID:        p.ParentID,
		Version:         p.Version,
	}
}

type forkRequest struct {
	Content string `json:"content" validate:"required"`
	Author  string `json:"author" validate:"omitempty,max=256"`
}

type similarSearchRequest struct {
	Text  string `json:"text" validate:"required"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

type classifyRequest struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.prompts.CreatePrompt(r.Context(), req.draft())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.prompts.GetPrompt(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req promptRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.prompts.UpdatePrompt(r.Context(), id, req.draft())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleRetirePrompt soft-deletes: the prompt drops out of listings and
// similarity search but its history and lineage remain.
func (s *Server) handleRetirePrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.prompts.RetirePrompt(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForkPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req forkRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.prompts.ForkPrompt(r.Context(), id, req.Content, req.Author)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		TeamOwner:     q.Get("team_owner"),
		Author:        q.Get("author"),
		Tag:           q.Get("tag"),
		ContentSearch: q.Get("search"),
		Limit:         queryInt(q.Get("limit"), 50, maxListLimit),
		Offset:        queryInt(q.Get("offset"), 0, 1<<30),
	}
	prompts, err := s.prompts.ListPrompts(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (s *Server) handleAncestors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	chain, err := s.prompts.Ancestors(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleSimilarToPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.prompts.GetPrompt(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 0, 100)
	similar, err := s.engine.FindSimilarByPrompt(r.Context(), p, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, similar)
}

func (s *Server) handleSearchSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarSearchRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	similar, err := s.engine.FindSimilarByText(r.Context(), req.Text, req.Limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, similar)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.Classify(r.Context(), req.Text)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// pathID parses the {id} route parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// queryInt parses a query integer with a default and upper bound.
func queryInt(s string, def, max int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
