// Package api is the operator REST surface: prompt CRUD, lineage, similarity
// search, classification, conversation browsing, and manual usage ingest.
//
// DESIGN: chi router with panic recovery, per-IP rate limiting, and CORS.
// Handlers decode into validated DTOs, call the store or similarity engine,
// and map sentinel errors to HTTP codes:
//
//	store.ErrNotFound        -> 404
//	store.ErrConflict        -> 409
//	store.ErrInvalidContent  -> 400
//	store.ErrLineageInvalid  -> 400
//
// FILES:
//   - server.go:   Server, router, middleware, error mapping
//   - prompts.go:  prompt CRUD, fork, lineage, similarity, classification
//   - sessions.go: conversation sessions and manual usage ingest
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/conversation"
	"github.com/codepromptu/codepromptu/internal/monitoring"
	"github.com/codepromptu/codepromptu/internal/similarity"
	"github.com/codepromptu/codepromptu/internal/store"
)

// Server hosts the REST API.
type Server struct {
	prompts    *store.Service
	engine     *similarity.Engine
	correlator *conversation.Correlator
	metrics    *monitoring.Metrics
	validate   *validator.Validate
	rateLimit  int
}

// NewServer wires the API dependencies.
func NewServer(prompts *store.Service, engine *similarity.Engine, correlator *conversation.Correlator, metrics *monitoring.Metrics, cfg config.ServerConfig) *Server {
	return &Server{
		prompts:    prompts,
		engine:     engine,
		correlator: correlator,
		metrics:    metrics,
		validate:   validator.New(),
		rateLimit:  cfg.RateLimit,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.panicRecovery)
	r.Use(middleware.RealIP)
	r.Use(requestLogging)
	if s.rateLimit > 0 {
		r.Use(newRateLimiter(s.rateLimit).middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
		MaxAge:         86400,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/prompts", func(r chi.Router) {
		r.Get("/", s.handleListPrompts)
		r.Post("/", s.handleCreatePrompt)
		r.Post("/search/similar", s.handleSearchSimilar)
		r.Post("/classify", s.handleClassify)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPrompt)
			r.Put("/", s.handleUpdatePrompt)
			r.Delete("/", s.handleRetirePrompt)
			r.Post("/fork", s.handleForkPrompt)
			r.Get("/ancestors", s.handleAncestors)
			r.Get("/similar", s.handleSimilarToPrompt)
		})
	})

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/messages", s.handleSessionMessages)
		r.Post("/sessions/{id}/close", s.handleCloseSession)
	})

	r.Post("/internal/prompt-usage", s.handleIngestUsage)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiError is the uniform REST error envelope.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// writeStoreError maps store sentinel errors to HTTP codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "version conflict")
	case errors.Is(err, store.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, "invalid content")
	case errors.Is(err, store.ErrLineageInvalid):
		writeError(w, http.StatusBadRequest, "invalid lineage")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode unmarshals and validates a request body DTO.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

func (s *Server) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Msg("panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("api request")
	})
}
