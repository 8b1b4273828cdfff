// Package embedding maps prompt text to fixed-dimension vectors.
//
// DESIGN: A small Service wraps a pluggable Backend:
//   - "openai":  HTTP embeddings API
//   - "bedrock": Amazon Titan via the Bedrock runtime SDK
//   - "stub":    deterministic hash-derived vectors, no external calls
//
// The Service owns preprocessing (trim, collapse line endings, truncate to
// the char cap), retry with exponential backoff, and cosine similarity.
// Vectors are float32; D defaults to 1536.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/config"
)

const (
	// maxAttempts bounds backend retries per call.
	maxAttempts = 3

	// retryBase is the initial backoff before the second attempt.
	retryBase = 500 * time.Millisecond
)

// Backend produces embeddings for a batch of preprocessed texts.
// Implementations must preserve input order.
type Backend interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service is the embedding front door used by the prompt store.
type Service struct {
	backend   Backend
	dimension int
	maxChars  int
	timeout   time.Duration
}

// NewService builds a Service from configuration.
func NewService(cfg config.EmbeddingConfig) (*Service, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "openai":
		backend = newOpenAIBackend(cfg)
	case "bedrock":
		backend, err = newBedrockBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("bedrock backend: %w", err)
		}
	case "stub", "":
		backend = NewStubBackend(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}

	return &Service{
		backend:   backend,
		dimension: cfg.Dimension,
		maxChars:  cfg.MaxEmbedChars,
		timeout:   cfg.CallTimeout,
	}, nil
}

// NewServiceWithBackend wires an explicit backend; used by tests.
func NewServiceWithBackend(backend Backend, dimension, maxChars int, timeout time.Duration) *Service {
	return &Service{backend: backend, dimension: dimension, maxChars: maxChars, timeout: timeout}
}

// Dimension returns the fixed vector dimension D.
func (s *Service) Dimension() int { return s.dimension }

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns vectors for each text, preserving order.
// Each text is preprocessed before the backend call.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	prepared := make([]string, len(texts))
	truncated := 0
	for i, t := range texts {
		var cut bool
		prepared[i], cut = s.Preprocess(t)
		if cut {
			truncated++
		}
	}
	if truncated > 0 {
		// The vector embeds only the prefix; similarity against the full
		// text will be approximate.
		log.Debug().
			Int("truncated", truncated).
			Int("batch", len(texts)).
			Int("max_chars", s.maxChars).
			Msg("embedding input truncated to char cap")
	}

	var vecs [][]float32
	var err error
	backoff := retryBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vecs, err = s.backend.Embed(callCtx, prepared)
		cancel()
		if err == nil {
			break
		}
		if attempt < maxAttempts {
			log.Warn().Err(err).
				Str("backend", s.backend.Name()).
				Int("attempt", attempt).
				Msg("embedding call failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embedding backend %s: %w", s.backend.Name(), err)
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding backend %s returned %d vectors for %d texts",
			s.backend.Name(), len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != s.dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), s.dimension)
		}
	}
	return vecs, nil
}

// Preprocess trims, collapses line endings, and truncates to the char cap.
// The second return reports whether truncation occurred.
func (s *Service) Preprocess(text string) (string, bool) {
	return Preprocess(text, s.maxChars)
}

// Preprocess normalizes text for embedding.
func Preprocess(text string, maxChars int) (string, bool) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	runes := []rune(text)
	if maxChars > 0 && len(runes) > maxChars {
		return string(runes[:maxChars]), true
	}
	return text, false
}

// Cosine returns the cosine similarity of u and v in [-1, 1].
// Returns 0 when either norm is zero or the dimensions differ.
func Cosine(u, v []float32) float64 {
	if len(u) != len(v) || len(u) == 0 {
		return 0
	}
	var dot, nu, nv float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		nu += float64(u[i]) * float64(u[i])
		nv += float64(v[i]) * float64(v[i])
	}
	if nu == 0 || nv == 0 {
		return 0
	}
	return dot / (math.Sqrt(nu) * math.Sqrt(nv))
}
