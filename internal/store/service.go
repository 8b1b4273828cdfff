package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/embedding"
	"github.com/codepromptu/codepromptu/internal/monitoring"
)

// reembedAge is how old an un-embedded active prompt may get before the
// sweep worker re-queues it (the T_embed bound).
const reembedAge = 30 * time.Second

// embedWriteTimeout bounds the embed-then-write follow-up per prompt.
const embedWriteTimeout = 45 * time.Second

// Service layers embedding provision on top of a Store.
//
// create/update save the row synchronously, then request the vector and
// write it in a dedicated follow-up (insert-then-update); the prompt is
// briefly visible with a nil embedding. Embedding failures never block the
// row write; the sweep worker retries them.
type Service struct {
	Store

	embedder *embedding.Service
	metrics  *monitoring.Metrics

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewService wires a Store to an embedding service.
func NewService(st Store, embedder *embedding.Service, metrics *monitoring.Metrics) *Service {
	return &Service{
		Store:    st,
		embedder: embedder,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

// CreatePrompt persists the row, then schedules the embedding write.
func (s *Service) CreatePrompt(ctx context.Context, draft PromptDraft) (*Prompt, error) {
	p, err := s.Store.CreatePrompt(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.scheduleEmbedding(p.ID, p.Version, p.Content)
	return p, nil
}

// UpdatePrompt applies the draft; a content change re-embeds.
func (s *Service) UpdatePrompt(ctx context.Context, id uuid.UUID, draft PromptDraft) (*Prompt, error) {
	p, err := s.Store.UpdatePrompt(ctx, id, draft)
	if err != nil {
		return nil, err
	}
	if p.Embedding == nil {
		s.scheduleEmbedding(p.ID, p.Version, p.Content)
	}
	return p, nil
}

// ForkPrompt creates the child row, then schedules its embedding write.
func (s *Service) ForkPrompt(ctx context.Context, parentID uuid.UUID, content, author string) (*Prompt, error) {
	p, err := s.Store.ForkPrompt(ctx, parentID, content, author)
	if err != nil {
		return nil, err
	}
	s.scheduleEmbedding(p.ID, p.Version, p.Content)
	return p, nil
}

// Embedder exposes the embedding service for the similarity engine.
func (s *Service) Embedder() *embedding.Service { return s.embedder }

// scheduleEmbedding embeds and writes the vector off the request path.
func (s *Service) scheduleEmbedding(id uuid.UUID, version int, content string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), embedWriteTimeout)
		defer cancel()
		s.embedAndWrite(ctx, id, version, content)
	}()
}

func (s *Service) embedAndWrite(ctx context.Context, id uuid.UUID, version int, content string) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		// Row stays visible with a nil embedding; the sweep worker retries.
		s.metrics.EmbeddingWrites.WithLabelValues("embed_failed").Inc()
		log.Error().Err(err).Str("prompt_id", id.String()).Msg("embedding failed, re-embed pending")
		return
	}

	err = s.SetEmbedding(ctx, id, version, vec)
	switch {
	case err == nil:
		s.metrics.EmbeddingWrites.WithLabelValues("ok").Inc()
	case err == ErrConflict:
		// Content moved on; the newer version schedules its own embedding.
		s.metrics.EmbeddingWrites.WithLabelValues("stale").Inc()
	default:
		s.metrics.EmbeddingWrites.WithLabelValues("write_failed").Inc()
		log.Error().Err(err).Str("prompt_id", id.String()).Msg("embedding write failed")
	}
}

// StartReembedWorker sweeps for active prompts whose embedding never landed
// and retries them. interval zero uses the T_embed bound.
func (s *Service) StartReembedWorker(interval time.Duration) {
	if interval <= 0 {
		interval = reembedAge
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweepPending()
			}
		}
	}()
}

func (s *Service) sweepPending() {
	ctx, cancel := context.WithTimeout(context.Background(), embedWriteTimeout)
	defer cancel()

	pending, err := s.PendingEmbeddings(ctx, reembedAge, 100)
	if err != nil {
		log.Error().Err(err).Msg("re-embed sweep failed")
		return
	}
	s.metrics.ReembedQueueDepth.Set(float64(len(pending)))

	for _, p := range pending {
		s.embedAndWrite(ctx, p.ID, p.Version, p.Content)
	}
}

// Shutdown stops background work and waits for in-flight embedding writes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
