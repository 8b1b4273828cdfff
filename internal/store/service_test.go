package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepromptu/codepromptu/internal/embedding"
	"github.com/codepromptu/codepromptu/internal/monitoring"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	mem := newTestStore()
	embedder := embedding.NewServiceWithBackend(embedding.NewStubBackend(32), 32, 8000, time.Second)
	svc := NewService(mem, embedder, monitoring.NewMetrics())
	return svc, mem
}

// drain waits for in-flight embedding writes to land.
func drain(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
}

func TestServiceCreateEmbedsAsync(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, PromptDraft{Content: "summarize the incident report"})
	require.NoError(t, err)
	drain(t, svc)

	stored, err := mem.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Embedding)
	assert.Len(t, stored.Embedding, 32)
}

func TestServiceUpdateReembedsOnContentChange(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, PromptDraft{Content: "first version of the prompt"})
	require.NoError(t, err)

	updated, err := svc.UpdatePrompt(ctx, p.ID, PromptDraft{Content: "second version of the prompt"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	drain(t, svc)

	stored, err := mem.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Embedding)
	assert.Equal(t, 2, stored.Version)
}

func TestServiceForkEmbedsChild(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	parent, err := svc.CreatePrompt(ctx, PromptDraft{Content: "parent prompt text"})
	require.NoError(t, err)
	child, err := svc.ForkPrompt(ctx, parent.ID, "child prompt text", "ada")
	require.NoError(t, err)
	drain(t, svc)

	stored, err := mem.GetPrompt(ctx, child.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.Embedding)
}

func TestServiceStaleEmbeddingDiscarded(t *testing.T) {
	mem := newTestStore()
	// A backend slow enough that the content changes mid-embed.
	slow := &slowBackend{dim: 16, delay: 100 * time.Millisecond}
	embedder := embedding.NewServiceWithBackend(slow, 16, 8000, 5*time.Second)
	svc := NewService(mem, embedder, monitoring.NewMetrics())
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, PromptDraft{Content: "original content"})
	require.NoError(t, err)

	// Bump the version directly while the v1 embed is still in flight.
	_, err = mem.UpdatePrompt(ctx, p.ID, PromptDraft{Content: "changed content"})
	require.NoError(t, err)
	drain(t, svc)

	stored, err := mem.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Nil(t, stored.Embedding, "stale v1 vector must not land on v2")
}

type slowBackend struct {
	dim   int
	delay time.Duration
}

func (s *slowBackend) Name() string { return "slow" }

func (s *slowBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dim)
		out[i][0] = 1
	}
	return out, nil
}

func TestReembedSweepRecoversMissingEmbedding(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	// Row written straight to the backend, as if the inline embed attempt
	// had failed: no vector, no scheduled follow-up.
	p, err := mem.CreatePrompt(ctx, PromptDraft{Content: "row written without a vector"})
	require.NoError(t, err)

	// Age the row past the sweep cutoff and run the sweep by hand.
	mem.now = func() time.Time { return time.Now().Add(time.Minute) }
	svc.sweepPending()

	stored, err := mem.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.Embedding)
}
