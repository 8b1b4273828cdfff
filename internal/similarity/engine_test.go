package similarity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/embedding"
	"github.com/codepromptu/codepromptu/internal/store"
)

// newTestEngine wires a memory store and the deterministic stub backend.
// Thresholds are taken from the defaults (0.95 / 0.70).
func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *embedding.Service) {
	t.Helper()
	mem := store.NewMemoryStore(100)
	embedder := embedding.NewServiceWithBackend(embedding.NewStubBackend(512), 512, 8000, time.Second)
	cfg := config.Default()
	return NewEngine(mem, embedder, cfg.Similarity), mem, embedder
}

// seed stores a prompt with its stub embedding already written.
func seed(t *testing.T, mem *store.MemoryStore, embedder *embedding.Service, content string) *store.Prompt {
	t.Helper()
	ctx := context.Background()
	p, err := mem.CreatePrompt(ctx, store.PromptDraft{Content: content})
	require.NoError(t, err)
	vec, err := embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, mem.SetEmbedding(ctx, p.ID, p.Version, vec))
	return p
}

func TestClassifyEmptyCorpusIsNew(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	result, err := engine.Classify(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Equal(t, ClassNew, result.Classification)
	assert.Zero(t, result.Score)
	assert.Nil(t, result.BestMatch)
}

func TestClassifyExactTextIsSame(t *testing.T) {
	engine, mem, embedder := newTestEngine(t)
	stored := seed(t, mem, embedder, "summarize the quarterly financial report for the executive board")

	result, err := engine.Classify(context.Background(),
		"summarize the quarterly financial report for the executive board")
	require.NoError(t, err)
	assert.Equal(t, ClassSame, result.Classification)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, stored.ID, result.BestMatch.ID)
	assert.InDelta(t, 1.0, result.Score, 1e-5)
}

func TestClassifyUnrelatedTextIsNew(t *testing.T) {
	engine, mem, embedder := newTestEngine(t)
	seed(t, mem, embedder, "summarize the quarterly financial report for the executive board")

	result, err := engine.Classify(context.Background(),
		"compose a whimsical limerick regarding penguins sliding downhill")
	require.NoError(t, err)
	assert.Equal(t, ClassNew, result.Classification)
}

func TestClassifyThresholdBoundaries(t *testing.T) {
	// Classification against controlled scores: a fake store pins the
	// neighbor score exactly on and around each threshold.
	embedder := embedding.NewServiceWithBackend(embedding.NewStubBackend(8), 8, 8000, time.Second)

	tests := []struct {
		score float64
		want  Classification
	}{
		{0.96, ClassSame},
		{0.95, ClassSame}, // boundary is inclusive
		{0.9499, ClassFork},
		{0.70, ClassFork}, // boundary is inclusive
		{0.6999, ClassNew},
	}
	for _, tt := range tests {
		engine := NewEngine(&fixedScoreStore{score: tt.score}, embedder, config.Default().Similarity)
		result, err := engine.Classify(context.Background(), "probe text")
		require.NoError(t, err)
		assert.Equal(t, tt.want, result.Classification, "score %v", tt.score)
		assert.Equal(t, tt.score, result.Score)
	}
}

func TestFindSimilarByTextOrdering(t *testing.T) {
	engine, mem, embedder := newTestEngine(t)
	near := seed(t, mem, embedder, "summarize the quarterly financial report for the board")
	seed(t, mem, embedder, "translate the user manual into spanish and french")

	results, err := engine.FindSimilarByText(context.Background(),
		"summarize the quarterly financial report for the team", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Prompt.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestFindSimilarByTextRejectsEmpty(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.FindSimilarByText(context.Background(), "", 10)
	assert.Error(t, err)
}

func TestFindSimilarByPromptExcludesSelf(t *testing.T) {
	engine, mem, embedder := newTestEngine(t)
	self := seed(t, mem, embedder, "classify incoming support tickets by urgency")
	other := seed(t, mem, embedder, "classify incoming support tickets by product area")

	got, err := mem.GetPrompt(context.Background(), self.ID)
	require.NoError(t, err)

	results, err := engine.FindSimilarByPrompt(context.Background(), got, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, other.ID, results[0].Prompt.ID)
}

// fixedScoreStore returns one neighbor with a pinned score.
type fixedScoreStore struct {
	store.Store
	score float64
}

func (f *fixedScoreStore) FindSimilar(_ context.Context, _ []float32, _ int) ([]store.SimilarPrompt, error) {
	return []store.SimilarPrompt{{
		Prompt: &store.Prompt{Content: "stored prompt"},
		Score:  f.score,
	}}, nil
}
