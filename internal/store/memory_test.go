package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepromptu/codepromptu/internal/parser"
)

var testUsage = parser.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}

func newTestStore() *MemoryStore {
	return NewMemoryStore(100)
}

func mustCreate(t *testing.T, s *MemoryStore, draft PromptDraft) *Prompt {
	t.Helper()
	p, err := s.CreatePrompt(context.Background(), draft)
	require.NoError(t, err)
	return p
}

func TestCreatePrompt(t *testing.T) {
	s := newTestStore()

	p := mustCreate(t, s, PromptDraft{
		Content:   "Summarize the following document.",
		Author:    "ada",
		TeamOwner: "platform",
		Tags:      []string{"summarization"},
	})

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, 1, p.Version)
	assert.True(t, p.IsActive)
	assert.Nil(t, p.Embedding)

	got, err := s.GetPrompt(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Content, got.Content)
}

func TestCreatePromptValidation(t *testing.T) {
	s := newTestStore()

	_, err := s.CreatePrompt(context.Background(), PromptDraft{Content: ""})
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = s.CreatePrompt(context.Background(), PromptDraft{
		Content: strings.Repeat("x", MaxContentBytes+1),
	})
	assert.ErrorIs(t, err, ErrInvalidContent)

	missing := uuid.New()
	_, err = s.CreatePrompt(context.Background(), PromptDraft{Content: "x y z", ParentID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateVersionSemantics(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	p := mustCreate(t, s, PromptDraft{Content: "v1 content", Author: "ada"})

	require.NoError(t, s.SetEmbedding(ctx, p.ID, 1, []float32{1, 0}))

	t.Run("metadata-only update keeps version and embedding", func(t *testing.T) {
		got, err := s.UpdatePrompt(ctx, p.ID, PromptDraft{Content: "v1 content", Author: "grace"})
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)

		stored, err := s.GetPrompt(ctx, p.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.Embedding)
	})

	t.Run("content change bumps version and clears embedding", func(t *testing.T) {
		got, err := s.UpdatePrompt(ctx, p.ID, PromptDraft{Content: "v2 content"})
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Nil(t, got.Embedding)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		_, err := s.UpdatePrompt(ctx, p.ID, PromptDraft{Content: "v3 content", Version: 1})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("stale embedding write is rejected", func(t *testing.T) {
		err := s.SetEmbedding(ctx, p.ID, 1, []float32{0, 1})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestRetireIsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	p := mustCreate(t, s, PromptDraft{Content: "retire me please"})

	require.NoError(t, s.RetirePrompt(ctx, p.ID))
	require.NoError(t, s.RetirePrompt(ctx, p.ID))

	got, err := s.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// Retired prompts drop out of listings.
	list, err := s.ListPrompts(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, s.RetirePrompt(ctx, uuid.New()), ErrNotFound)
}

func TestForkLineage(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	root := mustCreate(t, s, PromptDraft{Content: "root prompt", TeamOwner: "platform"})
	child, err := s.ForkPrompt(ctx, root.ID, "root prompt, but better", "grace")
	require.NoError(t, err)

	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)
	assert.Equal(t, 1, child.Version)
	assert.Equal(t, "platform", child.TeamOwner, "fork inherits team owner")

	grandchild, err := s.ForkPrompt(ctx, child.ID, "even better", "grace")
	require.NoError(t, err)

	chain, err := s.Ancestors(ctx, grandchild.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, child.ID, chain[0].ID)
	assert.Equal(t, root.ID, chain[1].ID)

	_, err = s.ForkPrompt(ctx, uuid.New(), "orphan", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLineageCycleRejected(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	a := mustCreate(t, s, PromptDraft{Content: "prompt a"})
	b, err := s.ForkPrompt(ctx, a.ID, "prompt b", "")
	require.NoError(t, err)

	// a -> parent b would close the cycle a -> b -> a.
	_, err = s.UpdatePrompt(ctx, a.ID, PromptDraft{Content: "prompt a", ParentID: &b.ID})
	assert.ErrorIs(t, err, ErrLineageInvalid)

	// Self-parent is rejected outright.
	_, err = s.UpdatePrompt(ctx, a.ID, PromptDraft{Content: "prompt a", ParentID: &a.ID})
	assert.ErrorIs(t, err, ErrLineageInvalid)
}

func TestAncestorsTruncatesAtDepthLimit(t *testing.T) {
	s := NewMemoryStore(5)
	ctx := context.Background()

	cur := mustCreate(t, s, PromptDraft{Content: "generation 0"})
	for i := 1; i <= 10; i++ {
		next, err := s.ForkPrompt(ctx, cur.ID, "generation "+string(rune('0'+i%10)), "")
		require.NoError(t, err)
		cur = next
	}

	chain, err := s.Ancestors(ctx, cur.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 5)
}

func TestListPromptsFilters(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	mustCreate(t, s, PromptDraft{Content: "summarize sales data", TeamOwner: "sales", Author: "ada", Tags: []string{"reports"}})
	mustCreate(t, s, PromptDraft{Content: "classify support tickets", TeamOwner: "support", Author: "grace"})

	byTeam, err := s.ListPrompts(ctx, ListFilter{TeamOwner: "sales"})
	require.NoError(t, err)
	require.Len(t, byTeam, 1)
	assert.Equal(t, "ada", byTeam[0].Author)

	byTag, err := s.ListPrompts(ctx, ListFilter{Tag: "reports"})
	require.NoError(t, err)
	assert.Len(t, byTag, 1)

	bySearch, err := s.ListPrompts(ctx, ListFilter{ContentSearch: "SUPPORT"})
	require.NoError(t, err)
	assert.Len(t, bySearch, 1)

	limited, err := s.ListPrompts(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFindSimilarOrderingAndTieBreak(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	near := mustCreate(t, s, PromptDraft{Content: "near"})
	far := mustCreate(t, s, PromptDraft{Content: "far"})
	require.NoError(t, s.SetEmbedding(ctx, near.ID, 1, []float32{1, 0}))
	require.NoError(t, s.SetEmbedding(ctx, far.ID, 1, []float32{0, 1}))

	results, err := s.FindSimilar(ctx, []float32{1, 0.1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Prompt.ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	t.Run("empty store yields empty result", func(t *testing.T) {
		empty := newTestStore()
		results, err := empty.FindSimilar(ctx, []float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("retired prompts are excluded", func(t *testing.T) {
		require.NoError(t, s.RetirePrompt(ctx, far.ID))
		results, err := s.FindSimilar(ctx, []float32{0, 1}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, near.ID, results[0].Prompt.ID)
	})

	t.Run("bad vector", func(t *testing.T) {
		_, err := s.FindSimilar(ctx, nil, 10)
		assert.ErrorIs(t, err, ErrBadVector)
	})
}

func TestIngestUsageIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	usage := PromptUsage{
		RequestID:        "req-123",
		CorrelationID:    "corr-1",
		Provider:         "OPENAI",
		RequestTimestamp: time.Now().UTC(),
	}

	inserted, err := s.IngestUsage(ctx, usage)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.IngestUsage(ctx, usage)
	require.NoError(t, err)
	assert.False(t, inserted, "a replay reports no insert")

	n, err := s.CountUsagesByRequestID(ctx, "req-123")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountUsagesByRequestID(ctx, "req-unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, ConversationSession{
		CorrelationID: "corr-42",
		SessionStart:  time.Now().UTC(),
		Status:        SessionActive,
	})
	require.NoError(t, err)

	// Creating with the same correlation id returns the existing session.
	again, err := s.CreateSession(ctx, ConversationSession{CorrelationID: "corr-42"})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)

	byCorr, err := s.GetSessionByCorrelation(ctx, "corr-42")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byCorr.ID)

	_, err = s.GetSessionByCorrelation(ctx, "corr-unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	end := time.Now().UTC()
	require.NoError(t, s.UpdateSessionStatus(ctx, sess.ID, SessionClosed, &end))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionClosed, got.Status)
	require.NotNil(t, got.SessionEnd)
}

func TestAppendMessageUpdatesCounters(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, ConversationSession{CorrelationID: "corr-7", SessionStart: time.Now().UTC()})
	require.NoError(t, err)

	base := time.Now().UTC()
	_, err = s.AppendMessage(ctx, ConversationMessage{
		SessionID: sess.ID, Type: MessagePrompt, Content: "question", Timestamp: base,
	})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, ConversationMessage{
		SessionID: sess.ID, Type: MessageResponse, Content: "answer", Timestamp: base.Add(time.Second),
		TokenUsage: &testUsage,
	})
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, 30, got.TotalTokens)

	msgs, err := s.SessionMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessagePrompt, msgs[0].Type)
	assert.Equal(t, MessageResponse, msgs[1].Type)

	_, err = s.AppendMessage(ctx, ConversationMessage{SessionID: uuid.New(), Content: "orphan"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingEmbeddings(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	p := mustCreate(t, s, PromptDraft{Content: "waiting for a vector"})
	embedded := mustCreate(t, s, PromptDraft{Content: "already embedded"})
	require.NoError(t, s.SetEmbedding(ctx, embedded.ID, 1, []float32{1}))

	// Nothing is old enough yet.
	pending, err := s.PendingEmbeddings(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Shift the clock so the unembedded prompt crosses the age bound.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	pending, err = s.PendingEmbeddings(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ID)
}
