package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codepromptu/codepromptu/internal/embedding"
)

// MemoryStore is the in-memory Store backend. Used for tests and embedded
// deployments; similarity queries are a brute-force cosine scan.
type MemoryStore struct {
	mu            sync.RWMutex
	prompts       map[uuid.UUID]*Prompt
	usages        map[string]*PromptUsage // keyed by request_id
	sessions      map[uuid.UUID]*ConversationSession
	byCorrelation map[string]uuid.UUID
	messages      map[uuid.UUID][]*ConversationMessage

	maxDepth int
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
// maxDepth bounds lineage traversal (the K limit).
func NewMemoryStore(maxDepth int) *MemoryStore {
	return &MemoryStore{
		prompts:       make(map[uuid.UUID]*Prompt),
		usages:        make(map[string]*PromptUsage),
		sessions:      make(map[uuid.UUID]*ConversationSession),
		byCorrelation: make(map[string]uuid.UUID),
		messages:      make(map[uuid.UUID][]*ConversationMessage),
		maxDepth:      maxDepth,
		now:           time.Now,
	}
}

// CreatePrompt persists a new prompt with version 1.
func (s *MemoryStore) CreatePrompt(_ context.Context, draft PromptDraft) (*Prompt, error) {
	id := uuid.New()
	if err := validateDraft(draft, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.ParentID != nil {
		if _, ok := s.prompts[*draft.ParentID]; !ok {
			return nil, ErrNotFound
		}
		if err := s.checkCycleLocked(id, *draft.ParentID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	p := &Prompt{
		ID:              id,
		Content:         draft.Content,
		Author:          draft.Author,
		TeamOwner:       draft.TeamOwner,
		Purpose:         draft.Purpose,
		SuccessCriteria: draft.SuccessCriteria,
		ModelTarget:     draft.ModelTarget,
		Tags:            append([]string(nil), draft.Tags...),
		Metadata:        copyMap(draft.Metadata),
		ParentID:        draft.ParentID,
		Version:         1,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.prompts[id] = p
	return copyPrompt(p), nil
}

// GetPrompt returns the prompt or ErrNotFound.
func (s *MemoryStore) GetPrompt(_ context.Context, id uuid.UUID) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPrompt(p), nil
}

// UpdatePrompt applies the draft. Version bumps only when content changed;
// a changed content also clears the embedding pending re-embed.
func (s *MemoryStore) UpdatePrompt(_ context.Context, id uuid.UUID, draft PromptDraft) (*Prompt, error) {
	if err := validateDraft(draft, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if draft.Version != 0 && draft.Version != p.Version {
		return nil, ErrConflict
	}
	if draft.ParentID != nil {
		if _, ok := s.prompts[*draft.ParentID]; !ok {
			return nil, ErrNotFound
		}
		if err := s.checkCycleLocked(id, *draft.ParentID); err != nil {
			return nil, err
		}
	}

	contentChanged := draft.Content != p.Content
	p.Content = draft.Content
	p.Author = draft.Author
	p.TeamOwner = draft.TeamOwner
	p.Purpose = draft.Purpose
	p.SuccessCriteria = draft.SuccessCriteria
	p.ModelTarget = draft.ModelTarget
	p.Tags = append([]string(nil), draft.Tags...)
	p.Metadata = copyMap(draft.Metadata)
	if draft.ParentID != nil {
		p.ParentID = draft.ParentID
	}
	if contentChanged {
		p.Version++
		p.Embedding = nil
	}
	p.UpdatedAt = s.now().UTC()
	return copyPrompt(p), nil
}

// RetirePrompt soft-retires; retiring twice is a no-op, not an error.
func (s *MemoryStore) RetirePrompt(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return ErrNotFound
	}
	if p.IsActive {
		p.IsActive = false
		p.UpdatedAt = s.now().UTC()
	}
	return nil
}

// ForkPrompt materializes a child prompt of parentID.
func (s *MemoryStore) ForkPrompt(ctx context.Context, parentID uuid.UUID, content, author string) (*Prompt, error) {
	s.mu.RLock()
	parent, ok := s.prompts[parentID]
	var teamOwner string
	if ok {
		teamOwner = parent.TeamOwner
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	return s.CreatePrompt(ctx, PromptDraft{
		Content:   content,
		Author:    author,
		TeamOwner: teamOwner,
		ParentID:  &parentID,
	})
}

// ListPrompts returns active prompts matching the filter, newest first.
func (s *MemoryStore) ListPrompts(_ context.Context, filter ListFilter) ([]*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Prompt
	for _, p := range s.prompts {
		if !p.IsActive {
			continue
		}
		if filter.TeamOwner != "" && p.TeamOwner != filter.TeamOwner {
			continue
		}
		if filter.Author != "" && p.Author != filter.Author {
			continue
		}
		if filter.Tag != "" && !containsTag(p.Tags, filter.Tag) {
			continue
		}
		if filter.ContentSearch != "" &&
			!strings.Contains(strings.ToLower(p.Content), strings.ToLower(filter.ContentSearch)) {
			continue
		}
		out = append(out, copyPrompt(p))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

// Ancestors walks the parent chain, nearest parent first, truncating at the
// depth limit. A node is never visited twice.
func (s *MemoryStore) Ancestors(_ context.Context, id uuid.UUID) ([]*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}

	visited := map[uuid.UUID]bool{id: true}
	var chain []*Prompt
	cur := p
	for cur.ParentID != nil && len(chain) < s.maxDepth {
		next, ok := s.prompts[*cur.ParentID]
		if !ok || visited[next.ID] {
			break
		}
		visited[next.ID] = true
		chain = append(chain, copyPrompt(next))
		cur = next
	}
	return chain, nil
}

// SetEmbedding writes the vector if the stored version still matches.
func (s *MemoryStore) SetEmbedding(_ context.Context, id uuid.UUID, version int, vec []float32) error {
	if len(vec) == 0 {
		return ErrBadVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return ErrNotFound
	}
	if p.Version != version {
		return ErrConflict
	}
	p.Embedding = append([]float32(nil), vec...)
	return nil
}

// PendingEmbeddings lists active prompts older than the age with no vector.
func (s *MemoryStore) PendingEmbeddings(_ context.Context, olderThan time.Duration, limit int) ([]*Prompt, error) {
	cutoff := s.now().UTC().Add(-olderThan)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Prompt
	for _, p := range s.prompts {
		if p.IsActive && p.Embedding == nil && p.UpdatedAt.Before(cutoff) {
			out = append(out, copyPrompt(p))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// FindSimilar brute-force scans active embedded prompts by cosine.
func (s *MemoryStore) FindSimilar(_ context.Context, vec []float32, limit int) ([]SimilarPrompt, error) {
	if len(vec) == 0 {
		return nil, ErrBadVector
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SimilarPrompt
	for _, p := range s.prompts {
		if !p.IsActive || p.Embedding == nil {
			continue
		}
		results = append(results, SimilarPrompt{
			Prompt: copyPrompt(p),
			Score:  embedding.Cosine(vec, p.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Prompt.UpdatedAt.Equal(results[j].Prompt.UpdatedAt) {
			return results[i].Prompt.UpdatedAt.After(results[j].Prompt.UpdatedAt)
		}
		return results[i].Prompt.ID.String() < results[j].Prompt.ID.String()
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// IngestUsage stores the usage once per request_id. The bool reports whether
// this call inserted the row; a replay returns false.
func (s *MemoryStore) IngestUsage(_ context.Context, usage PromptUsage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usages[usage.RequestID]; ok {
		return false, nil // deduplicated
	}
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	s.usages[usage.RequestID] = &usage
	return true, nil
}

// CountUsagesByRequestID reports stored rows for an idempotency key.
func (s *MemoryStore) CountUsagesByRequestID(_ context.Context, requestID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.usages[requestID]; ok {
		return 1, nil
	}
	return 0, nil
}

// CreateSession opens a session; a duplicate correlation id returns the
// existing session.
func (s *MemoryStore) CreateSession(_ context.Context, session ConversationSession) (*ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byCorrelation[session.CorrelationID]; ok {
		existing := s.sessions[id]
		return copySession(existing), nil
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = SessionActive
	}
	s.sessions[session.ID] = &session
	s.byCorrelation[session.CorrelationID] = session.ID
	return copySession(&session), nil
}

// GetSession returns the session or ErrNotFound.
func (s *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

// GetSessionByCorrelation resolves a session by its correlation id.
func (s *MemoryStore) GetSessionByCorrelation(_ context.Context, correlationID string) (*ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCorrelation[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s.sessions[id]), nil
}

// ListSessions returns sessions matching the filter, newest first.
func (s *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]*ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ConversationSession
	for _, sess := range s.sessions {
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionStart.After(out[j].SessionStart)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

// AppendMessage appends a message and updates session counters.
func (s *MemoryStore) AppendMessage(_ context.Context, msg ConversationMessage) (*ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &msg)

	sess.MessageCount++
	if msg.TokenUsage != nil {
		sess.TotalTokens += msg.TokenUsage.TotalTokens
	}
	return &msg, nil
}

// SessionMessages returns messages ordered by timestamp.
func (s *MemoryStore) SessionMessages(_ context.Context, sessionID uuid.UUID) ([]*ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msgs := s.messages[sessionID]
	out := make([]*ConversationMessage, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// UpdateSessionStatus transitions a session's lifecycle state.
func (s *MemoryStore) UpdateSessionStatus(_ context.Context, id uuid.UUID, status SessionStatus, end *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	if end != nil {
		sess.SessionEnd = end
	}
	return nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error { return nil }

// checkCycleLocked walks from proposedParent upward; reaching id means the
// assignment would close a cycle. Bounded by maxDepth.
func (s *MemoryStore) checkCycleLocked(id, proposedParent uuid.UUID) error {
	cur := proposedParent
	for depth := 0; depth < s.maxDepth; depth++ {
		if cur == id {
			return ErrLineageInvalid
		}
		p, ok := s.prompts[cur]
		if !ok || p.ParentID == nil {
			return nil
		}
		cur = *p.ParentID
	}
	return nil
}

func copyPrompt(p *Prompt) *Prompt {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	cp.Metadata = copyMap(p.Metadata)
	if p.Embedding != nil {
		cp.Embedding = append([]float32(nil), p.Embedding...)
	}
	if p.ParentID != nil {
		pid := *p.ParentID
		cp.ParentID = &pid
	}
	return &cp
}

func copySession(s *ConversationSession) *ConversationSession {
	cp := *s
	cp.UserContext = copyMap(s.UserContext)
	if s.SessionEnd != nil {
		end := *s.SessionEnd
		cp.SessionEnd = &end
	}
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
