package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors. The REST layer maps these to HTTP codes.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("version conflict")
	ErrInvalidContent = errors.New("invalid content")
	ErrLineageInvalid = errors.New("invalid lineage")
	ErrBadVector      = errors.New("invalid vector")
)

// MaxContentBytes bounds prompt content length on create/update.
const MaxContentBytes = 1 << 20

// Store is the persistence contract for prompts, usages, and conversations.
//
// Transaction discipline: each method is a single transaction. Embedding
// writes (SetEmbedding) follow the row insert in a separate transaction, so
// a prompt is briefly visible with a nil embedding.
type Store interface {
	// Prompts.
	CreatePrompt(ctx context.Context, draft PromptDraft) (*Prompt, error)
	GetPrompt(ctx context.Context, id uuid.UUID) (*Prompt, error)
	UpdatePrompt(ctx context.Context, id uuid.UUID, draft PromptDraft) (*Prompt, error)
	RetirePrompt(ctx context.Context, id uuid.UUID) error
	ForkPrompt(ctx context.Context, parentID uuid.UUID, content, author string) (*Prompt, error)
	ListPrompts(ctx context.Context, filter ListFilter) ([]*Prompt, error)

	// Ancestors returns the chain toward the root, nearest parent first,
	// truncated at the configured depth limit; the last element is then a
	// root approximation rather than the true root.
	Ancestors(ctx context.Context, id uuid.UUID) ([]*Prompt, error)

	// SetEmbedding writes the vector for a prompt, guarded by version so a
	// stale embedding never overwrites a newer content revision.
	SetEmbedding(ctx context.Context, id uuid.UUID, version int, vec []float32) error

	// PendingEmbeddings lists active prompts older than the given age whose
	// embedding is still null (feed for the re-embed worker).
	PendingEmbeddings(ctx context.Context, olderThan time.Duration, limit int) ([]*Prompt, error)

	// FindSimilar returns up to limit active, embedded prompts ordered by
	// descending score (s = 1 - cosine_distance). Ties break by descending
	// updated_at, then ascending id.
	FindSimilar(ctx context.Context, vec []float32, limit int) ([]SimilarPrompt, error)

	// Usages. IngestUsage is idempotent on RequestID: a replay leaves the
	// existing row untouched and reports inserted == false, so callers can
	// skip side effects that must happen at most once per request.
	IngestUsage(ctx context.Context, usage PromptUsage) (inserted bool, err error)
	CountUsagesByRequestID(ctx context.Context, requestID string) (int, error)

	// Conversations.
	CreateSession(ctx context.Context, session ConversationSession) (*ConversationSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*ConversationSession, error)
	GetSessionByCorrelation(ctx context.Context, correlationID string) (*ConversationSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*ConversationSession, error)
	AppendMessage(ctx context.Context, msg ConversationMessage) (*ConversationMessage, error)
	SessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*ConversationMessage, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status SessionStatus, end *time.Time) error

	Close() error
}

// validateDraft applies the invariants shared by both backends.
func validateDraft(draft PromptDraft, id uuid.UUID) error {
	if draft.Content == "" || len(draft.Content) > MaxContentBytes {
		return ErrInvalidContent
	}
	if draft.ParentID != nil && *draft.ParentID == id {
		return ErrLineageInvalid
	}
	return nil
}
