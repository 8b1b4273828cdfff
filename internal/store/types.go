// Package store owns the canonical, versioned, lineage-aware collection of
// prompts with their embeddings and related entities.
//
// DESIGN: Store is the persistence interface; MemoryStore and PostgresStore
// implement it. Service layers embedding provision on top (row first,
// vector in a follow-up write). Entities are plain value structs with a
// parent_id reference; lineage is resolved by iterative lookup bounded by
// the configured depth, never by object graphs.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/codepromptu/codepromptu/internal/parser"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionClosed  SessionStatus = "CLOSED"
	SessionExpired SessionStatus = "EXPIRED"
)

// MessageType distinguishes prompt and response messages.
type MessageType string

const (
	MessagePrompt   MessageType = "PROMPT"
	MessageResponse MessageType = "RESPONSE"
)

// Prompt is the central entity.
type Prompt struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	Content         string         `db:"content" json:"content"`
	Author          string         `db:"author" json:"author,omitempty"`
	TeamOwner       string         `db:"team_owner" json:"team_owner,omitempty"`
	Purpose         string         `db:"purpose" json:"purpose,omitempty"`
	SuccessCriteria string         `db:"success_criteria" json:"success_criteria,omitempty"`
	ModelTarget     string         `db:"model_target" json:"model_target,omitempty"`
	Tags            []string       `db:"-" json:"tags,omitempty"`
	Metadata        map[string]any `db:"-" json:"metadata,omitempty"`
	ParentID        *uuid.UUID     `db:"parent_id" json:"parent_id,omitempty"`
	Version         int            `db:"version" json:"version"`
	IsActive        bool           `db:"is_active" json:"is_active"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`

	// Embedding is nullable only during the post-insert window before the
	// vector write lands. Excluded from JSON; it is large and internal.
	Embedding []float32 `db:"-" json:"-"`
}

// PromptDraft carries the writable fields for create and update.
type PromptDraft struct {
	Content         string         `json:"content"`
	Author          string         `json:"author"`
	TeamOwner       string         `json:"team_owner"`
	Purpose         string         `json:"purpose"`
	SuccessCriteria string         `json:"success_criteria"`
	ModelTarget     string         `json:"model_target"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata"`
	ParentID        *uuid.UUID     `json:"parent_id"`

	// Version, when non-zero on update, is the version the caller read.
	// A mismatch with the stored row fails with ErrConflict.
	Version int `json:"version"`
}

// PromptUsage is one record per proxied request/response pair.
type PromptUsage struct {
	ID                uuid.UUID          `json:"id"`
	RequestID         string             `json:"request_id"` // idempotency key
	CorrelationID     string             `json:"correlation_id"`
	PromptID          *uuid.UUID         `json:"prompt_id,omitempty"`
	Provider          string             `json:"provider"`
	Model             string             `json:"model"`
	RequestTimestamp  time.Time          `json:"request_timestamp"`
	ResponseTimestamp time.Time          `json:"response_timestamp"`
	ClientIP          string             `json:"client_ip"`
	UserAgent         string             `json:"user_agent"`
	APIKeyHash        string             `json:"api_key_hash"`
	TokenUsage        *parser.TokenUsage `json:"token_usage,omitempty"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
}

// ConversationSession groups messages sharing a correlation id.
type ConversationSession struct {
	ID            uuid.UUID      `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	UserContext   map[string]any `json:"user_context,omitempty"`
	SessionStart  time.Time      `json:"session_start"`
	SessionEnd    *time.Time     `json:"session_end,omitempty"`
	MessageCount  int            `json:"message_count"`
	TotalTokens   int            `json:"total_tokens"`
	Status        SessionStatus  `json:"status"`
}

// ConversationMessage is one prompt or response within a session.
type ConversationMessage struct {
	ID         uuid.UUID          `json:"id"`
	SessionID  uuid.UUID          `json:"session_id"`
	Type       MessageType        `json:"message_type"`
	Content    string             `json:"content"`
	Timestamp  time.Time          `json:"timestamp"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	TokenUsage *parser.TokenUsage `json:"token_usage,omitempty"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// SimilarPrompt pairs a prompt with its similarity score.
// Score convention across the whole system: s = 1 - cosine_distance, so
// s is in [-1, 1] and higher means more similar.
type SimilarPrompt struct {
	Prompt *Prompt `json:"prompt"`
	Score  float64 `json:"score"`
}

// ListFilter selects prompts for listing. Zero fields are ignored.
type ListFilter struct {
	TeamOwner     string
	Author        string
	Tag           string
	ContentSearch string
	Limit         int
	Offset        int
}

// SessionFilter selects sessions for listing.
type SessionFilter struct {
	Status SessionStatus
	Limit  int
	Offset int
}
