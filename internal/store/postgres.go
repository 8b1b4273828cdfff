package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/codepromptu/codepromptu/internal/parser"
)

// PostgresStore is the production Store backend on Postgres + pgvector.
// Vectors are bound as text parameters with a ::vector cast (string-form
// "[v1,v2,...]"); similarity uses the cosine distance operator.
type PostgresStore struct {
	db       *sqlx.DB
	maxDepth int
}

// NewPostgresStore opens a connection pool against the DSN.
func NewPostgresStore(dsn string, maxDepth int) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db, maxDepth: maxDepth}, nil
}

// NewPostgresStoreWithDB wraps an existing connection; used by tests.
func NewPostgresStoreWithDB(db *sqlx.DB, maxDepth int) *PostgresStore {
	return &PostgresStore{db: db, maxDepth: maxDepth}
}

const promptColumns = `id, content, author, team_owner, purpose, success_criteria,
	model_target, tags, metadata, parent_id, version, is_active,
	embedding::text, created_at, updated_at`

// CreatePrompt inserts a new row with version 1 in a single transaction.
// The embedding is written later by SetEmbedding.
func (s *PostgresStore) CreatePrompt(ctx context.Context, draft PromptDraft) (*Prompt, error) {
	id := uuid.New()
	if err := validateDraft(draft, id); err != nil {
		return nil, err
	}

	if draft.ParentID != nil {
		if err := s.checkLineage(ctx, id, *draft.ParentID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	meta, err := marshalMap(draft.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, content, author, team_owner, purpose, success_criteria,
			model_target, tags, metadata, parent_id, version, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, true, $11, $11)`,
		id, draft.Content, nullStr(draft.Author), nullStr(draft.TeamOwner),
		nullStr(draft.Purpose), nullStr(draft.SuccessCriteria), nullStr(draft.ModelTarget),
		pq.Array(draft.Tags), meta, draft.ParentID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert prompt: %w", err)
	}

	return s.GetPrompt(ctx, id)
}

// GetPrompt fetches one prompt by id.
func (s *PostgresStore) GetPrompt(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id)
	return scanPrompt(row)
}

// UpdatePrompt applies the draft under row lock. Version bumps and the
// embedding clears only when content changed.
func (s *PostgresStore) UpdatePrompt(ctx context.Context, id uuid.UUID, draft PromptDraft) (*Prompt, error) {
	if err := validateDraft(draft, id); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current struct {
		Content string `db:"content"`
		Version int    `db:"version"`
	}
	err = tx.GetContext(ctx, &current,
		`SELECT content, version FROM prompts WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock prompt: %w", err)
	}
	if draft.Version != 0 && draft.Version != current.Version {
		return nil, ErrConflict
	}
	if draft.ParentID != nil {
		if err := s.checkLineage(ctx, id, *draft.ParentID); err != nil {
			return nil, err
		}
	}

	contentChanged := draft.Content != current.Content
	meta, err := marshalMap(draft.Metadata)
	if err != nil {
		return nil, err
	}

	if contentChanged {
		_, err = tx.ExecContext(ctx, `
			UPDATE prompts SET content = $2, author = $3, team_owner = $4, purpose = $5,
				success_criteria = $6, model_target = $7, tags = $8, metadata = $9,
				parent_id = COALESCE($10, parent_id),
				version = version + 1, embedding = NULL, updated_at = $11
			WHERE id = $1`,
			id, draft.Content, nullStr(draft.Author), nullStr(draft.TeamOwner),
			nullStr(draft.Purpose), nullStr(draft.SuccessCriteria), nullStr(draft.ModelTarget),
			pq.Array(draft.Tags), meta, draft.ParentID, time.Now().UTC())
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE prompts SET author = $2, team_owner = $3, purpose = $4,
				success_criteria = $5, model_target = $6, tags = $7, metadata = $8,
				parent_id = COALESCE($9, parent_id), updated_at = $10
			WHERE id = $1`,
			id, nullStr(draft.Author), nullStr(draft.TeamOwner),
			nullStr(draft.Purpose), nullStr(draft.SuccessCriteria), nullStr(draft.ModelTarget),
			pq.Array(draft.Tags), meta, draft.ParentID, time.Now().UTC())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update prompt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return s.GetPrompt(ctx, id)
}

// RetirePrompt soft-retires. Idempotent.
func (s *PostgresStore) RetirePrompt(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prompts SET is_active = false, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to retire prompt: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ForkPrompt creates a child of parentID.
func (s *PostgresStore) ForkPrompt(ctx context.Context, parentID uuid.UUID, content, author string) (*Prompt, error) {
	parent, err := s.GetPrompt(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return s.CreatePrompt(ctx, PromptDraft{
		Content:   content,
		Author:    author,
		TeamOwner: parent.TeamOwner,
		ParentID:  &parentID,
	})
}

// ListPrompts selects active prompts matching the filter, newest first.
func (s *PostgresStore) ListPrompts(ctx context.Context, filter ListFilter) ([]*Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE is_active`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.TeamOwner != "" {
		query += ` AND team_owner = ` + arg(filter.TeamOwner)
	}
	if filter.Author != "" {
		query += ` AND author = ` + arg(filter.Author)
	}
	if filter.Tag != "" {
		query += ` AND ` + arg(filter.Tag) + ` = ANY(tags)`
	}
	if filter.ContentSearch != "" {
		query += ` AND content ILIKE ` + arg("%"+filter.ContentSearch+"%")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()
	return scanPrompts(rows)
}

// Ancestors walks the parent chain by iterative lookup bounded at maxDepth.
func (s *PostgresStore) Ancestors(ctx context.Context, id uuid.UUID) ([]*Prompt, error) {
	cur, err := s.GetPrompt(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{id: true}
	var chain []*Prompt
	for cur.ParentID != nil && len(chain) < s.maxDepth {
		next, err := s.GetPrompt(ctx, *cur.ParentID)
		if errors.Is(err, ErrNotFound) || (err == nil && visited[next.ID]) {
			break
		}
		if err != nil {
			return nil, err
		}
		visited[next.ID] = true
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// SetEmbedding writes the vector with a native vector-typed parameter
// binding, guarded by version.
func (s *PostgresStore) SetEmbedding(ctx context.Context, id uuid.UUID, version int, vec []float32) error {
	if len(vec) == 0 {
		return ErrBadVector
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE prompts SET embedding = $3::vector WHERE id = $1 AND version = $2`,
		id, version, EncodeVector(vec))
	if err != nil {
		return fmt.Errorf("failed to write embedding: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either the prompt is gone or the content moved on; the caller
		// re-embeds against the current version.
		exists := 0
		if err := s.db.GetContext(ctx, &exists, `SELECT 1 FROM prompts WHERE id = $1`, id); err != nil {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// PendingEmbeddings lists active rows with null vectors older than the age.
func (s *PostgresStore) PendingEmbeddings(ctx context.Context, olderThan time.Duration, limit int) ([]*Prompt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+promptColumns+` FROM prompts
		 WHERE is_active AND embedding IS NULL AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`,
		time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending embeddings: %w", err)
	}
	defer rows.Close()
	return scanPrompts(rows)
}

// FindSimilar runs the cosine k-NN query. Retired and un-embedded rows are
// excluded; score is 1 - cosine_distance.
func (s *PostgresStore) FindSimilar(ctx context.Context, vec []float32, limit int) ([]SimilarPrompt, error) {
	if len(vec) == 0 {
		return nil, ErrBadVector
	}
	if limit <= 0 {
		limit = 10
	}

	param := EncodeVector(vec)
	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+promptColumns+`, 1 - (embedding <=> $1::vector) AS score
		 FROM prompts
		 WHERE is_active AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector ASC, updated_at DESC, id ASC
		 LIMIT $2`,
		param, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var out []SimilarPrompt
	for rows.Next() {
		p, score, err := scanPromptWithScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SimilarPrompt{Prompt: p, Score: score})
	}
	return out, rows.Err()
}

// IngestUsage upserts on request_id; repeats are silently deduplicated.
// The bool reports whether a row was actually inserted.
func (s *PostgresStore) IngestUsage(ctx context.Context, usage PromptUsage) (bool, error) {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	var tu []byte
	if usage.TokenUsage != nil {
		var err error
		tu, err = marshalJSON(usage.TokenUsage)
		if err != nil {
			return false, err
		}
	}
	meta, err := marshalMap(usage.Metadata)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_usages (id, request_id, correlation_id, prompt_id, provider,
			model, request_timestamp, response_timestamp, client_ip, user_agent,
			api_key_hash, token_usage, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id) DO NOTHING`,
		usage.ID, usage.RequestID, usage.CorrelationID, usage.PromptID, usage.Provider,
		nullStr(usage.Model), usage.RequestTimestamp, usage.ResponseTimestamp,
		nullStr(usage.ClientIP), nullStr(usage.UserAgent), nullStr(usage.APIKeyHash),
		tu, meta)
	if err != nil {
		return false, fmt.Errorf("failed to ingest usage: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountUsagesByRequestID reports rows for an idempotency key.
func (s *PostgresStore) CountUsagesByRequestID(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM prompt_usages WHERE request_id = $1`, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to count usages: %w", err)
	}
	return n, nil
}

// CreateSession inserts a session; an existing correlation id returns the
// existing session instead of erroring.
func (s *PostgresStore) CreateSession(ctx context.Context, session ConversationSession) (*ConversationSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = SessionActive
	}
	uc, err := marshalMap(session.UserContext)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions (id, correlation_id, user_context, session_start,
			session_end, message_count, total_tokens, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (correlation_id) DO NOTHING`,
		session.ID, session.CorrelationID, uc, session.SessionStart,
		session.SessionEnd, session.MessageCount, session.TotalTokens, session.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.GetSessionByCorrelation(ctx, session.CorrelationID)
}

// GetSession fetches one session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*ConversationSession, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, correlation_id, user_context, session_start, session_end,
			message_count, total_tokens, status
		FROM conversation_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetSessionByCorrelation resolves a session by correlation id.
func (s *PostgresStore) GetSessionByCorrelation(ctx context.Context, correlationID string) (*ConversationSession, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, correlation_id, user_context, session_start, session_end,
			message_count, total_tokens, status
		FROM conversation_sessions WHERE correlation_id = $1`, correlationID)
	return scanSession(row)
}

// ListSessions selects sessions, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*ConversationSession, error) {
	query := `SELECT id, correlation_id, user_context, session_start, session_end,
		message_count, total_tokens, status FROM conversation_sessions`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY session_start DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*ConversationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendMessage inserts the message and bumps session counters in one
// transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg ConversationMessage) (*ConversationMessage, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	var tu []byte
	if msg.TokenUsage != nil {
		var err error
		tu, err = marshalJSON(msg.TokenUsage)
		if err != nil {
			return nil, err
		}
	}
	meta, err := marshalMap(msg.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, message_type, content,
			timestamp, provider, model, token_usage, metadata)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (SELECT 1 FROM conversation_sessions WHERE id = $2)`,
		msg.ID, msg.SessionID, msg.Type, msg.Content, msg.Timestamp,
		nullStr(msg.Provider), nullStr(msg.Model), tu, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	tokens := 0
	if msg.TokenUsage != nil {
		tokens = msg.TokenUsage.TotalTokens
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_sessions
		SET message_count = message_count + 1, total_tokens = total_tokens + $2
		WHERE id = $1`, msg.SessionID, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to update session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return &msg, nil
}

// SessionMessages returns the ordered messages of a session.
func (s *PostgresStore) SessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*ConversationMessage, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, session_id, message_type, content, timestamp, provider, model,
			token_usage, metadata
		FROM conversation_messages WHERE session_id = $1 ORDER BY timestamp ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*ConversationMessage
	for rows.Next() {
		var (
			m        ConversationMessage
			provider sql.NullString
			model    sql.NullString
			tu, meta []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Content, &m.Timestamp,
			&provider, &model, &tu, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Provider = provider.String
		m.Model = model.String
		if len(tu) > 0 {
			var usage parser.TokenUsage
			if err := json.Unmarshal(tu, &usage); err == nil {
				m.TokenUsage = &usage
			}
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UpdateSessionStatus transitions the session lifecycle state.
func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status SessionStatus, end *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversation_sessions SET status = $2, session_end = COALESCE($3, session_end)
		WHERE id = $1`, id, status, end)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// checkLineage rejects a parent assignment that is missing or would close a
// cycle; the walk is bounded at maxDepth.
func (s *PostgresStore) checkLineage(ctx context.Context, id, proposedParent uuid.UUID) error {
	cur := proposedParent
	for depth := 0; depth < s.maxDepth; depth++ {
		if cur == id {
			return ErrLineageInvalid
		}
		var parent uuid.NullUUID
		err := s.db.GetContext(ctx, &parent, `SELECT parent_id FROM prompts WHERE id = $1`, cur)
		if errors.Is(err, sql.ErrNoRows) {
			if depth == 0 {
				return ErrNotFound
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk lineage: %w", err)
		}
		if !parent.Valid {
			return nil
		}
		cur = parent.UUID
	}
	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (*Prompt, error) {
	p, _, err := scanPromptInner(row, false)
	return p, err
}

func scanPromptWithScore(row rowScanner) (*Prompt, float64, error) {
	return scanPromptInner(row, true)
}

func scanPromptInner(row rowScanner, withScore bool) (*Prompt, float64, error) {
	var (
		p                     Prompt
		author, team, purpose sql.NullString
		criteria, modelTarget sql.NullString
		tags                  pq.StringArray
		meta                  []byte
		parentID              uuid.NullUUID
		embeddingText         sql.NullString
		score                 float64
	)

	dest := []any{&p.ID, &p.Content, &author, &team, &purpose, &criteria,
		&modelTarget, &tags, &meta, &parentID, &p.Version, &p.IsActive,
		&embeddingText, &p.CreatedAt, &p.UpdatedAt}
	if withScore {
		dest = append(dest, &score)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to scan prompt: %w", err)
	}

	if parentID.Valid {
		pid := parentID.UUID
		p.ParentID = &pid
	}
	p.Author = author.String
	p.TeamOwner = team.String
	p.Purpose = purpose.String
	p.SuccessCriteria = criteria.String
	p.ModelTarget = modelTarget.String
	p.Tags = tags
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Metadata)
	}
	if embeddingText.Valid {
		vec, err := DecodeVector(embeddingText.String)
		if err != nil {
			return nil, 0, err
		}
		p.Embedding = vec
	}
	return &p, score, nil
}

func scanPrompts(rows *sqlx.Rows) ([]*Prompt, error) {
	var out []*Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*ConversationSession, error) {
	var (
		sess ConversationSession
		uc   []byte
		end  sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.CorrelationID, &uc, &sess.SessionStart, &end,
		&sess.MessageCount, &sess.TotalTokens, &sess.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if end.Valid {
		sess.SessionEnd = &end.Time
	}
	if len(uc) > 0 {
		_ = json.Unmarshal(uc, &sess.UserContext)
	}
	return &sess, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json field: %w", err)
	}
	return b, nil
}

var _ Store = (*PostgresStore)(nil)
