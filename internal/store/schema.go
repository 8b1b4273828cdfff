package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Schema DDL. Idempotent; applied at startup by EnsureSchema.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS prompts (
		id               uuid PRIMARY KEY,
		content          text NOT NULL,
		author           text,
		team_owner       text,
		purpose          text,
		success_criteria text,
		model_target     text,
		tags             text[] NOT NULL DEFAULT '{}',
		metadata         jsonb,
		parent_id        uuid,
		version          int NOT NULL DEFAULT 1,
		is_active        boolean NOT NULL DEFAULT true,
		embedding        vector(1536),
		created_at       timestamptz NOT NULL,
		updated_at       timestamptz NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS prompt_usages (
		id                 uuid PRIMARY KEY,
		request_id         text NOT NULL UNIQUE,
		correlation_id     text NOT NULL,
		prompt_id          uuid,
		provider           text NOT NULL,
		model              text,
		request_timestamp  timestamptz NOT NULL,
		response_timestamp timestamptz,
		client_ip          text,
		user_agent         text,
		api_key_hash       text,
		token_usage        jsonb,
		metadata           jsonb
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_sessions (
		id             uuid PRIMARY KEY,
		correlation_id text NOT NULL UNIQUE,
		user_context   jsonb,
		session_start  timestamptz NOT NULL,
		session_end    timestamptz,
		message_count  int NOT NULL DEFAULT 0,
		total_tokens   int NOT NULL DEFAULT 0,
		status         text NOT NULL DEFAULT 'ACTIVE'
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_messages (
		id           uuid PRIMARY KEY,
		session_id   uuid NOT NULL REFERENCES conversation_sessions(id) ON DELETE CASCADE,
		message_type text NOT NULL,
		content      text NOT NULL,
		timestamp    timestamptz NOT NULL,
		provider     text,
		model        text,
		token_usage  jsonb,
		metadata     jsonb
	)`,

	`CREATE INDEX IF NOT EXISTS prompts_parent_idx ON prompts (parent_id)`,
	`CREATE INDEX IF NOT EXISTS prompts_team_idx ON prompts (team_owner)`,
	`CREATE INDEX IF NOT EXISTS usages_correlation_idx ON prompt_usages (correlation_id)`,
	`CREATE INDEX IF NOT EXISTS messages_session_idx ON conversation_messages (session_id, timestamp)`,
}

const vectorIndexName = "prompts_embedding_idx"

// EnsureSchema applies the DDL.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// EnsureVectorIndex builds or rebuilds the IVFFlat ANN index.
// The index exists once the active embedded row count reaches minRows;
// `lists` targets max(n/1000, 10) and the index is rebuilt when the current
// value deviates from that target by more than 5.
func (s *PostgresStore) EnsureVectorIndex(ctx context.Context, minRows int) error {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM prompts WHERE is_active AND embedding IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("failed to count embedded prompts: %w", err)
	}
	if n < minRows {
		return nil
	}

	target := n / 1000
	if target < 10 {
		target = 10
	}

	current, exists, err := currentIndexLists(ctx, s.db)
	if err != nil {
		return err
	}
	if exists && abs(current-target) <= 5 {
		return nil
	}

	if exists {
		if _, err := s.db.ExecContext(ctx, `DROP INDEX IF EXISTS `+vectorIndexName); err != nil {
			return fmt.Errorf("failed to drop vector index: %w", err)
		}
	}
	stmt := fmt.Sprintf(
		`CREATE INDEX %s ON prompts USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
		vectorIndexName, target)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	log.Info().Int("rows", n).Int("lists", target).Msg("vector index built")
	return nil
}

// currentIndexLists reads the lists reloption of the ANN index.
func currentIndexLists(ctx context.Context, db *sqlx.DB) (int, bool, error) {
	var opts pq.StringArray
	err := db.GetContext(ctx, &opts,
		`SELECT reloptions FROM pg_class WHERE relname = $1`, vectorIndexName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read index options: %w", err)
	}
	for _, opt := range opts {
		if v, ok := strings.CutPrefix(opt, "lists="); ok {
			lists, err := strconv.Atoi(v)
			if err == nil {
				return lists, true, nil
			}
		}
	}
	return 0, true, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
