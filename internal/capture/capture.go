// Package capture moves proxied traffic snapshots into the prompt store.
//
// DESIGN: the gateway hands a Record to the Pipeline and returns to serving
// traffic; nothing here may block or fail the proxy path. The Pipeline tries
// the primary ingestor under a short timeout, and on failure parks the
// record in a bounded fallback queue (in-memory or Redis). A drain worker
// retries parked records with exponential backoff and drops them, loudly,
// after the attempt cap.
//
// FILES:
//   - capture.go:  Record, Ingestor, the store-backed ingestor
//   - queue.go:    fallback Queue (memory and Redis implementations)
//   - pipeline.go: Pipeline with primary path and drain worker
package capture

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/conversation"
	"github.com/codepromptu/codepromptu/internal/parser"
	"github.com/codepromptu/codepromptu/internal/providers"
	"github.com/codepromptu/codepromptu/internal/similarity"
	"github.com/codepromptu/codepromptu/internal/store"
)

// Record is the self-contained snapshot of one proxied exchange. It carries
// everything ingestion needs, so a parked record survives a process restart
// when the Redis queue is in use.
type Record struct {
	RequestID     string             `json:"request_id"`
	CorrelationID string             `json:"correlation_id"`
	Provider      providers.Provider `json:"provider"`
	Model         string             `json:"model"`

	RequestBody  []byte `json:"request_body,omitempty"`
	ResponseBody []byte `json:"response_body,omitempty"`
	StatusCode   int    `json:"status_code"`

	RequestTimestamp  time.Time `json:"request_timestamp"`
	ResponseTimestamp time.Time `json:"response_timestamp"`

	ClientIP   string `json:"client_ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	APIKeyHash string `json:"api_key_hash,omitempty"`

	// Capture-quality flags.
	Partial           bool `json:"partial,omitempty"`           // client disconnected mid-response
	RequestTruncated  bool `json:"request_truncated,omitempty"` // body exceeded the capture cap
	ResponseTruncated bool `json:"response_truncated,omitempty"`
	Timeout           bool `json:"timeout,omitempty"` // upstream deadline expired

	// Fallback bookkeeping.
	Attempts    int       `json:"attempts,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

// Ingestor lands a record in durable storage.
type Ingestor interface {
	Ingest(ctx context.Context, rec *Record) error
}

// StoreIngestor is the production ingestor: it parses the bodies, resolves
// the prompt identity through similarity classification, writes the usage
// row, and records both sides of the exchange in the conversation session.
type StoreIngestor struct {
	store      store.Store
	prompts    promptWriter
	classifier *similarity.Engine
	correlator *conversation.Correlator
}

// promptWriter is the subset of the store service used for zero-touch
// prompt creation.
type promptWriter interface {
	CreatePrompt(ctx context.Context, draft store.PromptDraft) (*store.Prompt, error)
	ForkPrompt(ctx context.Context, parentID uuid.UUID, content, author string) (*store.Prompt, error)
}

// NewStoreIngestor wires the ingestion dependencies. classifier may be nil;
// captures then skip prompt identity resolution.
func NewStoreIngestor(st store.Store, prompts *store.Service, classifier *similarity.Engine, correlator *conversation.Correlator) *StoreIngestor {
	return &StoreIngestor{store: st, prompts: prompts, classifier: classifier, correlator: correlator}
}

var _ Ingestor = (*StoreIngestor)(nil)

// Ingest processes one record. Idempotent on RequestID: a replay from the
// fallback queue (a primary timeout whose write in fact committed) must not
// create a second prompt or append the conversation pair again.
func (si *StoreIngestor) Ingest(ctx context.Context, rec *Record) error {
	if n, err := si.store.CountUsagesByRequestID(ctx, rec.RequestID); err == nil && n > 0 {
		return nil // already committed; nothing left to do
	}

	parsed := parser.ParseRequest(rec.Provider, rec.RequestBody)
	usage := parser.ParseUsage(rec.Provider, rec.ResponseBody)

	model := rec.Model
	if parsed.Model != "" {
		model = parsed.Model
	}

	promptID := si.resolvePrompt(ctx, rec, parsed)

	meta := map[string]any{}
	if rec.Partial {
		meta["partial"] = true
	}
	if rec.RequestTruncated {
		meta["request_truncated"] = true
	}
	if rec.ResponseTruncated {
		meta["response_truncated"] = true
	}
	if rec.Timeout {
		meta["timeout"] = true
	}
	if parsed.ParseError != "" {
		meta["parse_error"] = parsed.ParseError
	}
	if rec.StatusCode != 0 {
		meta["status_code"] = rec.StatusCode
	}
	if len(parsed.SamplingParams) > 0 {
		meta["sampling_params"] = parsed.SamplingParams
	}
	if len(meta) == 0 {
		meta = nil
	}

	inserted, err := si.store.IngestUsage(ctx, store.PromptUsage{
		ID:                uuid.New(),
		RequestID:         rec.RequestID,
		CorrelationID:     rec.CorrelationID,
		PromptID:          promptID,
		Provider:          string(rec.Provider),
		Model:             model,
		RequestTimestamp:  rec.RequestTimestamp,
		ResponseTimestamp: rec.ResponseTimestamp,
		ClientIP:          rec.ClientIP,
		UserAgent:         rec.UserAgent,
		APIKeyHash:        rec.APIKeyHash,
		TokenUsage:        usage,
		Metadata:          meta,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Lost a race with a concurrent ingest of the same request; the
		// winner owns the conversation pair.
		return nil
	}

	si.recordConversation(ctx, rec, parsed, usage, model)
	return nil
}

// resolvePrompt classifies the captured prompt text against the corpus.
// SAME links to the match; FORK creates a lineage child; NEW creates a
// fresh prompt. Resolution failures degrade to an unlinked usage row.
func (si *StoreIngestor) resolvePrompt(ctx context.Context, rec *Record, parsed parser.Parsed) *uuid.UUID {
	if si.classifier == nil || parsed.PromptText == "" {
		return nil
	}

	result, err := si.classifier.Classify(ctx, parsed.PromptText)
	if err != nil {
		log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("prompt classification failed")
		return nil
	}

	switch result.Classification {
	case similarity.ClassSame:
		id := result.BestMatch.ID
		return &id

	case similarity.ClassFork:
		p, err := si.prompts.ForkPrompt(ctx, result.BestMatch.ID, parsed.PromptText, "")
		if err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("capture fork failed")
			return nil
		}
		return &p.ID

	default:
		p, err := si.prompts.CreatePrompt(ctx, store.PromptDraft{
			Content:     parsed.PromptText,
			ModelTarget: parsed.Model,
			Metadata:    map[string]any{"source": "capture", "provider": string(rec.Provider)},
		})
		if err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("capture prompt create failed")
			return nil
		}
		return &p.ID
	}
}

func (si *StoreIngestor) recordConversation(ctx context.Context, rec *Record, parsed parser.Parsed, usage *parser.TokenUsage, model string) {
	if si.correlator == nil || rec.CorrelationID == "" {
		return
	}

	if parsed.PromptText != "" {
		_, err := si.correlator.Record(ctx, conversation.Message{
			CorrelationID: rec.CorrelationID,
			Type:          store.MessagePrompt,
			Content:       parsed.PromptText,
			Timestamp:     rec.RequestTimestamp,
			Provider:      string(rec.Provider),
			Model:         model,
		})
		if err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("conversation prompt record failed")
		}
	}

	if responseText := parser.ParseResponse(rec.Provider, rec.ResponseBody); responseText != "" {
		_, err := si.correlator.Record(ctx, conversation.Message{
			CorrelationID: rec.CorrelationID,
			Type:          store.MessageResponse,
			Content:       responseText,
			Timestamp:     rec.ResponseTimestamp,
			Provider:      string(rec.Provider),
			Model:         model,
			TokenUsage:    usage,
		})
		if err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("conversation response record failed")
		}
	}
}
