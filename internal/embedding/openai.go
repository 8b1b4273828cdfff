package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/config"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com"
	defaultOpenAIModel    = "text-embedding-3-small"

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500
)

// openAIBackend calls the OpenAI embeddings API.
type openAIBackend struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

func newOpenAIBackend(cfg config.EmbeddingConfig) *openAIBackend {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIBackend{
		endpoint: endpoint,
		model:    model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{}, // timeout via context, not client
	}
}

func (b *openAIBackend) Name() string { return "openai" }

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls POST /v1/embeddings with the whole batch.
func (b *openAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(&openAIEmbedRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	log.Debug().Int("batch", len(texts)).Int("tokens_est", b.estimateTokens(texts)).Msg("embedding call")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := string(respBody)
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, fmt.Errorf("embeddings API returned status %d: %s", resp.StatusCode, errBody)
	}

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d items, want %d", len(parsed.Data), len(texts))
	}

	// The API documents index-ordered data; honor the index field anyway.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// estimateTokens counts tokens with tiktoken when the encoding is available,
// falling back to the len/4 heuristic.
func (b *openAIBackend) estimateTokens(texts []string) int {
	b.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Debug().Err(err).Msg("tiktoken encoding unavailable, using heuristic")
			return
		}
		b.enc = enc
	})

	total := 0
	for _, t := range texts {
		if b.enc != nil {
			total += len(b.enc.Encode(t, nil, nil))
		} else {
			total += len(t) / 4
		}
	}
	return total
}

var _ Backend = (*openAIBackend)(nil)
