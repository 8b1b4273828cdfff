// Package parser extracts normalized prompt data from provider JSON shapes.
//
// DESIGN: One Parse entry point per direction:
//   - ParseRequest:  {prompt_text, model, sampling_params} from the request
//   - ParseUsage:    token usage from the response
//   - ParseResponse: generated text from the response
//
// The parser never fails: malformed input records a parse_error and falls
// back to the bounded raw body as prompt_text. Partial extraction is fine;
// whatever is recoverable is returned.
package parser

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codepromptu/codepromptu/internal/providers"
)

// maxRawFallbackBytes bounds prompt_text when the body is not valid JSON.
const maxRawFallbackBytes = 64 * 1024

// TokenUsage is the normalized usage triple.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Parsed is the normalized extraction result for a request body.
type Parsed struct {
	PromptText     string
	Model          string
	SamplingParams map[string]any
	ParseError     string
}

// samplingKeys per provider. Only present fields are lifted.
var (
	openAISampling    = []string{"temperature", "max_tokens", "top_p", "frequency_penalty", "presence_penalty", "stop"}
	anthropicSampling = []string{"temperature", "max_tokens", "top_p", "top_k", "stop_sequences"}
	googleSampling    = []string{"generationConfig.temperature", "generationConfig.maxOutputTokens", "generationConfig.topP", "generationConfig.topK"}
)

// ParseRequest extracts the normalized prompt tuple from a request body.
func ParseRequest(provider providers.Provider, body []byte) Parsed {
	if !gjson.ValidBytes(body) {
		return rawFallback(body, "invalid JSON")
	}

	switch provider {
	case providers.ProviderAnthropic:
		return parseAnthropic(body)
	case providers.ProviderGoogleAI:
		return parseGoogle(body)
	default:
		return parseOpenAI(body)
	}
}

func parseOpenAI(body []byte) Parsed {
	p := Parsed{
		Model:          gjson.GetBytes(body, "model").String(),
		SamplingParams: liftParams(body, openAISampling),
	}

	// Completions API carries the prompt directly.
	if prompt := gjson.GetBytes(body, "prompt"); prompt.Exists() {
		p.PromptText = prompt.String()
		return p
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() {
		p.ParseError = "no prompt or messages field"
		p.PromptText = boundedRaw(body)
		return p
	}

	p.PromptText = joinMessages(messages, "role", "content")
	return p
}

func parseAnthropic(body []byte) Parsed {
	p := Parsed{
		Model:          gjson.GetBytes(body, "model").String(),
		SamplingParams: liftParams(body, anthropicSampling),
	}

	var parts []string
	if system := gjson.GetBytes(body, "system"); system.Exists() {
		parts = append(parts, "system: "+textOf(system))
	}

	messages := gjson.GetBytes(body, "messages")
	if messages.Exists() {
		if joined := joinMessages(messages, "role", "content"); joined != "" {
			parts = append(parts, joined)
		}
	} else if prompt := gjson.GetBytes(body, "prompt"); prompt.Exists() {
		// Legacy /v1/complete shape.
		parts = append(parts, prompt.String())
	}

	if len(parts) == 0 {
		p.ParseError = "no messages or prompt field"
		p.PromptText = boundedRaw(body)
		return p
	}
	p.PromptText = strings.Join(parts, "\n")
	return p
}

func parseGoogle(body []byte) Parsed {
	p := Parsed{
		Model:          gjson.GetBytes(body, "model").String(),
		SamplingParams: liftParams(body, googleSampling),
	}

	contents := gjson.GetBytes(body, "contents")
	if !contents.Exists() {
		p.ParseError = "no contents field"
		p.PromptText = boundedRaw(body)
		return p
	}

	var b strings.Builder
	contents.ForEach(func(_, content gjson.Result) bool {
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(text.String())
			}
			return true
		})
		return true
	})
	p.PromptText = b.String()
	return p
}

// ParseUsage lifts token usage from a response body when present.
// Returns nil when no usage object is recoverable.
func ParseUsage(provider providers.Provider, responseBody []byte) *TokenUsage {
	if !gjson.ValidBytes(responseBody) {
		return nil
	}

	switch provider {
	case providers.ProviderAnthropic:
		usage := gjson.GetBytes(responseBody, "usage")
		if !usage.Exists() {
			return nil
		}
		in := int(usage.Get("input_tokens").Int())
		out := int(usage.Get("output_tokens").Int())
		return &TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}

	case providers.ProviderGoogleAI:
		usage := gjson.GetBytes(responseBody, "usageMetadata")
		if !usage.Exists() {
			return nil
		}
		return &TokenUsage{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		}

	default:
		usage := gjson.GetBytes(responseBody, "usage")
		if !usage.Exists() {
			return nil
		}
		return &TokenUsage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
	}
}

// ParseResponse extracts the generated text from a response body, for
// conversation recording. Returns "" when nothing is recoverable.
func ParseResponse(provider providers.Provider, responseBody []byte) string {
	if !gjson.ValidBytes(responseBody) {
		return ""
	}

	switch provider {
	case providers.ProviderAnthropic:
		return textOf(gjson.GetBytes(responseBody, "content"))

	case providers.ProviderGoogleAI:
		var b strings.Builder
		gjson.GetBytes(responseBody, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(text.String())
			}
			return true
		})
		return b.String()

	default:
		if msg := gjson.GetBytes(responseBody, "choices.0.message.content"); msg.Exists() {
			return textOf(msg)
		}
		// Completions API shape.
		return gjson.GetBytes(responseBody, "choices.0.text").String()
	}
}

// joinMessages renders each message as "role: content", one per line.
func joinMessages(messages gjson.Result, roleKey, contentKey string) string {
	var b strings.Builder
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get(roleKey).String()
		content := textOf(msg.Get(contentKey))
		if content == "" {
			return true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if role != "" {
			b.WriteString(role)
			b.WriteString(": ")
		}
		b.WriteString(content)
		return true
	})
	return b.String()
}

// textOf flattens a content value: plain string, or an array of typed blocks
// whose text fields are joined by newlines.
func textOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	if !v.IsArray() {
		return ""
	}
	var b strings.Builder
	v.ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text"); text.Exists() {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(text.String())
		}
		return true
	})
	return b.String()
}

// liftParams copies present sampling fields into a map. Nested paths are
// stored under their last segment (generationConfig.topP → topP).
func liftParams(body []byte, keys []string) map[string]any {
	params := make(map[string]any)
	for _, key := range keys {
		v := gjson.GetBytes(body, key)
		if !v.Exists() {
			continue
		}
		name := key
		if idx := strings.LastIndexByte(key, '.'); idx != -1 {
			name = key[idx+1:]
		}
		params[name] = v.Value()
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func rawFallback(body []byte, reason string) Parsed {
	return Parsed{ParseError: reason, PromptText: boundedRaw(body)}
}

func boundedRaw(body []byte) string {
	if len(body) > maxRawFallbackBytes {
		body = body[:maxRawFallbackBytes]
	}
	return string(body)
}
