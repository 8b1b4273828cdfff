package config

import (
	"fmt"
	"net/url"
	"time"
)

// ProvidersConfig contains per-provider egress settings.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	GoogleAI  ProviderConfig `yaml:"google_ai"`
}

// ProviderConfig configures a single upstream provider.
type ProviderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ChatTimeout  time.Duration `yaml:"chat_timeout"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`

	// Breaker thresholds. The breaker opens when the failure rate over the
	// sample window reaches FailureRate with at least MinSamples requests.
	MinSamples  int     `yaml:"breaker_min_samples"`
	FailureRate float64 `yaml:"breaker_failure_rate"`
}

func (p *ProvidersConfig) applyDefaults() {
	defaults := func(pc *ProviderConfig, base string) {
		if pc.BaseURL == "" {
			pc.BaseURL = base
		}
		if pc.ChatTimeout == 0 {
			pc.ChatTimeout = DefaultChatTimeout
		}
		if pc.EmbedTimeout == 0 {
			pc.EmbedTimeout = 30 * time.Second
		}
		if pc.MinSamples == 0 {
			pc.MinSamples = 20
		}
		if pc.FailureRate == 0 {
			pc.FailureRate = 0.5
		}
	}
	defaults(&p.OpenAI, "https://api.openai.com")
	defaults(&p.Anthropic, "https://api.anthropic.com")
	defaults(&p.GoogleAI, "https://generativelanguage.googleapis.com")
}

// Validate checks provider URLs parse.
func (p *ProvidersConfig) Validate() error {
	for name, pc := range map[string]ProviderConfig{
		"openai": p.OpenAI, "anthropic": p.Anthropic, "google_ai": p.GoogleAI,
	} {
		u, err := url.Parse(pc.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("providers.%s.base_url is not a valid URL: %q", name, pc.BaseURL)
		}
		if pc.FailureRate < 0 || pc.FailureRate > 1 {
			return fmt.Errorf("providers.%s.breaker_failure_rate must be in [0,1]", name)
		}
	}
	return nil
}

// ByName returns the provider config for a detector provider name.
func (p *ProvidersConfig) ByName(name string) ProviderConfig {
	switch name {
	case "ANTHROPIC":
		return p.Anthropic
	case "GOOGLE_AI":
		return p.GoogleAI
	default:
		return p.OpenAI
	}
}
