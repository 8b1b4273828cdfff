// Package config loads and validates the CodePromptu configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default}
// environment expansion. Unlike most knobs in a config file, the bounded
// values here have normative defaults (capture caps, thresholds, timeouts):
// a missing field means "use the default", not "fail".
//
// FILES:
//   - config.go:    Root Config struct, Load(), defaults, Validate()
//   - providers.go: Per-provider egress settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codepromptu/codepromptu/internal/monitoring"
)

// Normative defaults. Applied when the corresponding field is unset.
const (
	DefaultMaxCaptureBytes    = 1 << 20 // 1 MiB
	DefaultMaxEmbedChars      = 8000
	DefaultEmbeddingDimension = 1536
	DefaultMaxLineageDepth    = 100
	DefaultMinIndexRows       = 100
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultSameThreshold      = 0.95
	DefaultForkThreshold      = 0.70
	DefaultPrimaryTimeout     = 2 * time.Second
	DefaultDrainInterval      = 30 * time.Second
	DefaultFallbackQueueSize  = 10000
	DefaultFallbackTTL        = 24 * time.Hour
	DefaultChatTimeout        = 60 * time.Second
	DefaultEmbedCallTimeout   = 10 * time.Second
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Providers  ProvidersConfig         `yaml:"providers"`
	Capture    CaptureConfig           `yaml:"capture"`
	Store      StoreConfig             `yaml:"store"`
	Embedding  EmbeddingConfig         `yaml:"embedding"`
	Similarity SimilarityConfig        `yaml:"similarity"`
	Sessions   SessionsConfig          `yaml:"sessions"`
	Logging    monitoring.LoggerConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	GatewayPort  int           `yaml:"gateway_port"` // proxied LLM traffic
	APIPort      int           `yaml:"api_port"`     // operator REST surface
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RateLimit    int           `yaml:"rate_limit"` // REST requests/sec per IP, 0 disables
}

// CaptureConfig contains capture pipeline settings.
type CaptureConfig struct {
	MaxCaptureBytes int           `yaml:"max_capture_bytes"`
	PrimaryTimeout  time.Duration `yaml:"primary_timeout"`
	DrainInterval   time.Duration `yaml:"drain_interval"`
	QueueSize       int           `yaml:"queue_size"`
	FallbackTTL     time.Duration `yaml:"fallback_ttl"`
	RedisAddr       string        `yaml:"redis_addr"` // empty selects the in-memory queue
}

// StoreConfig contains prompt store settings.
type StoreConfig struct {
	Type            string `yaml:"type"` // "postgres" or "memory"
	DSN             string `yaml:"dsn"`
	MaxLineageDepth int    `yaml:"max_lineage_depth"`
	MinIndexRows    int    `yaml:"min_index_rows"`
}

// EmbeddingConfig contains embedding backend settings.
type EmbeddingConfig struct {
	Backend       string        `yaml:"backend"` // "openai", "bedrock", or "stub"
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	Region        string        `yaml:"region"` // bedrock only
	APIKey        string        `yaml:"api_key"`
	Dimension     int           `yaml:"dimension"`
	MaxEmbedChars int           `yaml:"max_embed_chars"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

// SimilarityConfig contains classification thresholds.
// Scores follow the convention s = 1 - cosine_distance; higher is more similar.
type SimilarityConfig struct {
	SameThreshold float64 `yaml:"same_threshold"`
	ForkThreshold float64 `yaml:"fork_threshold"`
}

// SessionsConfig contains conversation session settings.
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, defaults,
// and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with every normative default applied.
// Used by tests and by embedded deployments that skip the YAML file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if uri := os.Getenv("CONFIG_URI"); uri != "" && c.Store.DSN == "" {
		c.Store.DSN = uri
	}
	if ttl := os.Getenv("FALLBACK_TTL_MS"); ttl != "" {
		if d, err := time.ParseDuration(ttl + "ms"); err == nil {
			c.Capture.FallbackTTL = d
		}
	}
}

// ApplyDefaults fills in every unset field with its normative default.
func (c *Config) ApplyDefaults() {
	if c.Server.GatewayPort == 0 {
		c.Server.GatewayPort = 18080
	}
	if c.Server.APIPort == 0 {
		c.Server.APIPort = 18081
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 120 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}

	c.Providers.applyDefaults()

	if c.Capture.MaxCaptureBytes == 0 {
		c.Capture.MaxCaptureBytes = DefaultMaxCaptureBytes
	}
	if c.Capture.PrimaryTimeout == 0 {
		c.Capture.PrimaryTimeout = DefaultPrimaryTimeout
	}
	if c.Capture.DrainInterval == 0 {
		c.Capture.DrainInterval = DefaultDrainInterval
	}
	if c.Capture.QueueSize == 0 {
		c.Capture.QueueSize = DefaultFallbackQueueSize
	}
	if c.Capture.FallbackTTL == 0 {
		c.Capture.FallbackTTL = DefaultFallbackTTL
	}

	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.MaxLineageDepth == 0 {
		c.Store.MaxLineageDepth = DefaultMaxLineageDepth
	}
	if c.Store.MinIndexRows == 0 {
		c.Store.MinIndexRows = DefaultMinIndexRows
	}

	if c.Embedding.Backend == "" {
		c.Embedding.Backend = "stub"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = DefaultEmbeddingDimension
	}
	if c.Embedding.MaxEmbedChars == 0 {
		c.Embedding.MaxEmbedChars = DefaultMaxEmbedChars
	}
	if c.Embedding.CallTimeout == 0 {
		c.Embedding.CallTimeout = DefaultEmbedCallTimeout
	}

	if c.Similarity.SameThreshold == 0 {
		c.Similarity.SameThreshold = DefaultSameThreshold
	}
	if c.Similarity.ForkThreshold == 0 {
		c.Similarity.ForkThreshold = DefaultForkThreshold
	}

	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultSessionIdleTimeout
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.GatewayPort < 1 || c.Server.GatewayPort > 65535 {
		return fmt.Errorf("invalid server.gateway_port: %d (must be 1-65535)", c.Server.GatewayPort)
	}
	if c.Server.APIPort < 1 || c.Server.APIPort > 65535 {
		return fmt.Errorf("invalid server.api_port: %d (must be 1-65535)", c.Server.APIPort)
	}
	if c.Server.GatewayPort == c.Server.APIPort {
		return fmt.Errorf("server.gateway_port and server.api_port must differ")
	}

	switch c.Store.Type {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for store.type=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.type: %q", c.Store.Type)
	}

	switch c.Embedding.Backend {
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key (or EMBEDDING_API_KEY) is required for backend=openai")
		}
	case "bedrock", "stub":
	default:
		return fmt.Errorf("unknown embedding.backend: %q", c.Embedding.Backend)
	}

	if c.Similarity.ForkThreshold > c.Similarity.SameThreshold {
		return fmt.Errorf("similarity.fork_threshold %.2f exceeds same_threshold %.2f",
			c.Similarity.ForkThreshold, c.Similarity.SameThreshold)
	}

	return c.Providers.Validate()
}
