package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (TAVOLO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (TAVOLO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	GenAI       GenAIConfig
	Resolver    ResolverConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GenAIConfig controls the embedding and completion provider.
type GenAIConfig struct {
	APIKey     string        `usage:"Gemini API key (TAVOLO_GEN_A_I_API_KEY or GEMINI_API_KEY)" flag:"genai-api-key"`
	EmbedModel string        `default:"gemini-embedding-001" usage:"Embedding model name" flag:"embed-model"`
	ChatModel  string        `default:"gemini-2.5-flash" usage:"Completion model name" flag:"chat-model"`
	Timeout    time.Duration `default:"8s" usage:"Per-call provider timeout" flag:"genai-timeout"`
}

// ResolverConfig controls semantic match acceptance.
type ResolverConfig struct {
	Threshold float64 `default:"0.7" usage:"Cosine similarity acceptance threshold" flag:"similarity-threshold"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "TAVOLO",
		Files:     []string{"config.yaml", "/etc/tavolo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set TAVOLO_DATABASE_URL or DATABASE_URL")
	}
	if cfg.GenAI.APIKey == "" {
		return nil, errors.New("GenAI API key is required: set TAVOLO_GEN_A_I_API_KEY or GEMINI_API_KEY")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's TAVOLO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.GenAI.APIKey == "" {
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			c.GenAI.APIKey = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
