package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Generation backends
const (
	BackendREST = "rest" // Hand-built JSON requests against the REST endpoints
	BackendSDK  = "sdk"  // google.golang.org/genai client
)

// Config holds all configuration for the dialogue gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Generation service configuration
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY" required:"true"`
	GenerationBackend string `envconfig:"GENERATION_BACKEND" default:"rest"` // rest or sdk
	TextAPIURL        string `envconfig:"TEXT_API_URL" default:"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent"`
	SpeechAPIURL      string `envconfig:"SPEECH_API_URL" default:"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-preview-tts:generateContent"`
	TextModel         string `envconfig:"TEXT_MODEL" default:"gemini-2.5-flash"`               // Used by the sdk backend
	SpeechModel       string `envconfig:"SPEECH_MODEL" default:"gemini-2.5-flash-preview-tts"` // Used by the sdk backend
	SDKBaseURL        string `envconfig:"SDK_BASE_URL" default:""`                             // Overrides the sdk backend endpoint
	GenerationTimeout int    `envconfig:"GENERATION_TIMEOUT" default:"30"`                     // seconds, per remote call

	// Dialogue configuration
	DefaultVoice      string `envconfig:"DEFAULT_VOICE" default:"Kore"`
	FallbackMessage   string `envconfig:"FALLBACK_MESSAGE" default:"...I'm not sure what to say."`
	DefaultSampleRate int    `envconfig:"DEFAULT_SAMPLE_RATE" default:"24000"`
	NPCCatalogPath    string `envconfig:"NPC_CATALOG_PATH" default:""` // Optional YAML catalog of NPCs

	// Resilience configuration
	CircuitBreakerMaxFailures  int  `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int  `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int  `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Attempts per remote call
	RetryInitialBackoff        int  `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	SpeechRetryEnabled         bool `envconfig:"SPEECH_RETRY_ENABLED" default:"true"`        // Retry speech before falling back to text-only

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	switch c.GenerationBackend {
	case BackendREST, BackendSDK:
	default:
		return fmt.Errorf("GENERATION_BACKEND must be %q or %q, got %q", BackendREST, BackendSDK, c.GenerationBackend)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive, got %d", c.GenerationTimeout)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.FallbackMessage == "" {
		return fmt.Errorf("FALLBACK_MESSAGE must not be empty")
	}
	return nil
}

// Timeout returns the per-call generation timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.GenerationTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
