package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	// Zero samples every trace in development and a tenth elsewhere.
	TraceSampleRate float64 `envconfig:"TRACE_SAMPLE_RATE" default:"0"`

	// Empty selects the in-memory chunk store.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	DBMaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns    int32  `envconfig:"DB_MIN_CONNS" default:"0"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	EmbeddingDimensions int `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL"`
	OpenAIChatModel      string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	GenerationProvider string `envconfig:"GENERATION_PROVIDER" default:"openai"`
	BedrockRegion      string `envconfig:"BEDROCK_REGION" default:"us-east-1"`
	BedrockModelID     string `envconfig:"BEDROCK_MODEL_ID" default:"anthropic.claude-3-haiku-20240307-v1:0"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Requests must carry this bearer token when set.
	APIKey         string `envconfig:"API_KEY"`
	// Still accepted while clients move to APIKey.
	PreviousAPIKey string `envconfig:"PREVIOUS_API_KEY"`

	DefaultK           int           `envconfig:"DEFAULT_K" default:"5"`
	MinScore           float32       `envconfig:"MIN_SCORE" default:"0.2"`
	TokenBudget        int           `envconfig:"TOKEN_BUDGET" default:"1500"`
	MinContextTokens   int           `envconfig:"MIN_CONTEXT_TOKENS" default:"32"`
	MaxPromptTokens    int           `envconfig:"MAX_PROMPT_TOKENS" default:"6000"`
	HistoryTurns       int           `envconfig:"HISTORY_TURNS" default:"4"`
	MaxHistory         int           `envconfig:"MAX_HISTORY" default:"20"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryInitial       time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"500ms"`
	TurnTimeout        time.Duration `envconfig:"TURN_TIMEOUT" default:"90s"`
	SessionIdleTTL     time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	GroundingThreshold float64       `envconfig:"GROUNDING_THRESHOLD" default:"0.5"`
	IngestConcurrency  int           `envconfig:"INGEST_CONCURRENCY" default:"4"`
	EmbedBatchSize     int           `envconfig:"EMBED_BATCH_SIZE" default:"32"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBQA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects values that would make the engine unusable.
func (c *Config) Validate() error {
	switch c.GenerationProvider {
	case ProviderOpenAI, ProviderBedrock:
	default:
		return fmt.Errorf("unknown generation provider %q (expected %s or %s)", c.GenerationProvider, ProviderOpenAI, ProviderBedrock)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.DefaultK <= 0 {
		return fmt.Errorf("DEFAULT_K must be positive")
	}
	if c.TokenBudget < c.MinContextTokens {
		return fmt.Errorf("TOKEN_BUDGET %d is below MIN_CONTEXT_TOKENS %d", c.TokenBudget, c.MinContextTokens)
	}
	if c.GroundingThreshold < 0 || c.GroundingThreshold > 1 {
		return fmt.Errorf("GROUNDING_THRESHOLD must be within [0, 1]")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1]")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	return nil
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Bucket != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

func (c *Config) HasAPIKey() bool {
	return c.APIKey != ""
}

// UseBedrock reports whether answers are generated through Bedrock.
func (c *Config) UseBedrock() bool {
	return c.GenerationProvider == ProviderBedrock
}
