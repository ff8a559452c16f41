// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Generation providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGrpc      = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string
	Persistence PersistenceConfig
	Generation  GenerationConfig
	Scheduler   SchedulerConfig
	// ProfilesPath points to a YAML participant catalog; empty uses the built-in one.
	ProfilesPath    string
	ConversationLog ConversationLogConfig
}

// PersistenceConfig controls SQLite write-behind persistence.
type PersistenceConfig struct {
	Enabled       bool
	DBPath        string
	FlushInterval time.Duration
}

// GenerationConfig selects and configures the text-generation backend.
type GenerationConfig struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Addr      string
}

// SchedulerConfig holds turn pacing.
type SchedulerConfig struct {
	TurnDelay        time.Duration
	ResumeDelay      time.Duration
	HistoryWindow    int
	DefaultMaxRounds int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		Persistence: PersistenceConfig{
			Enabled:       getEnvBool("PERSIST_ENABLED", true),
			DBPath:        getEnv("DB_PATH", "./data/roundtable.db"),
			FlushInterval: getEnvDuration("PERSIST_FLUSH_INTERVAL", 2*time.Second),
		},
		Generation: GenerationConfig{
			Provider:  strings.ToLower(getEnv("GENERATION_PROVIDER", ProviderAnthropic)),
			APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
			Model:     getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
			MaxTokens: getEnvInt("GENERATION_MAX_TOKENS", 1000),
			Timeout:   getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
			Addr:      getEnv("GENERATION_ADDR", ""),
		},
		Scheduler: SchedulerConfig{
			TurnDelay:        getEnvDuration("TURN_DELAY", 3*time.Second),
			ResumeDelay:      getEnvDuration("RESUME_DELAY", 500*time.Millisecond),
			HistoryWindow:    getEnvInt("HISTORY_WINDOW", 10),
			DefaultMaxRounds: getEnvInt("DEFAULT_MAX_ROUNDS", 5),
		},
		ProfilesPath: getEnv("PROFILES_PATH", ""),
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.Persistence.Enabled {
		if c.Persistence.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
		if c.Persistence.FlushInterval <= 0 {
			return errors.New("PERSIST_FLUSH_INTERVAL must be > 0")
		}
	}

	switch c.Generation.Provider {
	case ProviderAnthropic:
		if c.Generation.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when GENERATION_PROVIDER=%s", ProviderAnthropic)
		}
	case ProviderGrpc:
		if c.Generation.Addr == "" {
			return fmt.Errorf("GENERATION_ADDR is required when GENERATION_PROVIDER=%s", ProviderGrpc)
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.Generation.Provider)
	}
	if c.Generation.MaxTokens <= 0 {
		return errors.New("GENERATION_MAX_TOKENS must be > 0")
	}
	if c.Generation.Timeout <= 0 {
		return errors.New("GENERATION_TIMEOUT must be > 0")
	}

	if c.Scheduler.TurnDelay < 0 || c.Scheduler.ResumeDelay < 0 {
		return errors.New("TURN_DELAY and RESUME_DELAY cannot be negative")
	}
	if c.Scheduler.HistoryWindow <= 0 {
		return errors.New("HISTORY_WINDOW must be > 0")
	}
	if c.Scheduler.DefaultMaxRounds <= 0 {
		return errors.New("DEFAULT_MAX_ROUNDS must be > 0")
	}

	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list, adding FrontendURL when it is
// not already covered.
func (c *Config) AllowedOrigins() []string {
	origins := append([]string(nil), c.CORSOrigins...)
	if c.FrontendURL == "" {
		return origins
	}
	for _, o := range origins {
		if o == "*" || o == c.FrontendURL {
			return origins
		}
	}
	return append(origins, c.FrontendURL)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
