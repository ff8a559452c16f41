package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ORIGINS", "*")
	t.Setenv("GENERATION_PROVIDER", "anthropic")
	// Unparseable values fall back to defaults.
	for _, key := range []string{"TURN_DELAY", "HISTORY_WINDOW", "DEFAULT_MAX_ROUNDS", "PERSIST_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.TurnDelay != 3*time.Second {
		t.Errorf("Expected TurnDelay 3s, got %v", cfg.Scheduler.TurnDelay)
	}
	if cfg.Scheduler.HistoryWindow != 10 {
		t.Errorf("Expected HistoryWindow 10, got %d", cfg.Scheduler.HistoryWindow)
	}
	if cfg.Scheduler.DefaultMaxRounds != 5 {
		t.Errorf("Expected DefaultMaxRounds 5, got %d", cfg.Scheduler.DefaultMaxRounds)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("Expected CORS origins [*], got %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GENERATION_PROVIDER", "GRPC")
	t.Setenv("GENERATION_ADDR", "localhost:50051")
	t.Setenv("TURN_DELAY", "250ms")
	t.Setenv("HISTORY_WINDOW", "4")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("PERSIST_FLUSH_INTERVAL", "5s")
	t.Setenv("CONVERSATION_LOG_QUEUE_SIZE", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Generation.Provider != ProviderGrpc {
		t.Errorf("Expected grpc provider, got %q", cfg.Generation.Provider)
	}
	if cfg.Scheduler.TurnDelay != 250*time.Millisecond {
		t.Errorf("Expected TurnDelay 250ms, got %v", cfg.Scheduler.TurnDelay)
	}
	if cfg.Scheduler.HistoryWindow != 4 {
		t.Errorf("Expected HistoryWindow 4, got %d", cfg.Scheduler.HistoryWindow)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("Expected two trimmed origins, got %v", cfg.CORSOrigins)
	}
	if cfg.Persistence.FlushInterval != 5*time.Second {
		t.Errorf("Expected flush interval 5s, got %v", cfg.Persistence.FlushInterval)
	}
	if cfg.ConversationLog.QueueSize != 1000 {
		t.Errorf("Expected invalid queue size to fall back to 1000, got %d", cfg.ConversationLog.QueueSize)
	}
}

func validConfig() *Config {
	return &Config{
		Port:        "8080",
		CORSOrigins: []string{"*"},
		Persistence: PersistenceConfig{Enabled: true, DBPath: "db", FlushInterval: time.Second},
		Generation: GenerationConfig{
			Provider:  ProviderAnthropic,
			APIKey:    "sk-test",
			MaxTokens: 1000,
			Timeout:   time.Minute,
		},
		Scheduler: SchedulerConfig{
			TurnDelay:        time.Second,
			HistoryWindow:    10,
			DefaultMaxRounds: 5,
		},
		ConversationLog: ConversationLogConfig{Enabled: true, Dir: "logs", QueueSize: 10},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing api key", func(c *Config) { c.Generation.APIKey = "" }, "ANTHROPIC_API_KEY"},
		{"grpc without addr", func(c *Config) { c.Generation.Provider = ProviderGrpc }, "GENERATION_ADDR"},
		{"grpc with addr", func(c *Config) {
			c.Generation.Provider = ProviderGrpc
			c.Generation.APIKey = ""
			c.Generation.Addr = "localhost:1"
		}, ""},
		{"unknown provider", func(c *Config) { c.Generation.Provider = "openai" }, "GENERATION_PROVIDER"},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"empty db path", func(c *Config) { c.Persistence.DBPath = "" }, "DB_PATH"},
		{"db path ignored when disabled", func(c *Config) {
			c.Persistence.Enabled = false
			c.Persistence.DBPath = ""
		}, ""},
		{"zero history window", func(c *Config) { c.Scheduler.HistoryWindow = 0 }, "HISTORY_WINDOW"},
		{"negative turn delay", func(c *Config) { c.Scheduler.TurnDelay = -time.Second }, "TURN_DELAY"},
		{"zero max rounds", func(c *Config) { c.Scheduler.DefaultMaxRounds = 0 }, "DEFAULT_MAX_ROUNDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Parallel()

	cfg := &Config{CORSOrigins: []string{"https://a.example.com"}, FrontendURL: "https://app.example.com"}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[1] != "https://app.example.com" {
		t.Errorf("Expected frontend URL appended, got %v", got)
	}

	cfg = &Config{CORSOrigins: []string{"*"}, FrontendURL: "https://app.example.com"}
	if got := cfg.AllowedOrigins(); len(got) != 1 {
		t.Errorf("Expected wildcard to cover frontend URL, got %v", got)
	}
}
