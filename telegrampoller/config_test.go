package telegrampoller

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// clearTelegramEnv removes TELEGRAM_* variables for the duration of the test.
func clearTelegramEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix) {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearTelegramEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", testToken)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	// Check defaults
	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"BotToken", cfg.BotToken, testToken},
		{"APIBaseURL", cfg.APIBaseURL, DefaultAPIBaseURL},
		{"PollTimeout", cfg.PollTimeout, 120},
		{"PollLimit", cfg.PollLimit, 0},
		{"InitialOffset", cfg.InitialOffset, int64(0)},
		{"HTTPTimeoutSlack", cfg.HTTPTimeoutSlack, 10 * time.Second},
		{"RateLimitRequests", cfg.RateLimitRequests, 0.0},
		{"BreakerEnabled", cfg.BreakerEnabled, true},
		{"BreakerMaxRequests", cfg.BreakerMaxRequests, uint32(5)},
		{"BreakerInterval", cfg.BreakerInterval, 2 * time.Minute},
		{"BreakerTimeout", cfg.BreakerTimeout, 60 * time.Second},
		{"PollerMaxErrors", cfg.PollerMaxErrors, 10},
		{"RetryInitialDelay", cfg.RetryInitialDelay, time.Second},
		{"RetryMaxDelay", cfg.RetryMaxDelay, 60 * time.Second},
		{"RetryBackoffFactor", cfg.RetryBackoffFactor, 2.0},
		{"LogLevel", cfg.LogLevel, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_RequiresToken(t *testing.T) {
	clearTelegramEnv(t)

	_, err := LoadConfig("")
	if !errors.Is(err, ErrBotTokenRequired) {
		t.Errorf("LoadConfig() error = %v, want ErrBotTokenRequired", err)
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	clearTelegramEnv(t)

	path := writeConfigFile(t, `
bot_token: "`+testToken+`"
api_base_url: "http://localhost:8081"
poll_timeout: 30
poll_limit: 50
allowed_updates:
  - message
  - callback_query
breaker_enabled: false
retry_max_delay: 30s
log_level: debug
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.APIBaseURL != "http://localhost:8081" {
			t.Errorf("APIBaseURL = %s", cfg.APIBaseURL)
		}
		if cfg.PollTimeout != 30 || cfg.PollLimit != 50 {
			t.Errorf("poll = %d/%d, want 30/50", cfg.PollTimeout, cfg.PollLimit)
		}
		if !slices.Equal(cfg.AllowedUpdates, []string{"message", "callback_query"}) {
			t.Errorf("AllowedUpdates = %v", cfg.AllowedUpdates)
		}
		if cfg.BreakerEnabled {
			t.Error("BreakerEnabled should be false")
		}
		if cfg.RetryMaxDelay != 30*time.Second {
			t.Errorf("RetryMaxDelay = %v, want 30s", cfg.RetryMaxDelay)
		}
		if cfg.RetryInitialDelay != time.Second {
			t.Errorf("RetryInitialDelay = %v, want default 1s", cfg.RetryInitialDelay)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("TELEGRAM_POLL_TIMEOUT", "45")
		t.Setenv("TELEGRAM_RATE_LIMIT_REQUESTS", "12.5")
		t.Setenv("TELEGRAM_RETRY_INITIAL_DELAY", "250ms")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.PollTimeout != 45 {
			t.Errorf("PollTimeout = %d, want 45", cfg.PollTimeout)
		}
		if cfg.RateLimitRequests != 12.5 {
			t.Errorf("RateLimitRequests = %v, want 12.5", cfg.RateLimitRequests)
		}
		if cfg.RetryInitialDelay != 250*time.Millisecond {
			t.Errorf("RetryInitialDelay = %v, want 250ms", cfg.RetryInitialDelay)
		}
		if cfg.PollLimit != 50 {
			t.Errorf("PollLimit = %d, want 50 from file", cfg.PollLimit)
		}
	})

	t.Run("options override env", func(t *testing.T) {
		t.Setenv("TELEGRAM_POLL_TIMEOUT", "45")

		cfg, err := LoadConfig(path, WithPolling(10, 5), WithoutBreaker(), WithInitialOffset(99))
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.PollTimeout != 10 || cfg.PollLimit != 5 {
			t.Errorf("poll = %d/%d, want 10/5", cfg.PollTimeout, cfg.PollLimit)
		}
		if cfg.InitialOffset != 99 {
			t.Errorf("InitialOffset = %d, want 99", cfg.InitialOffset)
		}
	})
}

func TestLoadConfig_MissingFileIsIgnored(t *testing.T) {
	clearTelegramEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", testToken)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.PollTimeout != DefaultPollTimeout {
		t.Errorf("PollTimeout = %d, want default", cfg.PollTimeout)
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		envVar  string
		value   string
		wantMsg string
	}{
		{"invalid token", "TELEGRAM_BOT_TOKEN", "not-a-token", "bot_token"},
		{"poll timeout too high", "TELEGRAM_POLL_TIMEOUT", "1000", "poll_timeout"},
		{"negative poll timeout", "TELEGRAM_POLL_TIMEOUT", "-1", "poll_timeout"},
		{"poll limit too high", "TELEGRAM_POLL_LIMIT", "101", "poll_limit"},
		{"bad base url", "TELEGRAM_API_BASE_URL", "not a url", "api_base_url"},
		{"bad log level", "TELEGRAM_LOG_LEVEL", "verbose", "log_level"},
		{"not a number", "TELEGRAM_POLL_TIMEOUT", "soon", ""},
		{"invalid duration", "TELEGRAM_RETRY_MAX_DELAY", "not-a-duration", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTelegramEnv(t)
			t.Setenv("TELEGRAM_BOT_TOKEN", testToken)
			t.Setenv(tt.envVar, tt.value)

			_, err := LoadConfig("")
			if err == nil {
				t.Fatalf("LoadConfig() expected error for %s=%s", tt.envVar, tt.value)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %s", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadConfig_UnknownUpdateType(t *testing.T) {
	clearTelegramEnv(t)
	path := writeConfigFile(t, `
bot_token: "`+testToken+`"
allowed_updates: [message, poll_answer]
`)

	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "poll_answer") {
		t.Errorf("LoadConfig() error = %v, want unknown update type poll_answer", err)
	}
}

func TestPresets(t *testing.T) {
	t.Run("ProductionPreset", func(t *testing.T) {
		cfg := DefaultConfig()
		ProductionPreset().apply(&cfg)

		if cfg.PollerMaxErrors != 0 {
			t.Errorf("expected unlimited errors, got %d", cfg.PollerMaxErrors)
		}
		if !cfg.BreakerEnabled {
			t.Error("expected breaker enabled")
		}
		if cfg.RateLimitRequests != 30 {
			t.Errorf("expected rate limit 30, got %v", cfg.RateLimitRequests)
		}
		if err := validateConfig(&cfg); err != nil {
			t.Errorf("preset config invalid: %v", err)
		}
	})

	t.Run("DevelopmentPreset", func(t *testing.T) {
		cfg := DefaultConfig()
		DevelopmentPreset().apply(&cfg)

		if cfg.PollerMaxErrors != 3 {
			t.Errorf("expected max errors 3, got %d", cfg.PollerMaxErrors)
		}
		if cfg.PollTimeout != 10 {
			t.Errorf("expected timeout 10, got %d", cfg.PollTimeout)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("expected debug logging, got %s", cfg.LogLevel)
		}
		if err := validateConfig(&cfg); err != nil {
			t.Errorf("preset config invalid: %v", err)
		}
	})
}
