package telegrampoller

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSecretToken_LogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	token := SecretToken(testToken)
	logger.Info("test message", "token", token)

	output := buf.String()

	if strings.Contains(output, testToken) {
		t.Error("log output should not contain the actual token value")
	}

	if !strings.Contains(output, "[REDACTED]") {
		t.Error("log output should contain [REDACTED]")
	}
}

func TestSecretToken_Formatting(t *testing.T) {
	token := SecretToken(testToken)

	for _, s := range []string{
		fmt.Sprint(token),
		fmt.Sprintf("%v", token),
		fmt.Sprintf("%s", token),
		token.String(),
	} {
		if s != "[REDACTED]" {
			t.Errorf("formatted token = %q, want [REDACTED]", s)
		}
	}

	if token.Value() != testToken {
		t.Error("Value() should return the raw token")
	}
}

func TestNewLogger(t *testing.T) {
	// Test with empty log file path (stdout only)
	logger, err := NewLogger(slog.LevelInfo, "")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}
}

func TestNewLogger_RejectsEscapingPath(t *testing.T) {
	for _, path := range []string{"../poller.log", "logs/../../poller.log"} {
		if _, err := NewLogger(slog.LevelInfo, path); !errors.Is(err, ErrInvalidLogPath) {
			t.Errorf("NewLogger(%q) error = %v, want ErrInvalidLogPath", path, err)
		}
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "poller.log")

	logger, err := NewLogger(slog.LevelDebug, path)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Debug("fetched updates", "count", 3, "token", SecretToken(testToken))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"fetched updates"`) || !strings.Contains(out, `"count":3`) {
		t.Errorf("unexpected log file content: %s", out)
	}
	if strings.Contains(out, testToken) {
		t.Error("log file should not contain the token")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
