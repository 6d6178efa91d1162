package telegrampoller

import (
	"os"
	"path/filepath"
	"regexp"
)

// botTokenPattern matches "<numeric bot id>:<secret>".
var botTokenPattern = regexp.MustCompile(`^[0-9]{1,20}:[A-Za-z0-9_-]{20,}$`)

// ValidateBotToken performs a local format check. It does not prove the token
// is accepted by the API; NewBot calls getMe for that.
func ValidateBotToken(token SecretToken) error {
	if token.Value() == "" {
		return ErrBotTokenRequired
	}
	if !botTokenPattern.MatchString(token.Value()) {
		return ErrInvalidBotToken
	}
	return nil
}

// ensureLogPath creates all parent directories for the log file.
func ensureLogPath(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}
