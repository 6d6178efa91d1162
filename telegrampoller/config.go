package telegrampoller

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "TELEGRAM_"

// validate is the shared validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use koanf keys in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	validate.RegisterValidation("bottoken", validateBotTokenField)
	validate.RegisterValidation("updatekind", validateUpdateKindField)
}

// validateBotTokenField is a validator.Func for bot token format
func validateBotTokenField(fl validator.FieldLevel) bool {
	token := fl.Field().String()
	if token == "" {
		return true // Let callers decide whether the token is required
	}
	return ValidateBotToken(SecretToken(token)) == nil
}

func validateUpdateKindField(fl validator.FieldLevel) bool {
	_, ok := ParseKind(fl.Field().String())
	return ok
}

// LoadConfig loads configuration from multiple sources.
// Configuration precedence (highest to lowest):
//  1. Programmatic options (opts...)
//  2. Environment variables (TELEGRAM_*)
//  3. Config file (if path provided and present)
//  4. Default values
//
// The bot token is required.
func LoadConfig(configPath string, opts ...Option) (*Config, error) {
	k := koanf.New(".")

	// 1. DEFAULTS (lowest priority)
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// 2. CONFIG FILE (if exists)
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	// 3. ENVIRONMENT VARIABLES (TELEGRAM_*)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// TELEGRAM_BOT_TOKEN -> bot_token
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// 4. PROGRAMMATIC OPTIONS (highest priority)
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot_token: %w", ErrBotTokenRequired)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig validates the configuration and returns user-friendly errors.
func validateConfig(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "bottoken":
			msgs = append(msgs, fmt.Sprintf("%s: %v (format: 123456789:ABCdefGHI...)", fe.Field(), ErrInvalidBotToken))
		case "updatekind":
			msgs = append(msgs, fmt.Sprintf("%s: unknown update type %q", fe.Namespace(), fe.Value()))
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
