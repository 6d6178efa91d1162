package telegrampoller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/prilive-com/telegrampoller"

// Factory owns the HTTP client shared by every Bot it creates. Requests made
// by different bots are independent; only the connection pool is shared.
type Factory struct {
	config Config
	client HTTPClient
	logger *slog.Logger
}

// NewFactory creates a Factory from DefaultConfig() and opts.
func NewFactory(opts ...Option) (*Factory, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return newFactory(cfg)
}

func newFactory(cfg Config) (*Factory, error) {
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	logger := cfg.Logger
	if logger == nil {
		var err error
		logger, err = NewLogger(ParseLogLevel(cfg.LogLevel), cfg.LogFilePath)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		cfg.Logger = logger
	}

	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}

	return &Factory{config: cfg, client: client, logger: logger}, nil
}

// Config returns a copy of the factory configuration.
func (f *Factory) Config() Config {
	return f.config
}

// NewBot checks the token format, then calls getMe. Any failure aborts
// construction, so a returned Bot is known to be accepted by the API.
func (f *Factory) NewBot(ctx context.Context, token string) (*Bot, error) {
	secret := SecretToken(token)
	if err := ValidateBotToken(secret); err != nil {
		return nil, fmt.Errorf("bot_token: %w", err)
	}

	bot := f.newBot(secret)
	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating bot token: %w", err)
	}
	bot.me = *me

	bot.logger = bot.logger.With("bot", me.Username)
	bot.logger.Info("bot authorized", "bot_id", me.ID, "token", secret)
	return bot, nil
}

// newBot wires the per-bot limiter, breaker and instrumentation.
func (f *Factory) newBot(token SecretToken) *Bot {
	cfg := f.config

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	bot := &Bot{
		token:   token,
		baseURL: cfg.APIBaseURL,
		config:  cfg,
		client:  f.client,
		logger:  f.logger,
		metrics: cfg.Metrics,
		tracer:  tp.Tracer(tracerName),
	}

	if cfg.RateLimitRequests > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		bot.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRequests), burst)
	}

	if cfg.BreakerEnabled {
		logger := f.logger
		bot.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "telegram-api",
			MaxRequests: cfg.BreakerMaxRequests,
			Interval:    cfg.BreakerInterval,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			// A caller abandoning a long poll says nothing about the API.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return bot
}

// New creates a Bot with its own Factory. This is the simplest way to get
// started:
//
//	bot, err := telegrampoller.New(ctx, os.Getenv("TELEGRAM_BOT_TOKEN"),
//	    telegrampoller.WithPolling(60, 100),
//	    telegrampoller.WithLogger(logger),
//	)
//	stream := bot.Updates()
func New(ctx context.Context, token string, opts ...Option) (*Bot, error) {
	f, err := NewFactory(opts...)
	if err != nil {
		return nil, err
	}
	return f.NewBot(ctx, token)
}

// NewFromConfig loads configuration with LoadConfig and creates the Bot it
// describes.
//
//	bot, err := telegrampoller.NewFromConfig(ctx, "config.yaml",
//	    telegrampoller.WithLogger(logger),  // Override from config
//	)
func NewFromConfig(ctx context.Context, configPath string, opts ...Option) (*Bot, error) {
	cfg, err := LoadConfig(configPath, opts...)
	if err != nil {
		return nil, err
	}
	f, err := newFactory(*cfg)
	if err != nil {
		return nil, err
	}
	return f.NewBot(ctx, cfg.BotToken)
}

// Config returns a copy of the bot configuration.
func (b *Bot) Config() Config {
	return b.config
}

// Logger returns the bot's logger.
func (b *Bot) Logger() *slog.Logger {
	return b.logger
}
