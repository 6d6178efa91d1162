package telegrampoller

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Factory or Bot. Use With* functions to create options.
type Option interface {
	apply(*Config)
}

// optionFunc wraps a function to implement Option interface.
type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// DefaultAPIBaseURL is the public Bot API host.
const DefaultAPIBaseURL = "https://api.telegram.org"

// DefaultPollTimeout is how long, in seconds, the API may hold a getUpdates
// request open before answering with an empty batch.
const DefaultPollTimeout = 120

// Config holds all configuration for a Factory and the bots it creates.
// Use DefaultConfig() to get sensible defaults.
type Config struct {
	// Required for NewFromConfig; New and Factory.NewBot take it as an argument.
	BotToken   string `koanf:"bot_token" validate:"bottoken"`
	APIBaseURL string `koanf:"api_base_url" validate:"required,url"`

	// getUpdates parameters
	PollTimeout    int      `koanf:"poll_timeout" validate:"gte=0,lte=600"`
	PollLimit      int      `koanf:"poll_limit" validate:"gte=0,lte=100"`
	InitialOffset  int64    `koanf:"initial_offset"`
	AllowedUpdates []string `koanf:"allowed_updates" validate:"dive,updatekind"`

	// Extra time on top of a stream's poll timeout before a getUpdates call is abandoned.
	HTTPTimeoutSlack time.Duration `koanf:"http_timeout_slack" validate:"gte=0"`

	// Client-side rate limiting of outgoing calls (0 = unlimited).
	RateLimitRequests float64 `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitBurst    int     `koanf:"rate_limit_burst" validate:"gte=0"`

	// Circuit breaker around the HTTP round trip
	BreakerEnabled     bool          `koanf:"breaker_enabled"`
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval" validate:"gte=0"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout" validate:"gte=0"`

	// Poller retry policy (exponential backoff)
	PollerMaxErrors    int           `koanf:"poller_max_errors" validate:"gte=0"`
	RetryInitialDelay  time.Duration `koanf:"retry_initial_delay" validate:"gte=0"`
	RetryMaxDelay      time.Duration `koanf:"retry_max_delay" validate:"gte=0"`
	RetryBackoffFactor float64       `koanf:"retry_backoff_factor" validate:"gte=0"`

	// Logging
	LogLevel    string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFilePath string `koanf:"log_file_path"`

	Logger         *slog.Logger         `koanf:"-" validate:"-"`
	HTTPClient     HTTPClient           `koanf:"-" validate:"-"`
	Metrics        *Metrics             `koanf:"-" validate:"-"`
	TracerProvider trace.TracerProvider `koanf:"-" validate:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:         DefaultAPIBaseURL,
		PollTimeout:        DefaultPollTimeout,
		HTTPTimeoutSlack:   10 * time.Second,
		RateLimitBurst:     1,
		BreakerEnabled:     true,
		BreakerMaxRequests: 5,
		BreakerInterval:    2 * time.Minute,
		BreakerTimeout:     60 * time.Second,
		PollerMaxErrors:    10,
		RetryInitialDelay:  time.Second,
		RetryMaxDelay:      60 * time.Second,
		RetryBackoffFactor: 2.0,
		LogLevel:           "info",
	}
}

// WithAPIBaseURL points the client at a different Bot API server, such as a
// self-hosted telegram-bot-api instance.
func WithAPIBaseURL(url string) Option {
	return optionFunc(func(c *Config) { c.APIBaseURL = url })
}

// WithPolling sets the getUpdates timeout (seconds) and batch limit
// (0 = server default).
func WithPolling(timeout, limit int) Option {
	return optionFunc(func(c *Config) {
		c.PollTimeout = timeout
		c.PollLimit = limit
	})
}

// WithInitialOffset sets the offset the first getUpdates call requests.
func WithInitialOffset(offset int64) Option {
	return optionFunc(func(c *Config) { c.InitialOffset = offset })
}

// WithAllowedUpdateTypes filters which update types to receive.
func WithAllowedUpdateTypes(types []string) Option {
	return optionFunc(func(c *Config) { c.AllowedUpdates = types })
}

// WithHTTPTimeoutSlack sets the margin added to the poll timeout when
// bounding each getUpdates call.
func WithHTTPTimeoutSlack(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.HTTPTimeoutSlack = d })
}

// WithRateLimit limits outgoing calls per bot. requestsPerSecond of 0 disables it.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return optionFunc(func(c *Config) {
		c.RateLimitRequests = requestsPerSecond
		c.RateLimitBurst = burst
	})
}

// WithBreakerConfig configures the circuit breaker.
func WithBreakerConfig(maxRequests uint32, interval, timeout time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.BreakerEnabled = true
		c.BreakerMaxRequests = maxRequests
		c.BreakerInterval = interval
		c.BreakerTimeout = timeout
	})
}

// WithoutBreaker disables the circuit breaker.
func WithoutBreaker() Option {
	return optionFunc(func(c *Config) { c.BreakerEnabled = false })
}

// WithPollerMaxErrors sets maximum consecutive errors before a Poller stops.
// Set to 0 for unlimited retries.
func WithPollerMaxErrors(max int) Option {
	return optionFunc(func(c *Config) { c.PollerMaxErrors = max })
}

// WithRetry configures the Poller's exponential backoff.
func WithRetry(initialDelay, maxDelay time.Duration, backoffFactor float64) Option {
	return optionFunc(func(c *Config) {
		c.RetryInitialDelay = initialDelay
		c.RetryMaxDelay = maxDelay
		c.RetryBackoffFactor = backoffFactor
	})
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(c *Config) { c.Logger = logger })
}

// WithLogFile sets the log file path used when no Logger is given.
func WithLogFile(path string) Option {
	return optionFunc(func(c *Config) { c.LogFilePath = path })
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(client HTTPClient) Option {
	return optionFunc(func(c *Config) { c.HTTPClient = client })
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return optionFunc(func(c *Config) { c.Metrics = m })
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(c *Config) { c.TracerProvider = tp })
}

// Presets for common configurations

// ProductionPreset returns options suitable for production environments.
func ProductionPreset() Option {
	return optionFunc(func(c *Config) {
		c.PollerMaxErrors = 0
		c.RetryInitialDelay = 2 * time.Second
		c.RetryMaxDelay = 60 * time.Second
		c.BreakerEnabled = true
		c.BreakerMaxRequests = 5
		c.RateLimitRequests = 30
		c.RateLimitBurst = 30
	})
}

// DevelopmentPreset returns options suitable for development.
func DevelopmentPreset() Option {
	return optionFunc(func(c *Config) {
		c.PollTimeout = 10
		c.PollerMaxErrors = 3
		c.RetryInitialDelay = 500 * time.Millisecond
		c.RetryMaxDelay = 5 * time.Second
		c.BreakerMaxRequests = 2
		c.LogLevel = "debug"
	})
}
