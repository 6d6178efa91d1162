package telegrampoller

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"
)

// Poller drives an UpdateStream on a background goroutine and hands every
// event to an UpdateHandler. The stream never retries on its own; Poller is
// where the retry policy lives: exponential backoff with jitter after failed
// pulls, and an optional cap on consecutive failures.
//
// A stopped Poller cannot be restarted; create a new one.
type Poller struct {
	stream  *UpdateStream
	handler UpdateHandler
	logger  *slog.Logger
	metrics *Metrics

	maxErrors            int // Max consecutive errors before stopping (0 = unlimited)
	deleteWebhookOnStart bool

	// Retry configuration with exponential backoff
	retryInitialDelay  time.Duration // Initial delay before first retry
	retryMaxDelay      time.Duration // Maximum delay cap
	retryBackoffFactor float64       // Multiplier for each retry (e.g., 2.0 for doubling)

	// State management
	running           atomic.Bool
	consecutiveErrors atomic.Int32 // Exposed for health checks
	stopCh            chan struct{}
	doneCh            chan struct{}
	closeOnce         sync.Once // Prevents double-close panic
	wg                sync.WaitGroup

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	lastErr error
}

// Default retry configuration for exponential backoff
const (
	defaultRetryInitialDelay  = 1 * time.Second
	defaultRetryMaxDelay      = 60 * time.Second
	defaultRetryBackoffFactor = 2.0
)

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithMaxErrors sets the maximum consecutive errors before stopping.
// Set to 0 for unlimited retries.
func WithMaxErrors(max int) PollerOption {
	return func(p *Poller) {
		p.maxErrors = max
	}
}

// WithDeleteWebhook configures the poller to delete any existing webhook
// before starting. getUpdates is refused while a webhook is set.
func WithDeleteWebhook(delete bool) PollerOption {
	return func(p *Poller) {
		p.deleteWebhookOnStart = delete
	}
}

// WithRetryConfig sets exponential backoff parameters for retry logic.
// initialDelay: delay before first retry (default: 1s)
// maxDelay: maximum delay cap (default: 60s)
// backoffFactor: multiplier for each retry (default: 2.0)
func WithRetryConfig(initialDelay, maxDelay time.Duration, backoffFactor float64) PollerOption {
	return func(p *Poller) {
		if initialDelay > 0 {
			p.retryInitialDelay = initialDelay
		}
		if maxDelay > 0 {
			p.retryMaxDelay = maxDelay
		}
		if backoffFactor > 1.0 {
			p.retryBackoffFactor = backoffFactor
		}
	}
}

// NewPoller creates a Poller for stream. Retry settings default to the bot's
// Config and can be overridden with opts.
func NewPoller(stream *UpdateStream, handler UpdateHandler, opts ...PollerOption) *Poller {
	cfg := stream.bot.config

	p := &Poller{
		stream:             stream,
		handler:            handler,
		logger:             stream.logger,
		metrics:            stream.metrics,
		maxErrors:          cfg.PollerMaxErrors,
		retryInitialDelay:  defaultRetryInitialDelay,
		retryMaxDelay:      defaultRetryMaxDelay,
		retryBackoffFactor: defaultRetryBackoffFactor,
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
	WithRetryConfig(cfg.RetryInitialDelay, cfg.RetryMaxDelay, cfg.RetryBackoffFactor)(p)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// calculateBackoff computes the next retry delay using exponential backoff with cryptographic jitter.
// Uses crypto/rand for jitter to avoid thundering herd in distributed systems.
// Formula: min(maxDelay, initialDelay * (backoffFactor ^ attempt)) + random_jitter
func (p *Poller) calculateBackoff(attempt int32) time.Duration {
	baseDelay := float64(p.retryInitialDelay) * math.Pow(p.retryBackoffFactor, float64(attempt-1))

	if baseDelay > float64(p.retryMaxDelay) {
		baseDelay = float64(p.retryMaxDelay)
	}

	// Add cryptographic jitter (0-25% of base delay)
	jitterRange := int64(baseDelay * 0.25)
	if jitterRange > 0 {
		jitterBig, err := rand.Int(rand.Reader, big.NewInt(jitterRange))
		if err == nil {
			baseDelay += float64(jitterBig.Int64())
		}
	}

	return time.Duration(baseDelay)
}

// Start begins polling. If WithDeleteWebhook is set, the webhook is deleted
// first and a failure to do so is returned; Start may then be called again.
// Returns ErrPollerAlreadyRunning if the poller is already running and
// ErrPollerStopped once it has been stopped or has finished on its own.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.running.Load():
		p.mu.Unlock()
		return ErrPollerAlreadyRunning
	case p.started || p.stopRequested():
		p.mu.Unlock()
		return ErrPollerStopped
	}
	p.started = true
	p.running.Store(true)
	p.mu.Unlock()

	if p.deleteWebhookOnStart {
		p.logger.Info("deleting existing webhook before starting long polling")
		if err := p.stream.bot.DeleteWebhook(ctx, false); err != nil {
			p.mu.Lock()
			p.started = false
			p.running.Store(false)
			p.mu.Unlock()
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pollLoop(pollCtx)

	p.logger.Info("long polling started",
		"timeout", p.stream.timeout,
		"limit", p.stream.limit,
		"offset", p.stream.Offset(),
		"max_errors", p.maxErrors,
	)

	return nil
}

// Stop interrupts any in-flight long poll and blocks until the polling
// goroutine has finished. Safe to call multiple times.
func (p *Poller) Stop() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.logger.Info("long polling stopped", "offset", p.stream.Offset())
}

func (p *Poller) stopRequested() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// pollLoop is the main polling loop.
func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.doneCh)
	defer p.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped due to context cancellation")
			return
		case <-p.stopCh:
			p.logger.Info("polling stopped due to stop signal")
			return
		default:
		}

		ev, err := p.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if !p.handleFailure(ctx, err) {
				return
			}
			continue
		}

		p.consecutiveErrors.Store(0)
		p.metrics.setConsecutiveErrors(0)

		if err := p.handler.HandleUpdate(ctx, ev); err != nil {
			p.logger.Error("update handler failed",
				"update_id", ev.UpdateID,
				"kind", ev.Kind.String(),
				"error", err,
			)
		}
	}
}

// handleFailure logs err and sleeps for the backoff delay. It returns false
// when polling should end.
func (p *Poller) handleFailure(ctx context.Context, err error) bool {
	// The stream has already moved past a malformed update.
	if errors.Is(err, ErrMalformedEnvelope) {
		p.logger.Warn("skipping malformed update", "error", err)
		return true
	}

	errCount := p.consecutiveErrors.Add(1)
	p.metrics.setConsecutiveErrors(errCount)

	backoff := p.calculateBackoff(errCount)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > backoff {
		backoff = apiErr.RetryAfter
	}

	p.logger.Error("failed to fetch updates",
		"error", err,
		"kind", KindOf(err).String(),
		"consecutive_errors", errCount,
		"retry_delay", backoff,
	)

	// Check max errors (0 = unlimited)
	if p.maxErrors > 0 && int(errCount) >= p.maxErrors {
		p.logger.Error("max consecutive errors exceeded, stopping polling",
			"max_errors", p.maxErrors,
		)
		p.mu.Lock()
		p.lastErr = fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
		p.mu.Unlock()
		return false
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Running returns true if the poller is currently running.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Done is closed when the polling goroutine exits.
func (p *Poller) Done() <-chan struct{} {
	return p.doneCh
}

// Err returns why polling ended on its own, wrapping ErrMaxRetriesExceeded
// and the last failure. It is nil while running or after Stop.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// IsHealthy returns health status for K8s probes.
// Returns false if not running or too many consecutive errors.
func (p *Poller) IsHealthy() bool {
	if p.maxErrors == 0 {
		// Unlimited errors mode - just check if running
		return p.running.Load()
	}
	return p.running.Load() && int(p.consecutiveErrors.Load()) < p.maxErrors
}

// ConsecutiveErrors returns the current consecutive error count.
func (p *Poller) ConsecutiveErrors() int32 {
	return p.consecutiveErrors.Load()
}

// Offset returns the offset of the underlying stream.
func (p *Poller) Offset() int64 {
	return p.stream.Offset()
}
