package telegrampoller

import (
	"context"
	"encoding/json"
	"net/http"
)

// Receiver defines the lifecycle of a background update consumer.
// This interface allows for easy mocking in tests.
type Receiver interface {
	// Start begins receiving updates from Telegram.
	Start(ctx context.Context) error
	// Stop gracefully stops receiving updates.
	Stop()
	// IsHealthy returns health status for Kubernetes probes.
	IsHealthy() bool
}

// Ensure Poller implements Receiver at compile time.
var _ Receiver = (*Poller)(nil)

// HTTPClient is an interface for HTTP client operations.
// This allows for mocking HTTP calls in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPClient.
var _ HTTPClient = (*http.Client)(nil)

// Caller issues a single named Bot API call. *Bot implements it.
type Caller interface {
	Call(ctx context.Context, method string, payload any) (json.RawMessage, error)
}

// Ensure Bot implements Caller.
var _ Caller = (*Bot)(nil)

// UpdateHandler processes events dispatched by a Poller.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to UpdateHandler.
type HandlerFunc func(ctx context.Context, ev Event) error

// HandleUpdate calls f(ctx, ev).
func (f HandlerFunc) HandleUpdate(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
