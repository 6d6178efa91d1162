package telegrampoller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 16 << 20

// Bot is a handle to one bot account. It issues Bot API calls over the HTTP
// client of the Factory that created it; calls are independent and a Bot is
// safe for concurrent use.
type Bot struct {
	token   SecretToken
	baseURL string
	config  Config
	me      User

	client  HTTPClient
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// apiResponse is the generic response wrapper of the Bot API.
type apiResponse struct {
	OK          *bool               `json:"ok"`
	Result      json.RawMessage     `json:"result"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

// responseParameters describes why a request was unsuccessful.
// See https://core.telegram.org/bots/api#responseparameters
type responseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// getUpdatesRequest is the request body for getUpdates.
type getUpdatesRequest struct {
	Offset         int64    `json:"offset"`
	Timeout        int      `json:"timeout"`
	Limit          int      `json:"limit,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// deleteWebhookRequest is the request body for deleteWebhook API call.
type deleteWebhookRequest struct {
	DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
}

// sendMessageRequest is the request body for sendMessage.
type sendMessageRequest struct {
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int    `json:"reply_to_message_id,omitempty"`
}

// defaultHTTPClient returns the shared HTTP client. It has no overall
// timeout: getUpdates calls carry their own deadline sized to the poll
// timeout of the stream that issues them.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// Call issues one Bot API call and returns the raw "result" value. payload is
// encoded as the JSON request body; nil sends an empty object.
//
// The call is attempted exactly once. Failures are *Error values of kind
// KindTransport, KindCodec or KindAPIResponse.
func (b *Bot) Call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "telegram."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	defer span.End()

	start := time.Now()
	result, err := b.call(ctx, method, payload)
	elapsed := time.Since(start)
	b.metrics.observeCall(method, err, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Debug("telegram call failed",
			"method", method,
			"kind", KindOf(err).String(),
			"error", err,
			"elapsed", elapsed,
		)
		return nil, err
	}

	b.logger.Debug("telegram call succeeded", "method", method, "elapsed", elapsed)
	return result, nil
}

// Do issues a call like Call and decodes the result into out.
func (b *Bot) Do(ctx context.Context, method string, payload, out any) error {
	result, err := b.Call(ctx, method, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return codecError(method, "decoding result", err)
	}
	return nil
}

func (b *Bot) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, codecError(method, "encoding request", err)
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, transportError(method, err)
		}
	}

	roundTrip := func() ([]byte, error) { return b.roundTrip(ctx, method, body) }
	var raw []byte
	if b.breaker != nil {
		raw, err = b.breaker.Execute(roundTrip)
	} else {
		raw, err = roundTrip()
	}
	if err != nil {
		return nil, transportError(method, err)
	}

	return parseResponse(method, raw)
}

// roundTrip POSTs body and returns the full response body. The HTTP status is
// not inspected: the Bot API reports failures inside the JSON wrapper.
func (b *Bot) roundTrip(ctx context.Context, method string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return nil, b.redact(method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, b.redact(method, err)
	}
	defer func() {
		// Always drain remaining body for connection reuse
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, b.redact(method, err)
	}
	return raw, nil
}

func (b *Bot) methodURL(method string) string {
	return b.baseURL + "/bot" + b.token.Value() + "/" + method
}

// redact strips the token from *url.Error values, which embed the request URL.
func (b *Bot) redact(method string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = b.baseURL + "/bot" + b.token.String() + "/" + method
	}
	return err
}

// parseResponse interprets the {ok, result} / {ok, description} wrapper.
func parseResponse(method string, raw []byte) (json.RawMessage, error) {
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, codecError(method, "decoding response", err)
	}

	failed := resp.OK != nil && !*resp.OK
	if !failed && resp.Result != nil {
		return resp.Result, nil
	}
	if failed || resp.Description != "" {
		apiErr := &Error{
			Kind:        KindAPIResponse,
			Method:      method,
			Code:        resp.ErrorCode,
			Description: resp.Description,
		}
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return nil, apiErr
	}
	return nil, codecError(method, "response carries neither result nor description", nil)
}

// GetMe returns the bot's own user. NewBot calls it once to validate the token.
func (b *Bot) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := b.Do(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Me returns the identity reported by getMe when the Bot was created.
func (b *Bot) Me() User {
	return b.me
}

// Token returns the bot token wrapped for safe logging.
func (b *Bot) Token() SecretToken {
	return b.token
}

// DeleteWebhook removes a configured webhook so that getUpdates is allowed.
// See https://core.telegram.org/bots/api#deletewebhook
func (b *Bot) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	var ok bool
	if err := b.Do(ctx, "deleteWebhook", deleteWebhookRequest{DropPendingUpdates: dropPendingUpdates}, &ok); err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: KindAPIResponse, Method: "deleteWebhook", Description: "webhook was not deleted"}
	}
	return nil
}

// SendMessage sends a text message to chatID.
// See https://core.telegram.org/bots/api#sendmessage
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	var msg Message
	if err := b.Do(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Reply sends text to the chat of msg as a reply to it.
func (b *Bot) Reply(ctx context.Context, msg *Message, text string) (*Message, error) {
	if msg == nil || msg.Chat == nil {
		return nil, &Error{Kind: KindCodec, Method: "sendMessage", Description: "reply target has no chat"}
	}
	req := sendMessageRequest{ChatID: msg.Chat.ID, Text: text, ReplyToMessageID: msg.MessageID}
	var out Message
	if err := b.Do(ctx, "sendMessage", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
