package telegrampoller

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failure returned by the transport, the decoder or the
// update stream.
type ErrorKind int

const (
	// KindTransport is a network or I/O failure reaching the Bot API.
	KindTransport ErrorKind = iota + 1
	// KindCodec is malformed JSON in a request or response body.
	KindCodec
	// KindAPIResponse is the Bot API's own error wrapper.
	KindAPIResponse
	// KindMalformedEnvelope is an update that carries no known payload.
	KindMalformedEnvelope
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindCodec:
		return "codec"
	case KindAPIResponse:
		return "api_response"
	case KindMalformedEnvelope:
		return "malformed_envelope"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrTransport         = errors.New("telegram transport failure")
	ErrCodec             = errors.New("telegram codec failure")
	ErrAPIResponse       = errors.New("telegram API error response")
	ErrMalformedEnvelope = errors.New("malformed update envelope")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindCodec:
		return ErrCodec
	case KindAPIResponse:
		return ErrAPIResponse
	case KindMalformedEnvelope:
		return ErrMalformedEnvelope
	default:
		return nil
	}
}

// Error is the failure type produced by Bot calls and UpdateStream pulls.
type Error struct {
	Kind        ErrorKind
	Method      string // Bot API method, empty for decode failures
	UpdateID    int64  // set for KindMalformedEnvelope
	Code        int    // error_code from the API wrapper, if any
	Description string
	RetryAfter  time.Duration // flood-control hint from the API, if any
	Err         error
}

func (e *Error) Error() string {
	var prefix string
	switch {
	case e.Kind == KindMalformedEnvelope:
		prefix = fmt.Sprintf("telegram update %d", e.UpdateID)
	case e.Method != "":
		prefix = "telegram " + e.Method
	default:
		prefix = "telegram"
	}

	msg := fmt.Sprintf("%s: %s", prefix, e.Kind)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s [%d]", msg, e.Code)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause, so that
// errors.Is works for ErrTransport as well as for context.Canceled.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf reports the ErrorKind of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func transportError(method string, err error) *Error {
	return &Error{Kind: KindTransport, Method: method, Err: err}
}

func codecError(method, description string, err error) *Error {
	return &Error{Kind: KindCodec, Method: method, Description: description, Err: err}
}

// Sentinel errors for configuration.
var (
	ErrBotTokenRequired = errors.New("bot token is required (set TELEGRAM_BOT_TOKEN)")
	ErrInvalidBotToken  = errors.New("bot token has an invalid format")
	ErrInvalidLogPath   = errors.New("log file path escapes the working directory")
)

// Sentinel errors for runtime.
var (
	ErrPollerAlreadyRunning = errors.New("poller is already running")
	ErrPollerStopped        = errors.New("poller has stopped and cannot be restarted")
	ErrMaxRetriesExceeded   = errors.New("max consecutive retries exceeded")
	ErrKindMismatch         = errors.New("event payload is of a different kind")
)
