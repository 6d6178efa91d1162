package telegrampoller

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies which payload an update carries.
type Kind int

// Kinds in decode priority order.
const (
	KindMessage Kind = iota + 1
	KindEditedMessage
	KindChannelPost
	KindEditedChannelPost
	KindInlineQuery
	KindChosenInlineResult
	KindCallbackQuery
	KindShippingQuery
	KindPreCheckoutQuery
)

var kindNames = [...]string{
	KindMessage:            "message",
	KindEditedMessage:      "edited_message",
	KindChannelPost:        "channel_post",
	KindEditedChannelPost:  "edited_channel_post",
	KindInlineQuery:        "inline_query",
	KindChosenInlineResult: "chosen_inline_result",
	KindCallbackQuery:      "callback_query",
	KindShippingQuery:      "shipping_query",
	KindPreCheckoutQuery:   "pre_checkout_query",
}

// String returns the wire name of the update slot, e.g. "callback_query".
func (k Kind) String() string {
	if k < KindMessage || k > KindPreCheckoutQuery {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindMessage; k <= KindPreCheckoutQuery; k++ {
		if kindNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

// Envelope is one raw record of a getUpdates result. Payloads stay raw until
// Decode picks the populated slot.
// See https://core.telegram.org/bots/api#update
type Envelope struct {
	UpdateID           int64           `json:"update_id"`
	Message            json.RawMessage `json:"message,omitempty"`
	EditedMessage      json.RawMessage `json:"edited_message,omitempty"`
	ChannelPost        json.RawMessage `json:"channel_post,omitempty"`
	EditedChannelPost  json.RawMessage `json:"edited_channel_post,omitempty"`
	InlineQuery        json.RawMessage `json:"inline_query,omitempty"`
	ChosenInlineResult json.RawMessage `json:"chosen_inline_result,omitempty"`
	CallbackQuery      json.RawMessage `json:"callback_query,omitempty"`
	ShippingQuery      json.RawMessage `json:"shipping_query,omitempty"`
	PreCheckoutQuery   json.RawMessage `json:"pre_checkout_query,omitempty"`
}

// slots lists the payload slots in decode priority order.
func (e *Envelope) slots() [9]json.RawMessage {
	return [9]json.RawMessage{
		e.Message,
		e.EditedMessage,
		e.ChannelPost,
		e.EditedChannelPost,
		e.InlineQuery,
		e.ChosenInlineResult,
		e.CallbackQuery,
		e.ShippingQuery,
		e.PreCheckoutQuery,
	}
}

var jsonNull = []byte("null")

func populated(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, jsonNull)
}

// Decode returns the first populated slot as an Event. The API guarantees at
// most one slot per update; if several are set the priority order decides.
// An envelope with no populated slot yields a KindMalformedEnvelope error.
func (e *Envelope) Decode() (Event, error) {
	for i, raw := range e.slots() {
		if populated(raw) {
			return Event{
				UpdateID: e.UpdateID,
				Kind:     Kind(i + 1),
				Payload:  raw,
			}, nil
		}
	}
	return Event{}, &Error{
		Kind:        KindMalformedEnvelope,
		UpdateID:    e.UpdateID,
		Description: "update carries no known payload",
	}
}

// Event is a decoded update: the kind tag plus the raw payload of that kind.
type Event struct {
	UpdateID int64
	Kind     Kind
	Payload  json.RawMessage
}

// Decode unmarshals the raw payload into v.
func (ev Event) Decode(v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return codecError("", fmt.Sprintf("decoding %s payload of update %d", ev.Kind, ev.UpdateID), err)
	}
	return nil
}

func decodeAs[T any](ev Event, kinds ...Kind) (*T, error) {
	match := false
	for _, k := range kinds {
		if ev.Kind == k {
			match = true
			break
		}
	}
	if !match {
		return nil, fmt.Errorf("%w: have %s", ErrKindMismatch, ev.Kind)
	}
	v := new(T)
	if err := ev.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Message decodes a KindMessage payload.
func (ev Event) Message() (*Message, error) { return decodeAs[Message](ev, KindMessage) }

// EditedMessage decodes a KindEditedMessage payload.
func (ev Event) EditedMessage() (*Message, error) { return decodeAs[Message](ev, KindEditedMessage) }

// ChannelPost decodes a KindChannelPost payload.
func (ev Event) ChannelPost() (*Message, error) { return decodeAs[Message](ev, KindChannelPost) }

// EditedChannelPost decodes a KindEditedChannelPost payload.
func (ev Event) EditedChannelPost() (*Message, error) {
	return decodeAs[Message](ev, KindEditedChannelPost)
}

// AnyMessage decodes the payload of any of the four message-shaped kinds.
func (ev Event) AnyMessage() (*Message, error) {
	return decodeAs[Message](ev, KindMessage, KindEditedMessage, KindChannelPost, KindEditedChannelPost)
}

// InlineQuery decodes a KindInlineQuery payload.
func (ev Event) InlineQuery() (*InlineQuery, error) {
	return decodeAs[InlineQuery](ev, KindInlineQuery)
}

// ChosenInlineResult decodes a KindChosenInlineResult payload.
func (ev Event) ChosenInlineResult() (*ChosenInlineResult, error) {
	return decodeAs[ChosenInlineResult](ev, KindChosenInlineResult)
}

// CallbackQuery decodes a KindCallbackQuery payload.
func (ev Event) CallbackQuery() (*CallbackQuery, error) {
	return decodeAs[CallbackQuery](ev, KindCallbackQuery)
}

// ShippingQuery decodes a KindShippingQuery payload.
func (ev Event) ShippingQuery() (*ShippingQuery, error) {
	return decodeAs[ShippingQuery](ev, KindShippingQuery)
}

// PreCheckoutQuery decodes a KindPreCheckoutQuery payload.
func (ev Event) PreCheckoutQuery() (*PreCheckoutQuery, error) {
	return decodeAs[PreCheckoutQuery](ev, KindPreCheckoutQuery)
}
