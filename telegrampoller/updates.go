package telegrampoller

import (
	"cmp"
	"context"
	"iter"
	"log/slog"
	"slices"
	"time"
)

// UpdateStream turns getUpdates into an ordered, duplicate-free sequence of
// events. It keeps at most one getUpdates request in flight and fetches the
// next batch only after the buffered one has been drained.
//
// An UpdateStream is meant for a single consumer. Concurrent calls to Next are
// serialized rather than overlapped.
type UpdateStream struct {
	bot     *Bot
	logger  *slog.Logger
	metrics *Metrics

	timeout int
	limit   int
	allowed []string

	tracker offsetTracker
	pending []Envelope
	slot    chan struct{}
}

// StreamOption configures an UpdateStream.
type StreamOption func(*UpdateStream)

// WithStreamOffset sets the offset of the first getUpdates request.
func WithStreamOffset(offset int64) StreamOption {
	return func(s *UpdateStream) { s.tracker.set(offset) }
}

// WithStreamTimeout sets the long-poll timeout in seconds.
func WithStreamTimeout(seconds int) StreamOption {
	return func(s *UpdateStream) { s.timeout = seconds }
}

// WithStreamLimit sets the maximum batch size (0 = server default).
func WithStreamLimit(limit int) StreamOption {
	return func(s *UpdateStream) { s.limit = limit }
}

// WithStreamAllowedUpdates restricts the update kinds the API returns.
func WithStreamAllowedUpdates(kinds ...Kind) StreamOption {
	return func(s *UpdateStream) {
		s.allowed = make([]string, 0, len(kinds))
		for _, k := range kinds {
			s.allowed = append(s.allowed, k.String())
		}
	}
}

// Updates returns a new UpdateStream for the bot, configured from the bot's
// Config and opts. Each stream tracks its own offset; restarting means
// creating a new stream.
func (b *Bot) Updates(opts ...StreamOption) *UpdateStream {
	s := &UpdateStream{
		bot:     b,
		logger:  b.logger,
		metrics: b.metrics,
		timeout: b.config.PollTimeout,
		limit:   b.config.PollLimit,
		allowed: b.config.AllowedUpdates,
		slot:    make(chan struct{}, 1),
	}
	s.tracker.set(b.config.InitialOffset)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Offset returns the offset the next getUpdates request will carry.
func (s *UpdateStream) Offset() int64 {
	return s.tracker.offset()
}

// Next returns the next event, fetching a new batch when the buffered one is
// exhausted. Empty batches are re-polled immediately.
//
// A failed fetch is returned as is and leaves the stream idle with its offset
// unchanged; calling Next again retries. An update without a known payload is
// returned as a KindMalformedEnvelope error after the offset has moved past
// it, so the next call continues with the following update.
func (s *UpdateStream) Next(ctx context.Context) (Event, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return Event{}, transportError("getUpdates", ctx.Err())
	}
	defer func() { <-s.slot }()

	for {
		if ev, ok, err := s.drain(); ok {
			return ev, err
		}

		batch, err := s.fetch(ctx)
		if err != nil {
			return Event{}, err
		}
		s.pending = batch
	}
}

// drain pops buffered envelopes in ascending id order until one is new.
// ok is false when the buffer ran empty.
func (s *UpdateStream) drain() (Event, bool, error) {
	for len(s.pending) > 0 {
		env := s.pending[0]
		s.pending[0] = Envelope{}
		s.pending = s.pending[1:]

		if !s.tracker.accept(env.UpdateID) {
			s.metrics.duplicate()
			s.logger.Debug("dropping already acknowledged update",
				"update_id", env.UpdateID,
				"offset", s.tracker.offset(),
			)
			continue
		}
		s.metrics.setOffset(s.tracker.offset())

		ev, err := env.Decode()
		if err != nil {
			s.metrics.malformed()
			s.logger.Warn("update has no known payload", "update_id", env.UpdateID)
			return Event{}, true, err
		}

		s.metrics.event(ev.Kind)
		return ev, true, nil
	}
	s.pending = nil
	return Event{}, false, nil
}

// fetch issues one getUpdates call for the current offset and returns the
// batch sorted by update id. The call is abandoned once the poll timeout plus
// the configured slack has passed.
func (s *UpdateStream) fetch(ctx context.Context) ([]Envelope, error) {
	deadline := time.Duration(s.timeout)*time.Second + s.bot.config.HTTPTimeoutSlack
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req := getUpdatesRequest{
		Offset:         s.tracker.offset(),
		Timeout:        s.timeout,
		Limit:          s.limit,
		AllowedUpdates: s.allowed,
	}

	var batch []Envelope
	if err := s.bot.Do(ctx, "getUpdates", req, &batch); err != nil {
		return nil, err
	}

	slices.SortStableFunc(batch, func(a, b Envelope) int {
		return cmp.Compare(a.UpdateID, b.UpdateID)
	})

	if len(batch) > 0 {
		s.logger.Debug("fetched updates",
			"count", len(batch),
			"offset", req.Offset,
			"first_update_id", batch[0].UpdateID,
			"last_update_id", batch[len(batch)-1].UpdateID,
		)
	}
	return batch, nil
}

// All returns an iterator over the stream. Failures are yielded alongside a
// zero Event and iteration continues after them; it ends when the consumer
// breaks out of the loop or ctx is done. Retry pacing is up to the consumer:
//
//	for ev, err := range stream.All(ctx) {
//	    if err != nil {
//	        time.Sleep(time.Second)
//	        continue
//	    }
//	    handle(ev)
//	}
func (s *UpdateStream) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for ctx.Err() == nil {
			ev, err := s.Next(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}
