package telegrampoller

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Stream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	f := newFakeAPI(t,
		batch(2, 1, `{"update_id":3}`, `{"update_id":4,"callback_query":{"id":"c"}}`),
		`{"ok":false,"error_code":401,"description":"Unauthorized"}`,
		batch(3, 5),
	)
	stream := newTestBot(t, f, WithMetrics(m)).Updates()

	nextEvent(t, stream) // 1
	nextEvent(t, stream) // 2
	nextError(t, stream) // 3 malformed
	nextEvent(t, stream) // 4
	nextError(t, stream) // 401
	nextEvent(t, stream) // 5, after dropping 3

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("message")); got != 3 {
		t.Errorf("message events = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("callback_query")); got != 1 {
		t.Errorf("callback_query events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MalformedEnvelopes); got != 1 {
		t.Errorf("malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DuplicatesDropped); got != 1 {
		t.Errorf("duplicates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Offset); got != 6 {
		t.Errorf("offset gauge = %v, want 6", got)
	}

	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("getMe", "ok")); got != 1 {
		t.Errorf("getMe ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("getUpdates", "ok")); got != 2 {
		t.Errorf("getUpdates ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("getUpdates", "api_response")); got != 1 {
		t.Errorf("getUpdates api_response = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.CallDuration); got != 2 {
		t.Errorf("duration series = %d, want 2 (getMe, getUpdates)", got)
	}
}

func TestMetrics_PollerConsecutiveErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	f := newFakeAPI(t, apiUnavailable, apiUnavailable)
	p := NewPoller(newTestBot(t, f, WithMetrics(m)).Updates(), newCollector(), WithMaxErrors(2), fastRetry())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	if got := testutil.ToFloat64(m.PollerConsecutiveErrors); got != 2 {
		t.Errorf("consecutive errors gauge = %v, want 2", got)
	}
}

func TestMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.duplicate()
	m.setOffset(42)

	expected := `
# HELP telegrampoller_stream_duplicates_dropped_total Updates dropped because their id was below the offset.
# TYPE telegrampoller_stream_duplicates_dropped_total counter
telegrampoller_stream_duplicates_dropped_total 1
# HELP telegrampoller_stream_offset Next getUpdates offset.
# TYPE telegrampoller_stream_offset gauge
telegrampoller_stream_offset 42
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"telegrampoller_stream_duplicates_dropped_total",
		"telegrampoller_stream_offset",
	)
	if err != nil {
		t.Error(err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observeCall("getMe", nil, time.Millisecond)
	m.event(KindMessage)
	m.duplicate()
	m.malformed()
	m.setOffset(1)
	m.setConsecutiveErrors(1)
}
