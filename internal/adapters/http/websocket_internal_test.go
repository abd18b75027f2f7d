package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/roadreport/internal/adapters/memory"
	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/usecases"
)

type fakeConn struct {
	in  chan []byte
	out chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan []byte, 64)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, msg, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage {
		f.out <- data
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

type wsHarness struct {
	t     *testing.T
	conn  *fakeConn
	store *memory.ReportStore
	clock *clock.Mock
	done  chan struct{}

	pending []map[string]any
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{
		t:     t,
		conn:  newFakeConn(),
		store: memory.NewReportStore(0),
		clock: clock.NewMock(),
		done:  make(chan struct{}),
	}
	h.clock.Add(400 * 24 * time.Hour)
	h.store.Add(domain.ConditionReport{
		ID: "ice-1", Location: domain.GeoPoint{Lat: 42.3601, Lng: -71.0589},
		ConditionType: domain.ConditionIce, Severity: 2, SubmittedAt: h.clock.Now(),
	})

	svc := usecases.NewHeatmapService(h.store, h.clock)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := usecases.NewFreshnessCoordinator(svc, h.store, usecases.FreshnessConfig{Clock: h.clock, Logger: logger})

	s := newWSSession(context.Background(), coord, h.conn, logger)
	go func() {
		defer close(h.done)
		s.serve()
	}()
	t.Cleanup(h.close)
	return h
}

func (h *wsHarness) send(raw string) { h.conn.in <- []byte(raw) }

func (h *wsHarness) close() {
	select {
	case <-h.done:
		return
	default:
	}
	close(h.conn.in)
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("session did not stop")
	}
}

// expect returns the oldest message of type typ, reading more as needed.
// Messages of other types are kept for later calls.
func (h *wsHarness) expect(typ string) map[string]any {
	h.t.Helper()
	for i, m := range h.pending {
		if m["type"] == typ {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return m
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-h.conn.out:
			var m map[string]any
			require.NoError(h.t, json.Unmarshal(raw, &m))
			if m["type"] == typ {
				return m
			}
			h.pending = append(h.pending, m)
		case <-deadline:
			h.t.Fatalf("no %q message received", typ)
			return nil
		}
	}
}

func (h *wsHarness) expectSilence() {
	h.t.Helper()
	require.Empty(h.t, h.pending)
	select {
	case raw := <-h.conn.out:
		h.t.Fatalf("unexpected message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func settleWS() { time.Sleep(20 * time.Millisecond) }

const subscribeBoston = `{"action":"subscribe","viewport":{"south":42.34,"north":42.38,"west":-71.12,"east":-71.05,"zoom":13}}`

func TestWSSession_SubscribeDeliversInitialCells(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)

	cells := h.expect("cells")
	assert.Equal(t, "initial", cells["trigger"])
	assert.EqualValues(t, 1, cells["seq"])
	assert.EqualValues(t, 13, cells["zoom"])
	assert.EqualValues(t, 1, cells["count"])

	first := cells["cells"].([]any)[0].(map[string]any)
	assert.Equal(t, "ice", first["top_condition"])
	assert.InDelta(t, 2.0, first["avg_score"], 1e-9)
}

func TestWSSession_StatusCarriesSubscriptionID(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)

	status := h.expect("status")
	assert.Equal(t, "subscribed", status["status"])
	assert.NotEmpty(t, status["subscription_id"])

	h.send(subscribeBoston)
	again := h.expect("status")
	assert.Equal(t, "already subscribed", again["status"])
	assert.Equal(t, status["subscription_id"], again["subscription_id"])
}

func TestWSSession_ActivityRedeliversWithoutFetch(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)
	h.expect("cells")

	h.send(`{"action":"activity","activity":"running"}`)
	cells := h.expect("cells")
	assert.Equal(t, "activity", cells["trigger"])
	assert.EqualValues(t, 1, cells["seq"])
	assert.Equal(t, "running", cells["activity"])
	first := cells["cells"].([]any)[0].(map[string]any)
	assert.InDelta(t, 3.0, first["avg_score"], 1e-9)
}

func TestWSSession_ViewportAndSubmitted(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)
	h.expect("cells")

	h.send(`{"action":"viewport","viewport":{"south":40.70,"north":40.75,"west":-74.02,"east":-73.97,"zoom":12}}`)
	moved := h.expect("cells")
	assert.Equal(t, "viewport", moved["trigger"])
	assert.EqualValues(t, 2, moved["seq"])
	assert.EqualValues(t, 0, moved["count"])

	h.send(`{"action":"submitted"}`)
	manual := h.expect("cells")
	assert.Equal(t, "manual", manual["trigger"])
	assert.EqualValues(t, 3, manual["seq"])
}

func TestWSSession_NotificationIsDebounced(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)
	h.expect("cells")
	h.expect("status")

	h.store.Add(domain.ConditionReport{
		ID: "ice-2", Location: domain.GeoPoint{Lat: 42.3602, Lng: -71.0588},
		ConditionType: domain.ConditionIce, Severity: 3, SubmittedAt: h.clock.Now(),
	})
	settleWS()
	h.expectSilence()

	h.clock.Add(usecases.DefaultDebounceWindow)
	cells := h.expect("cells")
	assert.Equal(t, "notification", cells["trigger"])
	first := cells["cells"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 2, first["report_count"])
}

func TestWSSession_ClientErrors(t *testing.T) {
	h := newWSHarness(t)

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"invalid json", `{"action":`, "invalid JSON"},
		{"unknown action", `{"action":"dance"}`, "unknown action: dance"},
		{"viewport before subscribe", `{"action":"viewport","viewport":{"south":1,"north":2,"west":1,"east":2,"zoom":3}}`, "subscribe first"},
		{"unsubscribe before subscribe", `{"action":"unsubscribe"}`, "not subscribed"},
		{"missing viewport", `{"action":"subscribe"}`, "viewport is required"},
		{"missing zoom", `{"action":"subscribe","viewport":{"south":1,"north":2,"west":1,"east":2}}`, "missing query parameters: zoom"},
		{"bad bounds", `{"action":"subscribe","viewport":{"south":5,"north":2,"west":1,"east":2,"zoom":3}}`, "invalid heatmap query"},
		{"bad activity", `{"action":"subscribe","viewport":{"south":1,"north":2,"west":1,"east":2,"zoom":3},"activity":"surfing"}`, "unknown activity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.send(tt.msg)
			m := h.expect("error")
			assert.Equal(t, codeBadRequest, m["code"])
			assert.Contains(t, m["message"], tt.want)
		})
	}
}

func TestWSSession_UnsubscribeStopsUpdates(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)
	h.expect("cells")
	h.expect("status")

	h.send(`{"action":"unsubscribe"}`)
	status := h.expect("status")
	assert.Equal(t, "unsubscribed", status["status"])

	h.clock.Add(usecases.DefaultPollInterval)
	settleWS()
	h.expectSilence()

	h.send(`{"action":"submitted"}`)
	assert.Equal(t, "subscribe first", h.expect("error")["message"])
}

func TestWSSession_DisconnectReleasesSubscription(t *testing.T) {
	h := newWSHarness(t)
	h.send(subscribeBoston)
	h.expect("cells")
	h.expect("status")

	h.close()

	h.clock.Add(usecases.DefaultPollInterval)
	settleWS()
	h.expectSilence()
}
