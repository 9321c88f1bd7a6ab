package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkazmin/clientd/internal/eventbus"
)

func collectEvents(t *testing.T, bus *eventbus.Bus, types ...eventbus.EventType) <-chan eventbus.Event {
	t.Helper()
	ch := make(chan eventbus.Event, 10)
	for _, eventType := range types {
		bus.Subscribe(eventType, func(ev eventbus.Event) {
			ch <- ev
		})
	}
	return ch
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return eventbus.Event{}
	}
}

func newTestServer(t *testing.T) (*Server, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})
	return NewServer("127.0.0.1", 0, bus), bus
}

func TestClientHookPublishesAccountUpdated(t *testing.T) {
	srv, bus := newTestServer(t)
	events := collectEvents(t, bus, eventbus.EventAccountUpdated)

	req := httptest.NewRequest(http.MethodPost, "/hooks/client",
		strings.NewReader(`{"clientId": "c1", "event": "validity.changed"}`))
	rec := httptest.NewRecorder()
	srv.handleClientHook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	ev := waitEvent(t, events)
	require.Equal(t, "c1", ev.ClientID())
	require.Equal(t, "validity.changed", ev.Data["trigger"])
	require.Equal(t, "webhook", ev.Data["source"])
}

func TestClientHookRejectsMissingClientID(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/hooks/client", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.handleClientHook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientHookRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/hooks/client", nil)
	rec := httptest.NewRecorder()
	srv.handleClientHook(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCommitHookMapsOutcomeToEventType(t *testing.T) {
	srv, bus := newTestServer(t)
	applied := collectEvents(t, bus, eventbus.EventCommitApplied)
	failed := collectEvents(t, bus, eventbus.EventCommitFailed)

	req := httptest.NewRequest(http.MethodPost, "/hooks/commit",
		strings.NewReader(`{"clientId": "c1", "op": "validity", "ok": true, "idempotencyKey": "k1"}`))
	rec := httptest.NewRecorder()
	srv.handleCommitHook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ev := waitEvent(t, applied)
	require.Equal(t, "c1", ev.ClientID())
	require.Equal(t, "validity", ev.Data["op"])
	require.Equal(t, "k1", ev.Data["idempotency_key"])

	req = httptest.NewRequest(http.MethodPost, "/hooks/commit",
		strings.NewReader(`{"clientId": "c2", "op": "permissions", "ok": false, "message": "limit out of range"}`))
	rec = httptest.NewRecorder()
	srv.handleCommitHook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ev = waitEvent(t, failed)
	require.Equal(t, "c2", ev.ClientID())
	require.Equal(t, "limit out of range", ev.Data["message"])
}

func TestRefreshHookPublishesRefreshRequested(t *testing.T) {
	srv, bus := newTestServer(t)
	events := collectEvents(t, bus, eventbus.EventRefreshRequested)

	req := httptest.NewRequest(http.MethodPost, "/hooks/refresh", nil)
	rec := httptest.NewRecorder()
	srv.handleRefresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	waitEvent(t, events)
}
