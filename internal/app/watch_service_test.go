package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkazmin/clientd/internal/api"
	"github.com/dkazmin/clientd/internal/audit"
	"github.com/dkazmin/clientd/internal/bulk"
	"github.com/dkazmin/clientd/internal/db"
	"github.com/dkazmin/clientd/internal/eventbus"
	"github.com/dkazmin/clientd/internal/notify"
	"github.com/dkazmin/clientd/internal/validity"
)

type fakeSource struct {
	mu      sync.Mutex
	records map[string]validity.Record
}

func (f *fakeSource) Load(ctx context.Context, clientID string) (validity.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[clientID]; ok {
		return rec, nil
	}
	return validity.Unknown(), nil
}

func (f *fakeSource) set(clientID string, rec validity.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[clientID] = rec
}

type fakeDirectory struct {
	accounts []api.Account
}

func (f *fakeDirectory) ListAccounts(ctx context.Context) ([]api.Account, error) {
	return f.accounts, nil
}

func newTestWatch(t *testing.T, source *fakeSource, directory Directory) (*WatchService, *notify.Center, *audit.Ledger) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "watch.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ledger := audit.New(database.DB)
	center := notify.NewCenter(10, time.Minute)
	t.Cleanup(center.Close)

	loader := bulk.New(source, bulk.Config{TTL: time.Millisecond})

	return NewWatchService(nil, time.Minute, loader, directory, center, ledger), center, ledger
}

func TestRefreshAllTracksDirectoryStatuses(t *testing.T) {
	source := &fakeSource{records: map[string]validity.Record{
		"c1": {Status: validity.StatusActive},
		"c2": {Status: validity.StatusExpired},
	}}
	directory := &fakeDirectory{accounts: []api.Account{{ID: "c1"}, {ID: "c2"}}}
	watch, center, _ := newTestWatch(t, source, directory)

	watch.refreshAll(context.Background())

	require.Equal(t, validity.StatusActive, watch.lastStatus["c1"])
	require.Equal(t, validity.StatusExpired, watch.lastStatus["c2"])
	// First observations are not transitions
	require.Empty(t, center.Active())
}

func TestStatusTransitionNotifiesAndAudits(t *testing.T) {
	source := &fakeSource{records: map[string]validity.Record{
		"c1": {Status: validity.StatusActive},
	}}
	directory := &fakeDirectory{accounts: []api.Account{{ID: "c1"}}}
	watch, center, ledger := newTestWatch(t, source, directory)

	watch.refreshAll(context.Background())

	source.set("c1", validity.Record{Status: validity.StatusExpired})
	watch.loader.Invalidate("c1")
	watch.refreshClient(context.Background(), "c1")

	toasts := center.Active()
	require.Len(t, toasts, 1)
	require.Equal(t, notify.LevelWarn, toasts[0].Level)

	entries, err := ledger.GetByType(audit.EventStatusChanged, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "c1", entries[0].ClientID)
	require.Equal(t, "active", entries[0].Payload["from"])
	require.Equal(t, "expired", entries[0].Payload["to"])
}

func TestUnchangedStatusIsQuiet(t *testing.T) {
	source := &fakeSource{records: map[string]validity.Record{
		"c1": {Status: validity.StatusActive},
	}}
	directory := &fakeDirectory{accounts: []api.Account{{ID: "c1"}}}
	watch, center, ledger := newTestWatch(t, source, directory)

	watch.refreshAll(context.Background())
	watch.loader.Invalidate("c1")
	watch.refreshClient(context.Background(), "c1")

	require.Empty(t, center.Active())
	entries, err := ledger.GetByType(audit.EventStatusChanged, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRecordCommitAuditsAndDedupes(t *testing.T) {
	source := &fakeSource{records: map[string]validity.Record{}}
	watch, center, ledger := newTestWatch(t, source, &fakeDirectory{})

	ev := eventbus.Event{
		Type: eventbus.EventCommitApplied,
		Data: map[string]any{
			"client_id":       "c1",
			"op":              "validity",
			"idempotency_key": "key-1",
		},
	}

	watch.recordCommit(ev, true)
	watch.recordCommit(ev, true) // replay

	entries, err := ledger.GetByType(audit.EventCommitApplied, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	toasts := center.Active()
	require.Len(t, toasts, 1)
	require.Equal(t, notify.LevelSuccess, toasts[0].Level)
}

func TestRecordCommitFailureNotifiesError(t *testing.T) {
	source := &fakeSource{records: map[string]validity.Record{}}
	watch, center, ledger := newTestWatch(t, source, &fakeDirectory{})

	watch.recordCommit(eventbus.Event{
		Type: eventbus.EventCommitFailed,
		Data: map[string]any{
			"client_id": "c1",
			"op":        "permissions",
			"message":   "limit out of range",
		},
	}, false)

	toasts := center.Active()
	require.Len(t, toasts, 1)
	require.Equal(t, notify.LevelError, toasts[0].Level)

	entries, err := ledger.GetByType(audit.EventCommitFailed, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
