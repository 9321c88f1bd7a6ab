package validity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkazmin/clientd/internal/api"
)

// fakeBackend records every request and serves scripted validity state.
type fakeBackend struct {
	mu       sync.Mutex
	requests []string // "METHOD path"
	bodies   []map[string]any
	status   Status          // current validity status served by GET
	fail     map[string]int  // "METHOD path" -> status code to fail with
	notFound bool            // serve 404 on GET validity
}

func newFakeBackend(status Status) *fakeBackend {
	return &fakeBackend{status: status, fail: make(map[string]int)}
}

func (f *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, key)
		f.bodies = append(f.bodies, body)
		failCode := f.fail[key]
		notFound := f.notFound
		status := f.status
		f.mu.Unlock()

		if failCode != 0 {
			w.WriteHeader(failCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "backend exploded"})
			return
		}

		switch {
		case r.Method == http.MethodGet:
			if notFound {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"validity": map[string]any{"status": string(status)},
			})

		case r.Method == http.MethodPatch: // disable
			f.mu.Lock()
			f.status = StatusDisabled
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "disabled"})

		case r.Method == http.MethodPut: // grant
			f.mu.Lock()
			f.status = StatusActive
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "active"})

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (f *fakeBackend) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestReconciler(t *testing.T, backend *fakeBackend, now time.Time) *Reconciler {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	r := NewReconciler(api.NewClient(srv.URL, api.StaticToken("test-token"), 5*time.Second))
	r.now = func() time.Time { return now }
	return r
}

func TestLoadNotFoundYieldsUnknown(t *testing.T) {
	backend := newFakeBackend(StatusActive)
	backend.notFound = true
	r := newTestReconciler(t, backend, time.Now())

	rec, err := r.Load(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, StatusUnknown, rec.Status)
	require.Nil(t, rec.ExpiresAt)
}

func TestLoadServerErrorSurfacesFetchError(t *testing.T) {
	backend := newFakeBackend(StatusActive)
	backend.fail["GET /api/account/c1/validity"] = http.StatusInternalServerError
	r := newTestReconciler(t, backend, time.Now())

	_, err := r.Load(context.Background(), "c1")
	var fe *api.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "backend exploded", fe.Message)
}

func TestCommitDisable(t *testing.T) {
	// Scenario: active record, operator switches the toggle off.
	backend := newFakeBackend(StatusActive)
	r := newTestReconciler(t, backend, time.Now())

	rec := Record{Status: StatusActive}
	draft := Draft{Enabled: false}

	fresh, cleanDraft, err := r.Commit(context.Background(), "c1", draft, rec)
	require.NoError(t, err)
	require.Equal(t, StatusDisabled, fresh.Status)
	require.False(t, cleanDraft.Enabled)
	require.False(t, IsDirty(cleanDraft, fresh))

	require.Equal(t, []string{
		"PATCH /api/account/c1/validity/disable",
		"GET /api/account/c1/validity",
	}, backend.requestLog())
}

func TestCommitExplicitExpiryOnly(t *testing.T) {
	// Scenario: disabled record, toggle untouched, explicit expiry set.
	// No status operation, one grant carrying days + startAt.
	now := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	backend := newFakeBackend(StatusDisabled)
	r := newTestReconciler(t, backend, now)

	rec := Record{Status: StatusDisabled}
	draft := Draft{Enabled: false, ExplicitExpiry: &expiry}

	_, _, err := r.Commit(context.Background(), "c1", draft, rec)
	require.NoError(t, err)

	log := backend.requestLog()
	require.Equal(t, []string{
		"PUT /api/account/c1/validity",
		"GET /api/account/c1/validity",
	}, log)

	body := backend.bodies[0]
	require.EqualValues(t, 12, body["days"])
	require.EqualValues(t, 0, body["years"])
	require.EqualValues(t, 0, body["months"])
	require.Equal(t, now.Format(time.RFC3339), body["startAt"])
}

func TestCommitEnableWithExpiryIssuesTwoSequentialOps(t *testing.T) {
	now := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	backend := newFakeBackend(StatusDisabled)
	r := newTestReconciler(t, backend, now)

	rec := Record{Status: StatusDisabled}
	draft := Draft{Enabled: true, ExplicitExpiry: &expiry}

	_, _, err := r.Commit(context.Background(), "c1", draft, rec)
	require.NoError(t, err)

	require.Equal(t, []string{
		"PUT /api/account/c1/validity",
		"PUT /api/account/c1/validity",
		"GET /api/account/c1/validity",
	}, backend.requestLog())

	// Default 1-day grant first, explicit window second.
	require.EqualValues(t, 1, backend.bodies[0]["days"])
	require.NotContains(t, backend.bodies[0], "startAt")
	require.EqualValues(t, 12, backend.bodies[1]["days"])
	require.Equal(t, now.Format(time.RFC3339), backend.bodies[1]["startAt"])
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	// Scenario: the status operation fails with a 500. CommitError comes
	// back, no reload happens, and the caller's record/draft are what they
	// were, so the draft still reads dirty.
	backend := newFakeBackend(StatusActive)
	backend.fail["PATCH /api/account/c1/validity/disable"] = http.StatusInternalServerError
	r := newTestReconciler(t, backend, time.Now())

	rec := Record{Status: StatusActive}
	draft := Draft{Enabled: false}

	gotRec, gotDraft, err := r.Commit(context.Background(), "c1", draft, rec)
	var ce *api.CommitError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "backend exploded", ce.Message)

	require.Equal(t, rec, gotRec)
	require.Equal(t, draft, gotDraft)
	require.True(t, IsDirty(gotDraft, gotRec))

	// One failed PATCH, nothing else - no second op, no reload.
	require.Equal(t, []string{"PATCH /api/account/c1/validity/disable"}, backend.requestLog())
}

func TestCommitCleanDraftIsNoOp(t *testing.T) {
	backend := newFakeBackend(StatusActive)
	r := newTestReconciler(t, backend, time.Now())

	rec := Record{Status: StatusActive}
	draft := DeriveDraft(rec)

	gotRec, gotDraft, err := r.Commit(context.Background(), "c1", draft, rec)
	require.NoError(t, err)
	require.Equal(t, rec, gotRec)
	require.Equal(t, draft, gotDraft)
	require.Empty(t, backend.requestLog())
}
