package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, StaticToken("secret"), 5*time.Second)
}

func TestBearerHeaderOnEveryRequest(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Get(context.Background(), "/api/clients")
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", got)
}

func TestGetMapsFailureToFetchError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not allowed"})
	})

	_, err := c.Get(context.Background(), "/api/clients")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "not allowed", fe.Message)
	require.Equal(t, http.StatusForbidden, fe.Status)
}

func TestWriteMapsFailureToCommitError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		// no message field -> generic fallback
		_, _ = w.Write([]byte(`{"error": "stack trace"}`))
	})

	_, err := c.Put(context.Background(), "/api/account/c1/validity", map[string]int{"days": 1})
	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "backend request failed (status 500)", ce.Message)
}

func TestIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), "/api/account/c1/validity")
	require.True(t, IsNotFound(err))
	require.False(t, IsNotFound(nil))
}

func TestEmptyTokenRefused(t *testing.T) {
	c := NewClient("http://localhost:1", StaticToken(""), time.Second)
	_, err := c.Get(context.Background(), "/api/clients")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestListAccounts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare_array", `[{"id": "c1", "name": "Acme"}]`},
		{"clients_envelope", `{"clients": [{"id": "c1", "name": "Acme"}]}`},
		{"data_envelope", `{"data": [{"id": "c1", "name": "Acme"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/clients", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			accounts, err := c.ListAccounts(context.Background())
			require.NoError(t, err)
			require.Len(t, accounts, 1)
			require.Equal(t, "c1", accounts[0].ID)
			require.Equal(t, "Acme", accounts[0].Name)
		})
	}
}

func TestGetAccountFillsID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"client": {"name": "Acme", "maxCompanies": 3}}`))
	})

	account, err := c.GetAccount(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", account.ID)
	require.NotNil(t, account.MaxCompanies)
	require.Equal(t, 3, *account.MaxCompanies)
}
