package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkazmin/clientd/internal/validity"
)

// countingSource serves canned records and counts fetches per client.
type countingSource struct {
	mu      sync.Mutex
	records map[string]validity.Record
	fails   map[string]error
	fetches map[string]int
}

func newCountingSource() *countingSource {
	return &countingSource{
		records: make(map[string]validity.Record),
		fails:   make(map[string]error),
		fetches: make(map[string]int),
	}
}

func (s *countingSource) Load(_ context.Context, clientID string) (validity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[clientID]++
	if err := s.fails[clientID]; err != nil {
		return validity.Record{}, err
	}
	if rec, ok := s.records[clientID]; ok {
		return rec, nil
	}
	return validity.Unknown(), nil
}

func (s *countingSource) count(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[clientID]
}

func testConfig() Config {
	return Config{
		Capacity:           100,
		Shards:             2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
		RateLimitRPS:       1000,
	}
}

func TestValidityCachesAcrossCalls(t *testing.T) {
	src := newCountingSource()
	src.records["c1"] = validity.Record{Status: validity.StatusActive}
	l := New(src, testConfig())

	for i := 0; i < 5; i++ {
		rec, err := l.Validity(context.Background(), "c1")
		require.NoError(t, err)
		require.Equal(t, validity.StatusActive, rec.Status)
	}

	require.Equal(t, 1, src.count("c1"), "repeat reads within TTL must hit the cache")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	src := newCountingSource()
	src.records["c1"] = validity.Record{Status: validity.StatusActive}
	l := New(src, testConfig())

	_, err := l.Validity(context.Background(), "c1")
	require.NoError(t, err)

	src.mu.Lock()
	src.records["c1"] = validity.Record{Status: validity.StatusDisabled}
	src.mu.Unlock()
	l.Invalidate("c1")

	rec, err := l.Validity(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, validity.StatusDisabled, rec.Status)
	require.Equal(t, 2, src.count("c1"))
}

func TestValidityBatch(t *testing.T) {
	src := newCountingSource()
	src.records["c1"] = validity.Record{Status: validity.StatusActive}
	src.records["c2"] = validity.Record{Status: validity.StatusExpired}
	l := New(src, testConfig())

	records, err := l.ValidityBatch(context.Background(), []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, validity.StatusActive, records["c1"].Status)
	require.Equal(t, validity.StatusExpired, records["c2"].Status)
	// Unvisited clients come back as the canonical unknown record
	require.Equal(t, validity.StatusUnknown, records["c3"].Status)
}

func TestValidityBatchSkipsFailedClients(t *testing.T) {
	src := newCountingSource()
	src.records["c1"] = validity.Record{Status: validity.StatusActive}
	src.fails["c2"] = errors.New("boom")
	l := New(src, testConfig())

	records, err := l.ValidityBatch(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Contains(t, records, "c1")
	require.NotContains(t, records, "c2")
}
