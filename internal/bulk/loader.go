// Package bulk serves the list view's read path: many clients' validity
// fetched in parallel, cached with a TTL and protected against fetch
// stampedes. Reads here never touch drafts or commits; per-client slots are
// independent and a commit of one client only invalidates that client.
package bulk

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/viccon/sturdyc"
	"golang.org/x/time/rate"

	"github.com/dkazmin/clientd/internal/validity"
)

// ValiditySource loads a single client's validity record.
// *validity.Reconciler satisfies it.
type ValiditySource interface {
	Load(ctx context.Context, clientID string) (validity.Record, error)
}

// Config tunes the cache and the backend request rate.
type Config struct {
	Capacity           int
	Shards             int
	TTL                time.Duration
	EvictionPercentage int
	RateLimitRPS       float64
}

// DefaultConfig returns sensible defaults for the bulk cache.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		Shards:             16,
		TTL:                30 * time.Second,
		EvictionPercentage: 10,
		RateLimitRPS:       10.0,
	}
}

// Loader is the cached, rate-limited bulk read path.
type Loader struct {
	source  ValiditySource
	cache   *sturdyc.Client[validity.Record]
	keyFn   sturdyc.KeyFn
	limiter *rate.Limiter
}

// New creates a bulk loader over the given source.
func New(source ValiditySource, cfg Config) *Loader {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.EvictionPercentage <= 0 {
		cfg.EvictionPercentage = def.EvictionPercentage
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = def.RateLimitRPS
	}

	cache := sturdyc.New[validity.Record](cfg.Capacity, cfg.Shards, cfg.TTL, cfg.EvictionPercentage)

	return &Loader{
		source:  source,
		cache:   cache,
		keyFn:   cache.BatchKeyFn("validity"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)),
	}
}

// Validity returns one client's validity, from cache when fresh. Concurrent
// callers for the same client share a single backend fetch.
func (l *Loader) Validity(ctx context.Context, clientID string) (validity.Record, error) {
	return l.cache.GetOrFetch(ctx, l.keyFn(clientID), func(ctx context.Context) (validity.Record, error) {
		if err := l.limiter.Wait(ctx); err != nil {
			return validity.Record{}, err
		}
		return l.source.Load(ctx, clientID)
	})
}

// ValidityBatch returns validity for many clients at once. Clients whose
// fetch fails are absent from the result; the error is only non-nil when
// the whole batch failed.
func (l *Loader) ValidityBatch(ctx context.Context, clientIDs []string) (map[string]validity.Record, error) {
	return l.cache.GetOrFetchBatch(ctx, clientIDs, l.keyFn,
		func(ctx context.Context, ids []string) (map[string]validity.Record, error) {
			records := make(map[string]validity.Record, len(ids))
			var lastErr error

			for _, id := range ids {
				if err := l.limiter.Wait(ctx); err != nil {
					return records, err
				}
				rec, err := l.source.Load(ctx, id)
				if err != nil {
					log.Warn().Err(err).Str("client", id).Msg("Bulk validity fetch failed for client")
					lastErr = err
					continue
				}
				records[id] = rec
			}

			if len(records) == 0 && lastErr != nil {
				return nil, lastErr
			}
			return records, nil
		})
}

// Invalidate drops one client's cached record so the next read refetches.
// Called on refetch triggers and after commits.
func (l *Loader) Invalidate(clientID string) {
	l.cache.Delete(l.keyFn(clientID))
}
