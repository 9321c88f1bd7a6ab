package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkazmin/clientd/internal/api"
	"github.com/dkazmin/clientd/internal/audit"
	"github.com/dkazmin/clientd/internal/auth"
	"github.com/dkazmin/clientd/internal/bulk"
	"github.com/dkazmin/clientd/internal/config"
	"github.com/dkazmin/clientd/internal/db"
	"github.com/dkazmin/clientd/internal/eventbus"
	"github.com/dkazmin/clientd/internal/notify"
	"github.com/dkazmin/clientd/internal/permission"
	"github.com/dkazmin/clientd/internal/validity"
	"github.com/dkazmin/clientd/internal/webhook"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *audit.Ledger
	Bus    *eventbus.Bus
	Notify *notify.Center

	// Backend access
	API         *api.Client
	Stream      *api.EventStream
	Validity    *validity.Reconciler
	Permissions *permission.Reconciler
	Loader      *bulk.Loader

	// High-level services
	Watch   *WatchService
	Health  *HealthService
	Webhook *webhook.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize audit ledger
	s.Ledger = audit.New(database.DB)

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize notification center
	s.Notify = notify.NewCenter(cfg.Notify.Capacity, cfg.Notify.TTL.Duration())

	// Static token from config wins; otherwise the saved login token
	var tokens api.TokenSource
	if cfg.API.Token != "" {
		tokens = api.StaticToken(cfg.API.Token)
	} else {
		tokens = auth.NewTokenStore(cfg.API.TokenFile)
	}

	// Initialize backend API client and reconcilers
	s.API = api.NewClient(cfg.API.BaseURL, tokens, cfg.API.Timeout.Duration())
	s.Validity = validity.NewReconciler(s.API)
	s.Permissions = permission.NewReconciler(s.API)

	// Initialize bulk validity loader
	s.Loader = bulk.New(s.Validity, bulk.Config{
		Capacity:           cfg.Cache.Capacity,
		Shards:             cfg.Cache.Shards,
		TTL:                cfg.Cache.TTL.Duration(),
		EvictionPercentage: cfg.Cache.EvictionPercentage,
		RateLimitRPS:       cfg.RateLimitRPS,
	})

	// Initialize SSE stream listener
	if cfg.API.StreamEnabled {
		s.Stream = api.NewEventStreamWithConfig(s.API, api.StreamConfig{
			MinBackoff:    cfg.API.MinRetryBackoff.Duration(),
			MaxBackoff:    cfg.API.MaxRetryBackoff.Duration(),
			Multiplier:    cfg.API.RetryMultiplier,
			MaxReconnects: cfg.API.MaxReconnects,
		})
	}

	// Initialize watch service
	s.Watch = NewWatchService(
		cfg.Watch.Clients,
		cfg.Watch.PollInterval.Duration(),
		s.Loader,
		s.API,
		s.Notify,
		s.Ledger,
	)

	// Initialize health service
	s.Health = NewHealthService(cfg)

	// Initialize webhook server
	if cfg.Webhook.Enabled {
		s.Webhook = webhook.NewServer(cfg.Webhook.Host, cfg.Webhook.Port, s.Bus)
	}

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Verify backend connectivity and credentials
	if err := s.API.Ping(ctx); err != nil {
		return err
	}

	// Register event handlers before anything publishes
	s.Watch.RegisterHandlers(s.Bus)

	// Start background services
	go func() {
		if err := s.Watch.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	if s.Stream != nil {
		go func() {
			err := s.Stream.Run(ctx, s.Bus)
			if errors.Is(err, api.ErrMaxReconnectsExceeded) {
				onFatalError(err)
			}
		}()
	}

	if s.Webhook != nil {
		go func() {
			if err := s.Webhook.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}

	s.Health.Start(ctx)

	go s.runAuditCleanup(ctx)

	return nil
}

// runAuditCleanup periodically applies the audit retention policy.
func (s *Services) runAuditCleanup(ctx context.Context) {
	interval := s.cfg.Audit.CleanupInterval.Duration()
	retention := time.Duration(s.cfg.Audit.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Audit cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Audit entries cleaned up")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(closeCtx)
		cancel()
	}
	if s.Notify != nil {
		s.Notify.Close()
	}
	if s.API != nil {
		s.API.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
