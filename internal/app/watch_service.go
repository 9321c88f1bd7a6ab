package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkazmin/clientd/internal/api"
	"github.com/dkazmin/clientd/internal/audit"
	"github.com/dkazmin/clientd/internal/bulk"
	"github.com/dkazmin/clientd/internal/eventbus"
	"github.com/dkazmin/clientd/internal/notify"
	"github.com/dkazmin/clientd/internal/validity"
)

// Directory lists the client accounts visible to the daemon's token.
// *api.Client satisfies it.
type Directory interface {
	ListAccounts(ctx context.Context) ([]api.Account, error)
}

// WatchService keeps the cached validity view of the watched client set
// fresh and reports status transitions to the notification center and the
// audit ledger.
type WatchService struct {
	clients      []string
	pollInterval time.Duration

	loader    *bulk.Loader
	directory Directory
	notifier  *notify.Center
	ledger    *audit.Ledger

	// Channel to trigger a refresh outside the periodic cadence
	trigger chan struct{}

	mu        sync.Mutex
	pending   map[string]bool // client -> needs refetch
	forceFull bool

	stateMu    sync.Mutex
	lastStatus map[string]validity.Status
}

// NewWatchService creates a new WatchService. An empty client list means the
// whole directory is watched.
func NewWatchService(clients []string, pollInterval time.Duration, loader *bulk.Loader, directory Directory, notifier *notify.Center, ledger *audit.Ledger) *WatchService {
	if pollInterval == 0 {
		pollInterval = 5 * time.Minute
	}

	return &WatchService{
		clients:      clients,
		pollInterval: pollInterval,
		loader:       loader,
		directory:    directory,
		notifier:     notifier,
		ledger:       ledger,
		trigger:      make(chan struct{}, 1),
		pending:      make(map[string]bool),
		lastStatus:   make(map[string]validity.Status),
	}
}

// Trigger wakes the watch loop.
func (s *WatchService) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// TriggerClient marks a specific client for refetch.
func (s *WatchService) TriggerClient(clientID string) {
	s.mu.Lock()
	s.pending[clientID] = true
	s.mu.Unlock()
	s.Trigger()
}

// TriggerFull requests a full refresh of the watched set.
func (s *WatchService) TriggerFull() {
	s.mu.Lock()
	s.forceFull = true
	s.mu.Unlock()
	s.Trigger()
}

// RegisterHandlers subscribes the watch service to refetch triggers and
// commit outcomes on the event bus.
func (s *WatchService) RegisterHandlers(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventAccountUpdated, func(ev eventbus.Event) {
		clientID := ev.ClientID()
		if clientID == "" {
			return
		}
		s.loader.Invalidate(clientID)
		s.TriggerClient(clientID)
	})

	bus.Subscribe(eventbus.EventRefreshRequested, func(ev eventbus.Event) {
		s.TriggerFull()
	})

	bus.Subscribe(eventbus.EventCommitApplied, func(ev eventbus.Event) {
		s.recordCommit(ev, true)
	})
	bus.Subscribe(eventbus.EventCommitFailed, func(ev eventbus.Event) {
		s.recordCommit(ev, false)
	})
}

// Run starts the watch loop. It blocks until the context is cancelled.
func (s *WatchService) Run(ctx context.Context) error {
	log.Info().
		Dur("poll_interval", s.pollInterval).
		Int("clients", len(s.clients)).
		Msg("Watch service started")

	// Initial refresh so the cache is warm before the first tick
	s.refreshAll(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Watch service stopping")
			return nil

		case <-s.trigger:
			s.refreshTriggered(ctx)

		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

// refreshTriggered serves the pending set, or the whole watched set if a
// full refresh was requested.
func (s *WatchService) refreshTriggered(ctx context.Context) {
	s.mu.Lock()
	full := s.forceFull
	s.forceFull = false
	pending := s.pending
	s.pending = make(map[string]bool)
	s.mu.Unlock()

	if full {
		s.refreshAll(ctx)
		return
	}

	for clientID := range pending {
		s.refreshClient(ctx, clientID)
	}
}

func (s *WatchService) refreshAll(ctx context.Context) {
	ids := s.clients
	if len(ids) == 0 {
		accounts, err := s.directory.ListAccounts(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list client accounts")
			return
		}
		ids = make([]string, 0, len(accounts))
		for _, account := range accounts {
			ids = append(ids, account.ID)
		}
	}

	records, err := s.loader.ValidityBatch(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh watched clients")
		return
	}

	for clientID, rec := range records {
		s.observe(clientID, rec)
	}

	log.Debug().Int("refreshed", len(records)).Msg("Watched clients refreshed")
}

func (s *WatchService) refreshClient(ctx context.Context, clientID string) {
	rec, err := s.loader.Validity(ctx, clientID)
	if err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("Failed to refresh client")
		return
	}
	s.observe(clientID, rec)
}

// observe records the latest status and reports the transition if it
// changed since the last observation.
func (s *WatchService) observe(clientID string, rec validity.Record) {
	s.stateMu.Lock()
	prev, seen := s.lastStatus[clientID]
	s.lastStatus[clientID] = rec.Status
	s.stateMu.Unlock()

	if !seen || prev == rec.Status {
		return
	}

	log.Info().
		Str("client", clientID).
		Str("from", string(prev)).
		Str("to", string(rec.Status)).
		Msg("Client status changed")

	if err := s.ledger.Append(audit.EventStatusChanged, clientID, "", map[string]any{
		"from": string(prev),
		"to":   string(rec.Status),
	}); err != nil {
		log.Error().Err(err).Str("client", clientID).Msg("Failed to audit status change")
	}

	level := notify.LevelInfo
	if !rec.Enabled() {
		level = notify.LevelWarn
	}
	s.notifier.Push(level, "Client status changed",
		fmt.Sprintf("%s: %s -> %s", clientID, prev, rec.Status))
}

// recordCommit audits a commit outcome reported over the bus and refetches
// the affected client. Replayed applied commits dedupe on their idempotency
// key.
func (s *WatchService) recordCommit(ev eventbus.Event, applied bool) {
	clientID := ev.ClientID()
	if clientID == "" {
		return
	}

	op, _ := ev.Data["op"].(string)
	message, _ := ev.Data["message"].(string)
	key, _ := ev.Data["idempotency_key"].(string)

	eventType := audit.EventCommitApplied
	if !applied {
		eventType = audit.EventCommitFailed
	}

	if applied && key != "" && s.ledger.HasApplied(key) {
		log.Debug().Str("client", clientID).Str("key", key).Msg("Duplicate commit event ignored")
		return
	}

	if err := s.ledger.Append(eventType, clientID, key, map[string]any{
		"op":      op,
		"message": message,
	}); err != nil {
		log.Error().Err(err).Str("client", clientID).Msg("Failed to audit commit")
	}

	if applied {
		s.notifier.Push(notify.LevelSuccess, "Changes saved", fmt.Sprintf("%s: %s", clientID, op))
		s.loader.Invalidate(clientID)
		s.TriggerClient(clientID)
	} else {
		s.notifier.Push(notify.LevelError, "Commit failed", message)
	}
}
