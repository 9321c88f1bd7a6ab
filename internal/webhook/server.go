// Package webhook runs a small HTTP server accepting refetch triggers from
// the backend or from operator tooling. It is an alternative to the SSE
// stream for deployments where the backend pushes notifications instead.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkazmin/clientd/internal/eventbus"
)

// Server is an HTTP server that receives webhooks and publishes refetch
// events to the bus.
type Server struct {
	addr       string
	bus        *eventbus.Bus
	httpServer *http.Server
}

// NewServer creates a new webhook server.
func NewServer(host string, port int, bus *eventbus.Bus) *Server {
	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		bus:  bus,
	}
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/hooks/client", s.handleClientHook)
	mux.HandleFunc("/hooks/commit", s.handleCommitHook)
	mux.HandleFunc("/hooks/refresh", s.handleRefresh)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	log.Info().Str("addr", s.addr).Msg("Starting webhook server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// handleClientHook processes a notification that a single client account
// changed upstream. The payload must carry a clientId.
func (s *Server) handleClientHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook request body")
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload struct {
		ClientID string `json:"clientId"`
		Event    string `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ClientID == "" {
		log.Warn().Str("path", r.URL.Path).Msg("Webhook payload missing clientId")
		http.Error(w, `{"error":"clientId required"}`, http.StatusBadRequest)
		return
	}

	log.Debug().
		Str("client_id", payload.ClientID).
		Str("event", payload.Event).
		Msg("Received client webhook")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventAccountUpdated,
		Data: map[string]any{
			"client_id": payload.ClientID,
			"source":    "webhook",
			"trigger":   payload.Event,
		},
	})

	writeOK(w)
}

// handleCommitHook records a commit outcome reported by operator tooling or
// the backend. Applied commits carry an idempotency key so replayed hooks
// audit only once.
func (s *Server) handleCommitHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload struct {
		ClientID       string `json:"clientId"`
		Op             string `json:"op"`
		OK             bool   `json:"ok"`
		Message        string `json:"message"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ClientID == "" {
		http.Error(w, `{"error":"clientId required"}`, http.StatusBadRequest)
		return
	}

	eventType := eventbus.EventCommitApplied
	if !payload.OK {
		eventType = eventbus.EventCommitFailed
	}

	log.Debug().
		Str("client_id", payload.ClientID).
		Str("op", payload.Op).
		Bool("ok", payload.OK).
		Msg("Received commit webhook")

	s.bus.Publish(eventbus.Event{
		Type: eventType,
		Data: map[string]any{
			"client_id":       payload.ClientID,
			"op":              payload.Op,
			"message":         payload.Message,
			"idempotency_key": payload.IdempotencyKey,
			"source":          "webhook",
		},
	})

	writeOK(w)
}

// handleRefresh asks the watch service for a full refresh of all watched
// accounts. The body is ignored.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Debug().Msg("Received refresh webhook")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventRefreshRequested,
		Data: map[string]any{"source": "webhook"},
	})

	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
