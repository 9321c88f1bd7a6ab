package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkazmin/clientd/internal/eventbus"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect
// attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// StreamConfig contains configuration for event stream reconnection.
type StreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultStreamConfig returns sensible defaults for stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
	}
}

// EventStream listens to the backend's SSE channel. The channel carries no
// payload worth acting on directly; every event is only a trigger to refetch
// the named account's state through the regular REST endpoints.
type EventStream struct {
	client     *Client
	httpClient *http.Client
	config     StreamConfig
}

// NewEventStream creates a new event stream listener.
func NewEventStream(client *Client) *EventStream {
	return NewEventStreamWithConfig(client, DefaultStreamConfig())
}

// NewEventStreamWithConfig creates a new event stream listener with custom
// configuration.
func NewEventStreamWithConfig(client *Client, config StreamConfig) *EventStream {
	return &EventStream{
		client: client,
		// No timeout for SSE - it's a long-lived connection
		httpClient: &http.Client{},
		config:     config,
	}
}

// Run starts listening to the event stream with automatic reconnection.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (e *EventStream) Run(ctx context.Context, bus *eventbus.Bus) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := e.connect(ctx, bus)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			retryCount++

			if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
				log.Error().
					Int("max_reconnects", e.config.MaxReconnects).
					Msg("Event stream: max reconnects exceeded, terminating")
				return ErrMaxReconnectsExceeded
			}

			log.Warn().
				Err(err).
				Dur("backoff", currentBackoff).
				Int("retry", retryCount).
				Msg("Event stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}

			nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
			if nextBackoff > e.config.MaxBackoff {
				nextBackoff = e.config.MaxBackoff
			}
			currentBackoff = nextBackoff

			continue
		}

		// Reset retry count and backoff on successful connection
		retryCount = 0
		currentBackoff = e.config.MinBackoff
	}
}

func (e *EventStream) connect(ctx context.Context, bus *eventbus.Bus) error {
	token, err := e.client.tokens.Token()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.client.BaseURL()+"/api/events/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	log.Info().Msg("Connected to backend event stream")

	scanner := bufio.NewScanner(resp.Body)
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Comment lines are keepalives
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Empty line marks end of event
		if line == "" {
			if dataBuffer.Len() > 0 {
				e.processEvent(dataBuffer.String(), bus)
				dataBuffer.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return nil
}

func (e *EventStream) processEvent(data string, bus *eventbus.Bus) {
	var event struct {
		Type     string `json:"type"`
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		log.Warn().Err(err).Str("data", data).Msg("Failed to parse stream event")
		return
	}

	switch event.Type {
	case "account.updated", "validity.changed", "permissions.changed":
		if event.ClientID == "" {
			log.Warn().Str("type", event.Type).Msg("Stream event without client id")
			return
		}

		log.Debug().
			Str("type", event.Type).
			Str("client", event.ClientID).
			Msg("Refetch trigger received")

		bus.Publish(eventbus.Event{
			Type: eventbus.EventAccountUpdated,
			Data: map[string]any{
				"client_id": event.ClientID,
				"source":    "stream",
				"trigger":   event.Type,
			},
		})

	default:
		log.Trace().Str("type", event.Type).Msg("Unhandled stream event type")
	}
}
