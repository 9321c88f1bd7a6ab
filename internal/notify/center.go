// Package notify is the operator notification center: a bounded buffer of
// ephemeral messages with timed auto-dismiss. It replaces the usual
// process-global toast singleton with an injected service whose capacity
// and ttl are explicit, so buffer and timeout behavior are testable.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// Toast is one ephemeral operator message.
type Toast struct {
	ID      uuid.UUID
	Level   Level
	Title   string
	Message string
	At      time.Time
}

// EventKind says what happened to a toast.
type EventKind int

const (
	EventShown EventKind = iota
	EventDismissed
)

// Event is delivered to subscribers on every toast transition.
type Event struct {
	Kind  EventKind
	Toast Toast
}

// Subscriber receives toast events. Called synchronously under no lock
// ordering guarantees beyond per-center serialization.
type Subscriber func(Event)

// Defaults match the original single-toast behavior.
const (
	DefaultCapacity = 1
	DefaultTTL      = 4 * time.Second
)

// Center holds the active toasts. Exceeding capacity evicts the oldest;
// every toast auto-dismisses after ttl.
type Center struct {
	capacity int
	ttl      time.Duration

	mu     sync.Mutex
	active []Toast
	timers map[uuid.UUID]*time.Timer
	subs   []Subscriber
	closed bool
}

// NewCenter creates a notification center. Non-positive capacity or ttl
// fall back to the defaults.
func NewCenter(capacity int, ttl time.Duration) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		capacity: capacity,
		ttl:      ttl,
		timers:   make(map[uuid.UUID]*time.Timer),
	}
}

// Subscribe registers a subscriber for toast events.
func (c *Center) Subscribe(fn Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Push shows a toast, evicting the oldest if the buffer is full, and arms
// its auto-dismiss timer.
func (c *Center) Push(level Level, title, message string) Toast {
	toast := Toast{
		ID:      uuid.New(),
		Level:   level,
		Title:   title,
		Message: message,
		At:      time.Now(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return toast
	}

	var evicted []Toast
	c.active = append(c.active, toast)
	for len(c.active) > c.capacity {
		evicted = append(evicted, c.active[0])
		c.active = c.active[1:]
	}
	for _, old := range evicted {
		c.stopTimerLocked(old.ID)
	}

	id := toast.ID
	c.timers[id] = time.AfterFunc(c.ttl, func() {
		c.Dismiss(id)
	})
	subs := append([]Subscriber(nil), c.subs...)
	c.mu.Unlock()

	log.Debug().Str("level", string(level)).Str("title", title).Msg("Toast shown")

	for _, old := range evicted {
		notify(subs, Event{Kind: EventDismissed, Toast: old})
	}
	notify(subs, Event{Kind: EventShown, Toast: toast})

	return toast
}

// Dismiss removes a toast by id, whether by timeout or explicitly.
// Returns false if it was no longer active.
func (c *Center) Dismiss(id uuid.UUID) bool {
	c.mu.Lock()
	idx := -1
	for i, toast := range c.active {
		if toast.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}

	dismissed := c.active[idx]
	c.active = append(c.active[:idx], c.active[idx+1:]...)
	c.stopTimerLocked(id)
	subs := append([]Subscriber(nil), c.subs...)
	c.mu.Unlock()

	notify(subs, Event{Kind: EventDismissed, Toast: dismissed})
	return true
}

// Active returns the currently visible toasts, oldest first.
func (c *Center) Active() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Toast(nil), c.active...)
}

// Close stops all timers and drops pending toasts without events.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id := range c.timers {
		c.stopTimerLocked(id)
	}
	c.active = nil
}

func (c *Center) stopTimerLocked(id uuid.UUID) {
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
}

func notify(subs []Subscriber, ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
