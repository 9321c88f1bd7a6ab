// Package session scopes in-flight backend operations to an edit session.
// When the operator abandons an edit (navigates away, starts over), results
// of operations that were still in flight must be discarded instead of
// overwriting the newer session's state. Each session hands out generation
// tokens; a result is only applied while its token is still current.
package session

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Token identifies one generation of one edit session.
type Token struct {
	Session uuid.UUID
	Gen     int64
}

// Session is a single client account's edit lifetime. Safe for use from the
// operation goroutine and the UI/caller goroutine concurrently.
type Session struct {
	id  uuid.UUID
	gen atomic.Int64
}

// New creates an edit session.
func New() *Session {
	return &Session{id: uuid.New()}
}

// ID returns the session's identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Begin starts a new generation, invalidating tokens from earlier ones, and
// returns the token in-flight work should carry.
func (s *Session) Begin() Token {
	return Token{Session: s.id, Gen: s.gen.Add(1)}
}

// End invalidates all outstanding tokens without starting new work.
func (s *Session) End() {
	s.gen.Add(1)
}

// Live reports whether a token still belongs to the current generation.
// Results carrying a stale token must be dropped.
func (s *Session) Live(t Token) bool {
	return t.Session == s.id && t.Gen == s.gen.Load()
}

// Apply runs fn only if the token is still live at the time of the call.
// Returns whether fn ran. The check and the work are not atomic with
// respect to a concurrent Begin; callers that mutate shared state do so on
// a single goroutine, which is the model this package assumes.
func (s *Session) Apply(t Token, fn func()) bool {
	if !s.Live(t) {
		return false
	}
	fn()
	return true
}
