// Package session implements the SessionManager component (spec.md §4.3,
// C3): session and checkpoint lifecycle over a backend-agnostic key/value
// store, grounded on the teacher's core.MemoryStore (in-memory TTL map
// idiom) and orchestration.RedisCommandStore (Redis-backed, functional
// options, ComponentAwareLogger injection) generalized from a flat cache to
// the indexed session/checkpoint key layout this component requires.
package session

import "time"

// State is the session lifecycle state enum.
type State string

const (
	StateActive   State = "ACTIVE"
	StateIdle     State = "IDLE"
	StateArchived State = "ARCHIVED"
	StateExpired  State = "EXPIRED"
)

// Session is a durable context binding a user to an agent. Invariant:
// CreatedAt <= LastActivity <= ExpiresAt.
type Session struct {
	ID           string
	UserID       string
	AgentID      string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	State        State
	Metadata     map[string]interface{}
}

// Expired reports whether the session must be treated as absent at instant
// now, per §4.3's "expires_at <= now MUST be treated as absent" rule.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Checkpoint is an immutable, append-only snapshot belonging to exactly one
// session.
type Checkpoint struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Label     string
	Payload   map[string]interface{}
}

// CheckpointMeta is the metadata-only view returned by ListCheckpoints (no
// payload, to keep list calls cheap).
type CheckpointMeta struct {
	ID        string
	CreatedAt time.Time
	Label     string
}
