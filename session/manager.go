package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itsneelabh/agentcore/events"
	"github.com/itsneelabh/agentcore/logging"
	"github.com/itsneelabh/agentcore/metrics"
	"github.com/itsneelabh/agentcore/rterrors"
)

// DefaultTTL is session.ttl_seconds's default.
const DefaultTTL = 3600 * time.Second

// DefaultMaxSessions is session.max_count's default.
const DefaultMaxSessions = 10000

// DefaultCleanupInterval is session.cleanup_interval_seconds's default.
const DefaultCleanupInterval = 300 * time.Second

// Manager is the concrete SessionManager.
type Manager struct {
	store   Store
	logger  logging.Logger
	metrics *metrics.Collector
	bus     *events.Bus

	ttl        time.Duration
	maxCount   int
	idPrefix   string
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithMaxSessions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxCount = n
		}
	}
}

// WithIDPrefix prefixes generated session ids for debuggability (§4.3:
// "optionally prefixed for debuggability").
func WithIDPrefix(prefix string) Option {
	return func(m *Manager) { m.idPrefix = prefix }
}

// New constructs a Manager over store.
func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		logger:   logging.NoOpLogger{},
		ttl:      DefaultTTL,
		maxCount: DefaultMaxSessions,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func generateSessionID(prefix string) (string, error) {
	buf := make([]byte, 18) // 144 bits, exceeds the 128-bit floor
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := base64.RawURLEncoding.EncodeToString(buf)
	if prefix != "" {
		return prefix + "_" + id, nil
	}
	return id, nil
}

func sessionKey(sid string) string           { return "session:" + sid }
func checkpointIndexKey(sid string) string    { return "session:" + sid + ":checkpoints" }
func checkpointKey(sid, cid string) string    { return "session:" + sid + ":checkpoint:" + cid }
func userIndexKey(uid string) string          { return "user:" + uid + ":sessions" }
func agentIndexKey(aid string) string         { return "agent:" + aid + ":sessions" }
func sessionSeqKey(sid string) string         { return "session:" + sid + ":checkpoint_seq" }
func globalSessionIndexKey() string           { return "sessions:all" }

type sessionRecord struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	AgentID      string                 `json:"agent_id"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    time.Time              `json:"expires_at"`
	LastActivity time.Time              `json:"last_activity"`
	State        State                  `json:"state"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (r *sessionRecord) toSession() *Session {
	return &Session{
		ID:           r.ID,
		UserID:       r.UserID,
		AgentID:      r.AgentID,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		LastActivity: r.LastActivity,
		State:        r.State,
		Metadata:     r.Metadata,
	}
}

func (m *Manager) publish(ctx context.Context, eventType string, sid string, extra map[string]interface{}) {
	if m.bus == nil {
		return
	}
	payload := map[string]interface{}{"session_id": sid}
	for k, v := range extra {
		payload[k] = v
	}
	m.bus.Publish(ctx, events.Event{Type: eventType, Source: "session.Manager", Payload: payload})
}

func (m *Manager) countMetric(name string) {
	if m.metrics != nil {
		m.metrics.IncCounter(name, nil, 1)
	}
}

// CreateSession creates and persists a new session owned by userID for
// agentID. Fails with QUOTA_EXCEEDED if the configured maximum live session
// count is already reached.
func (m *Manager) CreateSession(ctx context.Context, userID, agentID string, metadata map[string]interface{}) (*Session, error) {
	if userID == "" || agentID == "" {
		return nil, rterrors.Newf("session.CreateSession", rterrors.ValidationError, "user_id and agent_id are required")
	}

	existing, err := m.store.SetMembers(ctx, globalSessionIndexKey())
	if err != nil {
		return nil, rterrors.New("session.CreateSession", rterrors.StoreError, err)
	}
	if len(existing) >= m.maxCount {
		live := 0
		for _, id := range existing {
			rec, err := m.loadRecord(ctx, id)
			if err != nil {
				return nil, rterrors.New("session.CreateSession", rterrors.StoreError, err)
			}
			if rec != nil {
				live++
			}
		}
		if live >= m.maxCount {
			return nil, rterrors.Newf("session.CreateSession", rterrors.QuotaExceeded, "maximum of %d live sessions reached", m.maxCount)
		}
	}

	sid, err := generateSessionID(m.idPrefix)
	if err != nil {
		return nil, rterrors.New("session.CreateSession", rterrors.InternalError, err)
	}

	now := time.Now()
	rec := &sessionRecord{
		ID:           sid,
		UserID:       userID,
		AgentID:      agentID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastActivity: now,
		State:        StateActive,
		Metadata:     metadata,
	}

	if err := m.putRecord(ctx, rec); err != nil {
		return nil, rterrors.New("session.CreateSession", rterrors.StoreError, err)
	}
	if err := m.store.SetAdd(ctx, userIndexKey(userID), sid); err != nil {
		return nil, rterrors.New("session.CreateSession", rterrors.StoreError, err)
	}
	if err := m.store.SetAdd(ctx, agentIndexKey(agentID), sid); err != nil {
		return nil, rterrors.New("session.CreateSession", rterrors.StoreError, err)
	}
	if err := m.store.SetAdd(ctx, globalSessionIndexKey(), sid); err != nil {
		return nil, rterrors.New("session.CreateSession", rterrors.StoreError, err)
	}

	m.countMetric("sessions_created_total")
	m.publish(ctx, "SESSION_CREATED", sid, nil)

	return rec.toSession(), nil
}

func (m *Manager) putRecord(ctx context.Context, rec *sessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return m.store.Put(ctx, sessionKey(rec.ID), data, ttl)
}

func (m *Manager) loadRecord(ctx context.Context, sid string) (*sessionRecord, error) {
	data, ok, err := m.store.Get(ctx, sessionKey(sid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		// Lazy expiry: the record outlived its logical TTL even though the
		// store hasn't reaped it yet (e.g. a MemoryStore with no TTL set on
		// a secondary key). Treat as absent per §4.3.
		return nil, nil
	}
	return &rec, nil
}

// Expired reports whether rec must be treated as absent at now.
func (r *sessionRecord) Expired(now time.Time) bool { return !r.ExpiresAt.After(now) }

// GetSession returns the session, or nil if absent or expired.
func (m *Manager) GetSession(ctx context.Context, sid string) (*Session, error) {
	rec, err := m.loadRecord(ctx, sid)
	if err != nil {
		return nil, rterrors.New("session.GetSession", rterrors.StoreError, err)
	}
	if rec == nil {
		return nil, nil
	}
	return rec.toSession(), nil
}

// UpdateSessionMetadata shallow-merges metadata into the session's existing
// metadata and refreshes last_activity, leaving the TTL unchanged.
func (m *Manager) UpdateSessionMetadata(ctx context.Context, sid string, metadata map[string]interface{}) error {
	return m.mutate(ctx, sid, "session.UpdateSessionMetadata", func(rec *sessionRecord) {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
		rec.LastActivity = time.Now()
	})
}

// UpdateSession applies an arbitrary field patch (state/metadata) and
// refreshes last_activity.
func (m *Manager) UpdateSession(ctx context.Context, sid string, patch func(*Session)) error {
	return m.mutate(ctx, sid, "session.UpdateSession", func(rec *sessionRecord) {
		s := rec.toSession()
		patch(s)
		rec.State = s.State
		rec.Metadata = s.Metadata
		rec.LastActivity = time.Now()
	})
}

// RefreshSession resets expires_at to now + ttl. Fails with SESSION_EXPIRED
// if the session is absent or already expired, per the Open Question
// decision: mutations against a vanished session return SESSION_EXPIRED,
// reads return null.
func (m *Manager) RefreshSession(ctx context.Context, sid string) error {
	return m.mutate(ctx, sid, "session.RefreshSession", func(rec *sessionRecord) {
		now := time.Now()
		rec.ExpiresAt = now.Add(m.ttl)
		rec.LastActivity = now
	})
}

// SetSessionState sets the session's lifecycle state.
func (m *Manager) SetSessionState(ctx context.Context, sid string, state State) error {
	return m.mutate(ctx, sid, "session.SetSessionState", func(rec *sessionRecord) {
		rec.State = state
		rec.LastActivity = time.Now()
	})
}

// GetSessionState returns the current state, or "" if the session is absent.
func (m *Manager) GetSessionState(ctx context.Context, sid string) (State, error) {
	s, err := m.GetSession(ctx, sid)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return s.State, nil
}

// mutate loads, mutates, and persists the session record under the
// per-session store lock, giving every multi-step mutation the atomicity
// §4.3's Concurrency paragraph requires.
func (m *Manager) mutate(ctx context.Context, sid, op string, fn func(*sessionRecord)) error {
	var outErr error
	err := m.store.Lock(ctx, sessionKey(sid), func(ctx context.Context) error {
		rec, err := m.loadRecord(ctx, sid)
		if err != nil {
			return err
		}
		if rec == nil {
			outErr = rterrors.New(op, rterrors.SessionExpired, nil)
			return nil
		}
		fn(rec)
		return m.putRecord(ctx, rec)
	})
	if err != nil {
		return rterrors.New(op, rterrors.StoreError, err)
	}
	return outErr
}

// DeleteSession atomically removes the session record, every checkpoint,
// and every index entry referencing it.
func (m *Manager) DeleteSession(ctx context.Context, sid string) (bool, error) {
	var existed bool
	err := m.store.Lock(ctx, sessionKey(sid), func(ctx context.Context) error {
		rec, err := m.loadRecord(ctx, sid)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		existed = true

		cids, err := m.store.ListMembers(ctx, checkpointIndexKey(sid))
		if err != nil {
			return err
		}
		for _, cid := range cids {
			if err := m.store.Delete(ctx, checkpointKey(sid, cid)); err != nil {
				return err
			}
		}
		if err := m.store.Delete(ctx, checkpointIndexKey(sid)); err != nil {
			return err
		}
		if err := m.store.Delete(ctx, sessionSeqKey(sid)); err != nil {
			return err
		}
		if err := m.store.Delete(ctx, sessionKey(sid)); err != nil {
			return err
		}
		if err := m.store.SetRemove(ctx, userIndexKey(rec.UserID), sid); err != nil {
			return err
		}
		if err := m.store.SetRemove(ctx, agentIndexKey(rec.AgentID), sid); err != nil {
			return err
		}
		return m.store.SetRemove(ctx, globalSessionIndexKey(), sid)
	})
	if err != nil {
		return false, rterrors.New("session.DeleteSession", rterrors.StoreError, err)
	}
	if existed {
		m.countMetric("sessions_deleted_total")
		m.publish(ctx, "SESSION_DELETED", sid, nil)
	}
	return existed, nil
}

// GetSessionsByUser returns the user's active (non-expired) sessions,
// optionally filtered by status.
func (m *Manager) GetSessionsByUser(ctx context.Context, uid string, status State) ([]*Session, error) {
	sids, err := m.store.SetMembers(ctx, userIndexKey(uid))
	if err != nil {
		return nil, rterrors.New("session.GetSessionsByUser", rterrors.StoreError, err)
	}
	return m.filterSessions(ctx, sids, status)
}

func (m *Manager) filterSessions(ctx context.Context, sids []string, status State) ([]*Session, error) {
	var out []*Session
	for _, sid := range sids {
		s, err := m.GetSession(ctx, sid)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		if status != "" && s.State != status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveCheckpoint appends a new checkpoint with a monotonic-per-session id.
// Fails with SESSION_NOT_FOUND if the session is absent or expired.
func (m *Manager) SaveCheckpoint(ctx context.Context, sid string, payload map[string]interface{}, label string) (string, error) {
	var cid string
	var outErr error

	err := m.store.Lock(ctx, sessionKey(sid), func(ctx context.Context) error {
		rec, err := m.loadRecord(ctx, sid)
		if err != nil {
			return err
		}
		if rec == nil {
			outErr = rterrors.New("session.SaveCheckpoint", rterrors.SessionNotFound, nil)
			return nil
		}

		seq, err := m.store.Increment(ctx, sessionSeqKey(sid), 1)
		if err != nil {
			return err
		}
		cid = fmt.Sprintf("cp_%d", seq)

		cp := &Checkpoint{ID: cid, SessionID: sid, CreatedAt: time.Now(), Label: label, Payload: payload}
		data, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		if err := m.store.Put(ctx, checkpointKey(sid, cid), data, 0); err != nil {
			return err
		}
		if err := m.store.ListAppend(ctx, checkpointIndexKey(sid), cid); err != nil {
			return err
		}

		rec.LastActivity = time.Now()
		return m.putRecord(ctx, rec)
	})
	if err != nil {
		return "", rterrors.New("session.SaveCheckpoint", rterrors.StoreError, err)
	}
	if outErr != nil {
		return "", outErr
	}

	m.countMetric("checkpoints_saved_total")
	m.publish(ctx, "CHECKPOINT_SAVED", sid, map[string]interface{}{"checkpoint_id": cid})
	return cid, nil
}

func (m *Manager) loadCheckpoint(ctx context.Context, sid, cid string) (*Checkpoint, error) {
	data, ok, err := m.store.Get(ctx, checkpointKey(sid, cid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetCheckpoint returns the checkpoint, or nil if absent.
func (m *Manager) GetCheckpoint(ctx context.Context, sid, cid string) (*Checkpoint, error) {
	cp, err := m.loadCheckpoint(ctx, sid, cid)
	if err != nil {
		return nil, rterrors.New("session.GetCheckpoint", rterrors.StoreError, err)
	}
	return cp, nil
}

// GetLatestCheckpoint returns the checkpoint with the greatest creation
// time, or nil if the session has none.
func (m *Manager) GetLatestCheckpoint(ctx context.Context, sid string) (*Checkpoint, error) {
	cids, err := m.store.ListMembers(ctx, checkpointIndexKey(sid))
	if err != nil {
		return nil, rterrors.New("session.GetLatestCheckpoint", rterrors.StoreError, err)
	}
	if len(cids) == 0 {
		return nil, nil
	}
	return m.GetCheckpoint(ctx, sid, cids[len(cids)-1])
}

// ListCheckpoints returns checkpoint metadata in save order.
func (m *Manager) ListCheckpoints(ctx context.Context, sid string) ([]CheckpointMeta, error) {
	cids, err := m.store.ListMembers(ctx, checkpointIndexKey(sid))
	if err != nil {
		return nil, rterrors.New("session.ListCheckpoints", rterrors.StoreError, err)
	}
	out := make([]CheckpointMeta, 0, len(cids))
	for _, cid := range cids {
		cp, err := m.loadCheckpoint(ctx, sid, cid)
		if err != nil {
			return nil, rterrors.New("session.ListCheckpoints", rterrors.StoreError, err)
		}
		if cp == nil {
			continue
		}
		out = append(out, CheckpointMeta{ID: cp.ID, CreatedAt: cp.CreatedAt, Label: cp.Label})
	}
	return out, nil
}

// DeleteCheckpoint removes one checkpoint and its index entry.
func (m *Manager) DeleteCheckpoint(ctx context.Context, sid, cid string) (bool, error) {
	var existed bool
	err := m.store.Lock(ctx, sessionKey(sid), func(ctx context.Context) error {
		_, ok, err := m.store.Get(ctx, checkpointKey(sid, cid))
		if err != nil {
			return err
		}
		existed = ok
		if !ok {
			return nil
		}
		if err := m.store.Delete(ctx, checkpointKey(sid, cid)); err != nil {
			return err
		}
		return m.store.ListRemove(ctx, checkpointIndexKey(sid), cid)
	})
	if err != nil {
		return false, rterrors.New("session.DeleteCheckpoint", rterrors.StoreError, err)
	}
	return existed, nil
}

// ClearCheckpoints deletes every checkpoint belonging to sid and returns the
// count removed.
func (m *Manager) ClearCheckpoints(ctx context.Context, sid string) (int, error) {
	var count int
	err := m.store.Lock(ctx, sessionKey(sid), func(ctx context.Context) error {
		cids, err := m.store.ListMembers(ctx, checkpointIndexKey(sid))
		if err != nil {
			return err
		}
		for _, cid := range cids {
			if err := m.store.Delete(ctx, checkpointKey(sid, cid)); err != nil {
				return err
			}
			if err := m.store.ListRemove(ctx, checkpointIndexKey(sid), cid); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, rterrors.New("session.ClearCheckpoints", rterrors.StoreError, err)
	}
	return count, nil
}

// CleanupExpiredSessions sweeps the global session index, deleting every
// session with expires_at <= now. Idempotent; safe to interleave with live
// operations since each deletion goes through the same per-session lock
// DeleteSession uses.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	sids, err := m.store.SetMembers(ctx, globalSessionIndexKey())
	if err != nil {
		return 0, rterrors.New("session.CleanupExpiredSessions", rterrors.StoreError, err)
	}

	var count int
	now := time.Now()
	for _, sid := range sids {
		data, ok, err := m.store.Get(ctx, sessionKey(sid))
		if err != nil {
			continue
		}
		var rec sessionRecord
		expired := !ok
		if ok {
			if err := json.Unmarshal(data, &rec); err == nil {
				expired = rec.Expired(now)
			}
		}
		if !expired {
			continue
		}
		deleted, err := m.DeleteSession(ctx, sid)
		if err == nil && deleted {
			count++
		} else if err == nil && !deleted {
			// Record was already gone (e.g. store-native TTL reaped it);
			// still drop the stale index entry.
			m.store.SetRemove(ctx, globalSessionIndexKey(), sid)
			count++
		}
	}
	return count, nil
}

// DeleteUserSessions deletes every session owned by uid and returns the
// count removed.
func (m *Manager) DeleteUserSessions(ctx context.Context, uid string) (int, error) {
	sids, err := m.store.SetMembers(ctx, userIndexKey(uid))
	if err != nil {
		return 0, rterrors.New("session.DeleteUserSessions", rterrors.StoreError, err)
	}
	var count int
	for _, sid := range sids {
		deleted, err := m.DeleteSession(ctx, sid)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

// DeleteAgentSessions deletes every session for aid and returns the count
// removed.
func (m *Manager) DeleteAgentSessions(ctx context.Context, aid string) (int, error) {
	sids, err := m.store.SetMembers(ctx, agentIndexKey(aid))
	if err != nil {
		return 0, rterrors.New("session.DeleteAgentSessions", rterrors.StoreError, err)
	}
	var count int
	for _, sid := range sids {
		deleted, err := m.DeleteSession(ctx, sid)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}
