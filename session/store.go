package session

import (
	"context"
	"time"
)

// Store is the backend-agnostic key/value abstraction SessionManager runs
// on, per §4.3: "A SessionStore interface... Two implementations: in-memory
// (testing, strictly serializable) and a distributed key-value backend
// (production). The manager is backend-agnostic."
type Store interface {
	// Put stores value under key. ttl of zero means no expiration.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value stored under key, or ok=false if absent/expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Keys returns every stored key matching a glob-style pattern (as per
	// path.Match / Redis SCAN MATCH semantics).
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Increment atomically adds delta to the integer stored at key
	// (treating an absent key as 0) and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	SetTTL(ctx context.Context, key string, ttl time.Duration) error

	// SetAdd adds member to the set stored at key (used for the
	// user:{uid}:sessions / agent:{aid}:sessions indexes and the global
	// session index; the checkpoint index is a list, see ListAppend).
	SetAdd(ctx context.Context, key string, member string) error
	SetRemove(ctx context.Context, key string, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ListAppend appends member to the ordered list stored at key (used for
	// the per-session checkpoint index, which must preserve save order).
	ListAppend(ctx context.Context, key string, member string) error
	ListRemove(ctx context.Context, key string, member string) error
	ListMembers(ctx context.Context, key string) ([]string, error)

	// Lock acquires a per-key advisory lock for the duration of fn,
	// providing the atomicity §4.3's Concurrency paragraph requires for
	// multi-key mutations. Implementations MAY use a real distributed lock
	// (production) or an in-process mutex (testing).
	Lock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
