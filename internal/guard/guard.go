// ABOUTME: Thread-safe set of in-flight operation tokens with a TTL safety net
// ABOUTME: An acquired key blocks re-acquisition until released or expired

package guard

import (
	"errors"
	"sync"
	"time"
)

// ErrSkipped reports that an operation was not performed because another one
// for the same key is still in flight. It is neither a success nor a
// failure: callers tracking failure streaks must leave their counters
// untouched when they see it.
var ErrSkipped = errors.New("skipped, operation already in flight")

// DefaultTTL is the safety-net lifetime of a held token. A well-behaved
// caller releases its token when the operation completes; the TTL only
// matters if an operation wedges and never returns, in which case its key
// becomes acquirable again instead of being blocked forever.
const DefaultTTL = 2 * time.Minute

// Set tracks which operation keys are currently outstanding. Acquisition is
// atomic: of any number of concurrent TryAcquire calls for one key, exactly
// one succeeds until that key is released.
type Set struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration
}

// NewSet creates a guard set. ttl <= 0 uses DefaultTTL.
func NewSet(ttl time.Duration) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Set{
		held: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// TryAcquire marks key as outstanding and returns true, or returns false if
// the key is already held and has not outlived the TTL.
func (s *Set) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if at, ok := s.held[key]; ok && now.Sub(at) < s.ttl {
		return false
	}
	s.held[key] = now
	return true
}

// Release clears key so it can be acquired again. Releasing a key that is
// not held is a no-op.
func (s *Set) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
}

// Held reports whether key is currently outstanding.
func (s *Set) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.held[key]
	return ok && time.Since(at) < s.ttl
}

// Len returns the number of outstanding keys, counting expired entries that
// have not been collected yet.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Clear drops every outstanding token. Used on engine teardown.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = make(map[string]time.Time)
}
