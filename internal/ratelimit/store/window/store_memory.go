package window

import (
	"context"
	"sync"
	"time"

	"agentgate/internal/ratelimit/models"

	"github.com/jonboulle/clockwork"
)

const defaultPurgeEvery = 256

// InMemoryStore implements ports.WindowStore for a single process. Counters
// live in a map guarded by a mutex; the mutex is never held across I/O.
type InMemoryStore struct {
	mu         sync.Mutex
	records    map[string]*models.RateLimitRecord
	clock      clockwork.Clock
	calls      int
	purgeEvery int
}

type MemoryOption func(*InMemoryStore)

func WithMemoryClock(clock clockwork.Clock) MemoryOption {
	return func(s *InMemoryStore) {
		s.clock = clock
	}
}

// WithPurgeEvery sets how many calls pass between full garbage-collection scans.
func WithPurgeEvery(n int) MemoryOption {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.purgeEvery = n
		}
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records:    make(map[string]*models.RateLimitRecord),
		clock:      clockwork.NewRealClock(),
		purgeEvery: defaultPurgeEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Increment(_ context.Context, key string, windowStart time.Time, window time.Duration, maxAttempts int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%s.purgeEvery == 0 {
		s.purgeLocked(s.clock.Now())
	}

	rec := s.records[key]
	if rec == nil || !rec.WindowStart.Equal(windowStart) {
		// A record of an older window is replaced: lazy per-key collection.
		rec = &models.RateLimitRecord{Key: key, WindowStart: windowStart, Window: window}
		s.records[key] = rec
	}

	if rec.Count >= maxAttempts {
		return rec.Count, false, nil
	}
	rec.Count++
	return rec.Count, true, nil
}

// Purge removes every record whose window has elapsed at now.
func (s *InMemoryStore) Purge(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(now), nil
}

func (s *InMemoryStore) purgeLocked(now time.Time) int64 {
	var removed int64
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live records.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
