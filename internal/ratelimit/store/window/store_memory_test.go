package window

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 5
	testWindow = time.Minute
)

type InMemoryStoreSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
	store *InMemoryStore
	ctx   context.Context
	start time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.start = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.clock = clockwork.NewFakeClockAt(s.start)
	s.store = NewInMemoryStore(WithMemoryClock(s.clock))
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestIncrement() {
	s.Run("admits up to the limit then denies without mutating", func() {
		for i := 1; i <= testLimit; i++ {
			count, allowed, err := s.store.Increment(s.ctx, "k:limit", s.start, testWindow, testLimit)
			s.Require().NoError(err)
			s.True(allowed)
			s.Equal(i, count)
		}
		count, allowed, err := s.store.Increment(s.ctx, "k:limit", s.start, testWindow, testLimit)
		s.Require().NoError(err)
		s.False(allowed)
		s.Equal(testLimit, count)

		count, _, _ = s.store.Increment(s.ctx, "k:limit", s.start, testWindow, testLimit)
		s.Equal(testLimit, count)
	})

	s.Run("new window resets the counter", func() {
		for range testLimit + 1 {
			_, _, err := s.store.Increment(s.ctx, "k:reset", s.start, testWindow, testLimit)
			s.Require().NoError(err)
		}
		count, allowed, err := s.store.Increment(s.ctx, "k:reset", s.start.Add(testWindow), testWindow, testLimit)
		s.Require().NoError(err)
		s.True(allowed)
		s.Equal(1, count)
	})

	s.Run("keys are independent", func() {
		for range testLimit {
			_, _, _ = s.store.Increment(s.ctx, "k:a", s.start, testWindow, testLimit)
		}
		_, allowed, err := s.store.Increment(s.ctx, "k:b", s.start, testWindow, testLimit)
		s.Require().NoError(err)
		s.True(allowed)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentIncrementsNeverExceedLimit() {
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_, allowed, err := s.store.Increment(s.ctx, "k:race", s.start, testWindow, testLimit)
			s.NoError(err)
			if allowed {
				admitted.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int32(testLimit), admitted.Load())
}

func (s *InMemoryStoreSuite) TestPurge() {
	_, _, _ = s.store.Increment(s.ctx, "k:old", s.start, testWindow, testLimit)
	_, _, _ = s.store.Increment(s.ctx, "k:long", s.start, time.Hour, testLimit)

	removed, err := s.store.Purge(s.ctx, s.start.Add(testWindow))
	s.Require().NoError(err)
	s.Equal(int64(1), removed)
	s.Equal(1, s.store.Len())
}

func (s *InMemoryStoreSuite) TestOpportunisticPurge() {
	store := NewInMemoryStore(WithMemoryClock(s.clock), WithPurgeEvery(2))
	_, _, _ = store.Increment(s.ctx, "k:stale", s.start, testWindow, testLimit)

	s.clock.Advance(2 * testWindow)
	_, _, _ = store.Increment(s.ctx, "k:fresh", s.clock.Now(), testWindow, testLimit)

	s.Equal(1, store.Len())
}
