package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

func testConfig() CacheConfig {
	return CacheConfig{
		DebounceWindow: 30 * time.Millisecond,
		FlushInterval:  10 * time.Second, // out of the way unless a test wants it
		StoreTimeout:   time.Second,
	}
}

func record(id, text string) *domain.RoomRecord {
	return &domain.RoomRecord{
		ID:           domain.RoomID(id),
		Text:         text,
		LastActivity: time.Now(),
	}
}

func TestAcquire(t *testing.T) {
	t.Run("unknown room fails with RoomNotFound", func(t *testing.T) {
		cache := NewSessionCache(testConfig(), newFakeRoomStore(), newFakeUpdateLog(), core.NewStateDocument)

		_, err := cache.Acquire(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("loads persisted text into a fresh document", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", "hello world"))
		cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

		s, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)
		assert.Equal(t, "hello world", s.Doc.Text())
	})

	t.Run("second acquire returns the same session", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", ""))
		cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

		a, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)
		b, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)
		assert.Same(t, a, b)
		assert.EqualValues(t, 1, store.findCalls.Load())
	})
}

func TestAcquireSingleFlight(t *testing.T) {
	store := newFakeRoomStore(record("r1", "shared"))
	store.findDelay = 50 * time.Millisecond
	cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

	const n = 16
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.Acquire(context.Background(), "r1")
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, store.findCalls.Load(), "concurrent acquires must share one load")
	for i := 1; i < n; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
	assert.Equal(t, 1, cache.Len())
}

func TestDebounceCoalescing(t *testing.T) {
	store := newFakeRoomStore(record("r1", ""))
	states := newFakeUpdateLog()
	cache := NewSessionCache(testConfig(), store, states, core.NewStateDocument)

	s, err := cache.Acquire(context.Background(), "r1")
	require.NoError(t, err)

	require.NoError(t, s.Doc.ApplyUpdate([]byte("hello")))
	require.NoError(t, s.Doc.ApplyUpdate([]byte("hello world")))

	// Only the last state of the burst may reach the stores.
	assert.Eventually(t, func() bool {
		return store.text("r1") == "hello world"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.upsertCount(), "intermediate state must never be persisted")

	latest, err := states.LatestState(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), latest)
}

func TestIntervalPersistence(t *testing.T) {
	cfg := testConfig()
	cfg.DebounceWindow = 10 * time.Second // starve the debounce path
	cfg.FlushInterval = 30 * time.Millisecond
	store := newFakeRoomStore(record("r1", ""))
	cache := NewSessionCache(cfg, store, newFakeUpdateLog(), core.NewStateDocument)

	s, err := cache.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	require.NoError(t, s.Doc.ApplyUpdate([]byte("steady")))

	assert.Eventually(t, func() bool {
		return store.text("r1") == "steady"
	}, time.Second, 10*time.Millisecond)
}

func TestEmptyDocumentNeverPersisted(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	store := newFakeRoomStore(record("r1", ""))
	cache := NewSessionCache(cfg, store, newFakeUpdateLog(), core.NewStateDocument)

	_, err := cache.Acquire(context.Background(), "r1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, store.upsertCount(), "an empty document must never overwrite the record")
}

func TestEvict(t *testing.T) {
	t.Run("flushes and survives reacquire", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", ""))
		cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

		s, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)
		require.NoError(t, s.Doc.ApplyUpdate([]byte("kept")))

		cache.Evict("r1")
		assert.Equal(t, 0, cache.Len())
		assert.Equal(t, "kept", store.text("r1"))

		again, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)
		assert.NotSame(t, s, again)
		assert.Equal(t, "kept", again.Doc.Text())
	})

	t.Run("evicting an absent room is a no-op", func(t *testing.T) {
		cache := NewSessionCache(testConfig(), newFakeRoomStore(), newFakeUpdateLog(), core.NewStateDocument)
		cache.Evict("ghost")
		cache.Evict("ghost")
	})
}

func TestInvalidate(t *testing.T) {
	t.Run("drops without flushing and notifies connections", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", ""))
		cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

		conn := &fakeConn{id: "c1"}
		s, err := cache.Attach(context.Background(), "r1", conn)
		require.NoError(t, err)
		require.NoError(t, s.Doc.ApplyUpdate([]byte("doomed")))

		require.NoError(t, store.DeleteRoom(context.Background(), "r1"))
		cache.Invalidate("r1")

		assert.Equal(t, 0, cache.Len())
		assert.True(t, conn.wasDeleted())
		assert.False(t, store.exists("r1"), "invalidate must not resurrect the record")
	})

	t.Run("no zombie writes after invalidate", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", ""))
		states := newFakeUpdateLog()
		cache := NewSessionCache(testConfig(), store, states, core.NewStateDocument)

		s, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)

		// Schedule a debounce flush, then invalidate before it fires.
		require.NoError(t, s.Doc.ApplyUpdate([]byte("zombie")))
		cache.Invalidate("r1")

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 0, store.upsertCount())
		assert.Equal(t, 0, states.appendCount())
	})
}

func TestRelease(t *testing.T) {
	store := newFakeRoomStore(record("r1", ""))
	cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

	conn := &fakeConn{id: "c1"}
	s, err := cache.Attach(context.Background(), "r1", conn)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ConnCount())

	cache.Release("r1", "c1")
	assert.Equal(t, 0, s.ConnCount())
	assert.Equal(t, 1, cache.Len(), "release must not evict")
}

func TestApplyIncomingUpdateReloadsEvictedSession(t *testing.T) {
	store := newFakeRoomStore(record("r1", ""))
	cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

	s, err := cache.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	require.NoError(t, s.Doc.ApplyUpdate([]byte("before eviction")))
	cache.Evict("r1")

	reloaded, err := cache.ApplyIncomingUpdate(context.Background(), "r1", []byte("after eviction"))
	require.NoError(t, err)
	assert.Equal(t, "after eviction", reloaded.Doc.Text())
	assert.Equal(t, 1, cache.Len())
}

func TestUpdateRacingEviction(t *testing.T) {
	t.Run("stopped session lingering in the cache is replaced on acquire", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", "base"))
		cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

		s1, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)

		// An eviction can stop the session while a caller still holds the
		// handle; that handle must never be handed out again.
		s1.stop()

		s2, err := cache.Acquire(context.Background(), "r1")
		require.NoError(t, err)
		assert.NotSame(t, s1, s2)
		assert.False(t, s2.isStopped())
		assert.Equal(t, "base", s2.Doc.Text())
	})

	t.Run("edit racing an eviction is never lost", func(t *testing.T) {
		store := newFakeRoomStore(record("r1", "base"))
		cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

		for i := 0; i < 25; i++ {
			edit := fmt.Sprintf("acknowledged edit %d", i)
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				cache.Evict("r1")
			}()
			go func() {
				defer wg.Done()
				_, err := cache.ApplyIncomingUpdate(context.Background(), "r1", []byte(edit))
				assert.NoError(t, err)
			}()
			wg.Wait()

			s, err := cache.Acquire(context.Background(), "r1")
			require.NoError(t, err)
			require.Equal(t, edit, s.Doc.Text())
		}
	})
}

func TestCloseAll(t *testing.T) {
	store := newFakeRoomStore(record("r1", ""), record("r2", ""))
	cache := NewSessionCache(testConfig(), store, newFakeUpdateLog(), core.NewStateDocument)

	s1, err := cache.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	s2, err := cache.Acquire(context.Background(), "r2")
	require.NoError(t, err)

	require.NoError(t, s1.Doc.ApplyUpdate([]byte("flush me")))
	require.NoError(t, s2.Doc.ApplyUpdate([]byte("gone")))

	// r2's record disappears behind the cache's back; shutdown must not
	// resurrect it.
	require.NoError(t, store.DeleteRoom(context.Background(), "r2"))

	cache.CloseAll(context.Background())

	assert.Equal(t, "flush me", store.text("r1"))
	assert.False(t, store.exists("r2"))
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Acquire(context.Background(), "r1")
	assert.Error(t, err, "acquire after shutdown must fail")
}
