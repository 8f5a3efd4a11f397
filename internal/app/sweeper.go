package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/core"
)

// Sweeper evicts sessions idle beyond the TTL, bounding memory. It runs on
// the same period as the TTL: a session never outlives the threshold by more
// than one period. Eviction ignores open-but-silent connections; the session
// is transparently reloaded on the next edit.
type Sweeper struct {
	cache   *SessionCache
	rooms   core.RoomStore
	idleTTL time.Duration
	timeout time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSweeper(cache *SessionCache, rooms core.RoomStore, idleTTL, timeout time.Duration) *Sweeper {
	return &Sweeper{
		cache:   cache,
		rooms:   rooms,
		idleTTL: idleTTL,
		timeout: timeout,
		stop:    make(chan struct{}),
	}
}

func (w *Sweeper) Start() {
	w.wg.Add(1)
	go w.run()
	log.Info().Str("module", "app.sweeper").Dur("idle_ttl", w.idleTTL).Msg("idle sweeper started")
}

func (w *Sweeper) Stop() {
	close(w.stop)
	w.wg.Wait()
	log.Info().Str("module", "app.sweeper").Msg("idle sweeper stopped")
}

func (w *Sweeper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep checks every cached session. Idle sessions whose record disappeared
// between sweeps are invalidated, never flushed; idle sessions that still
// exist are flushed and evicted.
func (w *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.idleTTL)
	evicted := 0

	for _, s := range w.cache.Sessions() {
		if s.LastAccess().After(cutoff) {
			continue
		}

		fctx, cancel := context.WithTimeout(ctx, w.timeout)
		rec, err := w.rooms.FindRoom(fctx, s.RoomID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "app.sweeper").Str("room", string(s.RoomID)).Msg("existence check failed, keeping session")
			continue
		}
		if rec == nil {
			w.cache.Invalidate(s.RoomID)
			continue
		}

		w.cache.Evict(s.RoomID)
		evicted++
	}

	if evicted > 0 {
		log.Info().Str("module", "app.sweeper").Int("evicted", evicted).Msg("idle sweep done")
	}
}
