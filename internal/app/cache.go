package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

// CacheConfig carries the persistence cadences for live sessions.
type CacheConfig struct {
	// DebounceWindow is the quiet period after the last edit before a flush.
	DebounceWindow time.Duration
	// FlushInterval is the fixed persistence period, independent of the
	// debounce, so a continuous edit stream cannot starve durability.
	FlushInterval time.Duration
	// StoreTimeout bounds every durable-store call.
	StoreTimeout time.Duration
}

// SessionCache maps room IDs to live sessions. All map access goes through
// one mutex; loads for unseen rooms are deduplicated with singleflight so
// concurrent acquires never construct two sessions for the same room.
type SessionCache struct {
	cfg    CacheConfig
	rooms  core.RoomStore
	states core.UpdateLog
	newDoc core.DocumentFactory

	mu       sync.RWMutex
	sessions map[domain.RoomID]*Session
	closed   bool
	flight   singleflight.Group
}

func NewSessionCache(cfg CacheConfig, rooms core.RoomStore, states core.UpdateLog, newDoc core.DocumentFactory) *SessionCache {
	return &SessionCache{
		cfg:      cfg,
		rooms:    rooms,
		states:   states,
		newDoc:   newDoc,
		sessions: make(map[domain.RoomID]*Session),
	}
}

// Acquire returns the live session for a room, loading it from the record
// store if absent. Returns domain.ErrRoomNotFound when the record store has
// no such room. A session that a concurrent evict or invalidate already
// stopped is never handed out; the caller gets a fresh load instead.
func (c *SessionCache) Acquire(ctx context.Context, id domain.RoomID) (*Session, error) {
	for {
		c.mu.RLock()
		s, ok := c.sessions[id]
		c.mu.RUnlock()
		if ok && !s.isStopped() {
			s.touch(time.Now())
			return s, nil
		}

		v, err, _ := c.flight.Do(string(id), func() (any, error) {
			return c.load(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		s = v.(*Session)
		if s.isStopped() {
			// The flight result raced an eviction; drop it and reload.
			c.flight.Forget(string(id))
			continue
		}
		s.touch(time.Now())
		return s, nil
	}
}

func (c *SessionCache) load(ctx context.Context, id domain.RoomID) (*Session, error) {
	// Another flight may have inserted the session between our fast path and
	// the singleflight call.
	c.mu.RLock()
	if s, ok := c.sessions[id]; ok && !s.isStopped() {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	fctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	rec, err := c.rooms.FindRoom(fctx, id)
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", id, err)
	}
	if rec == nil {
		return nil, domain.ErrRoomNotFound
	}

	s := newSession(id, c.newDoc(rec.Text), rec.Text)
	s.Doc.OnChange(func() {
		s.touch(time.Now())
		c.scheduleDebounce(s)
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("session cache is shut down")
	}
	if existing, ok := c.sessions[id]; ok && !existing.isStopped() {
		c.mu.Unlock()
		return existing, nil
	}
	c.sessions[id] = s
	c.mu.Unlock()

	c.startInterval(s)
	log.Info().Str("module", "app.cache").Str("room", string(id)).Msg("session loaded")
	return s, nil
}

// Touch refreshes the session's last access time. A miss is not an error.
func (c *SessionCache) Touch(id domain.RoomID) {
	c.mu.RLock()
	s, ok := c.sessions[id]
	c.mu.RUnlock()
	if ok {
		s.touch(time.Now())
	}
}

// Attach registers a subscriber connection on the room's session, loading the
// session if needed, and returns the session for document access.
func (c *SessionCache) Attach(ctx context.Context, id domain.RoomID, conn core.SubscriberConn) (*Session, error) {
	s, err := c.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attach(conn)
	return s, nil
}

// Release detaches a connection. It never evicts: the client may reconnect
// within seconds and reloading from the stores is the expensive path.
func (c *SessionCache) Release(id domain.RoomID, connID core.ConnID) {
	c.mu.RLock()
	s, ok := c.sessions[id]
	c.mu.RUnlock()
	if ok {
		s.detach(connID)
	}
}

// ApplyIncomingUpdate applies a binary update from a client. An evicted
// session is transparently reloaded here. The session is returned so the
// connection layer can fan the update out in its own framing.
//
// An eviction can stop the session between Acquire and the apply, in which
// case the final flush may have run without this edit. CRDT updates are
// idempotent, so the update is re-applied on a freshly loaded session until
// it lands on a live one; an acknowledged edit is never dropped.
func (c *SessionCache) ApplyIncomingUpdate(ctx context.Context, id domain.RoomID, update []byte) (*Session, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := c.Acquire(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.Doc.ApplyUpdate(update); err != nil {
			return nil, fmt.Errorf("apply update for room %s: %w", id, err)
		}
		if !s.isStopped() {
			return s, nil
		}
	}
}

// Evict removes the session and flushes it. Evicting an absent room is a
// no-op. The next Acquire reloads from the record store.
func (c *SessionCache) Evict(id domain.RoomID) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	s.stop()
	c.persist(s, true)
	log.Info().Str("module", "app.cache").Str("room", string(id)).Msg("session evicted")
}

// Invalidate drops the session without flushing. Called when the backing
// record is gone; a flush here would resurrect a record the reaper removed.
func (c *SessionCache) Invalidate(id domain.RoomID) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	s.stop()
	s.notifyDeleted()
	log.Warn().Str("module", "app.cache").Str("room", string(id)).Msg("session invalidated, record gone")
}

// OnRoomDeleted implements core.DeletionListener for the reaper.
func (c *SessionCache) OnRoomDeleted(id domain.RoomID) {
	c.Invalidate(id)
}

// Sessions returns a snapshot of the live sessions.
func (c *SessionCache) Sessions() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// CloseAll flushes every session that still has a backing record and waits
// for all flushes to finish. Edits acknowledged before the shutdown signal
// must reach the stores.
func (c *SessionCache) CloseAll(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	snapshot := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		snapshot = append(snapshot, s)
	}
	c.sessions = make(map[domain.RoomID]*Session)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range snapshot {
		s.stop()
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
			defer cancel()
			rec, err := c.rooms.FindRoom(fctx, s.RoomID)
			if err != nil {
				log.Error().Err(err).Str("module", "app.cache").Str("room", string(s.RoomID)).Msg("shutdown revalidation failed, skipping flush")
				return
			}
			if rec == nil {
				return
			}
			c.persist(s, true)
		}(s)
	}
	wg.Wait()
	log.Info().Str("module", "app.cache").Int("sessions", len(snapshot)).Msg("shutdown flush complete")
}
