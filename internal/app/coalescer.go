package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Two persistence cadences cooperate for every session. The debounce collapses
// an edit burst into one write after a quiet window; the fixed interval
// guarantees progress even when continuous edits keep resetting the debounce.
// Both end up in persist.

func (c *SessionCache) scheduleDebounce(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.debounce == nil {
		s.debounce = time.AfterFunc(c.cfg.DebounceWindow, func() {
			c.persist(s, false)
		})
		return
	}
	s.debounce.Reset(c.cfg.DebounceWindow)
}

func (c *SessionCache) startInterval(s *Session) {
	go func() {
		ticker := time.NewTicker(c.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopInterval:
				return
			case <-ticker.C:
				c.persist(s, false)
			}
		}
	}()
}

// persist writes the current document state to the update log and, when the
// text actually changed, to the record store. Empty documents are never
// written: an empty write before the initial load completes would wipe the
// record. Failures are logged and retried on the next cadence; they never
// reach the editing client and never touch the in-memory document.
//
// force bypasses the stopped check for the final flush on evict/shutdown.
// A fired timer without force cannot write once the session is stopped, so an
// invalidated session produces no zombie writes.
func (c *SessionCache) persist(s *Session, force bool) {
	s.mu.Lock()
	if s.stopped && !force {
		s.mu.Unlock()
		return
	}
	text := s.Doc.Text()
	if text == "" || text == s.lastPersisted {
		s.mu.Unlock()
		return
	}
	state := s.Doc.EncodeState()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()

	// The two stores are eventually consistent with each other; neither write
	// depends on the other. The record store text is authoritative on reload.
	if err := c.states.AppendState(ctx, s.RoomID, state); err != nil {
		log.Warn().Err(err).Str("module", "app.coalescer").Str("room", string(s.RoomID)).Msg("state append failed, retrying next cadence")
	}
	if err := c.rooms.UpsertRoomText(ctx, s.RoomID, text, time.Now()); err != nil {
		log.Warn().Err(err).Str("module", "app.coalescer").Str("room", string(s.RoomID)).Msg("text upsert failed, retrying next cadence")
		return
	}

	s.mu.Lock()
	s.lastPersisted = text
	s.mu.Unlock()
	log.Debug().Str("module", "app.coalescer").Str("room", string(s.RoomID)).Int("bytes", len(text)).Msg("session persisted")
}
