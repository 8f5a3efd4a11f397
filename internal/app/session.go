package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

// Session is the live in-memory state for one room: its replicated document,
// attached subscriber connections, and flush bookkeeping. Owned exclusively
// by the SessionCache; at most one exists per room.
type Session struct {
	RoomID domain.RoomID
	Doc    core.ReplicatedDocument

	mu            sync.Mutex
	lastAccess    time.Time
	conns         map[core.ConnID]core.SubscriberConn
	debounce      *time.Timer
	stopInterval  chan struct{}
	stopped       bool
	lastPersisted string
}

func newSession(id domain.RoomID, doc core.ReplicatedDocument, persistedText string) *Session {
	return &Session{
		RoomID:        id,
		Doc:           doc,
		lastAccess:    time.Now(),
		conns:         make(map[core.ConnID]core.SubscriberConn),
		stopInterval:  make(chan struct{}),
		lastPersisted: persistedText,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// ConnCount is advisory only; eviction is driven by LastAccess, not by the
// absence of connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Session) attach(conn core.SubscriberConn) {
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.lastAccess = time.Now()
	n := len(s.conns)
	s.mu.Unlock()
	log.Info().Str("module", "app.session").Str("room", string(s.RoomID)).Str("conn", string(conn.ID())).Int("conns", n).Msg("connection attached")
}

func (s *Session) detach(id core.ConnID) {
	s.mu.Lock()
	delete(s.conns, id)
	n := len(s.conns)
	s.mu.Unlock()
	log.Info().Str("module", "app.session").Str("room", string(s.RoomID)).Str("conn", string(id)).Int("conns", n).Msg("connection detached")
}

// Broadcast fans a frame out to every attached connection except the sender.
func (s *Session) Broadcast(from core.ConnID, data core.Frame) {
	s.mu.Lock()
	conns := make([]core.SubscriberConn, 0, len(s.conns))
	for id, conn := range s.conns {
		if id == from {
			continue
		}
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	dropped := 0
	for _, conn := range conns {
		if err := conn.TrySend(data); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		log.Debug().Str("module", "app.session").Str("room", string(s.RoomID)).Int("dropped", dropped).Msg("broadcast backpressure")
	}
}

// stop cancels the debounce and interval timers and marks the session dead so
// a timer that already fired cannot produce a late write. Returns false if the
// session was already stopped.
func (s *Session) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
	}
	close(s.stopInterval)
	return true
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Session) notifyDeleted() {
	s.mu.Lock()
	conns := make([]core.SubscriberConn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.NotifyRoomDeleted()
	}
}
