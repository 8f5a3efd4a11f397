package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

// In-memory store fakes shared by the app tests.

type fakeRoomStore struct {
	mu        sync.Mutex
	rooms     map[domain.RoomID]*domain.RoomRecord
	findCalls atomic.Int32
	findDelay time.Duration
	upserts   int
	failFind  bool
}

func newFakeRoomStore(rooms ...*domain.RoomRecord) *fakeRoomStore {
	s := &fakeRoomStore{rooms: make(map[domain.RoomID]*domain.RoomRecord)}
	for _, rec := range rooms {
		s.rooms[rec.ID] = rec
	}
	return s
}

func (s *fakeRoomStore) FindRoom(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	s.findCalls.Add(1)
	if s.findDelay > 0 {
		time.Sleep(s.findDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind {
		return nil, errors.New("store unavailable")
	}
	rec, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeRoomStore) CreateRoom(ctx context.Context, rec *domain.RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[rec.ID]; !ok {
		cp := *rec
		s.rooms[rec.ID] = &cp
	}
	return nil
}

func (s *fakeRoomStore) UpsertRoomText(ctx context.Context, id domain.RoomID, text string, lastActivity time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	rec, ok := s.rooms[id]
	if !ok {
		// A flush must never resurrect a deleted record; recreate would be a
		// bug the tests want to catch.
		rec = &domain.RoomRecord{ID: id}
		s.rooms[id] = rec
	}
	rec.Text = text
	rec.LastActivity = lastActivity
	return nil
}

func (s *fakeRoomStore) TouchActivity(ctx context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rooms[id]; ok {
		rec.LastActivity = time.Now()
	}
	return nil
}

func (s *fakeRoomStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *fakeRoomStore) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.RoomID
	for id, rec := range s.rooms {
		if rec.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeRoomStore) AddUser(ctx context.Context, id domain.RoomID, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if rec.Users == nil {
		rec.Users = map[string]string{}
	}
	rec.Users[userID] = username
	return nil
}

func (s *fakeRoomStore) AppendMessage(ctx context.Context, id domain.RoomID, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	rec.Messages = append(rec.Messages, msg)
	return nil
}

func (s *fakeRoomStore) SetEditable(ctx context.Context, id domain.RoomID, editable bool, mode domain.EditorMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	rec.IsEditable = editable
	rec.EditorMode = mode
	return nil
}

func (s *fakeRoomStore) text(id domain.RoomID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rooms[id]; ok {
		return rec.Text
	}
	return ""
}

func (s *fakeRoomStore) exists(id domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok
}

func (s *fakeRoomStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type fakeUpdateLog struct {
	mu      sync.Mutex
	states  map[domain.RoomID][][]byte
	appends int
}

func newFakeUpdateLog() *fakeUpdateLog {
	return &fakeUpdateLog{states: make(map[domain.RoomID][][]byte)}
}

func (l *fakeUpdateLog) AppendState(ctx context.Context, id domain.RoomID, state []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appends++
	l.states[id] = append(l.states[id], append([]byte(nil), state...))
	return nil
}

func (l *fakeUpdateLog) LatestState(ctx context.Context, id domain.RoomID) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	states := l.states[id]
	if len(states) == 0 {
		return nil, nil
	}
	return states[len(states)-1], nil
}

func (l *fakeUpdateLog) DeleteStates(ctx context.Context, id domain.RoomID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, id)
	return nil
}

func (l *fakeUpdateLog) appendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appends
}

type fakeFileStore struct {
	mu         sync.Mutex
	files      map[domain.RoomID][]domain.FileMeta
	failDelete bool
	deleted    []domain.RoomID
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[domain.RoomID][]domain.FileMeta)}
}

func (f *fakeFileStore) ListFiles(ctx context.Context, id domain.RoomID) ([]domain.FileMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[id], nil
}

func (f *fakeFileStore) DeleteRoomFiles(ctx context.Context, id domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errors.New("file store unavailable")
	}
	delete(f.files, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeConn struct {
	id      core.ConnID
	mu      sync.Mutex
	frames  []core.Frame
	deleted bool
	closed  bool
}

func (c *fakeConn) ID() core.ConnID { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) NotifyRoomDeleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) wasDeleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted
}
