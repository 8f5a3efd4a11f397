package core

import (
	"context"
	"time"

	"github.com/coedit/coedit/internal/domain"
)

// Frame is a raw payload delivered to a subscriber connection.
type Frame []byte

// ConnID identifies one subscriber connection within a session.
type ConnID string

// ReplicatedDocument is the opaque CRDT value a session owns. The merge
// algorithm is external; the session layer only applies updates, reads the
// current state, and subscribes to changes.
type ReplicatedDocument interface {
	ApplyUpdate(update []byte) error
	EncodeState() []byte
	Text() string
	IsEmpty() bool
	OnChange(fn func())
}

// DocumentFactory builds a fresh replicated document seeded with the
// persisted text. Called exactly once per session.
type DocumentFactory func(initialText string) ReplicatedDocument

// SubscriberConn is a transport endpoint attached to a session.
// Owned by the adapter; the adapter must Close() it.
type SubscriberConn interface {
	ID() ConnID
	TrySend(Frame) error
	// NotifyRoomDeleted tells the client its room was permanently removed.
	NotifyRoomDeleted()
	Close()
}

// RoomStore is the record store, the source of truth for room existence.
// FindRoom returns (nil, nil) when the room does not exist.
type RoomStore interface {
	FindRoom(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error)
	CreateRoom(ctx context.Context, rec *domain.RoomRecord) error
	UpsertRoomText(ctx context.Context, id domain.RoomID, text string, lastActivity time.Time) error
	TouchActivity(ctx context.Context, id domain.RoomID) error
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	ListExpired(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error)

	AddUser(ctx context.Context, id domain.RoomID, userID, username string) error
	AppendMessage(ctx context.Context, id domain.RoomID, msg domain.ChatMessage) error
	SetEditable(ctx context.Context, id domain.RoomID, editable bool, mode domain.EditorMode) error
}

// UpdateLog is the durable append-only log of full encoded document states.
type UpdateLog interface {
	AppendState(ctx context.Context, id domain.RoomID, state []byte) error
	DeleteStates(ctx context.Context, id domain.RoomID) error
}

// FileStore holds uploaded file metadata and payloads for a room.
type FileStore interface {
	ListFiles(ctx context.Context, id domain.RoomID) ([]domain.FileMeta, error)
	DeleteRoomFiles(ctx context.Context, id domain.RoomID) error
}

// DeletionListener is notified after the reaper permanently removes a room.
// Listeners must not write to the record store for that room on receipt.
type DeletionListener interface {
	OnRoomDeleted(id domain.RoomID)
}
