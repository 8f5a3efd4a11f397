// Package domain contains entity without logic, just meta-data
package domain

import "time"

type RoomID string

type EditorMode string

const (
	EditorModePlain    EditorMode = "plain"
	EditorModeMarkdown EditorMode = "markdown"
	EditorModeCode     EditorMode = "code"
)

// RoomRecord is the durable record for one room. The record store is the
// single source of truth for room existence.
type RoomRecord struct {
	ID           RoomID            `json:"id"`
	Text         string            `json:"text"`
	LastActivity time.Time         `json:"last_activity"`
	Users        map[string]string `json:"users"`
	IsEditable   bool              `json:"is_editable"`
	EditorMode   EditorMode        `json:"editor_mode"`
	Messages     []ChatMessage     `json:"messages"`
	CreatorID    string            `json:"creator_id"`
}

type ChatMessage struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// FileMeta describes an uploaded file attached to a room. Payloads live in
// the file store and are reaped together with the room record.
type FileMeta struct {
	ID         string    `json:"id"`
	RoomID     RoomID    `json:"room_id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}
