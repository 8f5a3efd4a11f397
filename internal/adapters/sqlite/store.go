package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/coedit/coedit/internal/domain"
)

// FindRoom returns (nil, nil) when the room does not exist.
func (d *DB) FindRoom(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, text, last_activity, users, is_editable, editor_mode, messages, creator_id
		FROM rooms WHERE id = ?`, string(id))

	var (
		rec          domain.RoomRecord
		usersJSON    string
		messagesJSON string
	)
	err := row.Scan(&rec.ID, &rec.Text, &rec.LastActivity, &usersJSON,
		&rec.IsEditable, &rec.EditorMode, &messagesJSON, &rec.CreatorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := sonic.UnmarshalString(usersJSON, &rec.Users); err != nil {
		return nil, fmt.Errorf("decode users for room %s: %w", id, err)
	}
	if err := sonic.UnmarshalString(messagesJSON, &rec.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for room %s: %w", id, err)
	}
	return &rec, nil
}

func (d *DB) CreateRoom(ctx context.Context, rec *domain.RoomRecord) error {
	users := rec.Users
	if users == nil {
		users = map[string]string{}
	}
	usersJSON, err := sonic.MarshalString(users)
	if err != nil {
		return err
	}
	messages := rec.Messages
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	messagesJSON, err := sonic.MarshalString(messages)
	if err != nil {
		return err
	}
	mode := rec.EditorMode
	if mode == "" {
		mode = domain.EditorModePlain
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms (id, text, last_activity, users, is_editable, editor_mode, messages, creator_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), rec.Text, rec.LastActivity, usersJSON,
		rec.IsEditable, string(mode), messagesJSON, rec.CreatorID)
	return err
}

func (d *DB) UpsertRoomText(ctx context.Context, id domain.RoomID, text string, lastActivity time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET text = ?, last_activity = ? WHERE id = ?",
		text, lastActivity, string(id))
	return err
}

func (d *DB) TouchActivity(ctx context.Context, id domain.RoomID) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET last_activity = ? WHERE id = ?",
		time.Now(), string(id))
	return err
}

func (d *DB) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", string(id))
	return err
}

func (d *DB) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id FROM rooms WHERE last_activity < ?", cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []domain.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.RoomID(id))
	}
	return ids, rows.Err()
}

func (d *DB) AddUser(ctx context.Context, id domain.RoomID, userID, username string) error {
	return d.mutateRecord(ctx, id, func(rec *domain.RoomRecord) {
		if rec.Users == nil {
			rec.Users = map[string]string{}
		}
		rec.Users[userID] = username
	})
}

func (d *DB) AppendMessage(ctx context.Context, id domain.RoomID, msg domain.ChatMessage) error {
	return d.mutateRecord(ctx, id, func(rec *domain.RoomRecord) {
		rec.Messages = append(rec.Messages, msg)
	})
}

func (d *DB) SetEditable(ctx context.Context, id domain.RoomID, editable bool, mode domain.EditorMode) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET is_editable = ?, editor_mode = ? WHERE id = ?",
		editable, string(mode), string(id))
	return err
}

// mutateRecord reads, mutates, and writes back the JSON columns in one
// transaction. Joins and chat are low-rate; contention is not a concern here.
// Activity bumps are the caller's business, via TouchActivity.
func (d *DB) mutateRecord(ctx context.Context, id domain.RoomID, mutate func(*domain.RoomRecord)) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT users, messages FROM rooms WHERE id = ?", string(id))
	var usersJSON, messagesJSON string
	if err := row.Scan(&usersJSON, &messagesJSON); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrRoomNotFound
		}
		return err
	}

	var rec domain.RoomRecord
	if err := sonic.UnmarshalString(usersJSON, &rec.Users); err != nil {
		return err
	}
	if err := sonic.UnmarshalString(messagesJSON, &rec.Messages); err != nil {
		return err
	}

	mutate(&rec)

	if usersJSON, err = sonic.MarshalString(rec.Users); err != nil {
		return err
	}
	if messagesJSON, err = sonic.MarshalString(rec.Messages); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE rooms SET users = ?, messages = ? WHERE id = ?",
		usersJSON, messagesJSON, string(id)); err != nil {
		return err
	}
	return tx.Commit()
}
