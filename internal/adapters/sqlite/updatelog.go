package sqlite

import (
	"context"
	"database/sql"

	"github.com/coedit/coedit/internal/domain"
)

// keepStates bounds the per-room state log. Every append carries the full
// encoded document, so older rows are only useful as a short recovery trail.
const keepStates = 20

// AppendState appends the full encoded document state for a room and prunes
// the log down to the most recent entries.
func (d *DB) AppendState(ctx context.Context, id domain.RoomID, state []byte) error {
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO room_updates (room_id, state) VALUES (?, ?)",
		string(id), state); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM room_updates
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM room_updates
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)`, string(id), string(id), keepStates)
	return err
}

// LatestState returns (nil, nil) when no state has been appended yet.
func (d *DB) LatestState(ctx context.Context, id domain.RoomID) ([]byte, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT state FROM room_updates
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT 1`, string(id))

	var state []byte
	err := row.Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (d *DB) DeleteStates(ctx context.Context, id domain.RoomID) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM room_updates WHERE room_id = ?", string(id))
	return err
}
