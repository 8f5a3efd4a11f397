package sqlite

import (
	"context"

	"github.com/coedit/coedit/internal/domain"
)

func (d *DB) ListFiles(ctx context.Context, id domain.RoomID) ([]domain.FileMeta, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, name, size, uploaded_by, uploaded_at
		FROM room_files WHERE room_id = ?
		ORDER BY uploaded_at ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.FileMeta
	for rows.Next() {
		var f domain.FileMeta
		if err := rows.Scan(&f.ID, &f.RoomID, &f.Name, &f.Size, &f.UploadedBy, &f.UploadedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteRoomFiles drops metadata and payloads together. Callers must delete
// the room record after this, never before.
func (d *DB) DeleteRoomFiles(ctx context.Context, id domain.RoomID) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM room_files WHERE room_id = ?", string(id))
	return err
}
