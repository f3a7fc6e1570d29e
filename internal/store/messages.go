package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

const (
	// DefaultHistoryLimit applies when a history read names no limit.
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

const messageColumns = `seq, id, room_id, sender, from_name, type, content, image_url, timestamp, created_at`

func scanMessage(row scanner) (turtlesoup.Message, error) {
	var m turtlesoup.Message
	var typ string
	var ts, created int64
	err := row.Scan(&m.Seq, &m.ID, &m.RoomID, &m.From, &m.FromName, &typ, &m.Content, &m.ImageURL, &ts, &created)
	if err != nil {
		return m, mapErr(err)
	}
	m.Type = turtlesoup.MessageType(typ)
	m.Timestamp, m.CreatedAt = fromMS(ts), fromMS(created)
	return m, nil
}

// AppendMessage persists m with a fresh id and server timestamps, and bumps
// the room's updatedAt in the same transaction so a retried append never
// leaves the two out of step. Timestamp always equals CreatedAt, so history
// order is timestamp order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m turtlesoup.Message) (turtlesoup.Message, error) {
	now := fromMS(ms(s.clock()))
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = now
	m.Timestamp = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return m, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, room_id, sender, from_name, type, content, image_url, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`, m.ID, m.RoomID, m.From, m.FromName, string(m.Type), m.Content, m.ImageURL, ms(m.Timestamp), ms(now)).Scan(&m.Seq)
	if err != nil {
		return m, mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE room_id = ?`, ms(now), m.RoomID); err != nil {
		return m, fmt.Errorf("touching room: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return m, fmt.Errorf("committing: %w", err)
	}
	return m, nil
}

// Messages returns up to limit messages of a room, oldest first. A
// non-positive limit means DefaultHistoryLimit; larger limits are capped at
// MaxHistoryLimit.
func (s *SQLiteStore) Messages(ctx context.Context, roomID string, limit int) ([]turtlesoup.Message, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ?
		ORDER BY created_at, seq
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []turtlesoup.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRoomMessages(ctx context.Context, roomID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteUserMessages(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE sender = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
