package store

import (
	"context"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

const participantColumns = `room_id, user_id, nickname, is_host, joined_at, last_active`

func scanParticipant(row scanner) (turtlesoup.Participant, error) {
	var p turtlesoup.Participant
	var joined, active int64
	if err := row.Scan(&p.RoomID, &p.UserID, &p.Nickname, &p.IsHost, &joined, &active); err != nil {
		return p, mapErr(err)
	}
	p.JoinedAt, p.LastActive = fromMS(joined), fromMS(active)
	return p, nil
}

// Join records p as a member of its room. A user already present keeps their
// original joinedAt and only gets lastActive refreshed. created reports
// whether a new record was inserted.
func (s *SQLiteStore) Join(ctx context.Context, p turtlesoup.Participant) (_ turtlesoup.Participant, created bool, _ error) {
	now := s.clock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (room_id, user_id, nickname, is_host, joined_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, p.RoomID, p.UserID, p.Nickname, boolInt(p.IsHost), ms(now), ms(now))
	if err != nil {
		return p, false, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		p.JoinedAt, p.LastActive = fromMS(ms(now)), fromMS(ms(now))
		return p, true, nil
	}

	got, err := scanParticipant(s.db.QueryRowContext(ctx, `
		UPDATE participants SET last_active = ?
		WHERE room_id = ? AND user_id = ?
		RETURNING `+participantColumns,
		ms(now), p.RoomID, p.UserID,
	))
	return got, false, err
}

// Leave removes the membership record. removed is false when the user was
// not a member.
func (s *SQLiteStore) Leave(ctx context.Context, roomID, userID string) (removed bool, _ error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) Participant(ctx context.Context, roomID, userID string) (turtlesoup.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM participants WHERE room_id = ? AND user_id = ?
	`, roomID, userID))
}

// Participants lists a room's members, host first then by join time.
func (s *SQLiteStore) Participants(ctx context.Context, roomID string) ([]turtlesoup.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE room_id = ?
		ORDER BY is_host DESC, joined_at, seq
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []turtlesoup.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TouchParticipant(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE participants SET last_active = ? WHERE room_id = ? AND user_id = ?
	`, ms(s.clock()), roomID, userID)
	return err
}

// DeleteParticipants removes every membership record of a room.
func (s *SQLiteStore) DeleteParticipants(ctx context.Context, roomID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteUserParticipants removes every membership record of a user across
// rooms and returns the affected room ids.
func (s *SQLiteStore) DeleteUserParticipants(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM participants WHERE user_id = ? RETURNING room_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}
