// Package store persists rooms, participants, messages and anonymous users
// in SQLite via libSQL. Timestamps are stored as Unix milliseconds so range
// scans and ordering stay index-friendly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*SQLiteStore)

// WithClock overrides the clock used for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

func NewSQLiteStore(db *sql.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check satisfies health.Checker.
func (s *SQLiteStore) Check(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) clock() time.Time { return s.now().UTC() }

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapErr translates driver errors into domain sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return turtlesoup.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", turtlesoup.ErrConflict, err)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// --- Users ---

const userColumns = `id, username, nickname, created_at, updated_at`

func scanUser(row scanner) (turtlesoup.User, error) {
	var u turtlesoup.User
	var created, updated int64
	if err := row.Scan(&u.ID, &u.Username, &u.Nickname, &created, &updated); err != nil {
		return u, mapErr(err)
	}
	u.CreatedAt, u.UpdatedAt = fromMS(created), fromMS(updated)
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u turtlesoup.User, token string) (turtlesoup.User, error) {
	now := s.clock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, nickname, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Nickname, token, ms(now), ms(now))
	if err != nil {
		return u, mapErr(err)
	}
	u.CreatedAt, u.UpdatedAt = fromMS(ms(now)), fromMS(ms(now))
	return u, nil
}

func (s *SQLiteStore) UserByToken(ctx context.Context, token string) (turtlesoup.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token = ?`, token))
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (turtlesoup.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) TouchUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET updated_at = ? WHERE id = ?`, ms(s.clock()), id)
	return err
}

// DeleteUser removes the identity record. Deleting an absent user is not an
// error.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

// ExpiredUsers returns anonymous identities idle since before, oldest first.
func (s *SQLiteStore) ExpiredUsers(ctx context.Context, before time.Time, limit int) ([]turtlesoup.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE username LIKE ? ESCAPE '\' AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, strings.ReplaceAll(turtlesoup.AnonymousPrefix, "_", `\_`)+"%", ms(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []turtlesoup.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Rooms ---

const roomColumns = `room_id, host_id, title, title_is_image, title_image,
	solution, solution_is_image, solution_image, free_question, allow_flowers,
	status, active, created_at, updated_at`

func scanRoom(row scanner) (turtlesoup.Room, error) {
	var r turtlesoup.Room
	var status string
	var created, updated int64
	err := row.Scan(
		&r.RoomID, &r.HostID, &r.Title, &r.TitleIsImage, &r.TitleImage,
		&r.Solution, &r.SolutionIsImage, &r.SolutionImage, &r.Rules.FreeQuestion, &r.Rules.AllowFlowers,
		&status, &r.Active, &created, &updated,
	)
	if err != nil {
		return r, mapErr(err)
	}
	r.Status = turtlesoup.RoomStatus(status)
	r.CreatedAt, r.UpdatedAt = fromMS(created), fromMS(updated)
	return r, nil
}

func (s *SQLiteStore) queryRooms(ctx context.Context, query string, args ...any) ([]turtlesoup.Room, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []turtlesoup.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// CreateRoom inserts r with server timestamps. A taken room id yields
// ErrConflict so the caller can draw a new code.
func (s *SQLiteStore) CreateRoom(ctx context.Context, r turtlesoup.Room) (turtlesoup.Room, error) {
	now := fromMS(ms(s.clock()))
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RoomID, r.HostID, r.Title, boolInt(r.TitleIsImage), r.TitleImage,
		r.Solution, boolInt(r.SolutionIsImage), r.SolutionImage, boolInt(r.Rules.FreeQuestion), boolInt(r.Rules.AllowFlowers),
		string(r.Status), boolInt(r.Active), ms(now), ms(now),
	)
	if err != nil {
		return r, mapErr(err)
	}
	return r, nil
}

// Room returns the room record whether or not it is still active.
func (s *SQLiteStore) Room(ctx context.Context, roomID string) (turtlesoup.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = ?`, roomID))
}

// ActiveRoom returns the room only while it is discoverable.
func (s *SQLiteStore) ActiveRoom(ctx context.Context, roomID string) (turtlesoup.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = ? AND active = 1`, roomID))
}

// SetRoomStatus moves an active room from one status to another in a single
// compare-and-set statement. A room that is missing or inactive yields
// ErrNotFound; one whose status changed underneath yields ErrInvalidState.
func (s *SQLiteStore) SetRoomStatus(ctx context.Context, roomID string, from, to turtlesoup.RoomStatus) (turtlesoup.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, `
		UPDATE rooms SET status = ?, updated_at = ?
		WHERE room_id = ? AND status = ? AND active = 1
		RETURNING `+roomColumns,
		string(to), ms(s.clock()), roomID, string(from),
	))
	if errors.Is(err, turtlesoup.ErrNotFound) {
		if _, lookupErr := s.ActiveRoom(ctx, roomID); lookupErr != nil {
			return r, lookupErr
		}
		return r, fmt.Errorf("%w: room %s is no longer %s", turtlesoup.ErrInvalidState, roomID, from)
	}
	return r, err
}

// DeactivateRoom hides the room from lookups ahead of a cascade delete.
func (s *SQLiteStore) DeactivateRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rooms SET active = 0, updated_at = ? WHERE room_id = ?`, ms(s.clock()), roomID)
	return err
}

func (s *SQLiteStore) TouchRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE room_id = ?`, ms(s.clock()), roomID)
	return err
}

// DeleteRoom removes the room record. Deleting an absent room is not an error.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?`, roomID)
	return err
}

// ExpiredRooms returns rooms idle since before, oldest first.
func (s *SQLiteStore) ExpiredRooms(ctx context.Context, before time.Time, limit int) ([]turtlesoup.Room, error) {
	return s.queryRooms(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, ms(before), limit)
}

func (s *SQLiteStore) RoomsHostedBy(ctx context.Context, userID string) ([]turtlesoup.Room, error) {
	return s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms WHERE host_id = ? ORDER BY created_at`, userID)
}
