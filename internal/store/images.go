package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

const imageColumns = `name, owner_id, room_id, created_at`

func scanImage(row scanner) (turtlesoup.Image, error) {
	var img turtlesoup.Image
	var created int64
	if err := row.Scan(&img.Name, &img.OwnerID, &img.RoomID, &created); err != nil {
		return img, mapErr(err)
	}
	img.CreatedAt = fromMS(created)
	return img, nil
}

// SaveImage records who uploaded a stored file.
func (s *SQLiteStore) SaveImage(ctx context.Context, img turtlesoup.Image) (turtlesoup.Image, error) {
	img.CreatedAt = fromMS(ms(s.clock()))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?)
	`, img.Name, img.OwnerID, img.RoomID, ms(img.CreatedAt))
	if err != nil {
		return img, mapErr(err)
	}
	return img, nil
}

func (s *SQLiteStore) Image(ctx context.Context, name string) (turtlesoup.Image, error) {
	return scanImage(s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE name = ?`, name))
}

// AttachImages binds images uploaded by ownerID to roomID, all or none. An
// image may be reused within its room but never claimed by a second one.
func (s *SQLiteStore) AttachImages(ctx context.Context, ownerID, roomID string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	for _, name := range names {
		res, err := tx.ExecContext(ctx, `
			UPDATE images SET room_id = ?
			WHERE name = ? AND owner_id = ? AND (room_id = '' OR room_id = ?)
		`, roomID, name, ownerID, roomID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 1 {
			continue
		}

		img, err := scanImage(tx.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE name = ?`, name))
		switch {
		case errors.Is(err, turtlesoup.ErrNotFound):
			return fmt.Errorf("%w: image %s was never uploaded", turtlesoup.ErrInvalidInput, name)
		case err != nil:
			return err
		case img.OwnerID != ownerID:
			return fmt.Errorf("%w: image %s belongs to another user", turtlesoup.ErrForbidden, name)
		default:
			return fmt.Errorf("%w: image %s is already used in another room", turtlesoup.ErrConflict, name)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) imageNames(ctx context.Context, column, value string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM images WHERE `+column+` = ? ORDER BY created_at, name`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RoomImages lists the images attached to a room's record or messages.
func (s *SQLiteStore) RoomImages(ctx context.Context, roomID string) ([]string, error) {
	return s.imageNames(ctx, "room_id", roomID)
}

// UserImages lists every image a user uploaded, attached or not.
func (s *SQLiteStore) UserImages(ctx context.Context, userID string) ([]string, error) {
	return s.imageNames(ctx, "owner_id", userID)
}

// DeleteImage drops an image record. Deleting an absent record is not an
// error.
func (s *SQLiteStore) DeleteImage(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE name = ?`, name)
	return err
}
