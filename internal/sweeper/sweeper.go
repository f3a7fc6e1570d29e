// Package sweeper deletes rooms and anonymous identities that have been idle
// past the retention window, together with everything they own.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

const (
	// DefaultMaxAge is how long a room or anonymous user may sit idle.
	DefaultMaxAge = 48 * time.Hour
	// BatchLimit caps how many entities of each kind one sweep handles.
	BatchLimit       = 100
	DefaultItemDelay = 100 * time.Millisecond
)

// Cascade step names reported in *turtlesoup.CascadeError.
const (
	StepLoadRoom     = "load_room"
	StepListImages   = "list_images"
	StepMessages     = "messages"
	StepParticipants = "participants"
	StepImages       = "images"
	StepRoom         = "room"
	StepHostedRooms  = "hosted_rooms"
	StepUser         = "user"
)

type Store interface {
	ExpiredRooms(ctx context.Context, before time.Time, limit int) ([]turtlesoup.Room, error)
	ExpiredUsers(ctx context.Context, before time.Time, limit int) ([]turtlesoup.User, error)

	Room(ctx context.Context, roomID string) (turtlesoup.Room, error)
	DeleteRoomMessages(ctx context.Context, roomID string) (int64, error)
	DeleteParticipants(ctx context.Context, roomID string) (int64, error)
	DeleteRoom(ctx context.Context, roomID string) error

	DeleteUserMessages(ctx context.Context, userID string) (int64, error)
	DeleteUserParticipants(ctx context.Context, userID string) ([]string, error)
	RoomsHostedBy(ctx context.Context, userID string) ([]turtlesoup.Room, error)
	DeleteUser(ctx context.Context, userID string) error

	// RoomImages and UserImages list the stored image names attached to a
	// room and uploaded by a user.
	RoomImages(ctx context.Context, roomID string) ([]string, error)
	UserImages(ctx context.Context, userID string) ([]string, error)
	DeleteImage(ctx context.Context, name string) error
}

// Images removes stored image files by URL or name.
type Images interface {
	Delete(url string) error
}

// Notifier is told about rooms and members that disappear so live channels
// on every instance can be closed.
type Notifier interface {
	RoomEnded(ctx context.Context, room turtlesoup.Room) error
	MemberRemoved(ctx context.Context, roomID, userID string) error
}

// Counts tallies one category of a sweep. Success and Failed may add up to
// less than Total when the sweep was cancelled part way.
type Counts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Result summarises one sweep.
type Result struct {
	Duration   string    `json:"duration"`
	DurationMS int64     `json:"durationMs"`
	Rooms      Counts    `json:"rooms"`
	Users      Counts    `json:"users"`
	Timestamp  time.Time `json:"timestamp"`
}

type Sweeper struct {
	store     Store
	images    Images
	notifier  Notifier
	logger    *slog.Logger
	retry     retry.Policy
	now       func() time.Time
	maxAge    time.Duration
	itemDelay time.Duration
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

func WithMaxAge(d time.Duration) Option { return func(s *Sweeper) { s.maxAge = d } }

// WithItemDelay sets the pause between two cleanups of the same kind.
func WithItemDelay(d time.Duration) Option { return func(s *Sweeper) { s.itemDelay = d } }

func WithRetry(p retry.Policy) Option { return func(s *Sweeper) { s.retry = p } }

func WithNotifier(n Notifier) Option { return func(s *Sweeper) { s.notifier = n } }

func New(store Store, images Images, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     store,
		images:    images,
		logger:    logger,
		retry:     retry.Default(logger),
		now:       time.Now,
		maxAge:    DefaultMaxAge,
		itemDelay: DefaultItemDelay,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sweeper) cutoff() time.Time { return s.now().Add(-s.maxAge) }

// FindExpiredRooms lists up to BatchLimit rooms not updated within the
// retention window, oldest first.
func (s *Sweeper) FindExpiredRooms(ctx context.Context) ([]turtlesoup.Room, error) {
	return retry.Value(ctx, s.retry.Once(), "find expired rooms", func(ctx context.Context) ([]turtlesoup.Room, error) {
		return s.store.ExpiredRooms(ctx, s.cutoff(), BatchLimit)
	})
}

// FindExpiredUsers lists up to BatchLimit anonymous identities not updated
// within the retention window, oldest first.
func (s *Sweeper) FindExpiredUsers(ctx context.Context) ([]turtlesoup.User, error) {
	return retry.Value(ctx, s.retry.Once(), "find expired users", func(ctx context.Context) ([]turtlesoup.User, error) {
		return s.store.ExpiredUsers(ctx, s.cutoff(), BatchLimit)
	})
}

// CleanupRoom deletes a room and everything it owns: messages,
// participants, the images attached to the room and finally the room record.
// Every step runs even if an earlier one failed; failures are collected into
// a *turtlesoup.CascadeError. Cleaning an already deleted room succeeds.
func (s *Sweeper) CleanupRoom(ctx context.Context, roomID string) error {
	cascade := &turtlesoup.CascadeError{Target: "room " + roomID}

	room, err := s.store.Room(ctx, roomID)
	found := err == nil
	if err != nil && !errors.Is(err, turtlesoup.ErrNotFound) {
		cascade.Add(StepLoadRoom, err)
	}

	names, err := retry.Value(ctx, s.retry.Once(), "list room images", func(ctx context.Context) ([]string, error) {
		return s.store.RoomImages(ctx, roomID)
	})
	if err != nil {
		cascade.Add(StepListImages, err)
	}

	s.step(ctx, cascade, StepMessages, func(ctx context.Context) error {
		_, err := s.store.DeleteRoomMessages(ctx, roomID)
		return err
	})
	s.step(ctx, cascade, StepParticipants, func(ctx context.Context) error {
		_, err := s.store.DeleteParticipants(ctx, roomID)
		return err
	})
	s.deleteImages(ctx, cascade, names)
	s.step(ctx, cascade, StepRoom, func(ctx context.Context) error {
		return s.store.DeleteRoom(ctx, roomID)
	})

	// An inactive room was ended by its host, who already told its members.
	if found && room.Active && s.notifier != nil {
		room.Status = turtlesoup.StatusEnded
		room.Active = false
		room.UpdatedAt = s.now().UTC()
		if err := s.notifier.RoomEnded(ctx, room); err != nil {
			s.logger.Warn("announcing swept room failed", "room_id", roomID, "error", err)
		}
	}
	if err := cascade.Err(); err != nil {
		s.logger.Warn("room cleanup incomplete", "room_id", roomID, "error", err)
		return err
	}
	return nil
}

// CleanupUser deletes an identity and everything it owns: memberships,
// authored messages, every room it hosts, the images it uploaded, then the
// identity record itself. Like CleanupRoom it is best-effort and idempotent.
func (s *Sweeper) CleanupUser(ctx context.Context, userID string) error {
	cascade := &turtlesoup.CascadeError{Target: "user " + userID}

	s.step(ctx, cascade, StepParticipants, func(ctx context.Context) error {
		rooms, err := s.store.DeleteUserParticipants(ctx, userID)
		if s.notifier != nil {
			for _, roomID := range rooms {
				if err := s.notifier.MemberRemoved(ctx, roomID, userID); err != nil {
					s.logger.Warn("announcing removed member failed", "room_id", roomID, "user_id", userID, "error", err)
				}
			}
		}
		return err
	})
	s.step(ctx, cascade, StepMessages, func(ctx context.Context) error {
		_, err := s.store.DeleteUserMessages(ctx, userID)
		return err
	})

	hosted, err := retry.Value(ctx, s.retry.Once(), "list hosted rooms", func(ctx context.Context) ([]turtlesoup.Room, error) {
		return s.store.RoomsHostedBy(ctx, userID)
	})
	if err != nil {
		cascade.Add(StepHostedRooms, err)
	}
	for _, r := range hosted {
		if err := s.CleanupRoom(ctx, r.RoomID); err != nil {
			cascade.Add(StepHostedRooms, err)
		}
	}

	names, err := retry.Value(ctx, s.retry.Once(), "list user images", func(ctx context.Context) ([]string, error) {
		return s.store.UserImages(ctx, userID)
	})
	if err != nil {
		cascade.Add(StepListImages, err)
	}
	s.deleteImages(ctx, cascade, names)

	s.step(ctx, cascade, StepUser, func(ctx context.Context) error {
		return s.store.DeleteUser(ctx, userID)
	})

	if err := cascade.Err(); err != nil {
		s.logger.Warn("user cleanup incomplete", "user_id", userID, "error", err)
		return err
	}
	return nil
}

func (s *Sweeper) step(ctx context.Context, cascade *turtlesoup.CascadeError, name string, fn func(ctx context.Context) error) {
	if err := s.retry.Do(ctx, "cleanup "+name, fn); err != nil {
		cascade.Add(name, err)
	}
}

// deleteImages removes each file and then its ownership record. A record
// whose file could not be removed is kept so a rerun retries it.
func (s *Sweeper) deleteImages(ctx context.Context, cascade *turtlesoup.CascadeError, names []string) {
	for _, name := range names {
		if err := s.images.Delete(name); err != nil {
			cascade.Add(StepImages, err)
			continue
		}
		s.step(ctx, cascade, StepImages, func(ctx context.Context) error {
			return s.store.DeleteImage(ctx, name)
		})
	}
}

// Run performs one full sweep: expired rooms and expired users are cleaned
// concurrently, pausing itemDelay between items. Individual cleanup failures
// are counted and logged; an error is returned only when neither category
// could be listed.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	start := s.now()
	var (
		res              Result
		roomErr, userErr error
	)

	// Each goroutine owns one category of res.
	var g errgroup.Group
	g.Go(func() error {
		rooms, err := s.FindExpiredRooms(ctx)
		if err != nil {
			roomErr = err
			s.logger.Error("listing expired rooms", "error", err)
			return nil
		}
		res.Rooms.Total = len(rooms)
		for i, r := range rooms {
			if i > 0 && !s.pause(ctx) {
				break
			}
			if err := s.CleanupRoom(ctx, r.RoomID); err != nil {
				res.Rooms.Failed++
			} else {
				res.Rooms.Success++
			}
		}
		return nil
	})
	g.Go(func() error {
		users, err := s.FindExpiredUsers(ctx)
		if err != nil {
			userErr = err
			s.logger.Error("listing expired users", "error", err)
			return nil
		}
		res.Users.Total = len(users)
		for i, u := range users {
			if i > 0 && !s.pause(ctx) {
				break
			}
			if err := s.CleanupUser(ctx, u.ID); err != nil {
				res.Users.Failed++
			} else {
				res.Users.Success++
			}
		}
		return nil
	})
	_ = g.Wait()

	end := s.now()
	elapsed := end.Sub(start)
	res.Timestamp = end.UTC()
	res.Duration = elapsed.String()
	res.DurationMS = elapsed.Milliseconds()

	if roomErr != nil && userErr != nil {
		return res, fmt.Errorf("listing expired entities: %w", errors.Join(roomErr, userErr))
	}
	s.logger.Info("cleanup finished",
		"rooms_total", res.Rooms.Total,
		"rooms_failed", res.Rooms.Failed,
		"users_total", res.Users.Total,
		"users_failed", res.Users.Failed,
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

// pause waits itemDelay and reports whether the sweep should continue.
func (s *Sweeper) pause(ctx context.Context) bool {
	if s.itemDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.itemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
