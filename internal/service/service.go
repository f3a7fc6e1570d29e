// Package service implements the puzzle room operations: identity, rooms and
// their status machine, the roster, the message log, live subscriptions and
// the retention schedule. Durable writes are retried on transient failures;
// realtime fan-out is best-effort and never fails the write that caused it.
package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/playperu/turtlesoup/internal/realtime"
	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/sweeper"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type Store interface {
	CreateUser(ctx context.Context, u turtlesoup.User, token string) (turtlesoup.User, error)
	UserByToken(ctx context.Context, token string) (turtlesoup.User, error)
	TouchUser(ctx context.Context, id string) error

	CreateRoom(ctx context.Context, r turtlesoup.Room) (turtlesoup.Room, error)
	ActiveRoom(ctx context.Context, roomID string) (turtlesoup.Room, error)
	SetRoomStatus(ctx context.Context, roomID string, from, to turtlesoup.RoomStatus) (turtlesoup.Room, error)
	DeactivateRoom(ctx context.Context, roomID string) error
	TouchRoom(ctx context.Context, roomID string) error

	Join(ctx context.Context, p turtlesoup.Participant) (turtlesoup.Participant, bool, error)
	Leave(ctx context.Context, roomID, userID string) (bool, error)
	Participant(ctx context.Context, roomID, userID string) (turtlesoup.Participant, error)
	Participants(ctx context.Context, roomID string) ([]turtlesoup.Participant, error)
	TouchParticipant(ctx context.Context, roomID, userID string) error

	AppendMessage(ctx context.Context, m turtlesoup.Message) (turtlesoup.Message, error)
	Messages(ctx context.Context, roomID string, limit int) ([]turtlesoup.Message, error)

	SaveImage(ctx context.Context, img turtlesoup.Image) (turtlesoup.Image, error)
	Image(ctx context.Context, name string) (turtlesoup.Image, error)
	AttachImages(ctx context.Context, ownerID, roomID string, names []string) error
}

// Fanout is the live channel pool.
type Fanout interface {
	Publish(ctx context.Context, ev realtime.Event) (realtime.PublishResult, error)
	Subscribe(ctx context.Context, roomID, userID string) (*realtime.Subscription, error)
	AddMember(roomID, userID string)
	RemoveMember(roomID, userID string)
	CloseRoom(roomID string)
}

// Cleaner removes rooms with everything they own and finds expired entities.
type Cleaner interface {
	CleanupRoom(ctx context.Context, roomID string) error
	FindExpiredRooms(ctx context.Context) ([]turtlesoup.Room, error)
	FindExpiredUsers(ctx context.Context) ([]turtlesoup.User, error)
}

// Schedule drives periodic and manual sweeps.
type Schedule interface {
	RunNow(ctx context.Context) (sweeper.Result, error)
	Start(hours int) error
	Stop() bool
	Status() sweeper.Status
}

// Images stores uploaded files and maps them to public URLs.
type Images interface {
	Save(r io.Reader) (string, error)
	Delete(url string) error
}

type Deps struct {
	Store    Store
	Fanout   Fanout
	Cleaner  Cleaner
	Schedule Schedule
	Images   Images
	Logger   *slog.Logger

	// Retry applies to durable writes. Reads use a single attempt with the
	// same timeout. Defaults to retry.Default.
	Retry *retry.Policy
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    Store
	fanout   Fanout
	cleaner  Cleaner
	schedule Schedule
	images   Images
	logger   *slog.Logger
	writes   retry.Policy
	reads    retry.Policy
	now      func() time.Time
}

func New(d Deps) *Service {
	policy := retry.Default(d.Logger)
	if d.Retry != nil {
		policy = *d.Retry
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    d.Store,
		fanout:   d.Fanout,
		cleaner:  d.Cleaner,
		schedule: d.Schedule,
		images:   d.Images,
		logger:   d.Logger,
		writes:   policy,
		reads:    policy.Once(),
		now:      now,
	}
}

// publish fans ev out. Failures are logged, never returned.
func (s *Service) publish(ctx context.Context, ev realtime.Event) {
	res, err := s.fanout.Publish(ctx, ev)
	if err != nil {
		s.logger.Warn("broadcast failed", "room_id", ev.RoomID, "type", ev.Type, "error", err)
		return
	}
	if res.Dropped > 0 {
		s.logger.Info("broadcast evicted slow subscribers", "room_id", ev.RoomID, "type", ev.Type, "dropped", res.Dropped)
	}
}

// bestEffort runs a bookkeeping write whose failure only gets logged.
func (s *Service) bestEffort(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if err := s.reads.Do(ctx, op, fn); err != nil {
		s.logger.Warn(op+" failed", "error", err)
	}
}
