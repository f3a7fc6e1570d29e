package service

import (
	"context"
	"fmt"

	"github.com/playperu/turtlesoup/internal/realtime"
	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// JoinRoom seats user in an active room. Joining again only refreshes
// lastActive; the join is broadcast the first time only.
func (s *Service) JoinRoom(ctx context.Context, user turtlesoup.User, roomID string) (turtlesoup.Participant, error) {
	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return turtlesoup.Participant{}, err
	}
	return s.join(ctx, room, user)
}

func (s *Service) join(ctx context.Context, room turtlesoup.Room, user turtlesoup.User) (turtlesoup.Participant, error) {
	p := turtlesoup.Participant{
		RoomID:   room.RoomID,
		UserID:   user.ID,
		Nickname: user.Nickname,
		IsHost:   room.HostID == user.ID,
	}

	var created bool
	err := s.writes.Do(ctx, "join room", func(ctx context.Context) error {
		var err error
		p, created, err = s.store.Join(ctx, p)
		return err
	})
	if err != nil {
		return turtlesoup.Participant{}, fmt.Errorf("joining room %s: %w", room.RoomID, err)
	}

	// Membership first, so the joiner's own subscription and messages are
	// admitted by the pool.
	s.fanout.AddMember(room.RoomID, user.ID)
	if created {
		s.logger.Info("participant joined", "room_id", room.RoomID, "user_id", user.ID)
		s.publish(ctx, realtime.JoinEvent(p))
	}

	s.bestEffort(ctx, "touch room", func(ctx context.Context) error {
		return s.store.TouchRoom(ctx, room.RoomID)
	})
	s.bestEffort(ctx, "touch user", func(ctx context.Context) error {
		return s.store.TouchUser(ctx, user.ID)
	})
	return p, nil
}

// LeaveRoom removes userID from the roster. Leaving a room one is not in is
// a no-op; a departure is broadcast only when a record was removed.
func (s *Service) LeaveRoom(ctx context.Context, userID, roomID string) error {
	existing, _ := retry.Value(ctx, s.reads, "get participant", func(ctx context.Context) (turtlesoup.Participant, error) {
		return s.store.Participant(ctx, roomID, userID)
	})

	var removed bool
	err := s.writes.Do(ctx, "leave room", func(ctx context.Context) error {
		var err error
		removed, err = s.store.Leave(ctx, roomID, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("leaving room %s: %w", roomID, err)
	}
	if !removed {
		return nil
	}

	if existing.UserID == "" {
		existing = turtlesoup.Participant{RoomID: roomID, UserID: userID}
	}
	s.logger.Info("participant left", "room_id", roomID, "user_id", userID)
	s.publish(ctx, realtime.LeaveEvent(existing, s.now().UTC()))
	s.fanout.RemoveMember(roomID, userID)
	return nil
}

// ListParticipants returns the roster, host first then by join time.
func (s *Service) ListParticipants(ctx context.Context, roomID string) ([]turtlesoup.Participant, error) {
	list, err := retry.Value(ctx, s.reads, "list participants", func(ctx context.Context) ([]turtlesoup.Participant, error) {
		return s.store.Participants(ctx, roomID)
	})
	if err != nil {
		return nil, fmt.Errorf("listing participants of %s: %w", roomID, err)
	}
	if list == nil {
		list = []turtlesoup.Participant{}
	}
	return list, nil
}
