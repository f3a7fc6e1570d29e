package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/playperu/turtlesoup/internal/realtime"
	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/sweeper"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

const codeAttempts = 5

// NewRoom is the host-supplied part of a room.
type NewRoom struct {
	Title           string           `json:"title"`
	TitleIsImage    bool             `json:"titleIsImage"`
	TitleImage      string           `json:"titleImage"`
	Solution        string           `json:"solution"`
	SolutionIsImage bool             `json:"solutionIsImage"`
	SolutionImage   string           `json:"solutionImage"`
	Rules           turtlesoup.Rules `json:"rules"`
}

// CreateRoom opens a waiting room hosted by host and seats the host in it.
// Title and solution images must be unused uploads of the host.
func (s *Service) CreateRoom(ctx context.Context, host turtlesoup.User, in NewRoom) (turtlesoup.Room, error) {
	room := turtlesoup.Room{
		HostID:          host.ID,
		Title:           in.Title,
		TitleIsImage:    in.TitleIsImage,
		TitleImage:      in.TitleImage,
		Solution:        in.Solution,
		SolutionIsImage: in.SolutionIsImage,
		SolutionImage:   in.SolutionImage,
		Rules:           in.Rules,
		Status:          turtlesoup.StatusWaiting,
		Active:          true,
	}.Normalize()
	if err := room.Validate(); err != nil {
		return turtlesoup.Room{}, err
	}
	roomImages := room.Images()
	if err := s.checkImages(ctx, host.ID, roomImages...); err != nil {
		return turtlesoup.Room{}, err
	}

	var created turtlesoup.Room
	var err error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		if room.RoomID, err = turtlesoup.NewRoomCode(); err != nil {
			return turtlesoup.Room{}, err
		}
		created, err = retry.Value(ctx, s.writes, "create room", func(ctx context.Context) (turtlesoup.Room, error) {
			return s.store.CreateRoom(ctx, room)
		})
		if !errors.Is(err, turtlesoup.ErrConflict) {
			break
		}
	}
	if err != nil {
		return turtlesoup.Room{}, fmt.Errorf("creating room: %w", err)
	}
	if len(roomImages) > 0 {
		if err := s.attachImages(ctx, host.ID, created.RoomID, roomImages...); err != nil {
			s.bestEffort(ctx, "deactivate room", func(ctx context.Context) error {
				return s.store.DeactivateRoom(ctx, created.RoomID)
			})
			if cerr := s.cleaner.CleanupRoom(ctx, created.RoomID); cerr != nil {
				s.logger.Warn("removing room with unclaimed images failed", "room_id", created.RoomID, "error", cerr)
			}
			return turtlesoup.Room{}, fmt.Errorf("creating room: %w", err)
		}
	}
	s.logger.Info("room created", "room_id", created.RoomID, "host_id", host.ID)

	if _, err := s.join(ctx, created, host); err != nil {
		s.logger.Warn("seating host failed", "room_id", created.RoomID, "error", err)
	}
	return created, nil
}

// GetRoom returns an active room as viewerID may see it.
func (s *Service) GetRoom(ctx context.Context, viewerID, roomID string) (turtlesoup.Room, error) {
	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return turtlesoup.Room{}, err
	}
	return room.ForViewer(viewerID), nil
}

func (s *Service) activeRoom(ctx context.Context, roomID string) (turtlesoup.Room, error) {
	room, err := retry.Value(ctx, s.reads, "get room", func(ctx context.Context) (turtlesoup.Room, error) {
		return s.store.ActiveRoom(ctx, roomID)
	})
	if err != nil {
		return turtlesoup.Room{}, fmt.Errorf("room %s: %w", roomID, err)
	}
	return room, nil
}

// hostedRoom loads a room about to change status and checks that actorID
// hosts it. A room that has ended or been deleted can no longer move, so its
// absence is reported as ErrInvalidState.
func (s *Service) hostedRoom(ctx context.Context, actorID, roomID string) (turtlesoup.Room, error) {
	room, err := s.activeRoom(ctx, roomID)
	if errors.Is(err, turtlesoup.ErrNotFound) {
		return room, fmt.Errorf("%w: room %s has ended or does not exist", turtlesoup.ErrInvalidState, roomID)
	}
	if err != nil {
		return room, err
	}
	if room.HostID != actorID {
		return room, fmt.Errorf("%w: only the host may change room %s", turtlesoup.ErrForbidden, roomID)
	}
	return room, nil
}

// UpdateRoomStatus advances a room one step along waiting→active→solved. A
// request for ended is handed to EndRoom.
func (s *Service) UpdateRoomStatus(ctx context.Context, actorID, roomID string, to turtlesoup.RoomStatus) (turtlesoup.Room, error) {
	if to == turtlesoup.StatusEnded {
		room, err := s.endRoom(ctx, actorID, roomID)
		return room.ForViewer(actorID), err
	}

	room, err := s.hostedRoom(ctx, actorID, roomID)
	if err != nil {
		return turtlesoup.Room{}, err
	}
	if err := turtlesoup.CheckTransition(room.Status, to); err != nil {
		return turtlesoup.Room{}, err
	}

	updated, err := retry.Value(ctx, s.writes, "update room status", func(ctx context.Context) (turtlesoup.Room, error) {
		return s.store.SetRoomStatus(ctx, roomID, room.Status, to)
	})
	if errors.Is(err, turtlesoup.ErrNotFound) {
		err = fmt.Errorf("%w: room ended while changing status", turtlesoup.ErrInvalidState)
	}
	if err != nil {
		return turtlesoup.Room{}, fmt.Errorf("updating room %s: %w", roomID, err)
	}
	s.logger.Info("room status changed", "room_id", roomID, "from", room.Status, "to", to)
	s.publish(ctx, realtime.RoomEvent(updated))
	return updated, nil
}

// EndRoom closes a solved room and deletes it with everything it owns. Only
// a failure to retire the room record itself is reported; other cascade
// failures are logged and left for the sweeper.
func (s *Service) EndRoom(ctx context.Context, actorID, roomID string) error {
	_, err := s.endRoom(ctx, actorID, roomID)
	return err
}

func (s *Service) endRoom(ctx context.Context, actorID, roomID string) (turtlesoup.Room, error) {
	room, err := s.hostedRoom(ctx, actorID, roomID)
	if err != nil {
		return turtlesoup.Room{}, err
	}
	if err := turtlesoup.CheckTransition(room.Status, turtlesoup.StatusEnded); err != nil {
		return turtlesoup.Room{}, err
	}

	// Hide the room first so no new joins or messages land during the cascade.
	if err := s.writes.Do(ctx, "deactivate room", func(ctx context.Context) error {
		return s.store.DeactivateRoom(ctx, roomID)
	}); err != nil {
		return turtlesoup.Room{}, fmt.Errorf("ending room %s: %w", roomID, err)
	}

	ended := room
	ended.Status = turtlesoup.StatusEnded
	ended.Active = false
	ended.UpdatedAt = s.now().UTC()
	s.publish(ctx, realtime.RoomEvent(ended))

	err = s.cleaner.CleanupRoom(ctx, roomID)
	s.fanout.CloseRoom(roomID)
	if err != nil {
		var cascade *turtlesoup.CascadeError
		if errors.As(err, &cascade) && !cascade.StepFailed(sweeper.StepRoom) {
			s.logger.Warn("room ended with leftovers", "room_id", roomID, "error", err)
			err = nil
		}
	}
	if err != nil {
		return ended, fmt.Errorf("ending room %s: %w", roomID, err)
	}
	s.logger.Info("room ended", "room_id", roomID)
	return ended, nil
}

// InviteCode returns the shareable code of an active room.
func (s *Service) InviteCode(ctx context.Context, roomID string) (string, error) {
	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	return turtlesoup.InviteCode(room.RoomID, room.Title), nil
}

// ResolveInvite finds the active room an invite code points at.
func (s *Service) ResolveInvite(ctx context.Context, viewerID, code string) (turtlesoup.Room, error) {
	roomID, _, err := turtlesoup.ParseInviteCode(code)
	if err != nil {
		return turtlesoup.Room{}, err
	}
	return s.GetRoom(ctx, viewerID, roomID)
}
