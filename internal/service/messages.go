package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/playperu/turtlesoup/internal/images"
	"github.com/playperu/turtlesoup/internal/realtime"
	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// NewMessage is the sender-supplied part of a message. Timestamps are
// always assigned by the server.
type NewMessage struct {
	Type     turtlesoup.MessageType `json:"type"`
	Content  string                 `json:"content"`
	ImageURL string                 `json:"imageUrl"`
}

// SendMessage appends a message from user to an active room they have
// joined and broadcasts it. Answers and clues may only come from the host.
// An attached image must be one the sender uploaded; it then belongs to the
// room.
func (s *Service) SendMessage(ctx context.Context, user turtlesoup.User, roomID string, in NewMessage) (turtlesoup.Message, error) {
	msg := turtlesoup.Message{
		RoomID:   roomID,
		From:     user.ID,
		FromName: user.Nickname,
		Type:     in.Type,
		Content:  in.Content,
		ImageURL: in.ImageURL,
	}
	if err := msg.Validate(); err != nil {
		return turtlesoup.Message{}, err
	}

	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return turtlesoup.Message{}, err
	}
	if msg.Type.HostOnly() && room.HostID != user.ID {
		return turtlesoup.Message{}, fmt.Errorf("%w: only the host may send %s messages", turtlesoup.ErrForbidden, msg.Type)
	}
	_, err = retry.Value(ctx, s.reads, "get participant", func(ctx context.Context) (turtlesoup.Participant, error) {
		return s.store.Participant(ctx, roomID, user.ID)
	})
	if errors.Is(err, turtlesoup.ErrNotFound) {
		return turtlesoup.Message{}, fmt.Errorf("%w: join room %s before sending", turtlesoup.ErrForbidden, roomID)
	}
	if err != nil {
		return turtlesoup.Message{}, err
	}
	if msg.ImageURL != "" {
		if err := s.attachImages(ctx, user.ID, roomID, msg.ImageURL); err != nil {
			return turtlesoup.Message{}, err
		}
	}

	saved, err := retry.Value(ctx, s.writes, "append message", func(ctx context.Context) (turtlesoup.Message, error) {
		return s.store.AppendMessage(ctx, msg)
	})
	if err != nil {
		return turtlesoup.Message{}, fmt.Errorf("sending message to %s: %w", roomID, err)
	}

	s.publish(ctx, realtime.MessageEvent(saved))
	s.bestEffort(ctx, "touch participant", func(ctx context.Context) error {
		return s.store.TouchParticipant(ctx, roomID, user.ID)
	})
	s.bestEffort(ctx, "touch user", func(ctx context.Context) error {
		return s.store.TouchUser(ctx, user.ID)
	})
	return saved, nil
}

// GetMessages returns a room's history, oldest first.
func (s *Service) GetMessages(ctx context.Context, roomID string, limit int) ([]turtlesoup.Message, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", turtlesoup.ErrInvalidInput)
	}
	msgs, err := retry.Value(ctx, s.reads, "get messages", func(ctx context.Context) ([]turtlesoup.Message, error) {
		return s.store.Messages(ctx, roomID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("reading messages of %s: %w", roomID, err)
	}
	if msgs == nil {
		msgs = []turtlesoup.Message{}
	}
	return msgs, nil
}

// Subscribe opens a live event stream of an active room for user, who must
// be a participant. Callers resync with GetMessages and ListParticipants
// after the stream closes.
func (s *Service) Subscribe(ctx context.Context, user turtlesoup.User, roomID string) (*realtime.Subscription, error) {
	if _, err := s.activeRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.fanout.Subscribe(ctx, roomID, user.ID)
}

// UploadImage stores an image uploaded by user for use as a room title,
// solution or message attachment and returns its URL.
func (s *Service) UploadImage(ctx context.Context, user turtlesoup.User, r io.Reader) (string, error) {
	url, err := s.images.Save(r)
	if err != nil {
		return "", err
	}
	name, _ := images.ParseURL(url)
	_, err = retry.Value(ctx, s.writes, "save image", func(ctx context.Context) (turtlesoup.Image, error) {
		return s.store.SaveImage(ctx, turtlesoup.Image{Name: name, OwnerID: user.ID})
	})
	if err != nil {
		if derr := s.images.Delete(url); derr != nil {
			s.logger.Warn("removing unrecorded image failed", "name", name, "error", derr)
		}
		return "", fmt.Errorf("recording image: %w", err)
	}
	s.logger.Info("image uploaded", "name", name, "user_id", user.ID)
	return url, nil
}

// imageNames resolves image URLs to stored names. Only URLs this service
// handed out are accepted.
func imageNames(urls ...string) ([]string, error) {
	names := make([]string, 0, len(urls))
	for _, u := range urls {
		name, ok := images.ParseURL(u)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an uploaded image", turtlesoup.ErrInvalidInput, u)
		}
		names = append(names, name)
	}
	return names, nil
}

// checkImages verifies that userID uploaded every image and that none is
// bound to a room yet.
func (s *Service) checkImages(ctx context.Context, userID string, urls ...string) error {
	names, err := imageNames(urls...)
	if err != nil {
		return err
	}
	for _, name := range names {
		img, err := retry.Value(ctx, s.reads, "get image", func(ctx context.Context) (turtlesoup.Image, error) {
			return s.store.Image(ctx, name)
		})
		switch {
		case errors.Is(err, turtlesoup.ErrNotFound):
			return fmt.Errorf("%w: image %s was never uploaded", turtlesoup.ErrInvalidInput, name)
		case err != nil:
			return err
		case img.OwnerID != userID:
			return fmt.Errorf("%w: image %s belongs to another user", turtlesoup.ErrForbidden, name)
		case img.RoomID != "":
			return fmt.Errorf("%w: image %s is already used in another room", turtlesoup.ErrConflict, name)
		}
	}
	return nil
}

// attachImages binds images userID uploaded to roomID.
func (s *Service) attachImages(ctx context.Context, userID, roomID string, urls ...string) error {
	names, err := imageNames(urls...)
	if err != nil {
		return err
	}
	return s.writes.Do(ctx, "attach images", func(ctx context.Context) error {
		return s.store.AttachImages(ctx, userID, roomID, names)
	})
}
