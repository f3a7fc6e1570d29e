// Package realtime fans room events out to live subscribers. Delivery is
// at-least-once per room: the same event may arrive twice (for example once
// locally and once through the Redis relay), so consumers collapse events by
// Key.
package realtime

import (
	"strconv"
	"time"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// EventType is either a chat message type or one of the roster and room
// event types below.
type EventType string

const (
	EventParticipantJoin  EventType = "participant_join"
	EventParticipantLeave EventType = "participant_leave"
	EventRoomUpdate       EventType = "room_update"
)

type Event struct {
	Type        EventType               `json:"type"`
	RoomID      string                  `json:"roomId"`
	Key         string                  `json:"key"`
	Message     *turtlesoup.Message     `json:"message,omitempty"`
	Participant *turtlesoup.Participant `json:"participant,omitempty"`
	Room        *turtlesoup.Room        `json:"room,omitempty"`
	At          time.Time               `json:"at"`

	// Origin identifies the instance that relayed the event.
	Origin string `json:"origin,omitempty"`
}

func MessageEvent(m turtlesoup.Message) Event {
	return Event{
		Type:    EventType(m.Type),
		RoomID:  m.RoomID,
		Key:     m.Key(),
		Message: &m,
		At:      m.CreatedAt,
	}
}

func JoinEvent(p turtlesoup.Participant) Event {
	return participantEvent(EventParticipantJoin, p, p.JoinedAt)
}

func LeaveEvent(p turtlesoup.Participant, at time.Time) Event {
	return participantEvent(EventParticipantLeave, p, at)
}

func participantEvent(t EventType, p turtlesoup.Participant, at time.Time) Event {
	return Event{
		Type:        t,
		RoomID:      p.RoomID,
		Key:         string(t) + "|" + p.UserID + "|" + strconv.FormatInt(at.UnixMilli(), 10),
		Participant: &p,
		At:          at,
	}
}

func RoomEvent(r turtlesoup.Room) Event {
	return Event{
		Type:   EventRoomUpdate,
		RoomID: r.RoomID,
		Key:    string(EventRoomUpdate) + "|" + string(r.Status) + "|" + strconv.FormatInt(r.UpdatedAt.UnixMilli(), 10),
		Room:   &r,
		At:     r.UpdatedAt,
	}
}

// forViewer redacts the room snapshot for userID.
func (e Event) forViewer(userID string) Event {
	if e.Room != nil {
		r := e.Room.ForViewer(userID)
		e.Room = &r
	}
	return e
}
