// Package turtlesoup defines the core domain types of a puzzle room:
// rooms and their status machine, participants, messages and anonymous
// identities. It has no external dependencies.
package turtlesoup

import (
	"fmt"
	"strings"
	"time"
)

type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusActive  RoomStatus = "active"
	StatusSolved  RoomStatus = "solved"
	StatusEnded   RoomStatus = "ended"
)

// next holds the single forward step allowed from each status.
var next = map[RoomStatus]RoomStatus{
	StatusWaiting: StatusActive,
	StatusActive:  StatusSolved,
	StatusSolved:  StatusEnded,
}

func (s RoomStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusSolved, StatusEnded:
		return true
	}
	return false
}

// CheckTransition reports whether a room may move from one status to another.
// Only waiting→active→solved→ended is permitted; nothing moves backward,
// nothing leaves ended and no room can move to a status outside the chain.
func CheckTransition(from, to RoomStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: cannot move room from %s to unknown status %q", ErrInvalidState, from, to)
	}
	if n, ok := next[from]; !ok || n != to {
		return fmt.Errorf("%w: cannot move room from %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

type Rules struct {
	FreeQuestion bool `json:"freeQuestion"`
	AllowFlowers bool `json:"allowFlowers"`
}

type Room struct {
	RoomID          string     `json:"roomId"`
	HostID          string     `json:"hostId"`
	Title           string     `json:"title,omitempty"`
	TitleIsImage    bool       `json:"titleIsImage"`
	TitleImage      string     `json:"titleImage,omitempty"`
	Solution        string     `json:"solution,omitempty"`
	SolutionIsImage bool       `json:"solutionIsImage"`
	SolutionImage   string     `json:"solutionImage,omitempty"`
	Rules           Rules      `json:"rules"`
	Status          RoomStatus `json:"status"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Validate checks the title and solution invariant: each is either text or
// an image reference, never both and never neither.
func (r Room) Validate() error {
	if r.HostID == "" {
		return fmt.Errorf("%w: hostId is required", ErrInvalidInput)
	}
	if err := validateContent("title", r.Title, r.TitleIsImage, r.TitleImage); err != nil {
		return err
	}
	return validateContent("solution", r.Solution, r.SolutionIsImage, r.SolutionImage)
}

func validateContent(field, text string, isImage bool, image string) error {
	hasText := strings.TrimSpace(text) != ""
	hasImage := isImage && image != ""
	switch {
	case isImage && image == "":
		return fmt.Errorf("%w: %sImage is required when %sIsImage is set", ErrInvalidInput, field, field)
	case hasText == hasImage:
		return fmt.Errorf("%w: exactly one of %s text or %s image is required", ErrInvalidInput, field, field)
	}
	return nil
}

// Normalize drops image references that are not flagged as images and text
// that is shadowed by an image, so stored rooms always satisfy Validate.
func (r Room) Normalize() Room {
	r.Title = strings.TrimSpace(r.Title)
	r.Solution = strings.TrimSpace(r.Solution)
	if r.TitleIsImage {
		r.Title = ""
	} else {
		r.TitleImage = ""
	}
	if r.SolutionIsImage {
		r.Solution = ""
	} else {
		r.SolutionImage = ""
	}
	return r
}

// SolutionVisible reports whether the solution has been revealed to everyone.
func (r Room) SolutionVisible() bool {
	return r.Status == StatusSolved || r.Status == StatusEnded
}

// ForViewer returns the room as userID may see it: the host always sees the
// solution, everyone else only once it is revealed.
func (r Room) ForViewer(userID string) Room {
	if userID == r.HostID || r.SolutionVisible() {
		return r
	}
	r.Solution = ""
	r.SolutionImage = ""
	return r
}

// Images lists the image references owned by the room record itself.
func (r Room) Images() []string {
	var out []string
	if r.TitleImage != "" {
		out = append(out, r.TitleImage)
	}
	if r.SolutionImage != "" {
		out = append(out, r.SolutionImage)
	}
	return out
}

type Participant struct {
	RoomID     string    `json:"roomId"`
	UserID     string    `json:"userId"`
	Nickname   string    `json:"nickname"`
	IsHost     bool      `json:"isHost"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastActive time.Time `json:"lastActive"`
}

type MessageType string

const (
	MessageQuestion    MessageType = "question"
	MessageAnswer      MessageType = "answer"
	MessageClue        MessageType = "clue"
	MessageSystem      MessageType = "system"
	MessageInteraction MessageType = "interaction"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageQuestion, MessageAnswer, MessageClue, MessageSystem, MessageInteraction:
		return true
	}
	return false
}

// HostOnly reports whether only the room host may author this type.
func (t MessageType) HostOnly() bool {
	return t == MessageAnswer || t == MessageClue
}

type Message struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	RoomID    string      `json:"roomId"`
	From      string      `json:"from"`
	FromName  string      `json:"fromName"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	ImageURL  string      `json:"imageUrl,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (m Message) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidInput)
	}
	if m.From == "" {
		return fmt.Errorf("%w: from is required", ErrInvalidInput)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, m.Type)
	}
	if strings.TrimSpace(m.Content) == "" && m.ImageURL == "" {
		return fmt.Errorf("%w: content or imageUrl is required", ErrInvalidInput)
	}
	return nil
}

// User is an anonymous identity. The bearer token is kept out of the struct
// so it never leaks through JSON responses.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Image is an uploaded file. It belongs to the user who uploaded it and,
// once referenced, to exactly one room; a cascade only deletes the images
// its room or user owns.
type Image struct {
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	RoomID    string    `json:"roomId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AnonymousPrefix marks usernames created by anonymous login; the retention
// sweeper only ever deletes identities carrying it.
const AnonymousPrefix = "anonymous_"

func (u User) Anonymous() bool {
	return strings.HasPrefix(u.Username, AnonymousPrefix)
}
