package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// Reasons a subscription is closed by the pool.
var (
	ErrEvicted     = errors.New("subscriber fell behind")
	ErrRemoved     = errors.New("no longer a participant")
	ErrRoomClosed  = errors.New("room closed")
	ErrInvalidated = errors.New("channel pool invalidated")
)

// Roster supplies the membership of a room when the pool first needs it.
type Roster interface {
	Participants(ctx context.Context, roomID string) ([]turtlesoup.Participant, error)
}

// Relay forwards locally published events to other instances.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

// PublishResult counts what happened to one event on this instance.
type PublishResult struct {
	Delivered int
	Dropped   int
}

type Option func(*Pool)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(p *Pool) { p.buffer = n }
}

func WithRelay(r Relay) Option {
	return func(p *Pool) { p.relay = r }
}

// Pool is the per-process table of room channels. Membership for a room is
// loaded lazily from the Roster and then kept current through AddMember and
// RemoveMember.
type Pool struct {
	roster Roster
	relay  Relay
	logger *slog.Logger
	buffer int

	mu    sync.Mutex
	rooms map[string]*channel
}

type channel struct {
	members map[string]struct{}
	subs    map[*Subscription]struct{}

	// refreshing counts roster loads in flight. Membership changes made
	// meanwhile are kept in pending (true for add) and replayed over the
	// loaded roster, which may predate them.
	refreshing int
	pending    map[string]bool
}

func NewPool(roster Roster, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		roster: roster,
		logger: logger,
		buffer: 32,
		rooms:  make(map[string]*channel),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// channelLocked returns the room's channel, creating it if needed.
func (p *Pool) channelLocked(roomID string) *channel {
	c := p.rooms[roomID]
	if c == nil {
		c = &channel{
			members: make(map[string]struct{}),
			subs:    make(map[*Subscription]struct{}),
		}
		p.rooms[roomID] = c
	}
	return c
}

func (p *Pool) isMember(roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.rooms[roomID]
	if c == nil {
		return false
	}
	_, ok := c.members[userID]
	return ok
}

// Refresh reloads a room's membership from the roster and closes
// subscriptions of users who are no longer members. AddMember and
// RemoveMember calls that race with the load win over it.
func (p *Pool) Refresh(ctx context.Context, roomID string) error {
	p.mu.Lock()
	c := p.channelLocked(roomID)
	c.refreshing++
	p.mu.Unlock()

	list, err := p.roster.Participants(ctx, roomID)

	p.mu.Lock()
	defer p.mu.Unlock()
	c.refreshing--
	pending := c.pending
	if c.refreshing == 0 {
		c.pending = nil
	}
	if err != nil {
		return err
	}
	if p.rooms[roomID] != c {
		// Closed or invalidated while loading.
		return nil
	}

	members := make(map[string]struct{}, len(list))
	for _, m := range list {
		members[m.UserID] = struct{}{}
	}
	for userID, added := range pending {
		if added {
			members[userID] = struct{}{}
		} else {
			delete(members, userID)
		}
	}
	c.members = members
	for s := range c.subs {
		if _, ok := members[s.UserID]; !ok {
			p.closeLocked(c, s, ErrRemoved)
		}
	}
	p.pruneLocked(roomID, c)
	return nil
}

func (c *channel) recordLocked(userID string, added bool) {
	if c.refreshing == 0 {
		return
	}
	if c.pending == nil {
		c.pending = make(map[string]bool)
	}
	c.pending[userID] = added
}

// Subscribe opens a live stream of roomID's events for userID, who must be a
// participant. Membership is reloaded once when userID is not known yet; a
// failed reload invalidates the whole pool since its cache can no longer be
// trusted.
func (p *Pool) Subscribe(ctx context.Context, roomID, userID string) (*Subscription, error) {
	if !p.isMember(roomID, userID) {
		if err := p.Refresh(ctx, roomID); err != nil {
			p.logger.Error("membership refresh rejected, invalidating pool", "room_id", roomID, "error", err)
			p.Invalidate()
			return nil, fmt.Errorf("loading membership: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.channelLocked(roomID)
	if _, ok := c.members[userID]; !ok {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", turtlesoup.ErrForbidden, userID, roomID)
	}
	s := &Subscription{
		RoomID: roomID,
		UserID: userID,
		ch:     make(chan Event, p.buffer),
		pool:   p,
	}
	c.subs[s] = struct{}{}
	return s, nil
}

// AddMember records userID as a member so their subscriptions are accepted
// and they receive events published from now on.
func (p *Pool) AddMember(roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.channelLocked(roomID)
	c.members[userID] = struct{}{}
	c.recordLocked(userID, true)
}

// RemoveMember forgets userID and closes their subscriptions to roomID.
func (p *Pool) RemoveMember(roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.rooms[roomID]
	if c == nil {
		return
	}
	delete(c.members, userID)
	c.recordLocked(userID, false)
	for s := range c.subs {
		if s.UserID == userID {
			p.closeLocked(c, s, ErrRemoved)
		}
	}
	p.pruneLocked(roomID, c)
}

// Publish delivers ev to local subscribers and, when a relay is configured,
// to other instances. The returned error only reports relay failure; local
// delivery never fails.
func (p *Pool) Publish(ctx context.Context, ev Event) (PublishResult, error) {
	res := p.Deliver(ev)
	if p.relay == nil {
		return res, nil
	}
	if err := p.relay.Publish(ctx, ev); err != nil {
		return res, fmt.Errorf("relaying %s event: %w", ev.Type, err)
	}
	return res, nil
}

// Deliver fans ev out to this instance's subscribers only. Subscribers whose
// queue is full are evicted; they must resync from history.
func (p *Pool) Deliver(ev Event) PublishResult {
	var res PublishResult
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.rooms[ev.RoomID]
	if c == nil {
		return res
	}
	for s := range c.subs {
		select {
		case s.ch <- ev.forViewer(s.UserID):
			res.Delivered++
		default:
			res.Dropped++
			p.logger.Warn("evicting slow subscriber", "room_id", ev.RoomID, "user_id", s.UserID)
			p.closeLocked(c, s, ErrEvicted)
		}
	}
	return res
}

// Receive applies an event relayed from another instance: membership
// changes and room endings are mirrored locally around delivery.
func (p *Pool) Receive(ev Event) PublishResult {
	if ev.Type == EventParticipantJoin && ev.Participant != nil {
		p.AddMember(ev.RoomID, ev.Participant.UserID)
	}
	res := p.Deliver(ev)
	switch {
	case ev.Type == EventParticipantLeave && ev.Participant != nil:
		p.RemoveMember(ev.RoomID, ev.Participant.UserID)
	case ev.Type == EventRoomUpdate && ev.Room != nil && ev.Room.Status == turtlesoup.StatusEnded:
		p.CloseRoom(ev.RoomID)
	}
	return res
}

// RoomEnded announces that room is gone, locally and through the relay, and
// then closes its channel. The room should already carry the ended status.
func (p *Pool) RoomEnded(ctx context.Context, room turtlesoup.Room) error {
	_, err := p.Publish(ctx, RoomEvent(room))
	p.CloseRoom(room.RoomID)
	return err
}

// MemberRemoved announces that userID no longer belongs to roomID and closes
// their subscriptions here; other instances do the same on receipt.
func (p *Pool) MemberRemoved(ctx context.Context, roomID, userID string) error {
	_, err := p.Publish(ctx, LeaveEvent(turtlesoup.Participant{RoomID: roomID, UserID: userID}, time.Now()))
	p.RemoveMember(roomID, userID)
	return err
}

// CloseRoom closes every subscription to roomID and forgets its membership.
// Events already queued stay readable.
func (p *Pool) CloseRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.rooms[roomID]
	if c == nil {
		return
	}
	for s := range c.subs {
		p.closeLocked(c, s, ErrRoomClosed)
	}
	delete(p.rooms, roomID)
}

// Invalidate closes all subscriptions and clears the membership cache. It
// is rebuilt lazily on the next Subscribe.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.rooms {
		for s := range c.subs {
			p.closeLocked(c, s, ErrInvalidated)
		}
	}
	p.rooms = make(map[string]*channel)
}

// Stats reports how many rooms and subscriptions are currently open.
func (p *Pool) Stats() (rooms, subs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.rooms {
		subs += len(c.subs)
	}
	return len(p.rooms), subs
}

func (p *Pool) closeLocked(c *channel, s *Subscription, reason error) {
	if _, ok := c.subs[s]; !ok {
		return
	}
	delete(c.subs, s)
	s.err = reason
	close(s.ch)
}

// pruneLocked drops a room entry that has nothing left worth caching.
func (p *Pool) pruneLocked(roomID string, c *channel) {
	if c.refreshing == 0 && len(c.subs) == 0 && len(c.members) == 0 {
		delete(p.rooms, roomID)
	}
}

func (p *Pool) unsubscribe(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.rooms[s.RoomID]; c != nil {
		p.closeLocked(c, s, nil)
	}
}

// Subscription is one live stream of a room's events.
type Subscription struct {
	RoomID string
	UserID string

	ch   chan Event
	err  error
	pool *Pool
}

// Events yields events until the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err reports why the pool closed the subscription. It is nil while open
// and after a caller-initiated Close, and must only be read once Events is
// drained.
func (s *Subscription) Err() error { return s.err }

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.pool.unsubscribe(s) }
