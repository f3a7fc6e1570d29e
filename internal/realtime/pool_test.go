package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type fakeRoster struct {
	mu      sync.Mutex
	members map[string][]string
	err     error
	calls   int
}

func (f *fakeRoster) Participants(_ context.Context, roomID string) ([]turtlesoup.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []turtlesoup.Participant
	for _, u := range f.members[roomID] {
		out = append(out, turtlesoup.Participant{RoomID: roomID, UserID: u})
	}
	return out, nil
}

func (f *fakeRoster) set(roomID string, users ...string) {
	f.mu.Lock()
	f.members[roomID] = users
	f.mu.Unlock()
}

type fakeRelay struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakeRelay) Publish(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestPool(t *testing.T, opts ...Option) (*Pool, *fakeRoster) {
	t.Helper()
	roster := &fakeRoster{members: map[string][]string{}}
	return NewPool(roster, discard(), opts...), roster
}

func msg(room, from, content string) turtlesoup.Message {
	return turtlesoup.Message{
		ID: from + content, RoomID: room, From: from, Type: turtlesoup.MessageQuestion,
		Content: content, CreatedAt: time.Unix(1700000000, 0),
	}
}

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "subscription closed: %v", s.Err())
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func requireClosed(t *testing.T, s *Subscription, reason error) {
	t.Helper()
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				assert.ErrorIs(t, s.Err(), reason)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("subscription still open")
		}
	}
}

func TestSubscribeLoadsMembershipLazily(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "alice")
	ctx := context.Background()

	s, err := p.Subscribe(ctx, "R1", "alice")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, roster.calls)

	_, err = p.Subscribe(ctx, "R1", "mallory")
	assert.ErrorIs(t, err, turtlesoup.ErrForbidden)

	// alice is cached; no reload.
	s2, err := p.Subscribe(ctx, "R1", "alice")
	require.NoError(t, err)
	s2.Close()
	assert.Equal(t, 2, roster.calls)
}

func TestJoinerAddedBeforePublishReceivesEvent(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "host")
	ctx := context.Background()

	hostSub, err := p.Subscribe(ctx, "R1", "host")
	require.NoError(t, err)
	defer hostSub.Close()

	// Join reconciles membership without a roster reload.
	p.AddMember("R1", "bob")
	bobSub, err := p.Subscribe(ctx, "R1", "bob")
	require.NoError(t, err)
	defer bobSub.Close()
	assert.Equal(t, 1, roster.calls)

	res, err := p.Publish(ctx, MessageEvent(msg("R1", "bob", "is he alive?")))
	require.NoError(t, err)
	assert.Equal(t, PublishResult{Delivered: 2}, res)

	assert.Equal(t, "is he alive?", recv(t, hostSub).Message.Content)
	assert.Equal(t, "is he alive?", recv(t, bobSub).Message.Content)
}

func TestRemoveMemberClosesTheirSubscriptions(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "host", "bob")
	ctx := context.Background()

	hostSub, err := p.Subscribe(ctx, "R1", "host")
	require.NoError(t, err)
	defer hostSub.Close()
	bobSub, err := p.Subscribe(ctx, "R1", "bob")
	require.NoError(t, err)

	p.RemoveMember("R1", "bob")
	requireClosed(t, bobSub, ErrRemoved)

	_, err = p.Publish(ctx, MessageEvent(msg("R1", "host", "still here")))
	require.NoError(t, err)
	assert.Equal(t, "still here", recv(t, hostSub).Message.Content)
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	p, roster := newTestPool(t, WithBuffer(1))
	roster.set("R1", "u")
	ctx := context.Background()

	s, err := p.Subscribe(ctx, "R1", "u")
	require.NoError(t, err)

	r1, _ := p.Publish(ctx, MessageEvent(msg("R1", "u", "1")))
	r2, _ := p.Publish(ctx, MessageEvent(msg("R1", "u", "2")))
	assert.Equal(t, 1, r1.Delivered)
	assert.Equal(t, 1, r2.Dropped)

	// The buffered event is still readable before the close.
	assert.Equal(t, "1", recv(t, s).Message.Content)
	requireClosed(t, s, ErrEvicted)
}

func TestInvalidateClosesAllAndRebuildsLazily(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "a")
	roster.set("R2", "b")
	ctx := context.Background()

	s1, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)
	s2, err := p.Subscribe(ctx, "R2", "b")
	require.NoError(t, err)

	p.Invalidate()
	requireClosed(t, s1, ErrInvalidated)
	requireClosed(t, s2, ErrInvalidated)
	rooms, subs := p.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, subs)

	s3, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)
	s3.Close()
	assert.Equal(t, 3, roster.calls)
}

func TestRejectedRefreshInvalidates(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "a")
	ctx := context.Background()

	s1, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)

	roster.mu.Lock()
	roster.err = errors.New("permission denied")
	roster.mu.Unlock()

	_, err = p.Subscribe(ctx, "R1", "newcomer")
	require.Error(t, err)
	requireClosed(t, s1, ErrInvalidated)
}

func TestCloseRoom(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "a")
	ctx := context.Background()

	s, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)

	_, _ = p.Publish(ctx, RoomEvent(turtlesoup.Room{RoomID: "R1", Status: turtlesoup.StatusEnded}))
	p.CloseRoom("R1")

	ev := recv(t, s)
	assert.Equal(t, EventRoomUpdate, ev.Type)
	requireClosed(t, s, ErrRoomClosed)
}

func TestRoomEventRedactsSolutionPerViewer(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "host", "guest")
	ctx := context.Background()

	hs, err := p.Subscribe(ctx, "R1", "host")
	require.NoError(t, err)
	defer hs.Close()
	gs, err := p.Subscribe(ctx, "R1", "guest")
	require.NoError(t, err)
	defer gs.Close()

	room := turtlesoup.Room{RoomID: "R1", HostID: "host", Solution: "secret", Status: turtlesoup.StatusActive}
	_, err = p.Publish(ctx, RoomEvent(room))
	require.NoError(t, err)

	assert.Equal(t, "secret", recv(t, hs).Room.Solution)
	assert.Empty(t, recv(t, gs).Room.Solution)
}

func TestPublishRelayFailureDoesNotBlockLocalDelivery(t *testing.T) {
	relay := &fakeRelay{err: errors.New("redis down")}
	p, roster := newTestPool(t, WithRelay(relay))
	roster.set("R1", "a")
	ctx := context.Background()

	s, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)
	defer s.Close()

	res, err := p.Publish(ctx, MessageEvent(msg("R1", "a", "hi")))
	assert.Error(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, "hi", recv(t, s).Message.Content)
	assert.Len(t, relay.events, 1)
}

func TestDuplicateDeliveryCollapsesByKey(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "a")
	ctx := context.Background()

	s, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)
	defer s.Close()

	ev := MessageEvent(msg("R1", "a", "dup"))
	p.Deliver(ev)
	p.Deliver(ev)

	var log []turtlesoup.Message
	for i := 0; i < 2; i++ {
		log = turtlesoup.MergeMessages(log, *recv(t, s).Message)
	}
	assert.Len(t, log, 1)
}

func TestRelayChannelNames(t *testing.T) {
	r := NewRedisRelay(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "soup:", discard())
	assert.Equal(t, "soup:room:ABC123:events", r.Channel("ABC123"))

	room, ok := r.roomFromChannel("soup:room:ABC123:events")
	assert.True(t, ok)
	assert.Equal(t, "ABC123", room)

	_, ok = r.roomFromChannel("other:room:ABC123:events")
	assert.False(t, ok)
}

func TestRelaySkipsOwnEvents(t *testing.T) {
	r := NewRedisRelay(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", discard())

	own := `{"type":"question","roomId":"R1","key":"k","origin":"` + r.instance + `"}`
	_, ok := r.decode(&redis.Message{Channel: "room:R1:events", Payload: own})
	assert.False(t, ok)

	foreign := `{"type":"question","key":"k","origin":"other"}`
	ev, ok := r.decode(&redis.Message{Channel: "room:R1:events", Payload: foreign})
	require.True(t, ok)
	assert.Equal(t, "R1", ev.RoomID)

	_, ok = r.decode(&redis.Message{Channel: "room:R1:events", Payload: "not json"})
	assert.False(t, ok)
}

func TestReceiveMirrorsRemoteMembership(t *testing.T) {
	p, roster := newTestPool(t)
	roster.set("R1", "host")
	ctx := context.Background()

	hostSub, err := p.Subscribe(ctx, "R1", "host")
	require.NoError(t, err)
	defer hostSub.Close()

	// bob joined through another instance.
	joined := turtlesoup.Participant{RoomID: "R1", UserID: "bob", JoinedAt: time.Unix(1700000000, 0)}
	p.Receive(JoinEvent(joined))
	assert.Equal(t, EventParticipantJoin, recv(t, hostSub).Type)

	bobSub, err := p.Subscribe(ctx, "R1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, roster.calls)

	p.Receive(LeaveEvent(joined, time.Unix(1700000100, 0)))
	assert.Equal(t, EventParticipantLeave, recv(t, hostSub).Type)
	for range bobSub.Events() {
	}
	assert.ErrorIs(t, bobSub.Err(), ErrRemoved)

	p.Receive(RoomEvent(turtlesoup.Room{RoomID: "R1", HostID: "host", Status: turtlesoup.StatusEnded}))
	ev := recv(t, hostSub)
	assert.Equal(t, turtlesoup.StatusEnded, ev.Room.Status)
	for range hostSub.Events() {
	}
	assert.ErrorIs(t, hostSub.Err(), ErrRoomClosed)
}

// gatedRoster holds a roster load open until released, returning a
// snapshot taken before the load began.
type gatedRoster struct {
	snapshot []string
	started  chan struct{}
	release  chan struct{}
}

func (g *gatedRoster) Participants(_ context.Context, roomID string) ([]turtlesoup.Participant, error) {
	close(g.started)
	<-g.release
	var out []turtlesoup.Participant
	for _, u := range g.snapshot {
		out = append(out, turtlesoup.Participant{RoomID: roomID, UserID: u})
	}
	return out, nil
}

func TestRefreshKeepsMembershipChangesMadeDuringLoad(t *testing.T) {
	roster := &gatedRoster{
		snapshot: []string{"host", "carol"},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	p := NewPool(roster, discard())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.Refresh(ctx, "R1") }()
	<-roster.started

	p.AddMember("R1", "bob")
	p.RemoveMember("R1", "carol")
	close(roster.release)
	require.NoError(t, <-done)

	assert.True(t, p.isMember("R1", "host"))
	assert.True(t, p.isMember("R1", "bob"), "join during load must survive")
	assert.False(t, p.isMember("R1", "carol"), "leave during load must survive")

	s, err := p.Subscribe(ctx, "R1", "bob")
	require.NoError(t, err)
	s.Close()
}

func TestRefreshAfterCloseDoesNotResurrectRoom(t *testing.T) {
	roster := &gatedRoster{
		snapshot: []string{"host"},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	p := NewPool(roster, discard())

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background(), "R1") }()
	<-roster.started
	p.CloseRoom("R1")
	close(roster.release)
	require.NoError(t, <-done)

	assert.False(t, p.isMember("R1", "host"))
	rooms, _ := p.Stats()
	assert.Zero(t, rooms)
}

func TestRoomEndedIsRelayed(t *testing.T) {
	relay := &fakeRelay{}
	p, roster := newTestPool(t, WithRelay(relay))
	roster.set("R1", "a")
	ctx := context.Background()

	s, err := p.Subscribe(ctx, "R1", "a")
	require.NoError(t, err)

	room := turtlesoup.Room{RoomID: "R1", HostID: "a", Status: turtlesoup.StatusEnded, UpdatedAt: time.Unix(1700000000, 0)}
	require.NoError(t, p.RoomEnded(ctx, room))

	assert.Equal(t, turtlesoup.StatusEnded, recv(t, s).Room.Status)
	requireClosed(t, s, ErrRoomClosed)
	require.Len(t, relay.events, 1)
	assert.Equal(t, EventRoomUpdate, relay.events[0].Type)
	assert.Equal(t, turtlesoup.StatusEnded, relay.events[0].Room.Status)
}

func TestMemberRemovedIsRelayed(t *testing.T) {
	relay := &fakeRelay{}
	p, roster := newTestPool(t, WithRelay(relay))
	roster.set("R1", "host", "bob")
	ctx := context.Background()

	hostSub, err := p.Subscribe(ctx, "R1", "host")
	require.NoError(t, err)
	defer hostSub.Close()
	bobSub, err := p.Subscribe(ctx, "R1", "bob")
	require.NoError(t, err)

	require.NoError(t, p.MemberRemoved(ctx, "R1", "bob"))

	ev := recv(t, hostSub)
	assert.Equal(t, EventParticipantLeave, ev.Type)
	assert.Equal(t, "bob", ev.Participant.UserID)
	requireClosed(t, bobSub, ErrRemoved)
	require.Len(t, relay.events, 1)
	assert.Equal(t, EventParticipantLeave, relay.events[0].Type)
}
