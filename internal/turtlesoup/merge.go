package turtlesoup

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// DedupGranularity is the timestamp resolution used by the content-based
// dedup key. Realtime copies of the same message can disagree on sub-second
// precision.
const DedupGranularity = time.Second

// Key identifies a message for deduplication. The persisted record id is the
// canonical key; the composite of sender, content and truncated timestamp is
// only used for records that never reached the store.
func (m Message) Key() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = m.CreatedAt
	}
	return strings.Join([]string{"c", m.From, m.Content, ts.UTC().Truncate(DedupGranularity).Format(time.RFC3339)}, "|")
}

// Before reports whether m sorts before o in log order: creation time first,
// then the store-assigned sequence.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}

// MergeMessages returns current with incoming inserted in log order. If a
// message with the same Key is already present, current is returned
// unchanged. current must already be in log order; it is never mutated.
func MergeMessages(current []Message, incoming Message) []Message {
	key := incoming.Key()
	for _, m := range current {
		if m.Key() == key {
			return current
		}
	}
	i := sort.Search(len(current), func(i int) bool { return incoming.Before(current[i]) })
	out := make([]Message, 0, len(current)+1)
	out = append(out, current[:i]...)
	out = append(out, incoming)
	return append(out, current[i:]...)
}

// SortParticipants orders a roster host first, then by join time. Ties keep
// their relative order.
func SortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].IsHost != ps[j].IsHost {
			return ps[i].IsHost
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}

// MergeParticipants returns current with p added, or replacing the existing
// record for the same user, in roster order. current is never mutated.
func MergeParticipants(current []Participant, p Participant) []Participant {
	out := make([]Participant, 0, len(current)+1)
	replaced := false
	for _, c := range current {
		if c.UserID == p.UserID {
			out = append(out, p)
			replaced = true
			continue
		}
		out = append(out, c)
	}
	if !replaced {
		out = append(out, p)
	}
	SortParticipants(out)
	return out
}

// RemoveParticipant returns current without userID. Removing an absent user
// returns current unchanged.
func RemoveParticipant(current []Participant, userID string) []Participant {
	i := slices.IndexFunc(current, func(p Participant) bool { return p.UserID == userID })
	if i < 0 {
		return current
	}
	return slices.Delete(slices.Clone(current), i, i+1)
}
