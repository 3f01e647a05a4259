package chat

import (
	"testing"
	"time"

	"unimarket/internal/api"
)

func listConv(id, peerID string, last *api.Message, unread int) api.Conversation {
	c := api.Conversation{
		ID: id,
		Participants: []api.User{
			{ID: selfID, Name: "Me"},
			{ID: peerID, Name: "Peer " + peerID},
		},
		Listing:     api.ListingRef{ID: "l-" + id, Title: "Listing " + id},
		LastMessage: last,
		UnreadCount: map[string]int{selfID: unread},
	}
	return c
}

func TestReplaceOrdersByRecency(t *testing.T) {
	now := time.Now()
	older := msg("m1", "u-a", "old", now.Add(-time.Hour))
	newer := msg("m2", "u-b", "new", now)

	s := NewListStore()
	s.Replace([]api.Conversation{
		listConv("c-old", "u-a", &older, 0),
		listConv("c-new", "u-b", &newer, 2),
	}, selfID)

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	if snap[0].ID != "c-new" || snap[1].ID != "c-old" {
		t.Fatalf("order = [%s %s], want [c-new c-old]", snap[0].ID, snap[1].ID)
	}
	if snap[0].Unread != 2 {
		t.Fatalf("unread = %d, want 2", snap[0].Unread)
	}
	if snap[0].PeerID != "u-b" {
		t.Fatalf("peer = %q, want u-b", snap[0].PeerID)
	}
}

func TestApplyIncomingPromotesAndDedupes(t *testing.T) {
	now := time.Now()
	last := msg("m1", "u-a", "old", now.Add(-time.Hour))

	s := NewListStore()
	s.Replace([]api.Conversation{
		listConv("c1", "u-a", &last, 0),
		listConv("c2", "u-b", nil, 0),
	}, selfID)

	s.ApplyIncoming("c1", msg("m2", "u-a", "fresh", now), true)
	s.ApplyIncoming("c1", msg("m3", "u-a", "fresher", now.Add(time.Second)), true)

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2; incoming must never duplicate", len(snap))
	}
	if snap[0].ID != "c1" {
		t.Fatalf("most recent = %q, want c1", snap[0].ID)
	}
	if snap[0].LastMessage != "fresher" || snap[0].Unread != 2 {
		t.Fatalf("summary = %+v", snap[0])
	}
}

func TestApplyIncomingCreatesStubForUnknownConversation(t *testing.T) {
	s := NewListStore()
	s.ApplyIncoming("c-new", msg("m1", "u-x", "hello", time.Now()), true)

	sum, ok := s.Get("c-new")
	if !ok {
		t.Fatal("stub entry not created")
	}
	if sum.Unread != 1 || sum.PeerID != "u-x" {
		t.Fatalf("stub = %+v", sum)
	}
}

func TestApplyIncomingIgnoresOutOfOrderTimestamp(t *testing.T) {
	now := time.Now()
	s := NewListStore()
	s.ApplyIncoming("c1", msg("m2", "u-a", "second", now), false)
	s.ApplyIncoming("c1", msg("m1", "u-a", "first", now.Add(-time.Minute)), false)

	sum, _ := s.Get("c1")
	if !sum.LastMessageAt.Equal(now) {
		t.Fatalf("LastMessageAt moved backwards: %v", sum.LastMessageAt)
	}
}

func TestClearUnreadIsTheOnlyDecrement(t *testing.T) {
	now := time.Now()
	s := NewListStore()
	s.ApplyIncoming("c1", msg("m1", "u-a", "one", now), true)
	s.ApplyIncoming("c1", msg("m2", "u-a", "two", now.Add(time.Second)), true)

	if s.TotalUnread() != 2 {
		t.Fatalf("TotalUnread = %d, want 2", s.TotalUnread())
	}

	// A read message arriving for the open conversation does not reset
	// the counter on its own.
	s.ApplyIncoming("c1", msg("m3", "u-a", "three", now.Add(2*time.Second)), false)
	if sum, _ := s.Get("c1"); sum.Unread != 2 {
		t.Fatalf("unread = %d, want 2", sum.Unread)
	}

	s.ClearUnread("c1")
	if sum, _ := s.Get("c1"); sum.Unread != 0 {
		t.Fatalf("unread after clear = %d, want 0", sum.Unread)
	}
}
