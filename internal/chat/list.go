package chat

import (
	"sort"
	"sync"
	"time"

	"unimarket/internal/api"
	"unimarket/internal/store"
)

// Summary is one row of the conversation list.
type Summary struct {
	ID            string
	PeerID        string
	PeerName      string
	ListingID     string
	ListingTitle  string
	LastMessage   string
	LastSenderID  string
	LastMessageAt time.Time
	Unread        int
}

// ListStore holds the ordered collection of conversation summaries,
// most recent last message first. The ordering is not trusted from the
// source data; it is re-established on every update. At most one entry
// exists per conversation id. Only the session controller writes here;
// the UI reads snapshots.
type ListStore struct {
	mu    sync.RWMutex
	items map[string]*Summary
	order []string
}

// NewListStore creates an empty list store.
func NewListStore() *ListStore {
	return &ListStore{items: make(map[string]*Summary)}
}

// Replace swaps the whole collection for freshly fetched conversations.
// selfID picks which side of the unread-counter map belongs to us.
func (s *ListStore) Replace(convs []api.Conversation, selfID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*Summary, len(convs))
	for i := range convs {
		conv := &convs[i]
		peer := conv.OtherParticipant(selfID)
		sum := &Summary{
			ID:           conv.ID,
			PeerID:       peer.ID,
			PeerName:     peer.Name,
			ListingID:    conv.Listing.ID,
			ListingTitle: conv.Listing.Title,
			Unread:       conv.UnreadCount[selfID],
		}
		if conv.LastMessage != nil {
			sum.LastMessage = conv.LastMessage.Content
			sum.LastSenderID = conv.LastMessage.Sender.ID
			sum.LastMessageAt = conv.LastMessage.CreatedAt
		}
		s.items[conv.ID] = sum
	}
	s.resort()
}

// Warm seeds the list from the local cache so something renders before
// the first network round trip. A later Replace overwrites it.
func (s *ListStore) Warm(cached []store.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*Summary, len(cached))
	for _, c := range cached {
		var at time.Time
		if c.LastMessageAt > 0 {
			at = time.UnixMilli(c.LastMessageAt)
		}
		s.items[c.ID] = &Summary{
			ID:            c.ID,
			PeerID:        c.PeerID,
			PeerName:      c.PeerName,
			ListingID:     c.ListingID,
			ListingTitle:  c.ListingTitle,
			LastMessage:   c.LastMessagePreview,
			LastSenderID:  c.LastSenderID,
			LastMessageAt: at,
			Unread:        c.UnreadCount,
		}
	}
	s.resort()
}

// ApplyIncoming folds a newly persisted message into the matching
// summary and re-sorts. incrementUnread is false when the message belongs
// to the active conversation or was sent by us. Unknown conversation ids
// get a stub entry so unread tracking starts at first contact.
func (s *ListStore) ApplyIncoming(chatID string, msg api.Message, incrementUnread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.items[chatID]
	if !ok {
		sum = &Summary{ID: chatID, PeerID: msg.Sender.ID, PeerName: msg.Sender.Name}
		s.items[chatID] = sum
	}
	sum.LastMessage = msg.Content
	sum.LastSenderID = msg.Sender.ID
	if msg.CreatedAt.After(sum.LastMessageAt) {
		sum.LastMessageAt = msg.CreatedAt
	}
	if incrementUnread {
		sum.Unread++
	}
	s.resort()
}

// ClearUnread resets a conversation's unread counter to exactly zero.
// This is the only way the counter goes down.
func (s *ListStore) ClearUnread(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum, ok := s.items[chatID]; ok {
		sum.Unread = 0
	}
}

// Get returns a copy of one summary.
func (s *ListStore) Get(chatID string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.items[chatID]
	if !ok {
		return Summary{}, false
	}
	return *sum, true
}

// Snapshot returns the summaries in display order.
func (s *ListStore) Snapshot() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

// TotalUnread returns the aggregate unread count across conversations.
func (s *ListStore) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, sum := range s.items {
		total += sum.Unread
	}
	return total
}

// resort rebuilds the display order. Callers hold s.mu.
func (s *ListStore) resort() {
	s.order = s.order[:0]
	for id := range s.items {
		s.order = append(s.order, id)
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		a, b := s.items[s.order[i]], s.items[s.order[j]]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
}
