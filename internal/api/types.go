package api

import "time"

// User is a marketplace account as returned by the backend.
type User struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ListingRef is the listing summary embedded in a conversation.
type ListingRef struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"_id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageTypeText is the only message type in scope for this client.
const MessageTypeText = "text"

// Conversation is a buyer/seller thread tied to one listing. UnreadCount
// maps participant id to that participant's unread counter.
type Conversation struct {
	ID           string         `json:"_id"`
	Participants []User         `json:"participants"`
	Listing      ListingRef     `json:"listing"`
	LastMessage  *Message       `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int `json:"unreadCount,omitempty"`
	Messages     []Message      `json:"messages,omitempty"`
}

// OtherParticipant returns the participant that is not selfID. Falls back
// to the first participant if selfID is not present.
func (c *Conversation) OtherParticipant(selfID string) User {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0]
	}
	return User{}
}

// Session is the authenticated identity plus its bearer token.
type Session struct {
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}
