package store

// Conversation is a cached conversation summary.
type Conversation struct {
	ID                 string
	ListingID          string
	ListingTitle       string
	PeerID             string
	PeerName           string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	LastSenderID       string
}

// Message is a cached chat message. MsgID is the server id once
// confirmed, or the client-generated id while pending.
type Message struct {
	ID          int64
	ChatID      string
	MsgID       string
	SenderID    string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Status      Status
	Timestamp   int64
}

// Status is a message delivery state. A message only moves forward:
// pending -> confirmed, or pending -> failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// OutboxEntry is a pending outgoing message awaiting delivery.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
