package channel

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"unimarket/internal/api"
	"unimarket/internal/bus"
)

// Wire event names. These are the contract with the messaging server.
const (
	// Client -> server.
	EventJoin       = "join"
	EventJoinChat   = "join-chat"
	EventLeaveChat  = "leave-chat"
	EventTyping     = "typing"
	EventStopTyping = "stop-typing"

	// Server -> client.
	EventNewMessage     = "new-message"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
)

// TypingPayload is emitted with typing / stop-typing.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// InboundMessage is the payload of a new-message push.
type InboundMessage struct {
	ChatID  string      `json:"chatId"`
	Message api.Message `json:"message"`
}

// PeerTyping is the payload of user-typing / user-stop-typing pushes.
type PeerTyping struct {
	UserID string `json:"userId"`
}

// Relay parses server pushes off the channel client and republishes them
// as typed bus events. It does not touch any session state itself; the
// session controller and the sync engine subscribe to the bus
// independently (and can unsubscribe deterministically on teardown).
type Relay struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewRelay creates a relay publishing to the given bus.
func NewRelay(b *bus.Bus, logger *zap.Logger) *Relay {
	return &Relay{bus: b, logger: logger}
}

// Attach registers the relay's handlers on the channel client.
func (r *Relay) Attach(c *Client) {
	c.On(EventNewMessage, r.handleNewMessage)
	c.On(EventUserTyping, r.handleTyping("chat.peer_typing"))
	c.On(EventUserStopTyping, r.handleTyping("chat.peer_stop_typing"))
}

func (r *Relay) handleNewMessage(data json.RawMessage) {
	var p InboundMessage
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		r.logger.Warn("dropping malformed new-message payload", zap.Error(err))
		return
	}
	r.bus.Publish(bus.Event{
		Kind:      "chat.message_received",
		Timestamp: time.Now(),
		Payload:   p,
	})
}

func (r *Relay) handleTyping(kind string) Handler {
	return func(data json.RawMessage) {
		var p PeerTyping
		if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
			r.logger.Warn("dropping malformed typing payload", zap.Error(err))
			return
		}
		r.bus.Publish(bus.Event{
			Kind:      kind,
			Timestamp: time.Now(),
			Payload:   p,
		})
	}
}
