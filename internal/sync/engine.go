// Package sync mirrors realtime chat traffic into the local cache so the
// conversation list and recent transcripts survive restarts and render
// before the first network round trip.
package sync

import (
	"context"

	"go.uber.org/zap"

	"unimarket/internal/api"
	"unimarket/internal/bus"
	"unimarket/internal/channel"
	"unimarket/internal/store"
)

// Engine consumes message events off the bus and persists them.
type Engine struct {
	selfID string
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a sync engine writing to db.
func NewEngine(selfID string, db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{selfID: selfID, db: db, bus: b, logger: logger}
}

// Start begins consuming chat events.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	events, unsub := e.bus.Subscribe("chat.", 256)
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				e.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case channel.InboundMessage:
		if evt.Kind == "chat.message_received" {
			e.ingest(p)
		}
	case string:
		if evt.Kind == "chat.read" {
			e.clearRead(p)
		}
	}
}

// Stop shuts the engine down.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// Hydrate seeds the cache from a full conversation fetch. It runs after
// the first list load so a later offline start still has data to show.
func (e *Engine) Hydrate(convs []api.Conversation) {
	for i := range convs {
		conv := &convs[i]
		peer := conv.OtherParticipant(e.selfID)
		cached := &store.Conversation{
			ID:           conv.ID,
			ListingID:    conv.Listing.ID,
			ListingTitle: conv.Listing.Title,
			PeerID:       peer.ID,
			PeerName:     peer.Name,
			UnreadCount:  conv.UnreadCount[e.selfID],
		}
		if conv.LastMessage != nil {
			cached.LastMessageAt = conv.LastMessage.CreatedAt.UnixMilli()
			cached.LastMessagePreview = conv.LastMessage.Content
			cached.LastSenderID = conv.LastMessage.Sender.ID
		}
		if err := e.db.UpsertConversation(cached); err != nil {
			e.logger.Error("failed to cache conversation", zap.String("chat_id", conv.ID), zap.Error(err))
			continue
		}
		for j := range conv.Messages {
			m := &conv.Messages[j]
			_ = e.db.UpsertMessage(&store.Message{
				ChatID:      conv.ID,
				MsgID:       m.ID,
				SenderID:    m.Sender.ID,
				SenderName:  m.Sender.Name,
				Body:        m.Content,
				MessageType: m.Type,
				FromMe:      m.Sender.ID == e.selfID,
				Status:      store.StatusConfirmed,
				Timestamp:   m.CreatedAt.UnixMilli(),
			})
		}
	}
}

func (e *Engine) clearRead(chatID string) {
	if err := e.db.ClearUnread(chatID); err != nil {
		e.logger.Error("failed to clear cached unread",
			zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (e *Engine) ingest(p channel.InboundMessage) {
	fromMe := p.Message.Sender.ID == e.selfID
	ts := p.Message.CreatedAt.UnixMilli()

	err := e.db.UpsertMessage(&store.Message{
		ChatID:      p.ChatID,
		MsgID:       p.Message.ID,
		SenderID:    p.Message.Sender.ID,
		SenderName:  p.Message.Sender.Name,
		Body:        p.Message.Content,
		MessageType: p.Message.Type,
		FromMe:      fromMe,
		Status:      store.StatusConfirmed,
		Timestamp:   ts,
	})
	if err != nil {
		e.logger.Error("failed to cache message",
			zap.String("chat_id", p.ChatID), zap.String("msg_id", p.Message.ID), zap.Error(err))
		return
	}

	delta := 1
	if fromMe {
		delta = 0
	}
	if err := e.db.TouchConversation(p.ChatID, ts, p.Message.Content, p.Message.Sender.ID, delta); err != nil {
		e.logger.Error("failed to update conversation summary",
			zap.String("chat_id", p.ChatID), zap.Error(err))
		return
	}

	e.bus.Emit("message.upserted", p)
}
