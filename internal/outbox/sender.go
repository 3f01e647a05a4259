// Package outbox drains queued outgoing messages to the marketplace REST
// API. Messages composed while the channel is down stay queued and are
// retried once connectivity returns; a send that fails while apparently
// online is marked failed and surfaced for an explicit retry.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"unimarket/internal/api"
	"unimarket/internal/bus"
	"unimarket/internal/store"
)

// MessageSender is the REST surface used to persist messages.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, content, msgType string) (*api.Message, error)
}

// Gate reports whether the client currently looks online. The realtime
// channel client satisfies it.
type Gate interface {
	Connected() bool
}

// Ack is the payload of message.send_ack events.
type Ack struct {
	ClientMsgID string
	ChatID      string
	Message     api.Message
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	ClientMsgID string
	ChatID      string
	Reason      string
}

const pollInterval = 500 * time.Millisecond

// Sender polls the outbox and delivers queued messages.
type Sender struct {
	db       *store.DB
	sender   MessageSender
	gate     Gate
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSender creates an outbox sender. gate may be nil, meaning always online.
func NewSender(db *store.DB, sender MessageSender, gate Gate, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:       db,
		sender:   sender,
		gate:     gate,
		bus:      b,
		logger:   logger,
		interval: pollInterval,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	if s.gate != nil && !s.gate.Connected() {
		// Offline: leave everything queued for the next tick.
		return
	}

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		// Keep the cache copy of the optimistic message in step.
		now := time.Now().UnixMilli()
		_ = s.db.UpsertMessage(&store.Message{
			ChatID:      entry.ChatID,
			MsgID:       entry.ClientMsgID,
			Body:        entry.Body,
			MessageType: api.MessageTypeText,
			FromMe:      true,
			Status:      store.StatusPending,
			Timestamp:   now,
		})

		msg, err := s.sender.SendMessage(ctx, entry.ChatID, entry.Body, api.MessageTypeText)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			_ = s.db.MarkMessageFailed(entry.ChatID, entry.ClientMsgID)
			s.bus.Emit("message.send_failed", SendFailure{
				ClientMsgID: entry.ClientMsgID,
				ChatID:      entry.ChatID,
				Reason:      err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		_ = s.db.ConfirmMessage(entry.ChatID, entry.ClientMsgID, msg.ID, msg.CreatedAt.UnixMilli())

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", msg.ID))
		s.bus.Emit("message.send_ack", Ack{
			ClientMsgID: entry.ClientMsgID,
			ChatID:      entry.ChatID,
			Message:     *msg,
		})
	}
}
