package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"unimarket/internal/api"
	"unimarket/internal/bus"
	"unimarket/internal/channel"
	"unimarket/internal/outbox"
	"unimarket/internal/store"
)

// SessionState describes what the controller is doing with the active
// conversation.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateLoading   SessionState = "loading"
	StateActive    SessionState = "active"
	StateSwitching SessionState = "switching"
)

// HistoryAPI is the REST surface the controller fetches from.
type HistoryAPI interface {
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	GetConversation(ctx context.Context, id string) (*api.Conversation, error)
	MarkRead(ctx context.Context, chatID string) error
}

// Channel is the realtime surface the controller drives.
type Channel interface {
	JoinRoom(conversationID string)
	LeaveRoom(conversationID string)
	Emit(event string, payload any)
}

// Queuer persists outgoing messages for the outbox sender.
type Queuer interface {
	QueueOutbox(clientMsgID, chatID, body string) error
	RequeueOutbox(clientMsgID string) error
}

// Message is one entry of the active conversation's transcript.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	Content    string
	Type       string
	FromMe     bool
	State      store.Status
	At         time.Time
}

const typingTimeout = 2 * time.Second

// Controller owns the active-conversation session: which conversation is
// open, its transcript, typing indicators and unread bookkeeping. All
// mutation funnels through it; the UI only reads snapshots and waits on
// the refresh signal.
//
// Selection is guarded by a pending id: a fetch that completes after a
// newer selection started is discarded wholesale, so a slow response for
// conversation A can never overwrite conversation B's transcript.
type Controller struct {
	selfID  string
	history HistoryAPI
	channel Channel
	queue   Queuer
	list    *ListStore
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.RWMutex
	state     SessionState
	activeID  string
	pendingID string
	messages  []Message

	tracker *typingTracker

	typingMu    sync.Mutex
	selfTyping  bool
	typingTimer *time.Timer

	// peerTimeout is the expiry for remote typing indicators; tests
	// shorten it.
	peerTimeout time.Duration

	refreshCh chan struct{}
	cancel    context.CancelFunc
	unsub     func()
	done      chan struct{}
}

// NewController wires a session controller. It does not start consuming
// bus events until Start is called.
func NewController(selfID string, history HistoryAPI, ch Channel, queue Queuer, list *ListStore, b *bus.Bus, logger *zap.Logger) *Controller {
	c := &Controller{
		selfID:      selfID,
		history:     history,
		channel:     ch,
		queue:       queue,
		list:        list,
		bus:         b,
		logger:      logger,
		state:       StateIdle,
		peerTimeout: typingTimeout,
		refreshCh:   make(chan struct{}, 1),
	}
	c.tracker = newTypingTracker(c.peerTimeout, c.signal)
	return c
}

// Start subscribes to the bus and begins processing realtime events.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	events, unsub := c.bus.Subscribe("", 64)
	c.unsub = unsub
	c.done = make(chan struct{})
	go c.loop(ctx, events)
}

// Stop tears down the event loop.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.unsub != nil {
		c.unsub()
	}
	if c.done != nil {
		<-c.done
	}
}

// RefreshSignal fires whenever a snapshot may have changed.
func (c *Controller) RefreshSignal() <-chan struct{} { return c.refreshCh }

func (c *Controller) signal() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// State returns the current session state.
func (c *Controller) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActiveID returns the id of the open conversation, or "".
func (c *Controller) ActiveID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeID
}

// Messages returns a copy of the active transcript.
func (c *Controller) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// TypingPeers returns the peers currently typing in the active conversation.
func (c *Controller) TypingPeers() []string { return c.tracker.Peers() }

// RefreshList re-fetches the conversation list from the API.
func (c *Controller) RefreshList(ctx context.Context) error {
	convs, err := c.history.ListConversations(ctx)
	if err != nil {
		return err
	}
	c.list.Replace(convs, c.selfID)
	c.signal()
	return nil
}

// Select opens a conversation: joins its realtime room, fetches its
// history and clears its unread counter. Re-selecting the already active
// conversation skips the fetch. A selection superseded by a newer one
// before its fetch lands is discarded.
func (c *Controller) Select(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.pendingID == chatID {
		c.mu.Unlock()
		return nil
	}
	if c.activeID == chatID && c.pendingID == "" && c.state == StateActive {
		c.mu.Unlock()
		c.clearRead(chatID)
		return nil
	}
	prev := c.activeID
	c.pendingID = chatID
	if prev == "" {
		c.state = StateLoading
	} else {
		c.state = StateSwitching
	}
	c.mu.Unlock()
	c.signal()

	if prev != "" && prev != chatID {
		c.channel.LeaveRoom(prev)
	}
	c.channel.JoinRoom(chatID)

	conv, err := c.history.GetConversation(ctx, chatID)

	c.mu.Lock()
	if c.pendingID != chatID {
		// A newer selection won; this response is stale.
		active := c.activeID
		c.mu.Unlock()
		if chatID != active {
			c.channel.LeaveRoom(chatID)
		}
		return nil
	}
	if err != nil {
		c.pendingID = ""
		if c.activeID != "" {
			c.state = StateActive
		} else {
			c.state = StateIdle
		}
		restore := c.activeID
		c.mu.Unlock()
		if chatID != restore {
			c.channel.LeaveRoom(chatID)
		}
		if restore != "" {
			c.channel.JoinRoom(restore)
		}
		c.signal()
		return err
	}

	c.activeID = chatID
	c.pendingID = ""
	c.state = StateActive
	c.messages = c.messages[:0]
	for i := range conv.Messages {
		c.messages = append(c.messages, c.fromAPI(conv.Messages[i]))
	}
	c.mu.Unlock()

	c.tracker.Reset()
	c.stopSelfTyping()
	c.clearRead(chatID)
	c.signal()
	return nil
}

// Close leaves the active conversation and returns to the idle state.
func (c *Controller) Close() {
	c.mu.Lock()
	active := c.activeID
	c.activeID = ""
	c.pendingID = ""
	c.state = StateIdle
	c.messages = nil
	c.mu.Unlock()

	if active != "" {
		c.channel.LeaveRoom(active)
	}
	c.tracker.Reset()
	c.stopSelfTyping()
	c.signal()
}

// Send appends an optimistic pending message to the transcript and queues
// it for delivery. It returns the client-assigned message id. The entry is
// later replaced in place when the acknowledgement arrives; it is never
// duplicated.
func (c *Controller) Send(content string) (string, error) {
	c.mu.Lock()
	if c.state != StateActive || c.activeID == "" {
		c.mu.Unlock()
		return "", ErrNoActiveConversation
	}
	chatID := c.activeID
	clientID := uuid.NewString()
	c.messages = append(c.messages, Message{
		ID:       clientID,
		SenderID: c.selfID,
		Content:  content,
		Type:     api.MessageTypeText,
		FromMe:   true,
		State:    store.StatusPending,
		At:       time.Now(),
	})
	c.mu.Unlock()

	c.stopSelfTyping()
	if err := c.queue.QueueOutbox(clientID, chatID, content); err != nil {
		c.markFailed(chatID, clientID)
		c.signal()
		return clientID, err
	}
	c.signal()
	return clientID, nil
}

// Retry re-queues a failed message for another delivery attempt.
func (c *Controller) Retry(clientMsgID string) error {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == clientMsgID && c.messages[i].State == store.StatusFailed {
			c.messages[i].State = store.StatusPending
			break
		}
	}
	c.mu.Unlock()
	c.signal()
	return c.queue.RequeueOutbox(clientMsgID)
}

// Discard removes a failed message from the transcript without resending.
func (c *Controller) Discard(clientMsgID string) {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == clientMsgID && c.messages[i].State == store.StatusFailed {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.signal()
}

// InputActivity reports a keystroke in the composer. The first call emits
// a typing event; the indicator auto-expires two seconds after the last
// call, or immediately on Send.
func (c *Controller) InputActivity() {
	c.mu.RLock()
	chatID := c.activeID
	active := c.state == StateActive
	c.mu.RUnlock()
	if !active || chatID == "" {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.selfTyping {
		c.typingTimer.Reset(c.peerTimeout)
		return
	}
	c.selfTyping = true
	c.channel.Emit(channel.EventTyping, channel.TypingPayload{ChatID: chatID, UserID: c.selfID})
	c.typingTimer = time.AfterFunc(c.peerTimeout, c.stopSelfTyping)
}

func (c *Controller) stopSelfTyping() {
	c.mu.RLock()
	chatID := c.activeID
	c.mu.RUnlock()

	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if !c.selfTyping {
		return
	}
	c.selfTyping = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	if chatID != "" {
		c.channel.Emit(channel.EventStopTyping, channel.TypingPayload{ChatID: chatID, UserID: c.selfID})
	}
}

func (c *Controller) loop(ctx context.Context, events <-chan bus.Event) {
	defer close(c.done)
	for {
		select {
		case evt := <-events:
			c.handle(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case channel.InboundMessage:
		if evt.Kind == "chat.message_received" {
			c.handleIncoming(p)
		}
	case channel.PeerTyping:
		if p.UserID == c.selfID {
			return
		}
		switch evt.Kind {
		case "chat.peer_typing":
			c.tracker.Touch(p.UserID)
		case "chat.peer_stop_typing":
			c.tracker.Remove(p.UserID)
		}
	case outbox.Ack:
		c.handleAck(p)
	case outbox.SendFailure:
		c.markFailed(p.ChatID, p.ClientMsgID)
		c.signal()
	case string:
		if evt.Kind == "channel.connected" {
			c.rejoinRooms()
		}
	}
}

// handleIncoming folds a realtime push into the transcript and the list.
// Our own messages can arrive here before the REST acknowledgement; they
// replace the matching pending entry instead of appending a duplicate.
func (c *Controller) handleIncoming(p channel.InboundMessage) {
	fromSelf := p.Message.Sender.ID == c.selfID

	c.mu.Lock()
	isActive := p.ChatID == c.activeID
	if isActive {
		switch {
		case c.findByID(p.Message.ID) >= 0:
			// Already applied via the acknowledgement.
		case fromSelf:
			if i := c.findPendingEcho(p.Message); i >= 0 {
				at := c.messages[i].At
				c.messages[i] = c.fromAPI(p.Message)
				if p.Message.CreatedAt.IsZero() {
					c.messages[i].At = at
				}
			} else {
				c.messages = append(c.messages, c.fromAPI(p.Message))
			}
		default:
			c.messages = append(c.messages, c.fromAPI(p.Message))
		}
	}
	c.mu.Unlock()

	c.list.ApplyIncoming(p.ChatID, p.Message, !fromSelf && !isActive)
	if isActive && !fromSelf {
		c.clearRead(p.ChatID)
		c.tracker.Remove(p.Message.Sender.ID)
	}
	c.signal()
}

// handleAck replaces the optimistic entry with the server's copy, in
// place. If the realtime echo already landed under the server id, the
// pending entry is dropped instead.
func (c *Controller) handleAck(ack outbox.Ack) {
	c.mu.Lock()
	if ack.ChatID == c.activeID {
		if j := c.findByID(ack.Message.ID); j >= 0 {
			if i := c.findByID(ack.ClientMsgID); i >= 0 {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
			}
			c.messages[c.findByID(ack.Message.ID)].State = store.StatusConfirmed
		} else if i := c.findByID(ack.ClientMsgID); i >= 0 {
			at := c.messages[i].At
			c.messages[i] = c.fromAPI(ack.Message)
			if ack.Message.CreatedAt.IsZero() {
				c.messages[i].At = at
			}
		}
	}
	c.mu.Unlock()

	c.list.ApplyIncoming(ack.ChatID, ack.Message, false)
	c.signal()
}

func (c *Controller) markFailed(chatID, clientMsgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chatID != c.activeID {
		return
	}
	for i := range c.messages {
		if c.messages[i].ID == clientMsgID && c.messages[i].State == store.StatusPending {
			c.messages[i].State = store.StatusFailed
			return
		}
	}
}

// rejoinRooms re-announces the active conversation's room after a
// reconnect, since the server forgets room membership when the transport
// drops.
func (c *Controller) rejoinRooms() {
	c.mu.RLock()
	active, pending := c.activeID, c.pendingID
	c.mu.RUnlock()
	if active != "" {
		c.channel.JoinRoom(active)
	}
	if pending != "" && pending != active {
		c.channel.JoinRoom(pending)
	}
}

func (c *Controller) clearRead(chatID string) {
	c.list.ClearUnread(chatID)
	// The sync engine mirrors this into the cached counter so warm
	// starts do not resurrect badges the user already saw.
	c.bus.Emit("chat.read", chatID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.history.MarkRead(ctx, chatID); err != nil {
			c.logger.Warn("failed to mark conversation read",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}()
}

// findByID returns the transcript index of a message id, or -1. Callers
// hold c.mu.
func (c *Controller) findByID(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// findPendingEcho matches a server copy of our own message against the
// optimistic entry it corresponds to: same content, still pending,
// closest timestamp. Callers hold c.mu.
func (c *Controller) findPendingEcho(msg api.Message) int {
	best := -1
	var bestDelta time.Duration
	for i := range c.messages {
		m := &c.messages[i]
		if !m.FromMe || m.State != store.StatusPending || m.Content != msg.Content {
			continue
		}
		delta := msg.CreatedAt.Sub(m.At)
		if delta < 0 {
			delta = -delta
		}
		if best == -1 || delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best
}

func (c *Controller) fromAPI(m api.Message) Message {
	return Message{
		ID:         m.ID,
		SenderID:   m.Sender.ID,
		SenderName: m.Sender.Name,
		Content:    m.Content,
		Type:       m.Type,
		FromMe:     m.Sender.ID == c.selfID,
		State:      store.StatusConfirmed,
		At:         m.CreatedAt,
	}
}
