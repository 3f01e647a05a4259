// Package channel owns the single realtime connection to the marketplace
// messaging server. It exposes connect/disconnect, room join/leave, typed
// event emission and subscription, and transparent reconnection. Consumers
// never see transport errors, only connection-state changes on the bus.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"unimarket/internal/bus"
	"unimarket/internal/status"
)

// Frame is the wire format: one JSON object per websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of a subscribed event. Handlers run in
// subscription order on a single dispatch goroutine, never concurrently
// with each other.
type Handler func(data json.RawMessage)

// Reconnect backoff bounds.
const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Client is the process-wide realtime channel client. At most one
// connection is active; Connect while connected is a no-op.
type Client struct {
	url     string
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	userID  string
	token   string
	rooms   map[string]struct{}

	wmu  sync.Mutex
	conn *websocket.Conn

	hmu      sync.RWMutex
	handlers map[string][]Handler

	dispatchCh chan Frame
}

// New creates a channel client for the given websocket URL. The client is
// injected where needed; nothing reaches for it as ambient global state.
func New(url string, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		url:        url,
		machine:    machine,
		bus:        b,
		logger:     logger,
		rooms:      make(map[string]struct{}),
		handlers:   make(map[string][]Handler),
		dispatchCh: make(chan Frame, 256),
	}
}

// Connect establishes the connection for the given identity if none is
// active. It returns immediately; dial failures and later drops surface
// only as state transitions and bus events, never as errors here.
func (c *Client) Connect(userID, token string) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.userID = userID
	c.token = token
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	_ = c.machine.Transition(status.Connecting)
	go c.dispatchLoop(ctx)
	go c.run(ctx)
}

// Disconnect tears down the connection and clears joined-room bookkeeping.
// Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	c.closeConn()
	_ = c.machine.Transition(status.Disconnected)
}

// Connected reports whether the channel is currently usable.
func (c *Client) Connected() bool {
	return c.machine.Current() == status.Connected
}

// JoinRoom subscribes to a conversation's broadcast room. No-op while
// disconnected: room state is not buffered, the session controller
// re-establishes it after reconnect.
func (c *Client) JoinRoom(conversationID string) {
	if !c.Connected() {
		return
	}
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	c.Emit(EventJoinChat, conversationID)
}

// LeaveRoom unsubscribes from a conversation's broadcast room. No-op while
// disconnected.
func (c *Client) LeaveRoom(conversationID string) {
	if !c.Connected() {
		return
	}
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	c.Emit(EventLeaveChat, conversationID)
}

// Rooms returns the ids of the currently joined conversation rooms.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Emit sends an event frame, fire-and-forget. Dropped silently while
// disconnected.
func (c *Client) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("emit: encode payload", zap.String("event", event), zap.Error(err))
		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		c.logger.Warn("emit: write", zap.String("event", event), zap.Error(err))
	}
}

// On subscribes a handler to an event. Multiple handlers per event are
// permitted and run in subscription order.
func (c *Client) On(event string, h Handler) {
	c.hmu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.hmu.Unlock()
}

// RemoveAll removes every handler for an event.
func (c *Client) RemoveAll(event string) {
	c.hmu.Lock()
	delete(c.handlers, event)
	c.hmu.Unlock()
}

// run dials and reads until Disconnect. Transport drops are non-fatal: the
// loop transitions to Reconnecting, backs off, and dials again.
func (c *Client) run(ctx context.Context) {
	backoff := initialBackoff

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("channel dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			_ = c.machine.Transition(status.Reconnecting)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			_ = c.machine.Transition(status.Connecting)
			continue
		}
		backoff = initialBackoff

		c.wmu.Lock()
		c.conn = conn
		c.wmu.Unlock()
		_ = c.machine.Transition(status.Connected)

		// Join the identity's personal notification room, then tell
		// consumers the channel is live so they can re-join chat rooms.
		c.Emit(EventJoin, c.userID)
		c.bus.Emit("channel.connected", c.userID)

		c.readLoop(ctx, conn)

		c.closeConn()
		c.mu.Lock()
		c.rooms = make(map[string]struct{})
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("channel connection lost")
		_ = c.machine.Transition(status.Reconnecting)
		c.bus.Emit("channel.disconnected", nil)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		_ = c.machine.Transition(status.Connecting)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	c.mu.Lock()
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			// Malformed push payloads are dropped, never fatal.
			c.logger.Warn("dropping malformed frame", zap.ByteString("data", data))
			continue
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case c.dispatchCh <- f:
		default:
			c.logger.Warn("dispatch queue full, dropping frame", zap.String("event", f.Event))
		}
	}
}

// dispatchLoop delivers inbound frames to handlers one at a time.
func (c *Client) dispatchLoop(ctx context.Context) {
	for {
		select {
		case f := <-c.dispatchCh:
			c.hmu.RLock()
			hs := append([]Handler(nil), c.handlers[f.Event]...)
			c.hmu.RUnlock()
			for _, h := range hs {
				h(f.Data)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) closeConn() {
	c.wmu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.wmu.Unlock()
}
