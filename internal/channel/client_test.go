package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"unimarket/internal/bus"
	"unimarket/internal/status"
)

// testServer is a minimal websocket endpoint recording inbound frames and
// allowing pushes back to the most recent connection.
type testServer struct {
	srv    *httptest.Server
	frames chan Frame

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{frames: make(chan Frame, 64)}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		go func() {
			for {
				var f Frame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				ts.frames <- f
			}
		}()
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, _ := json.Marshal(payload)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		t.Fatal("no connection to push to")
	}
	if err := ts.conns[len(ts.conns)-1].WriteJSON(Frame{Event: event, Data: data}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (ts *testServer) pushRaw(t *testing.T, raw string) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.conns[len(ts.conns)-1].WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("pushRaw: %v", err)
	}
}

func (ts *testServer) dropConnections() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		_ = c.Close()
	}
	ts.conns = nil
}

func waitFrame(t *testing.T, ts *testServer) Frame {
	t.Helper()
	select {
	case f := <-ts.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return Frame{}
	}
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func newClient(t *testing.T, ts *testServer) (*Client, *bus.Bus) {
	t.Helper()
	b := bus.New()
	m := status.NewMachine(b)
	c := New(ts.url(), m, b, zap.NewNop())
	t.Cleanup(c.Disconnect)
	return c, b
}

func TestConnectJoinsPersonalRoom(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	ch, unsub := b.Subscribe("channel.connected", 10)
	defer unsub()

	c.Connect("u1", "tok")

	waitEvent(t, ch, "channel.connected")
	f := waitFrame(t, ts)
	if f.Event != EventJoin {
		t.Fatalf("first frame = %q, want join", f.Event)
	}
	var userID string
	_ = json.Unmarshal(f.Data, &userID)
	if userID != "u1" {
		t.Errorf("join payload = %q, want u1", userID)
	}
	if !c.Connected() {
		t.Error("client should report connected")
	}
}

func TestConnectIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	ch, unsub := b.Subscribe("channel.connected", 10)
	defer unsub()

	c.Connect("u1", "tok")
	waitEvent(t, ch, "channel.connected")
	waitFrame(t, ts) // join

	c.Connect("u1", "tok")

	select {
	case f := <-ts.frames:
		t.Errorf("unexpected frame after duplicate Connect: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoomLifecycle(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	ch, unsub := b.Subscribe("channel.connected", 10)
	defer unsub()

	c.Connect("u1", "tok")
	waitEvent(t, ch, "channel.connected")
	waitFrame(t, ts) // join

	c.JoinRoom("c1")
	f := waitFrame(t, ts)
	if f.Event != EventJoinChat {
		t.Fatalf("frame = %q, want join-chat", f.Event)
	}
	if rooms := c.Rooms(); len(rooms) != 1 || rooms[0] != "c1" {
		t.Errorf("rooms = %v, want [c1]", rooms)
	}

	c.LeaveRoom("c1")
	f = waitFrame(t, ts)
	if f.Event != EventLeaveChat {
		t.Fatalf("frame = %q, want leave-chat", f.Event)
	}
	if rooms := c.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms = %v, want empty", rooms)
	}
}

func TestJoinRoomNoopWhenDisconnected(t *testing.T) {
	ts := newTestServer(t)
	c, _ := newClient(t, ts)

	c.JoinRoom("c1")
	if rooms := c.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms = %v, want empty while disconnected", rooms)
	}
}

func TestHandlersRunInSubscriptionOrder(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	ch, unsub := b.Subscribe("channel.connected", 10)
	defer unsub()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	c.On("ping", func(json.RawMessage) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	c.On("ping", func(json.RawMessage) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		done <- struct{}{}
	})

	c.Connect("u1", "tok")
	waitEvent(t, ch, "channel.connected")
	ts.push(t, "ping", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	ch, unsub := b.Subscribe("channel.connected", 10)
	defer unsub()

	got := make(chan struct{}, 1)
	c.On("ok", func(json.RawMessage) { got <- struct{}{} })

	c.Connect("u1", "tok")
	waitEvent(t, ch, "channel.connected")

	ts.pushRaw(t, "not json at all")
	ts.push(t, "ok", nil)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed one was not dispatched")
	}
}

func TestReconnectClearsRoomsAndReannounces(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	ch, unsub := b.Subscribe("channel.", 20)
	defer unsub()

	c.Connect("u1", "tok")
	waitEvent(t, ch, "channel.connected")
	waitFrame(t, ts) // join

	c.JoinRoom("c1")
	waitFrame(t, ts) // join-chat

	ts.dropConnections()

	waitEvent(t, ch, "channel.disconnected")
	if rooms := c.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms = %v, want cleared after drop", rooms)
	}

	// Transparent reconnection re-joins the personal room and republishes
	// channel.connected so the controller can re-join chat rooms.
	waitEvent(t, ch, "channel.connected")
	f := waitFrame(t, ts)
	if f.Event != EventJoin {
		t.Errorf("frame after reconnect = %q, want join", f.Event)
	}
}

func TestRelayPublishesTypedEvents(t *testing.T) {
	ts := newTestServer(t)
	c, b := newClient(t, ts)
	connCh, unsubConn := b.Subscribe("channel.connected", 10)
	defer unsubConn()
	ch, unsub := b.Subscribe("chat.", 20)
	defer unsub()

	NewRelay(b, zap.NewNop()).Attach(c)
	c.Connect("u1", "tok")
	waitEvent(t, connCh, "channel.connected")

	ts.push(t, EventNewMessage, map[string]any{
		"chatId": "c1",
		"message": map[string]any{
			"_id": "m1", "content": "hey",
			"sender":    map[string]any{"_id": "u2", "name": "Ben"},
			"type":      "text",
			"createdAt": "2026-02-01T10:00:00Z",
		},
	})
	evt := waitEvent(t, ch, "chat.message_received")
	p, ok := evt.Payload.(InboundMessage)
	if !ok {
		t.Fatalf("payload type = %T", evt.Payload)
	}
	if p.ChatID != "c1" || p.Message.ID != "m1" || p.Message.Sender.ID != "u2" {
		t.Errorf("payload = %+v", p)
	}

	// Malformed payloads are dropped silently.
	ts.push(t, EventUserTyping, map[string]any{"bogus": true})
	ts.push(t, EventUserTyping, map[string]any{"userId": "u2"})
	evt = waitEvent(t, ch, "chat.peer_typing")
	if tp := evt.Payload.(PeerTyping); tp.UserID != "u2" {
		t.Errorf("typing payload = %+v", tp)
	}
}
