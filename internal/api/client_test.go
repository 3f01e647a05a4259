package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, zap.NewNop())
}

func TestListConversations(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"chats":[
			{"_id":"c1","participants":[{"_id":"u1","name":"Ana"},{"_id":"u2","name":"Ben"}],
			 "listing":{"_id":"l1","title":"Desk lamp"},
			 "unreadCount":{"u1":2}}
		]}}`))
	})

	chats, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].ID != "c1" || chats[0].Listing.Title != "Desk lamp" {
		t.Errorf("chat = %+v", chats[0])
	}
	if chats[0].UnreadCount["u1"] != 2 {
		t.Errorf("unread = %v, want u1:2", chats[0].UnreadCount)
	}
}

func TestSendMessageToken(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q, want Bearer tok123", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "hi" || body["type"] != "text" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"message":
			{"_id":"m99","sender":{"_id":"u1","name":"Ana"},"content":"hi","type":"text",
			 "createdAt":"2026-02-01T10:00:00Z"}}}`))
	})
	c.SetToken("tok123")

	msg, err := c.SendMessage(context.Background(), "c1", "hi", MessageTypeText)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != "m99" || msg.Content != "hi" {
		t.Errorf("message = %+v", msg)
	}
}

func TestBackendFailureNormalized(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"chat not found"}`))
	})

	_, err := c.GetConversation(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "chat not found" {
		t.Errorf("error = %+v", apiErr)
	}
}

func TestMalformedResponse(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	err := c.MarkRead(context.Background(), "c1")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
}

func TestLoginRetainsToken(t *testing.T) {
	var sawAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_, _ = w.Write([]byte(`{"success":true,"data":{"user":{"_id":"u1","name":"Ana"},"accessToken":"tok-abc"}}`))
		case "/chat/unread/count":
			sawAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"success":true,"data":{"count":3}}`))
		}
	})

	sess, err := c.Login(context.Background(), "ana@campus.edu", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.User.ID != "u1" || sess.AccessToken != "tok-abc" {
		t.Errorf("session = %+v", sess)
	}

	n, err := c.UnreadCount(context.Background())
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	if sawAuth != "Bearer tok-abc" {
		t.Errorf("Authorization after login = %q", sawAuth)
	}
}

func TestOtherParticipant(t *testing.T) {
	conv := &Conversation{Participants: []User{{ID: "u1", Name: "Ana"}, {ID: "u2", Name: "Ben"}}}
	if got := conv.OtherParticipant("u1"); got.ID != "u2" {
		t.Errorf("OtherParticipant(u1) = %+v, want u2", got)
	}
	if got := conv.OtherParticipant("u2"); got.ID != "u1" {
		t.Errorf("OtherParticipant(u2) = %+v, want u1", got)
	}
}
