package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{ID: "c1", PeerID: "u2", PeerName: "Ben", ListingTitle: "Desk lamp", LastMessageAt: 1000, LastMessagePreview: "hello"}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	conv.PeerName = "Ben K."
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].PeerName != "Ben K." {
		t.Errorf("peer name = %q, want Ben K.", convs[0].PeerName)
	}
}

func TestListOrderedByRecency(t *testing.T) {
	db := testDB(t)

	for _, c := range []*Conversation{
		{ID: "old", LastMessageAt: 1000},
		{ID: "new", LastMessageAt: 3000},
		{ID: "mid", LastMessageAt: 2000},
	} {
		if err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if convs[i].ID != id {
			t.Errorf("convs[%d].ID = %q, want %q", i, convs[i].ID, id)
		}
	}
}

func TestTouchConversationUnreadAndSummary(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", LastMessageAt: 1000, LastMessagePreview: "old"}); err != nil {
		t.Fatal(err)
	}

	// Two incoming messages for a non-active conversation: unread +2.
	if err := db.TouchConversation("c1", 2000, "hey", "u2", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchConversation("c1", 3000, "there", "u2", 1); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}
	if c.LastMessagePreview != "there" || c.LastMessageAt != 3000 {
		t.Errorf("summary = %q@%d, want there@3000", c.LastMessagePreview, c.LastMessageAt)
	}

	// An out-of-order older message must not roll the summary back.
	if err := db.TouchConversation("c1", 1500, "stale", "u2", 1); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("c1")
	if c.LastMessagePreview != "there" {
		t.Errorf("summary rolled back to %q", c.LastMessagePreview)
	}

	if err := db.ClearUnread("c1"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread after clear = %d, want 0", c.UnreadCount)
	}
}

func TestTouchConversationCreatesStub(t *testing.T) {
	db := testDB(t)

	if err := db.TouchConversation("fresh", 1000, "hi", "u2", 1); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.UnreadCount != 1 {
		t.Fatalf("stub = %+v, want unread 1", c)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ChatID: "c1", MsgID: "m1", SenderID: "u2", Body: "hello", MessageType: "text", Status: StatusConfirmed, Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestConfirmMessageReplacesClientID(t *testing.T) {
	db := testDB(t)

	pending := &Message{ChatID: "c1", MsgID: "tmp-1", FromMe: true, Body: "hi", MessageType: "text", Status: StatusPending, Timestamp: 1000}
	if err := db.UpsertMessage(pending); err != nil {
		t.Fatal(err)
	}

	if err := db.ConfirmMessage("c1", "tmp-1", "m99", 1100); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].MsgID != "m99" || msgs[0].Status != StatusConfirmed {
		t.Errorf("message = %+v, want m99 confirmed", msgs[0])
	}
}

func TestConfirmMessageDedupesAgainstLivePush(t *testing.T) {
	db := testDB(t)

	// The live push for the same logical message arrived first.
	if err := db.UpsertMessage(&Message{ChatID: "c1", MsgID: "m99", FromMe: true, Body: "hi", Status: StatusConfirmed, Timestamp: 1100}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "c1", MsgID: "tmp-1", FromMe: true, Body: "hi", Status: StatusPending, Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	if err := db.ConfirmMessage("c1", "tmp-1", "m99", 1100); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1 after dedup", len(msgs))
	}
	if msgs[0].MsgID != "m99" {
		t.Errorf("surviving msg id = %q, want m99", msgs[0].MsgID)
	}
}

func TestMarkMessageFailedOnlyMovesForward(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "c1", MsgID: "m1", Status: StatusConfirmed, Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageFailed("c1", "m1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages("c1", 0, 10)
	if msgs[0].Status != StatusConfirmed {
		t.Errorf("confirmed message regressed to %q", msgs[0].Status)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("tmp-1", "c1", "hello"); err != nil {
		t.Fatal(err)
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "tmp-1" {
		t.Fatalf("pending = %+v, want tmp-1", pending)
	}

	if err := db.MarkOutboxSent("tmp-1", "m99"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}

func TestOutboxRequeueFailed(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("tmp-1", "c1", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("tmp-1", "network error"); err != nil {
		t.Fatal(err)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Fatalf("failed entry still pending: %+v", pending)
	}

	if err := db.RequeueOutbox("tmp-1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 1 {
		t.Errorf("got %d pending after requeue, want 1", len(pending))
	}
}
