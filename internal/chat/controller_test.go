package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/ledger"
	"github.com/tranqv/homewire/internal/socket"
	"go.uber.org/zap"
)

type mockSender struct {
	frames []any
	ok     bool
}

func (m *mockSender) Send(v any) bool {
	m.frames = append(m.frames, v)
	return m.ok
}

// chatServer fakes the conversation endpoints. Message pages are keyed
// by the last_message_id cursor ("" for the newest page).
type chatServer struct {
	conversations []api.Conversation
	pages         map[string]api.MessagePage
	convWith      int64
}

func (s *chatServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/conversations/" {
			writeJSON(w, map[string]any{"data": s.conversations})
			return
		}
		if r.URL.Path == "/conversations/user/" {
			writeJSON(w, map[string]any{"data": map[string]any{"conversation_id": s.convWith}})
			return
		}
		page, ok := s.pages[r.URL.Query().Get("last_message_id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"data": page})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func cursorTo(id int64) *int64 { return &id }

func testController(t *testing.T, srv *httptest.Server, sender *mockSender) (*Controller, *ledger.Ledger, *bus.Bus) {
	t.Helper()
	logger := zap.NewNop()
	b := bus.New()
	tracker := ledger.NewTracker()
	tracker.SetCurrentUser(1)
	l, err := ledger.New(nil, tracker, sender, b, logger)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	client := api.New(srv.URL, "tok", logger)
	c := NewController(client, sender, l, tracker, b, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)
	l.Start(ctx)
	t.Cleanup(c.Stop)
	t.Cleanup(l.Stop)
	return c, l, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenLoadsNewestPageAscending(t *testing.T) {
	srv := (&chatServer{
		pages: map[string]api.MessagePage{
			"": {
				Messages: []api.Message{
					{ID: 30, Conversation: 5, Sender: 2, Content: "newest"},
					{ID: 20, Conversation: 5, Sender: 1, Content: "middle"},
					{ID: 10, Conversation: 5, Sender: 2, Content: "oldest"},
				},
				LastMessageID: cursorTo(10),
			},
		},
	}).start(t)
	sender := &mockSender{ok: true}
	c, _, _ := testController(t, srv, sender)

	if err := c.Open(context.Background(), 5); err != nil {
		t.Fatalf("open: %v", err)
	}
	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []int64{10, 20, 30} {
		if msgs[i].ID != want {
			t.Errorf("message %d: id = %d, want %d", i, msgs[i].ID, want)
		}
	}
	if !c.HasMore() {
		t.Error("HasMore() = false with a non-nil cursor")
	}

	// Opening acknowledges the thread up to the newest message.
	if len(sender.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sender.frames))
	}
	ack, ok := sender.frames[0].(socket.ReadUpToFrame)
	if !ok {
		t.Fatalf("sent frame is %T, want ReadUpToFrame", sender.frames[0])
	}
	if ack.ConversationID != 5 || ack.MessageID != 30 {
		t.Errorf("ack = (%d, %d), want (5, 30)", ack.ConversationID, ack.MessageID)
	}
}

func TestLoadOlderPrependsAndExhausts(t *testing.T) {
	srv := (&chatServer{
		pages: map[string]api.MessagePage{
			"": {
				Messages:      []api.Message{{ID: 20, Conversation: 5, Sender: 2, Content: "b"}},
				LastMessageID: cursorTo(20),
			},
			"20": {
				Messages:      []api.Message{{ID: 10, Conversation: 5, Sender: 2, Content: "a"}},
				LastMessageID: nil,
			},
		},
	}).start(t)
	c, _, _ := testController(t, srv, &mockSender{ok: true})

	if err := c.Open(context.Background(), 5); err != nil {
		t.Fatalf("open: %v", err)
	}
	more, err := c.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("load older: %v", err)
	}
	if !more {
		t.Fatal("LoadOlder() = false, want true")
	}
	msgs := c.Messages()
	if len(msgs) != 2 || msgs[0].ID != 10 || msgs[1].ID != 20 {
		t.Fatalf("messages = %v, want ids [10 20]", msgs)
	}
	if c.HasMore() {
		t.Error("HasMore() = true after the last page")
	}
	more, err = c.LoadOlder(context.Background())
	if err != nil || more {
		t.Errorf("LoadOlder past the end = (%v, %v), want (false, nil)", more, err)
	}
}

func TestOptimisticSendSettledByEcho(t *testing.T) {
	srv := (&chatServer{
		pages: map[string]api.MessagePage{"": {Messages: nil, LastMessageID: nil}},
	}).start(t)
	sender := &mockSender{ok: true}
	c, _, b := testController(t, srv, sender)

	if err := c.Open(context.Background(), 5); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !c.Send("hello", nil) {
		t.Fatal("Send() = false with a connected sender")
	}
	msgs := c.Messages()
	if len(msgs) != 1 || !msgs[0].Pending || msgs[0].ClientID == "" {
		t.Fatalf("optimistic insert missing: %+v", msgs)
	}

	b.Publish(bus.Event{
		Kind:      bus.KindChatMessage,
		Timestamp: time.Now(),
		Payload:   &socket.MessageEvent{ID: 99, Conversation: 5, Sender: 1, Content: "hello"},
	})
	waitFor(t, "echo to settle", func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && !msgs[0].Pending && msgs[0].ID == 99
	})
}

func TestLiveMessageUpdatesPreviewOnly(t *testing.T) {
	srv := (&chatServer{
		conversations: []api.Conversation{{ID: 5, LastMessage: "old"}, {ID: 7}},
		pages:         map[string]api.MessagePage{"": {Messages: nil, LastMessageID: nil}},
	}).start(t)
	c, _, b := testController(t, srv, &mockSender{ok: true})

	if err := c.LoadConversations(context.Background()); err != nil {
		t.Fatalf("load conversations: %v", err)
	}
	if err := c.Open(context.Background(), 5); err != nil {
		t.Fatalf("open: %v", err)
	}

	// A message for a thread that is not on screen refreshes the list
	// preview but never lands in the open thread.
	b.Publish(bus.Event{
		Kind:      bus.KindChatMessage,
		Timestamp: time.Now(),
		Payload:   &socket.MessageEvent{ID: 50, Conversation: 7, Sender: 3, Content: "psst"},
	})
	waitFor(t, "preview refresh", func() bool {
		for _, conv := range c.Conversations() {
			if conv.ID == 7 && conv.LastMessage == "psst" && conv.LastMessageID == 50 {
				return true
			}
		}
		return false
	})
	if len(c.Messages()) != 0 {
		t.Errorf("open thread picked up a foreign message: %v", c.Messages())
	}
}

func TestLiveMessageInOpenThreadAcknowledged(t *testing.T) {
	srv := (&chatServer{
		pages: map[string]api.MessagePage{"": {Messages: nil, LastMessageID: nil}},
	}).start(t)
	sender := &mockSender{ok: true}
	c, l, b := testController(t, srv, sender)

	if err := c.Open(context.Background(), 5); err != nil {
		t.Fatalf("open: %v", err)
	}
	b.Publish(bus.Event{
		Kind:      bus.KindChatMessage,
		Timestamp: time.Now(),
		Payload:   &socket.MessageEvent{ID: 60, Conversation: 5, Sender: 3, Content: "hi"},
	})
	waitFor(t, "live append", func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && msgs[0].ID == 60
	})
	waitFor(t, "read acknowledgement", func() bool {
		for _, f := range sender.frames {
			if ack, ok := f.(socket.ReadUpToFrame); ok && ack.MessageID == 60 {
				return true
			}
		}
		return false
	})
	if n := l.UnreadCount(5); n != 0 {
		t.Errorf("unread count for the on-screen thread = %d, want 0", n)
	}
}

func TestMessageUserRoutesByExistingConversation(t *testing.T) {
	srv := (&chatServer{
		convWith: 0,
	}).start(t)
	sender := &mockSender{ok: true}
	c, _, _ := testController(t, srv, sender)

	if err := c.MessageUser(context.Background(), 42, "hey"); err != nil {
		t.Fatalf("message user: %v", err)
	}
	if len(sender.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sender.frames))
	}
	dm, ok := sender.frames[0].(socket.DirectMessageFrame)
	if !ok {
		t.Fatalf("sent frame is %T, want DirectMessageFrame", sender.frames[0])
	}
	if dm.ToUserID != 42 || dm.Content != "hey" {
		t.Errorf("dm = %+v, want to_user_id 42 content hey", dm)
	}
}

func TestFriendResultsFromBus(t *testing.T) {
	srv := (&chatServer{}).start(t)
	sender := &mockSender{ok: true}
	c, _, b := testController(t, srv, sender)

	if !c.FindFriend("jo") {
		t.Fatal("FindFriend() = false with a connected sender")
	}
	if _, ok := sender.frames[0].(socket.FindFriendFrame); !ok {
		t.Fatalf("sent frame is %T, want FindFriendFrame", sender.frames[0])
	}

	b.Publish(bus.Event{
		Kind:      bus.KindChatFriendFound,
		Timestamp: time.Now(),
		Payload:   []socket.FriendMatch{{ConversationID: 9, Username: "john"}},
	})
	waitFor(t, "friend results", func() bool {
		friends := c.Friends()
		return len(friends) == 1 && friends[0].Username == "john"
	})
}
