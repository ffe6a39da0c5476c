package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/status"
	"go.uber.org/zap"
)

// gateway is an in-process websocket server standing in for the chat endpoint.
type gateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    int
	tokens   []string
	received chan []byte
	outbound chan []byte // frames pushed to every new connection
	dropNext bool        // close the next connection right after upgrade
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{
		received: make(chan []byte, 64),
		outbound: make(chan []byte, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", g.handle)
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gateway) wsBase() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *gateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns
}

func (g *gateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns++
	g.tokens = append(g.tokens, r.URL.Query().Get("token"))
	drop := g.dropNext
	g.dropNext = false
	g.mu.Unlock()

	if drop {
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.received <- raw
		}
	}()
	for {
		select {
		case frame := <-g.outbound:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func newSocket(t *testing.T, g *gateway, b *bus.Bus) *Socket {
	t.Helper()
	if b == nil {
		b = bus.New()
	}
	s := New(g.wsBase(), "sekret", b, status.NewMachine(nil), zap.NewNop())
	s.ReconnectDelay = 50 * time.Millisecond
	t.Cleanup(s.Disconnect)
	return s
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case raw := <-ch:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

func TestTokenRidesOnURL(t *testing.T) {
	g := newGateway(t)
	s := newSocket(t, g, nil)

	if !strings.Contains(s.URL(), "/chat/?token=sekret") {
		t.Fatalf("URL = %q, want embedded token", s.URL())
	}

	s.Connect()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tokens) != 1 || g.tokens[0] != "sekret" {
		t.Errorf("tokens = %v, want [sekret]", g.tokens)
	}
}

func TestSendImmediateWhenConnected(t *testing.T) {
	g := newGateway(t)
	s := newSocket(t, g, nil)
	s.Connect()

	if !s.Send(NewFindFriend("an")) {
		t.Fatal("Send() = false while connected")
	}
	raw := recv(t, g.received)
	if !strings.Contains(string(raw), "find_friend_conversation") {
		t.Errorf("server received %s", raw)
	}
}

func TestQueueFlushesFIFO(t *testing.T) {
	g := newGateway(t)
	s := newSocket(t, g, nil)

	// All three are queued while disconnected.
	for i, content := range []string{"first", "second", "third"} {
		if s.Send(NewSendMessage(10, content, nil)) {
			t.Fatalf("Send(#%d) = true while disconnected", i)
		}
	}
	if n := s.QueuedCount(); n != 3 {
		t.Fatalf("QueuedCount() = %d, want 3", n)
	}

	s.Connect()

	for _, want := range []string{"first", "second", "third"} {
		raw := recv(t, g.received)
		if !strings.Contains(string(raw), want) {
			t.Errorf("flush order: got %s, want %q", raw, want)
		}
	}
	if n := s.QueuedCount(); n != 0 {
		t.Errorf("QueuedCount() = %d after flush, want 0", n)
	}
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	g := newGateway(t)
	g.mu.Lock()
	g.dropNext = true
	g.mu.Unlock()

	s := newSocket(t, g, nil)
	s.Connect()

	// First transport is dropped by the server; the socket must come
	// back on its own with the same token-bearing URL.
	deadline := time.Now().Add(2 * time.Second)
	for g.connCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if g.connCount() < 2 {
		t.Fatal("no reconnection attempt observed")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokens[1] != "sekret" {
		t.Errorf("reconnect token = %q, want sekret", g.tokens[1])
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	g := newGateway(t)
	g.mu.Lock()
	g.dropNext = true
	g.mu.Unlock()

	s := newSocket(t, g, nil)
	s.ReconnectDelay = 200 * time.Millisecond
	s.Connect()

	// Let the close land, then disconnect before the timer fires.
	time.Sleep(50 * time.Millisecond)
	s.Disconnect()
	time.Sleep(500 * time.Millisecond)

	if n := g.connCount(); n != 1 {
		t.Errorf("connections = %d, want 1 (reconnect cancelled)", n)
	}
}

func TestInboundDemultiplexing(t *testing.T) {
	g := newGateway(t)
	b := bus.New()
	msgCh, unsubMsg := b.Subscribe(bus.KindChatMessage, 10)
	defer unsubMsg()
	friendCh, unsubFriend := b.Subscribe(bus.KindChatFriendFound, 10)
	defer unsubFriend()

	s := newSocket(t, g, b)
	s.Connect()

	// Malformed and unknown frames must be dropped without killing the
	// connection; the frames after them still arrive.
	g.outbound <- []byte(`not json at all`)
	g.outbound <- []byte(`{"type":"presence","data":{}}`)
	g.outbound <- []byte(`{"type":"message","data":{"id":1,"conversation":10,"sender":2,"content":"hello"}}`)
	g.outbound <- []byte(`{"type":"friend_found","data":null}`)

	select {
	case evt := <-msgCh:
		msg := evt.Payload.(*MessageEvent)
		if msg.ID != 1 || msg.Conversation != 10 || msg.Content != "hello" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message event")
	}

	select {
	case evt := <-friendCh:
		friends := evt.Payload.([]FriendMatch)
		if len(friends) != 0 {
			t.Errorf("friends = %+v, want empty", friends)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for friend_found event")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	g := newGateway(t)
	s := newSocket(t, g, nil)
	s.Connect()
	s.Disconnect()
	s.Disconnect()
	if s.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}
