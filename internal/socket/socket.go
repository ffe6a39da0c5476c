package socket

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/status"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// Socket owns the single websocket connection to the chat gateway.
//
// At most one underlying transport is live at a time; a new Connect
// supersedes the previous transport. Payloads sent while disconnected are
// queued and flushed oldest-first on the next successful open. On
// unexpected close the socket retries every ReconnectDelay until
// Disconnect is called; there is no backoff growth and no retry cap.
// Inbound frames are demultiplexed onto the event bus.
type Socket struct {
	url     string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	// ReconnectDelay may be lowered before the first Connect. Defaults
	// to DefaultReconnectDelay.
	ReconnectDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   [][]byte
	timer     *time.Timer
	stopped   bool
	gen       int
}

// New creates a socket for the given gateway base URL and bearer token.
// The token rides as a query parameter on the endpoint URL.
func New(wsBase, token string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Socket {
	endpoint := strings.TrimRight(wsBase, "/") + "/chat/?token=" + url.QueryEscape(token)
	return &Socket{
		url:            endpoint,
		bus:            b,
		machine:        machine,
		logger:         logger,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// URL returns the full endpoint URL including the embedded token.
func (s *Socket) URL() string {
	return s.url
}

// Connected reports whether a transport is currently open.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect establishes the transport. It never returns an error: dial
// failures are logged and retried after ReconnectDelay, exactly like an
// unexpected close. Calling Connect on an already-connected socket
// replaces the transport.
func (s *Socket) Connect() {
	s.mu.Lock()
	s.stopped = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	_ = s.machine.Transition(status.Connecting)

	conn, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn("socket dial failed", zap.Error(err))
		s.mu.Lock()
		if !s.stopped {
			_ = s.machine.Transition(status.Reconnecting)
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.stopped {
		// Disconnect raced the dial; drop the fresh transport.
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.connected = true
	s.gen++
	gen := s.gen

	// Drain the pending queue completely, oldest first.
	for _, payload := range s.pending {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Warn("queued frame flush failed", zap.Error(err))
		}
	}
	s.pending = nil
	s.mu.Unlock()

	_ = s.machine.Transition(status.Open)
	s.bus.Publish(bus.Event{Kind: bus.KindConnConnected, Timestamp: time.Now()})
	s.logger.Info("socket connected")

	go s.readLoop(conn, gen)
}

// Send transmits a payload if the transport is open, returning true on a
// transmission attempt. Otherwise the payload is queued FIFO for the next
// open and Send returns false.
func (s *Socket) Send(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode outbound frame", zap.Error(err))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		s.pending = append(s.pending, payload)
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// The read loop observes the same failure and schedules the
		// reconnect; the attempt itself still counts as made.
		s.logger.Warn("socket write failed", zap.Error(err))
	}
	return true
}

// QueuedCount returns the number of payloads waiting for the next open.
func (s *Socket) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Disconnect cancels any scheduled reconnect and closes the transport.
// Safe to call when already disconnected.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.mu.Unlock()

	_ = s.machine.Transition(status.Closed)
	s.logger.Info("socket disconnected")
}

func (s *Socket) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		s.dispatch(raw)
	}
}

// dispatch decodes one inbound frame and publishes it. Malformed frames
// are logged and dropped; they never close the connection.
func (s *Socket) dispatch(raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		s.logger.Warn("malformed inbound frame", zap.Error(err))
		return
	}
	switch frame.Type {
	case FrameMessage:
		s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Timestamp: time.Now(), Payload: frame.Message})
	case FrameFriendFound:
		s.bus.Publish(bus.Event{Kind: bus.KindChatFriendFound, Timestamp: time.Now(), Payload: frame.Friends})
	default:
		s.logger.Warn("unknown frame type", zap.ByteString("frame", frame.Raw))
		s.bus.Publish(bus.Event{Kind: bus.KindChatUnknownFrame, Timestamp: time.Now(), Payload: frame.Raw})
	}
}

func (s *Socket) handleClose(gen int, err error) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		// Explicit disconnect, or this transport was already superseded
		// by a newer Connect.
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	s.logger.Warn("socket closed unexpectedly", zap.Error(err))
	_ = s.machine.Transition(status.Reconnecting)
	s.bus.Publish(bus.Event{Kind: bus.KindConnDisconnected, Timestamp: time.Now()})
	// Schedule last so the timer can never observe a pre-transition state.
	s.scheduleReconnectLocked()
	s.mu.Unlock()
}

func (s *Socket) scheduleReconnectLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.ReconnectDelay, s.Connect)
}
