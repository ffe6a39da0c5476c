package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/socket"
	"github.com/tranqv/homewire/internal/store"
	"go.uber.org/zap"
)

// Sender transmits a frame over the socket. A false return means the
// frame was only queued, not transmitted.
type Sender interface {
	Send(v any) bool
}

// Ledger tracks per-conversation unread counts and the list of unread
// messages. Counts are mirrored to the session store on every mutation
// and rehydrated on start, so a restart does not lose unread state
// accrued before the next server sync.
type Ledger struct {
	tracker *Tracker
	sender  Sender
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.Mutex
	counts   map[int64]int
	messages []store.UnreadMessage
	index    map[int64]struct{}
	cancel   context.CancelFunc
}

// New creates a ledger, rehydrating persisted state when db is non-nil.
func New(db *store.DB, tracker *Tracker, sender Sender, b *bus.Bus, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		tracker: tracker,
		sender:  sender,
		db:      db,
		bus:     b,
		logger:  logger,
		counts:  make(map[int64]int),
		index:   make(map[int64]struct{}),
	}
	if db != nil {
		counts, err := db.LoadUnreadCounts()
		if err != nil {
			return nil, err
		}
		msgs, err := db.ListUnreadMessages()
		if err != nil {
			return nil, err
		}
		l.counts = counts
		l.messages = msgs
		for _, m := range msgs {
			l.index[m.ID] = struct{}{}
		}
	}
	return l, nil
}

// Start subscribes to inbound chat messages on the bus.
func (l *Ledger) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	ch, unsub := l.bus.Subscribe(bus.KindChatMessage, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if msg, ok := evt.Payload.(*socket.MessageEvent); ok {
					l.RecordIncoming(msg)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bus subscription.
func (l *Ledger) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

// RecordIncoming decides whether an incoming message counts as unread.
// Own messages never count; messages in the currently open thread never
// count. The gates are evaluated here, at delivery time. Counting is
// idempotent by message id.
//
// The raw message itself is not consumed here: every subscriber on the
// bus sees every message regardless of countability.
func (l *Ledger) RecordIncoming(msg *socket.MessageEvent) {
	if msg.Sender == l.tracker.CurrentUser() {
		return
	}
	if viewing, ok := l.tracker.Viewing(); ok && viewing == msg.Conversation {
		return
	}

	l.mu.Lock()
	if _, exists := l.index[msg.ID]; exists {
		l.mu.Unlock()
		return
	}
	entry := store.UnreadMessage{
		ID:             msg.ID,
		ConversationID: msg.Conversation,
		Sender:         msg.Sender,
		SenderUsername: msg.SenderUsername,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		Type:           msg.Type,
	}
	l.messages = append(l.messages, entry)
	l.index[msg.ID] = struct{}{}
	l.counts[msg.Conversation]++
	count := l.counts[msg.Conversation]
	l.mu.Unlock()

	l.persistInsert(&entry, count)
	l.publishChanged(msg.Conversation)
}

// MarkConversationRead resets a conversation's count to exactly 0 and
// drops its unread messages. Pure local mutation; no server call.
func (l *Ledger) MarkConversationRead(conversationID int64) {
	l.mu.Lock()
	l.counts[conversationID] = 0
	kept := l.messages[:0]
	for _, m := range l.messages {
		if m.ConversationID == conversationID {
			delete(l.index, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	l.messages = kept
	l.mu.Unlock()

	if l.db != nil {
		if err := l.db.UpsertUnreadCount(conversationID, 0); err != nil {
			l.logger.Error("persist read reset", zap.Error(err))
		}
		if err := l.db.DeleteUnreadMessagesFor(conversationID); err != nil {
			l.logger.Error("drop unread messages", zap.Error(err))
		}
	}
	l.publishChanged(conversationID)
}

// MarkAsRead tells the server the user has read up to messageID, and only
// on a successful transmission resets the local state. If the frame was
// merely queued the local state stays unread-pending: the caller retries
// or a later explicit re-mark settles it after the reconnect flush.
func (l *Ledger) MarkAsRead(conversationID, messageID int64) bool {
	if !l.sender.Send(socket.NewReadUpTo(conversationID, messageID)) {
		l.logger.Info("read_up_to queued, local state left unread",
			zap.Int64("conversation", conversationID))
		return false
	}
	l.MarkConversationRead(conversationID)
	return true
}

// Acknowledge removes a single message from the unread list without
// touching the conversation count.
func (l *Ledger) Acknowledge(messageID int64) {
	l.mu.Lock()
	var conversationID int64
	kept := l.messages[:0]
	for _, m := range l.messages {
		if m.ID == messageID {
			conversationID = m.ConversationID
			delete(l.index, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	l.messages = kept
	l.mu.Unlock()

	if l.db != nil {
		if err := l.db.DeleteUnreadMessage(messageID); err != nil {
			l.logger.Error("drop unread message", zap.Error(err))
		}
	}
	if conversationID != 0 {
		l.publishChanged(conversationID)
	}
}

// SyncUnreadCounts replaces the entire count mapping with the server
// snapshot. Entries with a zero conversation id are skipped. This is the
// authoritative reconciliation point and always wins over local
// increments accrued since the last sync.
func (l *Ledger) SyncUnreadCounts(entries []api.UnreadSummary) {
	counts := make(map[int64]int, len(entries))
	for _, e := range entries {
		if e.ConversationID == 0 {
			continue
		}
		counts[int64(e.ConversationID)] = int(e.UnreadCount)
	}

	l.mu.Lock()
	l.counts = counts
	l.mu.Unlock()

	if l.db != nil {
		if err := l.db.ReplaceUnreadCounts(counts); err != nil {
			l.logger.Error("persist synced counts", zap.Error(err))
		}
	}
	l.publishChanged(0)
}

// UnreadCount returns the unread count for one conversation.
func (l *Ledger) UnreadCount(conversationID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[conversationID]
}

// TotalUnread returns the sum over all per-conversation counts.
func (l *Ledger) TotalUnread() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, c := range l.counts {
		total += c
	}
	return total
}

// UnreadMessages returns a copy of the unread list in append order.
func (l *Ledger) UnreadMessages() []store.UnreadMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.UnreadMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Ledger) persistInsert(m *store.UnreadMessage, count int) {
	if l.db == nil {
		return
	}
	if err := l.db.InsertUnreadMessage(m); err != nil {
		l.logger.Error("persist unread message", zap.Error(err))
	}
	if err := l.db.UpsertUnreadCount(m.ConversationID, count); err != nil {
		l.logger.Error("persist unread count", zap.Error(err))
	}
}

func (l *Ledger) publishChanged(conversationID int64) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(bus.Event{
		Kind:      bus.KindUnreadChanged,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
}
