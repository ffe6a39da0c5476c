package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/ledger"
	"github.com/tranqv/homewire/internal/socket"
	"go.uber.org/zap"
)

// Sender transmits a frame over the socket. A false return means the
// frame was queued for the next reconnect.
type Sender interface {
	Send(v any) bool
}

// ThreadMessage is one message of the open thread. Pending entries are
// optimistic local inserts that the server has not echoed back yet.
type ThreadMessage struct {
	api.Message
	ClientID string
	Pending  bool
}

// Controller owns the conversation list and the currently open message
// thread: backward pagination, optimistic sends, live appends, and the
// read acknowledgement for the thread being viewed. It is the consumer
// of the socket, the ledger, and the view tracker.
type Controller struct {
	api     *api.Client
	sender  Sender
	ledger  *ledger.Ledger
	tracker *ledger.Tracker
	bus     *bus.Bus
	logger  *zap.Logger

	mu            sync.Mutex
	conversations []api.Conversation
	current       int64
	messages      []ThreadMessage
	cursor        *int64
	friends       []socket.FriendMatch
	cancel        context.CancelFunc
}

// NewController creates a thread controller.
func NewController(client *api.Client, sender Sender, l *ledger.Ledger, tracker *ledger.Tracker, b *bus.Bus, logger *zap.Logger) *Controller {
	return &Controller{
		api:     client,
		sender:  sender,
		ledger:  l,
		tracker: tracker,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to live chat events on the bus.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindChatMessage:
					if msg, ok := evt.Payload.(*socket.MessageEvent); ok {
						c.handleLive(msg)
					}
				case bus.KindChatFriendFound:
					if friends, ok := evt.Payload.([]socket.FriendMatch); ok {
						c.setFriends(friends)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bus subscription.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// LoadConversations fetches the conversation list.
func (c *Controller) LoadConversations(ctx context.Context) error {
	convs, err := c.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	c.mu.Lock()
	c.conversations = convs
	c.mu.Unlock()
	c.publishThread(0)
	return nil
}

// Open switches the view to a conversation: loads the newest message
// page, marks the thread as being viewed, and acknowledges it read.
func (c *Controller) Open(ctx context.Context, conversationID int64) error {
	page, err := c.api.Messages(ctx, conversationID, nil)
	if err != nil {
		return fmt.Errorf("open conversation %d: %w", conversationID, err)
	}

	c.mu.Lock()
	c.current = conversationID
	c.messages = toThread(page.Messages)
	c.cursor = page.LastMessageID
	c.mu.Unlock()
	c.tracker.SetViewing(conversationID)

	if len(page.Messages) > 0 {
		newest := page.Messages[0] // pages arrive newest-first
		c.ledger.MarkAsRead(conversationID, newest.ID)
	} else {
		c.ledger.MarkConversationRead(conversationID)
	}
	c.publishThread(conversationID)
	return nil
}

// Close leaves the current thread. Incoming messages for it become
// countable again.
func (c *Controller) Close() {
	c.mu.Lock()
	c.current = 0
	c.messages = nil
	c.cursor = nil
	c.mu.Unlock()
	c.tracker.ClearViewing()
}

// LoadOlder fetches the next older page (scroll-triggered backfill).
// Returns false when there are no more pages.
func (c *Controller) LoadOlder(ctx context.Context) (bool, error) {
	c.mu.Lock()
	conversationID := c.current
	cursor := c.cursor
	c.mu.Unlock()

	if conversationID == 0 || cursor == nil {
		return false, nil
	}
	page, err := c.api.Messages(ctx, conversationID, cursor)
	if err != nil {
		return false, fmt.Errorf("backfill conversation %d: %w", conversationID, err)
	}

	c.mu.Lock()
	// Guard against the user switching threads mid-fetch.
	if c.current == conversationID {
		c.messages = append(toThread(page.Messages), c.messages...)
		c.cursor = page.LastMessageID
	}
	c.mu.Unlock()
	c.publishThread(conversationID)
	return true, nil
}

// Send posts a message into the open thread with an optimistic local
// insert. Returns false when the frame was only queued.
func (c *Controller) Send(content string, reply *int64) bool {
	c.mu.Lock()
	conversationID := c.current
	c.mu.Unlock()
	if conversationID == 0 {
		return false
	}

	sent := c.sender.Send(socket.NewSendMessage(conversationID, content, reply))

	c.mu.Lock()
	c.messages = append(c.messages, ThreadMessage{
		Message: api.Message{
			Conversation: conversationID,
			Sender:       c.tracker.CurrentUser(),
			Content:      content,
			CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			Type:         "text",
			Reply:        reply,
		},
		ClientID: uuid.New().String(),
		Pending:  true,
	})
	c.mu.Unlock()
	c.publishThread(conversationID)
	return sent
}

// SendDirect starts a conversation with a user by direct message.
func (c *Controller) SendDirect(toUserID int64, content string) bool {
	return c.sender.Send(socket.NewDirectMessage(toUserID, content, nil))
}

// MessageUser routes a first message: into the existing conversation
// with that user when there is one, as a direct message otherwise.
func (c *Controller) MessageUser(ctx context.Context, toUserID int64, content string) error {
	conversationID, err := c.api.ConversationWith(ctx, toUserID)
	if err != nil {
		return fmt.Errorf("look up conversation with user %d: %w", toUserID, err)
	}
	if conversationID == 0 {
		c.SendDirect(toUserID, content)
		return nil
	}
	if err := c.Open(ctx, conversationID); err != nil {
		return err
	}
	c.Send(content, nil)
	return nil
}

// FindFriend asks the server for conversations matching a user filter.
// Results arrive as a friend_found frame.
func (c *Controller) FindFriend(filter string) bool {
	return c.sender.Send(socket.NewFindFriend(filter))
}

// Conversations returns a copy of the conversation list.
func (c *Controller) Conversations() []api.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// Messages returns a copy of the open thread, oldest first.
func (c *Controller) Messages() []ThreadMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ThreadMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Current returns the open conversation id, 0 when none.
func (c *Controller) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// HasMore reports whether older pages remain for the open thread.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor != nil
}

// Friends returns the latest friend-search results.
func (c *Controller) Friends() []socket.FriendMatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]socket.FriendMatch, len(c.friends))
	copy(out, c.friends)
	return out
}

func (c *Controller) handleLive(msg *socket.MessageEvent) {
	c.mu.Lock()
	c.touchConversation(msg)
	if msg.Conversation != c.current {
		c.mu.Unlock()
		return
	}

	live := api.Message{
		ID:             msg.ID,
		Conversation:   msg.Conversation,
		Sender:         msg.Sender,
		SenderUsername: msg.SenderUsername,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		Type:           msg.Type,
	}
	if msg.Sender == c.tracker.CurrentUser() {
		// Server echo of an optimistic insert: settle the first pending
		// entry with matching content instead of duplicating it.
		settled := false
		for i := range c.messages {
			if c.messages[i].Pending && c.messages[i].Content == msg.Content {
				c.messages[i].Message = live
				c.messages[i].Pending = false
				settled = true
				break
			}
		}
		if !settled {
			c.messages = append(c.messages, ThreadMessage{Message: live})
		}
		c.mu.Unlock()
		c.publishThread(msg.Conversation)
		return
	}
	c.messages = append(c.messages, ThreadMessage{Message: live})
	c.mu.Unlock()
	c.publishThread(msg.Conversation)

	// The thread is on screen: acknowledge it read immediately.
	c.ledger.MarkAsRead(msg.Conversation, msg.ID)
}

// touchConversation refreshes the list preview for an incoming message.
// Caller holds c.mu.
func (c *Controller) touchConversation(msg *socket.MessageEvent) {
	for i := range c.conversations {
		if c.conversations[i].ID == msg.Conversation {
			c.conversations[i].LastMessage = msg.Content
			c.conversations[i].LastMessageID = msg.ID
			c.conversations[i].TimeLastSend = msg.CreatedAt
			return
		}
	}
}

func (c *Controller) setFriends(friends []socket.FriendMatch) {
	c.mu.Lock()
	c.friends = friends
	c.mu.Unlock()
	c.publishThread(0)
}

func (c *Controller) publishThread(conversationID int64) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{
		Kind:      bus.KindThreadUpdated,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
}

// toThread converts a newest-first REST page into oldest-first thread order.
func toThread(msgs []api.Message) []ThreadMessage {
	out := make([]ThreadMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, ThreadMessage{Message: msgs[i]})
	}
	return out
}
