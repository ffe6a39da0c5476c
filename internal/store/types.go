package store

// UnreadMessage is one message counted toward a conversation's unread badge.
// Held in append order; unique by ID.
type UnreadMessage struct {
	ID             int64
	ConversationID int64
	Sender         int64
	SenderUsername string
	Content        string
	CreatedAt      string
	Type           string
}
