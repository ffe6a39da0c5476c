package socket

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates inbound frames.
type FrameType string

const (
	FrameMessage     FrameType = "message"
	FrameFriendFound FrameType = "friend_found"
	FrameUnknown     FrameType = "unknown"
)

// MessageEvent is the payload of a "message" frame.
type MessageEvent struct {
	ID             int64  `json:"id"`
	Conversation   int64  `json:"conversation"`
	Sender         int64  `json:"sender"`
	SenderUsername string `json:"sender_username"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
	Type           string `json:"type"`
}

// FriendMatch is one entry of a "friend_found" frame.
type FriendMatch struct {
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	Avatar         string `json:"avatar"`
	ConversationID int64  `json:"conversation_id"`
	IsOnline       bool   `json:"is_online"`
}

// Frame is a decoded inbound frame: a tagged union over the known frame
// types. Frames with an unrecognized type discriminator decode to
// FrameUnknown with Raw holding the original bytes, so new server-side
// protocol additions surface in logs instead of vanishing.
type Frame struct {
	Type    FrameType
	Message *MessageEvent
	Friends []FriendMatch
	Raw     json.RawMessage
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeFrame parses a raw inbound frame.
func DecodeFrame(raw []byte) (*Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	switch env.Type {
	case string(FrameMessage):
		var msg MessageEvent
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode message frame: %w", err)
		}
		return &Frame{Type: FrameMessage, Message: &msg}, nil
	case string(FrameFriendFound):
		// A null or absent data field means "no matches", not an error.
		friends := []FriendMatch{}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &friends); err != nil {
				return nil, fmt.Errorf("decode friend_found frame: %w", err)
			}
		}
		return &Frame{Type: FrameFriendFound, Friends: friends}, nil
	default:
		return &Frame{Type: FrameUnknown, Raw: json.RawMessage(raw)}, nil
	}
}

// Outbound frame actions.
const (
	actionSendMessage = "send_message"
	actionDirect      = "dm"
	actionReadUpTo    = "read_up_to"
	actionFindFriend  = "find_friend_conversation"
)

// SendMessageFrame posts a message into an existing conversation.
type SendMessageFrame struct {
	Action         string `json:"action"`
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	Reply          *int64 `json:"reply"`
}

// NewSendMessage builds a send_message frame. reply is nil when the
// message is not a reply.
func NewSendMessage(conversationID int64, content string, reply *int64) SendMessageFrame {
	return SendMessageFrame{
		Action:         actionSendMessage,
		ConversationID: conversationID,
		Content:        content,
		Reply:          reply,
	}
}

// DirectMessageFrame starts a conversation with a user by sending the
// first message directly.
type DirectMessageFrame struct {
	Action   string `json:"action"`
	ToUserID int64  `json:"to_user_id"`
	Content  string `json:"content"`
	Reply    *int64 `json:"reply"`
}

// NewDirectMessage builds a dm frame.
func NewDirectMessage(toUserID int64, content string, reply *int64) DirectMessageFrame {
	return DirectMessageFrame{
		Action:   actionDirect,
		ToUserID: toUserID,
		Content:  content,
		Reply:    reply,
	}
}

// ReadUpToFrame acknowledges every message up to and including message_id.
type ReadUpToFrame struct {
	Action         string `json:"action"`
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
}

// NewReadUpTo builds a read_up_to frame.
func NewReadUpTo(conversationID, messageID int64) ReadUpToFrame {
	return ReadUpToFrame{
		Action:         actionReadUpTo,
		ConversationID: conversationID,
		MessageID:      messageID,
	}
}

// FindFriendFrame asks the server for conversations matching a user filter.
type FindFriendFrame struct {
	Action     string `json:"action"`
	UserFilter string `json:"user_filter"`
}

// NewFindFriend builds a find_friend_conversation frame.
func NewFindFriend(filter string) FindFriendFrame {
	return FindFriendFrame{
		Action:     actionFindFriend,
		UserFilter: filter,
	}
}
