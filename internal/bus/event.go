package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace
// prefix, e.g. "chat." receives every chat event.
const (
	KindChatMessage      = "chat.message"       // payload: *socket.MessageEvent
	KindChatFriendFound  = "chat.friend_found"  // payload: []socket.FriendMatch
	KindChatUnknownFrame = "chat.unknown_frame" // payload: raw frame bytes

	KindConnStatusChanged = "conn.status_changed" // payload: status.StatusChange
	KindConnConnected     = "conn.connected"
	KindConnDisconnected  = "conn.disconnected"

	KindUnreadChanged = "unread.changed" // payload: int64 conversation id
	KindNotifyUpdated = "notify.updated"
	KindThreadUpdated = "thread.updated" // payload: int64 conversation id
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
