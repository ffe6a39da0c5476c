package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexInt decodes a JSON number or a numeric string. Several backend
// endpoints are inconsistent about quoting ids and counts.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("numeric string: %w", err)
		}
		*f = FlexInt(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// User is the authenticated user's profile.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// Conversation is one entry of the conversation list.
type Conversation struct {
	ID            int64  `json:"id"`
	ToUser        int64  `json:"to_user"`
	LastMessage   string `json:"last_message"`
	LastMessageID int64  `json:"last_message_id"`
	TimeLastSend  string `json:"time_last_send"`
	Avatar        string `json:"avatar"`
	IsOnline      bool   `json:"is_online"`
}

// Message is one chat message as returned by the message-page endpoint.
type Message struct {
	ID             int64  `json:"id"`
	Conversation   int64  `json:"conversation"`
	Sender         int64  `json:"sender"`
	SenderUsername string `json:"sender_username"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
	Type           string `json:"type"`
	Reply          *int64 `json:"reply"`
}

// MessagePage is one page of a conversation's history. A nil
// LastMessageID means there are no older pages.
type MessagePage struct {
	Messages      []Message `json:"data"`
	LastMessageID *int64    `json:"last_message_id"`
}

// UnreadSummary is one entry of the server's unread snapshot.
type UnreadSummary struct {
	ConversationID FlexInt `json:"conversation_id"`
	UnreadCount    FlexInt `json:"unread_count"`
}

// NotificationType enumerates the known notification kinds.
type NotificationType string

const (
	NotifyPropertyView   NotificationType = "property_view"
	NotifyFavorite       NotificationType = "favorite"
	NotifyMessage        NotificationType = "message"
	NotifyPriceUpdate    NotificationType = "price_update"
	NotifyContactRequest NotificationType = "contact_request"
)

// Range marks a substring of a notification message to render emphasized.
type Range struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// PropertySummary is the optional property embedded in a notification.
type PropertySummary struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Address  string `json:"address"`
	ImageURL string `json:"image_url"`
}

// Notification is one record of the notification feed.
type Notification struct {
	ID        int64            `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Ranges    []Range          `json:"ranges"`
	Read      bool             `json:"read"`
	CreatedAt string           `json:"created_at"`
	Property  *PropertySummary `json:"property"`
	URL       string           `json:"url"`
}

// NotificationPage is one page of the notification feed.
type NotificationPage struct {
	Records []Notification
	Count   int
}

// UnmarshalJSON tolerates both feed shapes: results as a bare array and
// results as an object with a data array.
func (p *NotificationPage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Count   int             `json:"count"`
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Count = raw.Count
	p.Records = nil
	if len(raw.Results) == 0 || string(raw.Results) == "null" {
		return nil
	}
	if raw.Results[0] == '[' {
		return json.Unmarshal(raw.Results, &p.Records)
	}
	var nested struct {
		Data []Notification `json:"data"`
	}
	if err := json.Unmarshal(raw.Results, &nested); err != nil {
		return err
	}
	p.Records = nested.Data
	return nil
}
