package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the marketplace REST API with bearer-token auth.
// Every call takes a context; the underlying http.Client also carries a
// hard timeout so a stuck fetch can never wedge a poll loop.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a REST client for the given API base URL and token.
func New(base, token string, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if c.logger != nil {
		c.logger.Debug("api request", zap.String("method", method), zap.String("path", path))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		Data User `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Conversations returns the caller's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp struct {
		Data []Conversation `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Messages returns one page of a conversation's history. cursor is the
// last_message_id from the previous page; nil fetches the newest page.
func (c *Client) Messages(ctx context.Context, conversationID int64, cursor *int64) (*MessagePage, error) {
	query := url.Values{}
	if cursor != nil {
		query.Set("last_message_id", strconv.FormatInt(*cursor, 10))
	}
	var resp struct {
		Data MessagePage `json:"data"`
	}
	path := fmt.Sprintf("/conversations/%d/messages/", conversationID)
	if err := c.do(ctx, http.MethodGet, path, query, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// UnreadSummary returns the server's authoritative per-conversation
// unread counts.
func (c *Client) UnreadSummary(ctx context.Context) ([]UnreadSummary, error) {
	var resp []UnreadSummary
	if err := c.do(ctx, http.MethodGet, "/messages/unread/", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ConversationWith looks up an existing conversation with a user.
// Returns 0 when none exists (start as a direct message instead).
func (c *Client) ConversationWith(ctx context.Context, toUserID int64) (int64, error) {
	query := url.Values{}
	query.Set("to_user_id", strconv.FormatInt(toUserID, 10))
	var resp struct {
		Data struct {
			ConversationID int64 `json:"conversation_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/user/", query, &resp); err != nil {
		return 0, err
	}
	return resp.Data.ConversationID, nil
}

// Notifications returns one page of the notification feed.
func (c *Client) Notifications(ctx context.Context, page, pageSize int) (*NotificationPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	var resp NotificationPage
	if err := c.do(ctx, http.MethodGet, "/notifications/", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NotificationUnreadCount returns the number of unread notifications.
func (c *Client) NotificationUnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count/", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkNotificationRead flips one notification to read on the server.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/notifications/%d/read/", id), nil, nil)
}

// MarkAllNotificationsRead flips every notification to read on the server.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/read-all/", nil, nil)
}
