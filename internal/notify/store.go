package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/bus"
	"go.uber.org/zap"
)

// Store holds the current page of the notification feed and reconciles
// it with locally-known read flags. Mark-as-read is optimistic: the
// local flag flips immediately and the server call is issued alongside;
// on failure the local flag is kept and the next fetch reconciles.
type Store struct {
	api    *api.Client
	bus    *bus.Bus
	logger *zap.Logger

	interval time.Duration
	pageSize int

	mu            sync.RWMutex
	records       []api.Notification
	totalCount    int
	unreadCount   int
	currentPage   int
	readOverride  map[int64]bool
	open          bool
	isPolling     bool
	isInitialized bool
	cancel        context.CancelFunc
}

// NewStore creates a notification store polling at the given interval.
func NewStore(client *api.Client, b *bus.Bus, interval time.Duration, pageSize int, logger *zap.Logger) *Store {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Store{
		api:          client,
		bus:          b,
		logger:       logger,
		interval:     interval,
		pageSize:     pageSize,
		currentPage:  1,
		readOverride: make(map[int64]bool),
	}
}

// LoadPage fetches one feed page and reconciles it with local read flags.
func (s *Store) LoadPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	result, err := s.api.Notifications(ctx, page, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	records := result.Records
	for i := range records {
		if records[i].Read {
			// Server caught up; the local override is settled.
			delete(s.readOverride, records[i].ID)
		} else if s.readOverride[records[i].ID] {
			records[i].Read = true
		}
	}
	s.records = records
	s.totalCount = result.Count
	s.currentPage = page
	s.isInitialized = true
	s.mu.Unlock()

	s.publishUpdated()
	return nil
}

// MarkAsRead optimistically flips one notification to read.
func (s *Store) MarkAsRead(ctx context.Context, id int64) {
	s.mu.Lock()
	for i := range s.records {
		if s.records[i].ID == id && !s.records[i].Read {
			s.records[i].Read = true
		}
	}
	s.readOverride[id] = true
	if s.unreadCount > 0 {
		s.unreadCount--
	}
	s.mu.Unlock()
	s.publishUpdated()

	if err := s.api.MarkNotificationRead(ctx, id); err != nil {
		// Keep the optimistic flip; the next poll reconciles.
		s.logger.Warn("mark notification read failed", zap.Int64("id", id), zap.Error(err))
	}
}

// MarkAllAsRead optimistically flips every notification to read.
func (s *Store) MarkAllAsRead(ctx context.Context) {
	s.mu.Lock()
	for i := range s.records {
		if !s.records[i].Read {
			s.records[i].Read = true
		}
		s.readOverride[s.records[i].ID] = true
	}
	s.unreadCount = 0
	s.mu.Unlock()
	s.publishUpdated()

	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		s.logger.Warn("mark all notifications read failed", zap.Error(err))
	}
}

// ClearLocal empties the local page. Server records are untouched.
func (s *Store) ClearLocal() {
	s.mu.Lock()
	s.records = nil
	s.totalCount = 0
	s.mu.Unlock()
	s.publishUpdated()
}

// SetOpen records whether the feed panel is open. While open, each poll
// tick refetches the full page, not just the unread count.
func (s *Store) SetOpen(ctx context.Context, open bool) {
	s.mu.Lock()
	s.open = open
	page := s.currentPage
	s.mu.Unlock()

	if open {
		if err := s.LoadPage(ctx, page); err != nil {
			s.logger.Warn("refresh on open failed", zap.Error(err))
		}
	}
}

// Records returns a copy of the current page.
func (s *Store) Records() []api.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Notification, len(s.records))
	copy(out, s.records)
	return out
}

// TotalCount returns the server-reported feed size.
func (s *Store) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalCount
}

// UnreadCount returns the last polled number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadCount
}

// CurrentPage returns the 1-based page currently loaded.
func (s *Store) CurrentPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPage
}

// PageSize returns the fixed page size.
func (s *Store) PageSize() int {
	return s.pageSize
}

// IsPolling reports whether the poll loop is running.
func (s *Store) IsPolling() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPolling
}

// IsInitialized reports whether at least one fetch has completed, so
// consumers can tell "never started" from "temporarily paused".
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isInitialized
}

func (s *Store) publishUpdated() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: bus.KindNotifyUpdated, Timestamp: time.Now()})
}
