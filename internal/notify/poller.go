package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Start begins the poll loop: every tick the unread count is refetched,
// and while the panel is open the full page as well. The first poll runs
// immediately.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.isPolling = true
	s.mu.Unlock()

	go func() {
		s.poll(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.poll(ctx)
			case <-ctx.Done():
				s.mu.Lock()
				s.isPolling = false
				s.mu.Unlock()
				return
			}
		}
	}()
}

// Stop pauses polling. The store keeps its last-known-good state.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Store) poll(ctx context.Context) {
	count, err := s.api.NotificationUnreadCount(ctx)
	if err != nil {
		// Local state stays at the last-known-good snapshot.
		s.logger.Warn("notification unread poll failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.unreadCount = count
	s.isInitialized = true
	open := s.open
	page := s.currentPage
	s.mu.Unlock()
	s.publishUpdated()

	if open {
		if err := s.LoadPage(ctx, page); err != nil {
			s.logger.Warn("notification page poll failed", zap.Error(err))
		}
	}
}
