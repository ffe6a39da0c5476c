package ledger

import "sync"

// Tracker records which conversation thread the user currently has open,
// and who the current user is. Both values gate unread counting and are
// read fresh at each message delivery, never captured in a closure: the
// user can switch threads faster than messages arrive.
//
// Viewing state is memory-only and resets on restart.
type Tracker struct {
	mu         sync.RWMutex
	viewing    int64
	hasViewing bool
	userID     int64
}

// NewTracker creates a tracker with no thread open and no known user.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetViewing marks a conversation as the open thread.
func (t *Tracker) SetViewing(conversationID int64) {
	t.mu.Lock()
	t.viewing = conversationID
	t.hasViewing = true
	t.mu.Unlock()
}

// ClearViewing marks that no thread is open; subsequent incoming messages
// for any conversation become countable again.
func (t *Tracker) ClearViewing() {
	t.mu.Lock()
	t.viewing = 0
	t.hasViewing = false
	t.mu.Unlock()
}

// Viewing returns the open conversation id, and false when no thread is open.
func (t *Tracker) Viewing() (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.viewing, t.hasViewing
}

// SetCurrentUser records the authenticated user's id.
func (t *Tracker) SetCurrentUser(userID int64) {
	t.mu.Lock()
	t.userID = userID
	t.mu.Unlock()
}

// CurrentUser returns the authenticated user's id, 0 if unknown.
func (t *Tracker) CurrentUser() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.userID
}
