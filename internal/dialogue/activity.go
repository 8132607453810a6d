package dialogue

import (
	"sync"
	"time"
)

// ActivityTracker records when the assistant last spoke in each conversation.
// The chat handler writes it; smart replies and the interjection judge read it.
type ActivityTracker struct {
	mu        sync.RWMutex
	lastReply map[string]time.Time
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{lastReply: make(map[string]time.Time)}
}

func (a *ActivityTracker) RecordReply(key string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastReply[key] = at
}

func (a *ActivityTracker) LastReply(key string) (time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.lastReply[key]
	return t, ok
}

// RepliedWithin reports whether the assistant spoke in key during the last d.
func (a *ActivityTracker) RepliedWithin(key string, now time.Time, d time.Duration) bool {
	t, ok := a.LastReply(key)
	return ok && now.Sub(t) < d
}
