package discord

import (
	"sync"
	"time"
)

// TimeoutMessages runs a cleanup for a message after a delay unless cleared
// first.
type TimeoutMessages struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimeoutMessages() *TimeoutMessages {
	return &TimeoutMessages{timers: make(map[string]*time.Timer)}
}

// Set schedules fn for messageID after d, replacing any pending one.
func (t *TimeoutMessages) Set(messageID string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[messageID]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current := t.timers[messageID] == timer
		if current {
			delete(t.timers, messageID)
		}
		t.mu.Unlock()
		if current {
			fn()
		}
	})
	t.timers[messageID] = timer
}

// Clear cancels the pending cleanup of messageID. It reports whether one was
// pending.
func (t *TimeoutMessages) Clear(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[messageID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, messageID)
	return true
}

// Len returns the number of pending cleanups.
func (t *TimeoutMessages) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
