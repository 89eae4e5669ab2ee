package policy

import (
	"sync"
	"time"
)

// Cooldowns is the ledger of next-eligible times per (user, key). Entries are
// never swept; the ledger is bounded by the number of active users.
type Cooldowns struct {
	mu   sync.Mutex
	next map[string]map[string]time.Time
}

// NewCooldowns returns an empty ledger.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{next: make(map[string]map[string]time.Time)}
}

// Try reports whether userID may use key at now. When allowed, the next
// eligible time becomes now+d. When denied, the stored next eligible time is
// returned.
func (c *Cooldowns) Try(userID, key string, d time.Duration, now time.Time) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.next[userID]
	if !ok {
		byKey = make(map[string]time.Time)
		c.next[userID] = byKey
	}
	if next := byKey[key]; now.Before(next) {
		return next, false
	}
	byKey[key] = now.Add(d)
	return byKey[key], true
}
