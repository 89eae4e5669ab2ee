package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// LocaleCache remembers the client locale each user last interacted with, so
// text commands can answer in it.
type LocaleCache struct {
	mu    sync.RWMutex
	users map[string]discordgo.Locale
}

func NewLocaleCache() *LocaleCache {
	return &LocaleCache{users: make(map[string]discordgo.Locale)}
}

func (c *LocaleCache) Set(userID string, loc discordgo.Locale) {
	if userID == "" || loc == "" {
		return
	}
	c.mu.Lock()
	c.users[userID] = loc
	c.mu.Unlock()
}

// Get returns the cached locale of userID, or def.
func (c *LocaleCache) Get(userID string, def discordgo.Locale) discordgo.Locale {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if loc, ok := c.users[userID]; ok {
		return loc
	}
	return def
}
