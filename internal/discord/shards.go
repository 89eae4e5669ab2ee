package discord

import (
	"strconv"

	"github.com/bwmarrin/discordgo"
)

// Shards holds the gateway sessions of this process, one per shard.
type Shards struct {
	Total    int
	sessions map[int]*discordgo.Session
	order    []int
}

// NewShards returns an empty set for a bot with total shards.
func NewShards(total int) *Shards {
	return &Shards{Total: max(total, 1), sessions: make(map[int]*discordgo.Session)}
}

// Add registers the session of shard id.
func (s *Shards) Add(id int, session *discordgo.Session) {
	if _, ok := s.sessions[id]; !ok {
		s.order = append(s.order, id)
	}
	s.sessions[id] = session
}

// All returns the sessions in the order they were added.
func (s *Shards) All() []*discordgo.Session {
	out := make([]*discordgo.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id])
	}
	return out
}

// IDs returns the shard ids in the order they were added.
func (s *Shards) IDs() []int {
	return append([]int(nil), s.order...)
}

// ShardOf returns the shard a guild is routed to.
func ShardOf(guildID string, total int) int {
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil || total < 1 {
		return 0
	}
	return int((id >> 22) % uint64(total))
}

// For returns the session owning guildID. Direct messages and guilds of
// shards outside this process get the first session.
func (s *Shards) For(guildID string) *discordgo.Session {
	if guildID != "" {
		if session, ok := s.sessions[ShardOf(guildID, s.Total)]; ok {
			return session
		}
	}
	if len(s.order) == 0 {
		return nil
	}
	return s.sessions[s.order[0]]
}
