package command

import (
	"context"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/policy"
)

// Message is what text command handlers get.
type Message struct {
	Session *discordgo.Session
	Event   *discordgo.MessageCreate
	Locale  discordgo.Locale
	// Name is the matched variant and Args the trimmed remainder.
	Name string
	Args string
}

// TextHandler runs a text command.
type TextHandler func(ctx context.Context, m *Message) error

// TextCommand is a prefix command matched against message content.
type TextCommand struct {
	Name     []string
	GuildIDs []string
	Policy   policy.Policy
	Handler  TextHandler
}

// StripPrefix trims content and removes the longest matching prefix. ok is
// false when no prefix matches.
func StripPrefix(content string, prefixes []string) (rest string, ok bool) {
	content = strings.TrimSpace(content)
	sorted := slices.Clone(prefixes)
	slices.SortStableFunc(sorted, func(a, b string) int { return len(b) - len(a) })
	for _, p := range sorted {
		if p == "" {
			continue
		}
		if r, found := strings.CutPrefix(content, p); found {
			return strings.TrimSpace(r), true
		}
	}
	return "", false
}
