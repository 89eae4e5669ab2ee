// Package policy enforces the cross-cutting constraints declared on commands,
// components and text commands before their handlers run.
package policy

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// Policy is the set of constraints attached to a declaration. The zero value
// allows everything.
type Policy struct {
	OnlyGuild       bool
	Cooldown        time.Duration
	BotPermissions  int64
	UserPermissions int64
	BotAdmin        bool
	BotDeveloper    bool
	GuildOwner      bool
}

// Context is the invocation a policy is evaluated against. It is either an
// *InteractionContext or a *MessageContext.
type Context interface {
	Locale() discordgo.Locale
	User() *discordgo.User
	GuildID() string
	ChannelID() string
	// CooldownKey identifies the invoked command or component in the ledger.
	CooldownKey() string
	// Ephemeral reports whether replies can be shown to the invoker only.
	Ephemeral() bool

	permissions(st State) (bot, user int64, err error)
}

// InteractionContext wraps an interaction. Key is the command id for
// application commands and the component prefix for components.
type InteractionContext struct {
	Interaction *discordgo.Interaction
	Key         string
}

func (c *InteractionContext) Locale() discordgo.Locale { return c.Interaction.Locale }
func (c *InteractionContext) GuildID() string          { return c.Interaction.GuildID }
func (c *InteractionContext) ChannelID() string        { return c.Interaction.ChannelID }
func (c *InteractionContext) CooldownKey() string      { return c.Key }
func (c *InteractionContext) Ephemeral() bool          { return true }

func (c *InteractionContext) User() *discordgo.User {
	if c.Interaction.Member != nil && c.Interaction.Member.User != nil {
		return c.Interaction.Member.User
	}
	return c.Interaction.User
}

func (c *InteractionContext) permissions(State) (int64, int64, error) {
	var user int64
	if c.Interaction.Member != nil {
		user = c.Interaction.Member.Permissions
	}
	return c.Interaction.AppPermissions, user, nil
}

// MessageContext wraps a text command message. Locale is the cached locale of
// the author, Key the first name of the matched command.
type MessageContext struct {
	Message    *discordgo.Message
	UserLocale discordgo.Locale
	Key        string
}

func (c *MessageContext) Locale() discordgo.Locale { return c.UserLocale }
func (c *MessageContext) User() *discordgo.User    { return c.Message.Author }
func (c *MessageContext) GuildID() string          { return c.Message.GuildID }
func (c *MessageContext) ChannelID() string        { return c.Message.ChannelID }
func (c *MessageContext) CooldownKey() string      { return c.Key }
func (c *MessageContext) Ephemeral() bool          { return false }

func (c *MessageContext) permissions(st State) (int64, int64, error) {
	bot, err := st.BotPermissions(c.Message.GuildID, c.Message.ChannelID)
	if err != nil {
		return 0, 0, err
	}
	user, err := st.MemberPermissions(c.Message.GuildID, c.Message.ChannelID, c.Message.Author.ID)
	if err != nil {
		return 0, 0, err
	}
	return bot, user, nil
}
