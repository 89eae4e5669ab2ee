package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/policy"
)

func (d *Dispatcher) onMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	rest, ok := command.StripPrefix(m.Content, d.Prefixes)
	if !ok {
		return
	}
	tc, name, args := d.Commands.FindText(rest, m.GuildID)
	if tc == nil {
		return
	}
	if m.GuildID != "" && !d.canAnswer(m.GuildID, m.ChannelID) {
		return
	}

	loc := d.Locales.Get(m.Author.ID, d.Locale.Default())
	mc := &policy.MessageContext{Message: m.Message, UserLocale: loc, Key: tc.Name[0]}
	if reply := d.Guard.Check(ctx, mc, tc.Policy); reply != nil {
		d.sendTimed(s, m, reply.MessageSend(m.Reference()))
		return
	}

	msg := &command.Message{Session: s, Event: m, Locale: loc, Name: name, Args: args}
	err := d.invoke(ctx, "text", name, tc.Handler, func(ctx context.Context) error {
		return tc.Handler(ctx, msg)
	})
	if err != nil {
		_, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
			Embeds:          []*discordgo.MessageEmbed{ErrorEmbed(d.Locale, loc, m.Author)},
			AllowedMentions: &discordgo.MessageAllowedMentions{},
			Reference:       m.Reference(),
		})
		if err != nil {
			d.logger().Debug("error reply failed", "err", err)
		}
	}
}

// canAnswer reports whether the bot may see and write in the channel. Lookup
// failures count as no.
func (d *Dispatcher) canAnswer(guildID, channelID string) bool {
	if d.State == nil {
		return true
	}
	perms, err := d.State.BotPermissions(guildID, channelID)
	if err != nil {
		d.logger().Debug("permission lookup failed", "channel", channelID, "err", err)
		return false
	}
	return len(policy.Missing(perms, textPermissions)) == 0
}

// sendTimed sends a reply that deletes itself after TextReplyTimeout.
func (d *Dispatcher) sendTimed(s *discordgo.Session, m *discordgo.MessageCreate, data *discordgo.MessageSend) {
	sent, err := s.ChannelMessageSendComplex(m.ChannelID, data)
	if err != nil {
		d.logger().Warn("policy reply failed", "channel", m.ChannelID, "err", err)
		return
	}
	d.Timeouts.Set(sent.ID, TextReplyTimeout, func() {
		if err := s.ChannelMessageDelete(sent.ChannelID, sent.ID); err != nil {
			d.logger().Debug("delete timed reply", "err", err)
		}
	})
}
