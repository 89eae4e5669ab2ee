package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/voice"
)

func (d *Dispatcher) onReady(ctx context.Context, s *discordgo.Session, r *discordgo.Ready) {
	d.logger().Info("shard ready", "shard", s.ShardID, "user", r.User.String(), "guilds", len(r.Guilds))
	if d.Publisher == nil {
		return
	}
	d.pushOnce.Do(func() { go d.pushCommands(ctx) })
}

func (d *Dispatcher) pushCommands(ctx context.Context) {
	if err := d.Publisher.RegisterRemote(ctx); err != nil {
		d.logger().Error("global command push failed", "err", err)
	}
	if err := d.Publisher.RegisterAllGuildsRemote(ctx); err != nil {
		d.logger().Error("guild command push failed", "err", err)
	}
}

func (d *Dispatcher) onGuildCreate(ctx context.Context, g *discordgo.GuildCreate) {
	if d.Guilds == nil || g.Guild == nil || g.Unavailable {
		return
	}
	_, created, err := d.Guilds.Ensure(ctx, g.ID)
	if err != nil {
		d.logger().Error("guild row", "guild", g.ID, "err", err)
		return
	}
	if created {
		d.logger().Info("new guild", "guild", g.ID, "name", g.Name)
	}
}

func (d *Dispatcher) ensureUser(ctx context.Context, u *discordgo.User) {
	if d.Users == nil || u == nil || u.Bot {
		return
	}
	if _, _, err := d.Users.Ensure(ctx, u.ID); err != nil {
		d.logger().Warn("user row", "user", u.ID, "err", err)
	}
}

func (d *Dispatcher) onGuildDelete(g *discordgo.GuildDelete) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	d.logger().Info("left guild", "guild", g.ID)
	if d.Voice != nil {
		_ = d.Voice.Quit(g.ID)
	}
}

func (d *Dispatcher) onVoiceState(ctx context.Context, s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if d.Voice == nil || v.VoiceState == nil {
		return
	}
	if err := d.Voice.OnVoiceStateUpdate(ctx, voice.StateChangeFrom(s, v)); err != nil {
		d.logger().Warn("voice state update", "guild", v.GuildID, "err", err)
	}
}
