package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/config"
	"github.com/keshon/shardbot/internal/discord"
	"github.com/keshon/shardbot/internal/policy"
)

// Keys the cluster client is asked for.
const (
	KeyGuilds  = "guilds"
	KeyMembers = "members"
)

func info(d Deps) *command.Command {
	c := command.Chat(d.Locale.Command("Info"), func(ctx context.Context, in *command.Interaction) error {
		guilds, err := d.Counter.Sum(ctx, KeyGuilds)
		if err != nil {
			return fmt.Errorf("count guilds: %w", err)
		}
		members, err := d.Counter.Sum(ctx, KeyMembers)
		if err != nil {
			return fmt.Errorf("count members: %w", err)
		}

		loc := in.Locale
		get := d.Locale.Get
		embed := &discordgo.MessageEmbed{
			Title: get(loc, "Embed_Info_Title", config.Name),
			Fields: []*discordgo.MessageEmbedField{
				{Name: get(loc, "Embed_Info_Field_GuildCount_Title"), Value: get(loc, "Embed_Info_Field_GuildCount_Value", guilds), Inline: true},
				{Name: get(loc, "Embed_Info_Field_UserCount_Title"), Value: get(loc, "Embed_Info_Field_UserCount_Value", members), Inline: true},
				{Name: get(loc, "Embed_Info_Field_ClusterCount_Title"), Value: get(loc, "Embed_Info_Field_ClusterCount_Value", d.ClusterCount, d.ClusterID+1)},
				{Name: get(loc, "Embed_Info_Field_ShardCount_Title"), Value: get(loc, "Embed_Info_Field_ShardCount_Value", d.TotalShards, discord.ShardOf(in.Event.GuildID, d.TotalShards)+1)},
			},
			Color:     config.SuccessColor,
			Footer:    discord.Footer(discord.InteractionUser(in.Event)),
			Timestamp: time.Now().Format(time.RFC3339),
		}
		return discord.RespondEmbed(in.Session, in.Event, embed, true)
	})
	c.Policy = policy.Policy{OnlyGuild: true}
	return c
}
