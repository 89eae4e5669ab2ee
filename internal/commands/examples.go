package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/discord"
	"github.com/keshon/shardbot/internal/policy"
)

const pingColor = 0xFBA0A7

func ping(d Deps) *command.Command {
	c := command.Chat(d.Locale.Command("Ping"), func(ctx context.Context, in *command.Interaction) error {
		if err := discord.Defer(in.Session, in.Event, true); err != nil {
			return err
		}
		return discord.EditEmbed(in.Session, in.Event, &discordgo.MessageEmbed{
			Title:       "Ping!",
			Description: d.Locale.Get(in.Locale, "Embed_Ping_Description", in.Session.ShardID),
			Color:       pingColor,
			Footer:      discord.Footer(discord.InteractionUser(in.Event)),
			Timestamp:   time.Now().Format(time.RFC3339),
		})
	})
	c.Policy = policy.Policy{OnlyGuild: true}
	return c
}

func testSub(d Deps) *command.Command {
	return command.Chat(d.Locale.Command("Test_Sub"), func(ctx context.Context, in *command.Interaction) error {
		if err := discord.Defer(in.Session, in.Event, true); err != nil {
			return err
		}
		return discord.Edit(in.Session, in.Event, d.Locale.Get(in.Locale, "Example_SubCommand"))
	})
}

// testGroup is declared under two names, each its own group and subcommand.
func testGroup(d Deps) *command.Command {
	entry := d.Locale.Command("Test_Group")
	alias := d.Locale.Get(d.Locale.Default(), "Command_Test_Group_Alias_Name")
	aliasLocs := make(map[discordgo.Locale]string)
	for _, loc := range d.Locale.Locales(true) {
		aliasLocs[loc] = d.Locale.Get(loc, "Command_Test_Group_Alias_Name")
	}

	c := command.Chat(entry, func(ctx context.Context, in *command.Interaction) error {
		if err := discord.Defer(in.Session, in.Event, true); err != nil {
			return err
		}
		return discord.Edit(in.Session, in.Event, d.Locale.Get(in.Locale, "Example_GroupCommand", in.Name))
	})
	c.Name = append(c.Name, alias)
	if len(c.Localization.Name) > 0 {
		c.Localization.Name = append(c.Localization.Name, aliasLocs)
	}
	return c
}

func pingMenu(d Deps) *command.Command {
	return command.Menu(discordgo.MessageApplicationCommand, d.Locale.Command("PingMenu"), func(ctx context.Context, in *command.Interaction) error {
		if err := discord.Defer(in.Session, in.Event, true); err != nil {
			return err
		}
		return discord.Edit(in.Session, in.Event, "Pong!")
	})
}

func pingText(d Deps) *command.TextCommand {
	names := []string{d.Locale.Get(d.Locale.Default(), "Command_Ping_Name")}
	for _, loc := range d.Locale.Locales(false) {
		if n := d.Locale.Get(loc, "Command_Ping_Name"); n != names[0] {
			names = append(names, n)
		}
	}
	return &command.TextCommand{
		Name:   names,
		Policy: policy.Policy{Cooldown: 3 * time.Second},
		Handler: func(ctx context.Context, m *command.Message) error {
			latency := m.Session.HeartbeatLatency().Milliseconds()
			_, err := m.Session.ChannelMessageSendReply(m.Event.ChannelID,
				fmt.Sprintf("Pong! `%dms`", latency), m.Event.Reference())
			return err
		},
	}
}
