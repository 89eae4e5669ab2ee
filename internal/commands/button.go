package commands

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/component"
	"github.com/keshon/shardbot/internal/discord"
)

// buttonTTL is how long the demo button stays usable.
const buttonTTL = time.Minute

func button(d Deps) *command.Command {
	return command.Chat(d.Locale.Command("Button"), func(ctx context.Context, in *command.Interaction) error {
		btn, err := d.Components.Button(discordgo.Button{
			Label: d.Locale.Get(in.Locale, "Component_Button_Label"),
			Style: discordgo.PrimaryButton,
		}, component.Declaration{
			Prefix: "button",
			TTL:    buttonTTL,
			Once:   true,
			Handler: func(ctx context.Context, ci *component.Interaction) error {
				u := discord.InteractionUser(ci.Event)
				return discord.Respond(ci.Session, ci.Event,
					d.Locale.Get(ci.Locale, "Component_Button_Pressed", u.Mention()), false)
			},
		})
		if err != nil {
			return err
		}
		return in.Session.InteractionRespond(in.Event.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{Components: []discordgo.MessageComponent{btn}},
				},
			},
		})
	})
}
