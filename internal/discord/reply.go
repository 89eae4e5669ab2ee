package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/config"
	"github.com/keshon/shardbot/internal/locale"
)

// Respond sends a plain interaction reply.
func Respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// RespondEmbed sends an embed reply.
func RespondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// Defer acknowledges an interaction so the handler can answer later with Edit.
func Defer(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

// Edit replaces the content of the original interaction response.
func Edit(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	return err
}

// EditEmbed replaces the embeds of the original interaction response.
func EditEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
	return err
}

// Footer is the "requested by" footer every embed carries.
func Footer(u *discordgo.User) *discordgo.MessageEmbedFooter {
	if u == nil {
		return nil
	}
	return &discordgo.MessageEmbedFooter{Text: u.String(), IconURL: u.AvatarURL("")}
}

// InteractionUser returns the invoking user in guilds and DMs alike.
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// ErrorEmbed is the localized answer to a failed handler.
func ErrorEmbed(store *locale.Store, loc discordgo.Locale, u *discordgo.User) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       store.Get(loc, "Embed_Error_Title"),
		Description: store.Get(loc, "Embed_Error_Description"),
		Color:       config.ErrorColor,
		Footer:      Footer(u),
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// respondError tells the invoker something failed, as a reply or, when the
// interaction was already answered, as a follow-up.
func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	if err := RespondEmbed(s, i, embed, true); err == nil {
		return nil
	}
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	return err
}
