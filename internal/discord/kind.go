package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/command"
)

// Kind is the handler family an interaction is routed to.
type Kind int

const (
	KindUnknown Kind = iota
	KindAutocomplete
	KindChatInput
	KindContextMenu
	KindComponent
	KindModal
)

func (k Kind) String() string {
	switch k {
	case KindAutocomplete:
		return "autocomplete"
	case KindChatInput:
		return "chat"
	case KindContextMenu:
		return "menu"
	case KindComponent:
		return "component"
	case KindModal:
		return "modal"
	}
	return "unknown"
}

// Classify returns the handler family of i.
func Classify(i *discordgo.Interaction) Kind {
	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		return KindAutocomplete
	case discordgo.InteractionApplicationCommand:
		t := i.ApplicationCommandData().CommandType
		if t == 0 || t == discordgo.ChatApplicationCommand {
			return KindChatInput
		}
		return KindContextMenu
	case discordgo.InteractionMessageComponent:
		return KindComponent
	case discordgo.InteractionModalSubmit:
		return KindModal
	}
	return KindUnknown
}

// CommandKey returns the registry key of an application command or
// autocomplete interaction. Chat input names include group and subcommand.
func CommandKey(i *discordgo.Interaction) (discordgo.ApplicationCommandType, string) {
	data := i.ApplicationCommandData()
	t := data.CommandType
	if t == 0 {
		t = discordgo.ChatApplicationCommand
	}
	if t == discordgo.ChatApplicationCommand {
		return t, command.FullName(data)
	}
	return t, data.Name
}

// ComponentKey returns the registry key of a component or modal submit.
// Modals are keyed as text inputs.
func ComponentKey(i *discordgo.Interaction) (discordgo.ComponentType, string) {
	if i.Type == discordgo.InteractionModalSubmit {
		return discordgo.TextInputComponent, i.ModalSubmitData().CustomID
	}
	data := i.MessageComponentData()
	return data.ComponentType, data.CustomID
}
