package config

import "github.com/bwmarrin/discordgo"

// Static bot settings.
const (
	Name            = "Template"
	DefaultLanguage = discordgo.EnglishUS
)

// CommandPrefixes are the text command prefixes. Matching tries the longest first.
var CommandPrefixes = []string{"/", "?", "!", "?!"}

// Embed colours.
const (
	SuccessColor = 0x00FF00
	WarnColor    = 0xFFFF00
	ErrorColor   = 0xFF0000
)

// Intents the gateway session needs for commands, text commands and voice.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsDirectMessages |
	discordgo.IntentMessageContent
