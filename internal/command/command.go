// Package command declares application and text commands, validates them into
// a registry and projects the registry onto the tree Discord expects.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/locale"
	"github.com/keshon/shardbot/internal/policy"
)

var (
	// ErrArity is returned when name, description and localization arrays of a
	// declaration disagree in length.
	ErrArity = errors.New("command: variant arity mismatch")
	// ErrDuplicate is returned when two declarations claim the same name.
	ErrDuplicate = errors.New("command: duplicate name")
	// ErrConflict is returned when a chat input name is a strict prefix of another.
	ErrConflict = errors.New("command: name is a prefix of another command")
	// ErrInvalid covers the remaining malformed declarations.
	ErrInvalid = errors.New("command: invalid declaration")
)

// MaxDepth is the deepest path Discord accepts: command, group, subcommand.
const MaxDepth = 3

// Interaction is what chat input, context menu and autocomplete handlers get.
type Interaction struct {
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
	Locale  discordgo.Locale
	// Name is the full matched variant, e.g. "music play".
	Name string
}

// Options returns the leaf options of a chat input interaction keyed by name.
func (in *Interaction) Options() map[string]*discordgo.ApplicationCommandInteractionDataOption {
	if in.Event == nil || in.Event.Type == discordgo.InteractionMessageComponent {
		return nil
	}
	return LeafOptions(in.Event.ApplicationCommandData().Options)
}

// LeafOptions descends through subcommand groups and subcommands and returns
// the options of the innermost level.
func LeafOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	for len(opts) == 1 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommand ||
		opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		opts = opts[0].Options
	}
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		out[o.Name] = o
	}
	return out
}

// FullName rebuilds "cmd group sub" from the interaction data.
func FullName(data discordgo.ApplicationCommandInteractionData) string {
	parts := []string{data.Name}
	opts := data.Options
	for len(opts) > 0 {
		o := opts[0]
		if o.Type != discordgo.ApplicationCommandOptionSubCommand &&
			o.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		parts = append(parts, o.Name)
		opts = o.Options
	}
	return strings.Join(parts, " ")
}

// Handler runs a chat input or context menu command.
type Handler func(ctx context.Context, in *Interaction) error

// Localization holds per-variant translations. Name[i] maps a locale to the full
// localized path of variant i, e.g. {"ko": "음악 재생"} for "music play".
// A single Description entry applies to every variant.
type Localization struct {
	Name        []map[discordgo.Locale]string
	Description []map[discordgo.Locale]string
}

// Command is an application command declaration. Every entry of Name is a
// variant: an alias registered as its own full path.
type Command struct {
	Type         discordgo.ApplicationCommandType
	Name         []string
	Description  []string
	Localization Localization
	Options      []*discordgo.ApplicationCommandOption
	// GuildIDs restricts the command to these guilds. Empty means global.
	GuildIDs     []string
	Policy       policy.Policy
	Handler      Handler
	Autocomplete Handler
}

// Chat declares a chat input command from a locale entry.
func Chat(e locale.Entry, h Handler) *Command {
	c := &Command{Type: discordgo.ChatApplicationCommand, Handler: h}
	c.SetEntry(e)
	return c
}

// Menu declares a user or message context menu command from a locale entry.
func Menu(t discordgo.ApplicationCommandType, e locale.Entry, h Handler) *Command {
	c := &Command{Type: t, Handler: h}
	c.SetEntry(e)
	c.Description = nil
	c.Localization.Description = nil
	return c
}

// SetEntry replaces name, description and translations with e as one variant.
func (c *Command) SetEntry(e locale.Entry) {
	c.Name = []string{e.Name}
	c.Description = []string{e.Description}
	c.Localization = Localization{}
	if len(e.NameLocalizations) > 0 {
		c.Localization.Name = []map[discordgo.Locale]string{e.NameLocalizations}
	}
	if len(e.DescriptionLocalizations) > 0 {
		c.Localization.Description = []map[discordgo.Locale]string{e.DescriptionLocalizations}
	}
}

// Option builds an option from a locale entry. Option names are single words.
func Option(t discordgo.ApplicationCommandOptionType, e locale.Entry, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     t,
		Name:                     e.Name,
		Description:              e.Description,
		NameLocalizations:        e.NameLocalizations,
		DescriptionLocalizations: e.DescriptionLocalizations,
		Required:                 required,
	}
}

func (c *Command) chatInput() bool {
	return c.Type == discordgo.ChatApplicationCommand || c.Type == 0
}

// validate checks the per-declaration invariants that do not depend on other
// declarations.
func (c *Command) validate() error {
	if len(c.Name) == 0 {
		return fmt.Errorf("%w: no name", ErrInvalid)
	}
	if c.Handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalid, c.Name[0])
	}
	n := len(c.Name)
	for _, name := range c.Name {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty variant", ErrInvalid)
		}
		if c.chatInput() {
			segs := strings.Fields(name)
			if len(segs) > MaxDepth {
				return fmt.Errorf("%w: %q is deeper than %d segments", ErrInvalid, name, MaxDepth)
			}
			if strings.Join(segs, " ") != name {
				return fmt.Errorf("%w: %q has irregular spacing", ErrInvalid, name)
			}
		}
	}
	if !c.chatInput() {
		if l := len(c.Localization.Name); l != 0 && l != n {
			return fmt.Errorf("%w: %q has %d name variants and %d name localizations", ErrArity, c.Name[0], n, l)
		}
		return nil
	}
	if l := len(c.Description); l != 1 && l != n {
		return fmt.Errorf("%w: %q has %d name variants and %d descriptions", ErrArity, c.Name[0], n, l)
	}
	if l := len(c.Localization.Name); l != 0 && l != n {
		return fmt.Errorf("%w: %q has %d name variants and %d name localizations", ErrArity, c.Name[0], n, l)
	}
	if l := len(c.Localization.Description); l > 1 && l != n {
		return fmt.Errorf("%w: %q has %d name variants and %d description localizations", ErrArity, c.Name[0], n, l)
	}
	return nil
}

// description returns the description of variant i.
func (c *Command) description(i int) string {
	if len(c.Description) == 1 {
		return c.Description[0]
	}
	return c.Description[i]
}
