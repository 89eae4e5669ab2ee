package command

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/locale"
)

// key indexes a command by type and full name within a scope. Global
// commands use an empty guild.
type key struct {
	t     discordgo.ApplicationCommandType
	name  string
	guild string
}

// Registry holds every declared application and text command. Registration
// is all or nothing: a batch that fails validation leaves the registry as it was.
type Registry struct {
	locale *locale.Store

	mu     sync.RWMutex
	all    []*Command
	byName map[key]*Command
	text   []*TextCommand
}

// NewRegistry returns an empty registry projecting containers through store.
func NewRegistry(store *locale.Store) *Registry {
	return &Registry{
		locale: store,
		byName: make(map[key]*Command),
	}
}

// Register validates cmds together with the already registered commands and
// adds them. Scopes are validated separately: the global set and each guild's
// global+guild set must build into a tree.
func (r *Registry) Register(cmds ...*Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append(slices.Clip(r.all), cmds...)
	byName := make(map[key]*Command, len(r.byName)+len(cmds))
	for k, v := range r.byName {
		byName[k] = v
	}
	for _, c := range cmds {
		if err := c.validate(); err != nil {
			return err
		}
		if c.Type == 0 {
			c.Type = discordgo.ChatApplicationCommand
		}
		for _, n := range c.Name {
			if taken(byName, c, n) {
				return fmt.Errorf("%w: %q", ErrDuplicate, n)
			}
			for _, g := range guildsOf(c) {
				byName[key{c.Type, n, g}] = c
			}
		}
	}

	if _, err := BuildTree(r.locale, scope(next, "")); err != nil {
		return err
	}
	for _, id := range guildIDs(next) {
		if _, err := BuildTree(r.locale, scope(next, id)); err != nil {
			return fmt.Errorf("guild %s: %w", id, err)
		}
	}

	r.all = next
	r.byName = byName
	return nil
}

// Find returns the command of type t registered under the full variant name
// as seen from guildID: that guild's command first, then the global one.
func (r *Registry) Find(t discordgo.ApplicationCommandType, name, guildID string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if guildID != "" {
		if c, ok := r.byName[key{t, name, guildID}]; ok {
			return c
		}
	}
	return r.byName[key{t, name, ""}]
}

// taken reports whether name clashes inside any scope c is visible in. A
// global command shares a scope with every guild.
func taken(byName map[key]*Command, c *Command, name string) bool {
	if len(c.GuildIDs) == 0 {
		for k := range byName {
			if k.t == c.Type && k.name == name {
				return true
			}
		}
		return false
	}
	if _, ok := byName[key{c.Type, name, ""}]; ok {
		return true
	}
	for _, g := range c.GuildIDs {
		if _, ok := byName[key{c.Type, name, g}]; ok {
			return true
		}
	}
	return false
}

func guildsOf(c *Command) []string {
	if len(c.GuildIDs) == 0 {
		return []string{""}
	}
	return c.GuildIDs
}

// Commands returns the global commands in declaration order.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return scope(r.all, "")
}

// GuildCommands returns the commands scoped to guildID only.
func (r *Registry) GuildCommands(guildID string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Command
	for _, c := range r.all {
		if slices.Contains(c.GuildIDs, guildID) {
			out = append(out, c)
		}
	}
	return out
}

// GuildIDs returns every guild that has scoped commands, sorted.
func (r *Registry) GuildIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return guildIDs(r.all)
}

// Tree builds the global command tree.
func (r *Registry) Tree() ([]*discordgo.ApplicationCommand, error) {
	return BuildTree(r.locale, r.Commands())
}

// GuildTree builds the tree of commands scoped to guildID.
func (r *Registry) GuildTree(guildID string) ([]*discordgo.ApplicationCommand, error) {
	return BuildTree(r.locale, r.GuildCommands(guildID))
}

// scope returns the global commands plus, when guildID is set, that guild's.
func scope(cmds []*Command, guildID string) []*Command {
	var out []*Command
	for _, c := range cmds {
		if len(c.GuildIDs) == 0 || (guildID != "" && slices.Contains(c.GuildIDs, guildID)) {
			out = append(out, c)
		}
	}
	return out
}

func guildIDs(cmds []*Command) []string {
	var ids []string
	for _, c := range cmds {
		for _, id := range c.GuildIDs {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// RegisterText adds text commands. Variant names are matched case-sensitively
// after the prefix.
func (r *Registry) RegisterText(cmds ...*TextCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, t := range r.text {
		for _, n := range t.Name {
			seen[n] = true
		}
	}
	for _, t := range cmds {
		if len(t.Name) == 0 || t.Handler == nil {
			return fmt.Errorf("%w: text command without name or handler", ErrInvalid)
		}
		for _, n := range t.Name {
			if strings.TrimSpace(n) == "" {
				return fmt.Errorf("%w: empty text variant", ErrInvalid)
			}
			if seen[n] {
				return fmt.Errorf("%w: text %q", ErrDuplicate, n)
			}
			seen[n] = true
		}
	}
	r.text = append(r.text, cmds...)
	return nil
}

// FindText resolves content (already stripped of the prefix) to the first
// registered text command with a variant that prefixes it, in registration
// order. guildID limits guild scoped commands. It returns the command, the
// matched variant and the remaining arguments.
func (r *Registry) FindText(content, guildID string) (*TextCommand, string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.text {
		if len(t.GuildIDs) > 0 && !slices.Contains(t.GuildIDs, guildID) {
			continue
		}
		for _, n := range t.Name {
			if rest, ok := strings.CutPrefix(content, n); ok {
				return t, n, strings.TrimSpace(rest)
			}
		}
	}
	return nil, "", ""
}
