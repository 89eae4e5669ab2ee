package command

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/locale"
)

// VariantLocalization is the projection of a declaration's translations onto
// one variant and one segment depth.
type VariantLocalization struct {
	Name        map[discordgo.Locale]string
	Description map[discordgo.Locale]string
}

// LocalizationFor projects the translations of variant onto segment depth.
// Name entries are the depth-th word of each localized path. Description is
// only set at the leaf depth. Both maps are nil when the declaration carries
// no translations.
func LocalizationFor(c *Command, variant, depth int) (VariantLocalization, error) {
	var out VariantLocalization
	if err := c.validate(); err != nil {
		return out, err
	}
	if variant < 0 || variant >= len(c.Name) {
		return out, fmt.Errorf("%w: variant %d of %q", ErrInvalid, variant, c.Name[0])
	}

	if !c.chatInput() {
		if len(c.Localization.Name) > 0 {
			out.Name = c.Localization.Name[variant]
		}
		return out, nil
	}

	segs := strings.Fields(c.Name[variant])
	if depth < 0 || depth >= len(segs) {
		return out, fmt.Errorf("%w: depth %d of %q", ErrInvalid, depth, c.Name[variant])
	}

	if len(c.Localization.Name) > 0 {
		out.Name = make(map[discordgo.Locale]string)
		for loc, path := range c.Localization.Name[variant] {
			parts := strings.Fields(path)
			if len(parts) != len(segs) {
				return VariantLocalization{}, fmt.Errorf("%w: %s translation %q of %q has %d segments",
					ErrArity, loc, path, c.Name[variant], len(parts))
			}
			out.Name[loc] = parts[depth]
		}
	}

	if depth == len(segs)-1 && len(c.Localization.Description) > 0 {
		if len(c.Localization.Description) == 1 {
			out.Description = c.Localization.Description[0]
		} else {
			out.Description = c.Localization.Description[variant]
		}
	}
	return out, nil
}

// BuildTree converts declarations into top-level application commands.
// Multi-word chat input names are folded into synthesized containers:
// "a b" becomes subcommand b of a, "a b c" becomes subcommand c of group b of
// a. Container descriptions come from SubCommand_Description and
// SubCommandGroup_Description.
func BuildTree(store *locale.Store, cmds []*Command) ([]*discordgo.ApplicationCommand, error) {
	declared := make(map[string]string)
	for _, c := range cmds {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if !c.chatInput() {
			continue
		}
		for _, n := range c.Name {
			if _, ok := declared[n]; ok {
				return nil, fmt.Errorf("%w: %q", ErrDuplicate, n)
			}
			declared[n] = n
		}
	}
	for name := range declared {
		segs := strings.Fields(name)
		for d := 1; d < len(segs); d++ {
			if prefix := strings.Join(segs[:d], " "); declared[prefix] != "" {
				return nil, fmt.Errorf("%w: %q and %q", ErrConflict, prefix, name)
			}
		}
	}

	b := &treeBuilder{store: store}
	for _, c := range cmds {
		for _, i := range variantOrder(c) {
			if err := b.add(c, i); err != nil {
				return nil, err
			}
		}
	}
	return b.out, nil
}

// variantOrder returns variant indices, deepest first.
func variantOrder(c *Command) []int {
	idx := make([]int, len(c.Name))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return len(strings.Fields(c.Name[b])) - len(strings.Fields(c.Name[a]))
	})
	return idx
}

type treeBuilder struct {
	store *locale.Store
	out   []*discordgo.ApplicationCommand
}

func (b *treeBuilder) add(c *Command, variant int) error {
	name := c.Name[variant]
	if !c.chatInput() {
		for _, existing := range b.out {
			if existing.Type == c.Type && existing.Name == name {
				return fmt.Errorf("%w: %q", ErrDuplicate, name)
			}
		}
		loc, err := LocalizationFor(c, variant, 0)
		if err != nil {
			return err
		}
		b.out = append(b.out, &discordgo.ApplicationCommand{
			Type:              c.Type,
			Name:              name,
			NameLocalizations: localizations(loc.Name),
		})
		return nil
	}

	segs := strings.Fields(name)
	leaf, err := LocalizationFor(c, variant, len(segs)-1)
	if err != nil {
		return err
	}

	if len(segs) == 1 {
		b.out = append(b.out, &discordgo.ApplicationCommand{
			Type:                     discordgo.ChatApplicationCommand,
			Name:                     name,
			Description:              c.description(variant),
			NameLocalizations:        localizations(leaf.Name),
			DescriptionLocalizations: localizations(leaf.Description),
			Options:                  c.Options,
		})
		return nil
	}

	top, err := b.container(c, variant, segs)
	if err != nil {
		return err
	}
	parent := &top.Options
	if len(segs) == 3 {
		group, err := b.group(c, variant, segs, top)
		if err != nil {
			return err
		}
		parent = &group.Options
	}

	*parent = append(*parent, &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionSubCommand,
		Name:                     segs[len(segs)-1],
		Description:              c.description(variant),
		NameLocalizations:        deref(localizations(leaf.Name)),
		DescriptionLocalizations: deref(localizations(leaf.Description)),
		Options:                  c.Options,
	})
	return nil
}

func (b *treeBuilder) container(c *Command, variant int, segs []string) (*discordgo.ApplicationCommand, error) {
	for _, existing := range b.out {
		if existing.Type == discordgo.ChatApplicationCommand && existing.Name == segs[0] {
			return existing, nil
		}
	}
	loc, err := LocalizationFor(c, variant, 0)
	if err != nil {
		return nil, err
	}
	top := &discordgo.ApplicationCommand{
		Type:                     discordgo.ChatApplicationCommand,
		Name:                     segs[0],
		Description:              b.store.Get(b.store.Default(), "SubCommand_Description", segs[0]),
		NameLocalizations:        localizations(loc.Name),
		DescriptionLocalizations: localizations(b.store.Localized("SubCommand_Description", segs[0])),
	}
	b.out = append(b.out, top)
	return top, nil
}

func (b *treeBuilder) group(c *Command, variant int, segs []string, top *discordgo.ApplicationCommand) (*discordgo.ApplicationCommandOption, error) {
	for _, o := range top.Options {
		if o.Type == discordgo.ApplicationCommandOptionSubCommandGroup && o.Name == segs[1] {
			return o, nil
		}
	}
	loc, err := LocalizationFor(c, variant, 1)
	if err != nil {
		return nil, err
	}
	group := &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionSubCommandGroup,
		Name:                     segs[1],
		Description:              b.store.Get(b.store.Default(), "SubCommandGroup_Description", segs[0], segs[1]),
		NameLocalizations:        loc.Name,
		DescriptionLocalizations: b.store.Localized("SubCommandGroup_Description", segs[0], segs[1]),
	}
	top.Options = append(top.Options, group)
	return group, nil
}

func localizations(m map[discordgo.Locale]string) *map[discordgo.Locale]string {
	if len(m) == 0 {
		return nil
	}
	return &m
}

func deref(m *map[discordgo.Locale]string) map[discordgo.Locale]string {
	if m == nil {
		return nil
	}
	return *m
}
