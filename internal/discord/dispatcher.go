// Package discord routes gateway events to the command, component and text
// command registries and keeps the lifecycle hooks (command push, guild rows,
// voice state) in one place.
package discord

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/component"
	"github.com/keshon/shardbot/internal/locale"
	"github.com/keshon/shardbot/internal/policy"
	"github.com/keshon/shardbot/internal/storage"
	"github.com/keshon/shardbot/internal/voice"
	"github.com/keshon/shardbot/pkg/cmd"
)

// TextReplyTimeout is how long a policy reply to a text command stays up.
const TextReplyTimeout = 5 * time.Second

// textPermissions must be granted in a channel before text commands there are
// considered at all.
const textPermissions = discordgo.PermissionSendMessages | discordgo.PermissionViewChannel

// RecordStore creates guild and user rows on demand.
type RecordStore interface {
	Ensure(ctx context.Context, id string) (*storage.Record, bool, error)
}

// Dispatcher turns gateway events into handler calls.
type Dispatcher struct {
	Commands   *command.Registry
	Components *component.Registry
	Guard      *policy.Guard
	Locale     *locale.Store
	State      policy.State
	Prefixes   []string
	Logger     *log.Logger

	// Publisher pushes the command trees on the first Ready. Nil disables it.
	Publisher *command.Publisher
	Voice     *voice.Manager
	Guilds    RecordStore
	Users     RecordStore

	Locales  *LocaleCache
	Timeouts *TimeoutMessages

	pushOnce sync.Once
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger == nil {
		return log.Default()
	}
	return d.Logger
}

// Attach subscribes d to the events of s. ctx bounds every handler.
func (d *Dispatcher) Attach(ctx context.Context, s *discordgo.Session) {
	if d.Locales == nil {
		d.Locales = NewLocaleCache()
	}
	if d.Timeouts == nil {
		d.Timeouts = NewTimeoutMessages()
	}
	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) { d.onReady(ctx, s, r) })
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { d.onInteraction(ctx, s, i) })
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) { d.onMessage(ctx, s, m) })
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { d.onGuildCreate(ctx, g) })
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) { d.onGuildDelete(g) })
	s.AddHandler(func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) { d.onVoiceState(ctx, s, v) })
}

// invoke runs fn behind panic recovery and logging tagged with the source
// location of handler.
func (d *Dispatcher) invoke(ctx context.Context, kind, name string, handler any, fn func(context.Context) error) error {
	loc := cmd.Location(handler)
	h := cmd.Apply(
		func(ctx context.Context, _ *cmd.Invocation) error { return fn(ctx) },
		cmd.WithLogger(d.logger(), loc),
		cmd.Recover(loc),
	)
	return h(ctx, &cmd.Invocation{Name: name, Kind: kind})
}

func (d *Dispatcher) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if u := InteractionUser(i); u != nil {
		d.Locales.Set(u.ID, i.Locale)
	}

	switch kind := Classify(i.Interaction); kind {
	case KindAutocomplete:
		d.autocomplete(ctx, s, i)
	case KindChatInput, KindContextMenu:
		d.command(ctx, s, i, kind)
	case KindComponent, KindModal:
		d.component(ctx, s, i, kind)
	default:
		d.logger().Debug("ignoring interaction", "type", i.Type)
	}
}

func (d *Dispatcher) autocomplete(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, name := CommandKey(i.Interaction)
	c := d.Commands.Find(t, name, i.GuildID)
	if c == nil || c.Autocomplete == nil {
		return
	}
	in := &command.Interaction{Session: s, Event: i, Locale: i.Locale, Name: name}
	_ = d.invoke(ctx, KindAutocomplete.String(), name, c.Autocomplete, func(ctx context.Context) error {
		return c.Autocomplete(ctx, in)
	})
}

func (d *Dispatcher) command(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, kind Kind) {
	t, name := CommandKey(i.Interaction)
	c := d.Commands.Find(t, name, i.GuildID)
	if c == nil {
		d.logger().Warn("unknown command", "name", name, "type", t)
		return
	}

	pc := &policy.InteractionContext{Interaction: i.Interaction, Key: i.ApplicationCommandData().ID}
	if reply := d.Guard.Check(ctx, pc, c.Policy); reply != nil {
		if err := s.InteractionRespond(i.Interaction, reply.InteractionResponse()); err != nil {
			d.logger().Warn("policy reply failed", "name", name, "err", err)
		}
		return
	}

	d.ensureUser(ctx, InteractionUser(i))

	in := &command.Interaction{Session: s, Event: i, Locale: i.Locale, Name: name}
	err := d.invoke(ctx, kind.String(), name, c.Handler, func(ctx context.Context) error {
		return c.Handler(ctx, in)
	})
	if err != nil {
		d.replyError(s, i)
	}
}

func (d *Dispatcher) component(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, kind Kind) {
	t, id := ComponentKey(i.Interaction)
	d.Components.RemoveExpired()
	e := d.Components.Find(t, id)
	if e == nil {
		d.logger().Debug("no component", "id", id, "type", t)
		return
	}

	pc := &policy.InteractionContext{Interaction: i.Interaction, Key: e.Prefix}
	if reply := d.Guard.Check(ctx, pc, e.Policy); reply != nil {
		if err := s.InteractionRespond(i.Interaction, reply.InteractionResponse()); err != nil {
			d.logger().Warn("policy reply failed", "component", e.Prefix, "err", err)
		}
		return
	}

	if e.Once {
		d.Components.Remove(t, id)
	} else {
		d.Components.Touch(t, id)
	}

	in := &component.Interaction{Session: s, Event: i, Locale: i.Locale, Prefix: e.Prefix, ID: id}
	err := d.invoke(ctx, kind.String(), e.Prefix, e.Handler, func(ctx context.Context) error {
		return e.Handler(ctx, in)
	})
	if err != nil {
		d.replyError(s, i)
	}
}

func (d *Dispatcher) replyError(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := ErrorEmbed(d.Locale, i.Locale, InteractionUser(i))
	if err := respondError(s, i, embed); err != nil {
		d.logger().Debug("error reply failed", "err", err)
	}
}
