package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/config"
	"github.com/keshon/shardbot/internal/discord"
	"github.com/keshon/shardbot/internal/policy"
	"github.com/keshon/shardbot/internal/voice"
)

// queuePreview is how many entries /music queue lists.
const queuePreview = 10

var musicPolicy = policy.Policy{
	OnlyGuild:      true,
	BotPermissions: discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak,
}

func music(d Deps) []*command.Command {
	m := &musicCommands{Deps: d}
	return []*command.Command{
		m.declare("Music_Join", m.join),
		m.declare("Music_Play", m.play, command.Option(discordgo.ApplicationCommandOptionString, d.Locale.CommandOption("Music_Play", "Url"), true)),
		m.declare("Music_Skip", m.skip, withMin(command.Option(discordgo.ApplicationCommandOptionInteger, d.Locale.CommandOption("Music_Skip", "Count"), false), 1, 0)),
		m.declare("Music_Shuffle", m.shuffle),
		m.declare("Music_Repeat", m.repeat, m.choices("Music_Repeat", "Mode", "on", "off")),
		m.declare("Music_Volume", m.volume, withMin(command.Option(discordgo.ApplicationCommandOptionInteger, d.Locale.CommandOption("Music_Volume", "Percent"), true), 0, 200)),
		m.declare("Music_Queue", m.queue),
		m.declare("Music_Stop", m.stop),
		m.declare("Music_Quit", m.quit),
	}
}

type musicCommands struct {
	Deps
}

func (m *musicCommands) declare(key string, h command.Handler, opts ...*discordgo.ApplicationCommandOption) *command.Command {
	c := command.Chat(m.Locale.Command(key), h)
	c.Options = opts
	c.Policy = musicPolicy
	return c
}

func (m *musicCommands) choices(cmd, opt string, values ...string) *discordgo.ApplicationCommandOption {
	o := command.Option(discordgo.ApplicationCommandOptionString, m.Locale.CommandOption(cmd, opt), true)
	for _, v := range values {
		name, locs := m.Locale.OptionChoice(cmd, opt, v)
		o.Choices = append(o.Choices, &discordgo.ApplicationCommandOptionChoice{
			Name:              name,
			NameLocalizations: locs,
			Value:             v,
		})
	}
	return o
}

// withMin bounds an integer option. A zero max leaves the upper bound open.
func withMin(o *discordgo.ApplicationCommandOption, lo, hi float64) *discordgo.ApplicationCommandOption {
	o.MinValue = &lo
	if hi > 0 {
		o.MaxValue = hi
	}
	return o
}

func (m *musicCommands) say(in *command.Interaction, key string, args ...any) error {
	return discord.RespondEmbed(in.Session, in.Event, &discordgo.MessageEmbed{
		Description: m.Locale.Get(in.Locale, key, args...),
		Color:       config.SuccessColor,
	}, false)
}

// result answers a manager call, translating a missing session.
func (m *musicCommands) result(in *command.Interaction, err error, key string, args ...any) error {
	if errors.Is(err, voice.ErrNoSession) {
		return discord.Respond(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_NoSession"), true)
	}
	if err != nil {
		return err
	}
	return m.say(in, key, args...)
}

// userChannel returns the voice channel the invoker is in, or "".
func userChannel(s *discordgo.Session, guildID string, u *discordgo.User) string {
	if s == nil || s.State == nil || u == nil {
		return ""
	}
	vs, err := s.State.VoiceState(guildID, u.ID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (m *musicCommands) join(ctx context.Context, in *command.Interaction) error {
	channel := userChannel(in.Session, in.Event.GuildID, discord.InteractionUser(in.Event))
	if channel == "" {
		return discord.Respond(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_NotInVoice"), true)
	}
	if err := discord.Defer(in.Session, in.Event, false); err != nil {
		return err
	}
	if err := m.Voice.Join(ctx, in.Event.GuildID, channel, voice.Option{AutoLeave: true}); err != nil {
		return err
	}
	return discord.Edit(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_Joined", channel))
}

func (m *musicCommands) play(ctx context.Context, in *command.Interaction) error {
	guildID := in.Event.GuildID
	channel := ""
	if !m.Voice.Joined(guildID) {
		channel = userChannel(in.Session, guildID, discord.InteractionUser(in.Event))
		if channel == "" {
			return discord.Respond(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_NotInVoice"), true)
		}
	}
	if err := discord.Defer(in.Session, in.Event, false); err != nil {
		return err
	}
	if channel != "" {
		if err := m.Voice.Join(ctx, guildID, channel, voice.Option{AutoLeave: true}); err != nil {
			return err
		}
	}

	query := ""
	if o, ok := in.Options()["url"]; ok {
		query = o.StringValue()
	}
	item, track, err := m.YouTube.Item(ctx, query)
	if err != nil {
		_ = discord.Edit(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_ResolveFailed"))
		return fmt.Errorf("resolve %q: %w", query, err)
	}
	pos, err := m.Voice.Play(ctx, guildID, item)
	if errors.Is(err, voice.ErrNoSession) {
		return discord.Edit(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_NoSession"))
	}
	if err != nil {
		return err
	}
	return discord.Edit(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_Queued", track.Title, pos))
}

func (m *musicCommands) skip(ctx context.Context, in *command.Interaction) error {
	n := 1
	if o, ok := in.Options()["count"]; ok {
		n = int(o.IntValue())
	}
	return m.result(in, m.Voice.Skip(in.Event.GuildID, n), "Music_Skipped")
}

func (m *musicCommands) shuffle(ctx context.Context, in *command.Interaction) error {
	return m.result(in, m.Voice.Shuffle(in.Event.GuildID), "Music_Shuffled")
}

func (m *musicCommands) repeat(ctx context.Context, in *command.Interaction) error {
	on := false
	if o, ok := in.Options()["mode"]; ok {
		on = o.StringValue() == "on"
	}
	key := "Music_Repeat_Off"
	if on {
		key = "Music_Repeat_On"
	}
	return m.result(in, m.Voice.Repeat(in.Event.GuildID, on), key)
}

func (m *musicCommands) volume(ctx context.Context, in *command.Interaction) error {
	percent := int64(100)
	if o, ok := in.Options()["percent"]; ok {
		percent = o.IntValue()
	}
	v, err := m.Voice.Volume(in.Event.GuildID, float64(percent)/100)
	return m.result(in, err, "Music_Volume", int(math.Round(v*100)))
}

func (m *musicCommands) queue(ctx context.Context, in *command.Interaction) error {
	items, err := m.Voice.Queue(in.Event.GuildID)
	if errors.Is(err, voice.ErrNoSession) {
		return discord.Respond(in.Session, in.Event, m.Locale.Get(in.Locale, "Music_NoSession"), true)
	}
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return m.say(in, "Music_Queue_Empty")
	}
	return discord.RespondEmbed(in.Session, in.Event, &discordgo.MessageEmbed{
		Title:       m.Locale.Get(in.Locale, "Music_Queue_Title"),
		Description: formatQueue(items, queuePreview),
		Color:       config.SuccessColor,
	}, false)
}

// formatQueue lists up to limit items, head first, and counts the rest.
func formatQueue(items []voice.QueueItem, limit int) string {
	var b strings.Builder
	for i, it := range items {
		if i == limit {
			fmt.Fprintf(&b, "... +%d", len(items)-limit)
			break
		}
		title := "?"
		if t, ok := it.Metadata.(voice.Track); ok {
			title = fmt.Sprintf("[%s](%s) `%s`", t.Title, t.URL, t.Duration)
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, title)
	}
	return strings.TrimSpace(b.String())
}

func (m *musicCommands) stop(ctx context.Context, in *command.Interaction) error {
	return m.result(in, m.Voice.Stop(in.Event.GuildID), "Music_Stopped")
}

func (m *musicCommands) quit(ctx context.Context, in *command.Interaction) error {
	return m.result(in, m.Voice.Quit(in.Event.GuildID), "Music_Left")
}
