package commands

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/component"
	"github.com/keshon/shardbot/internal/locale"
	"github.com/keshon/shardbot/internal/voice"
)

type nopTransport struct{}

func (nopTransport) Connect(context.Context, string, string, voice.Events) (voice.Conn, error) {
	return nil, nil
}

func deps(t *testing.T) Deps {
	t.Helper()
	store := locale.Embedded(discordgo.EnglishUS, nil)
	require.NoError(t, store.Init())
	return Deps{
		Locale:     store,
		Components: component.NewRegistry(),
		Voice:      voice.NewManager(nopTransport{}, nil),
		YouTube:    voice.NewYouTube(),
	}
}

func TestAllRegisters(t *testing.T) {
	d := deps(t)
	cmds, text := All(d)

	r := command.NewRegistry(d.Locale)
	require.NoError(t, r.Register(cmds...))
	require.NoError(t, r.RegisterText(text...))

	tree, err := r.Tree()
	require.NoError(t, err)

	type key struct {
		t    discordgo.ApplicationCommandType
		name string
	}
	byKey := map[key]*discordgo.ApplicationCommand{}
	for _, c := range tree {
		byKey[key{c.Type, c.Name}] = c
	}
	chat := func(name string) *discordgo.ApplicationCommand {
		return byKey[key{discordgo.ChatApplicationCommand, name}]
	}

	require.NotNil(t, chat("ping"))
	require.NotNil(t, byKey[key{discordgo.MessageApplicationCommand, "ping"}])

	test := chat("test")
	require.NotNil(t, test)
	names := map[string]bool{}
	for _, o := range test.Options {
		names[o.Name] = true
	}
	assert.Equal(t, map[string]bool{"subcommand": true, "groupcommand": true, "group": true}, names)
	require.NotNil(t, test.NameLocalizations)
	assert.Equal(t, "테스트", (*test.NameLocalizations)[discordgo.Korean])

	music := chat("music")
	require.NotNil(t, music)
	assert.Len(t, music.Options, 9)

	assert.NotNil(t, r.Find(discordgo.ChatApplicationCommand, "test group sub", ""))
	assert.NotNil(t, r.Find(discordgo.ChatApplicationCommand, "music volume", ""))

	tc, name, _ := r.FindText("핑", "")
	require.NotNil(t, tc)
	assert.Equal(t, "핑", name)
}

func TestAllWithoutVoice(t *testing.T) {
	d := deps(t)
	d.Voice = nil
	cmds, _ := All(d)
	for _, c := range cmds {
		assert.NotContains(t, c.Name[0], "music")
	}
}

func TestFormatQueue(t *testing.T) {
	items := []voice.QueueItem{
		{Metadata: voice.Track{Title: "One", URL: "https://youtu.be/1", Duration: 90 * time.Second}},
		{},
		{Metadata: voice.Track{Title: "Three", URL: "https://youtu.be/3", Duration: time.Minute}},
	}
	assert.Equal(t, "1. [One](https://youtu.be/1) `1m30s`\n2. ?\n3. [Three](https://youtu.be/3) `1m0s`", formatQueue(items, 10))
	assert.Equal(t, "1. [One](https://youtu.be/1) `1m30s`\n... +2", formatQueue(items, 1))
}
