package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/shardbot/internal/locale"
)

type fakeState struct {
	owner string
	bot   int64
	user  int64
}

func (f fakeState) GuildOwner(string) (string, error)                       { return f.owner, nil }
func (f fakeState) BotPermissions(string, string) (int64, error)            { return f.bot, nil }
func (f fakeState) MemberPermissions(string, string, string) (int64, error) { return f.user, nil }

func newGuard(t *testing.T, st State, dir *Directory) (*Guard, *time.Time) {
	t.Helper()
	store := locale.Embedded(discordgo.EnglishUS, nil)
	require.NoError(t, store.Init())
	g := NewGuard(store, st, dir, nil)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }
	return g, &now
}

func interaction(guildID, userID string, appPerms, memberPerms int64) *InteractionContext {
	return &InteractionContext{
		Key: "cmd-1",
		Interaction: &discordgo.Interaction{
			GuildID:        guildID,
			ChannelID:      "chan",
			Locale:         discordgo.EnglishUS,
			AppPermissions: appPerms,
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: userID, Username: "tester"},
				Permissions: memberPerms,
			},
		},
	}
}

func TestOnlyGuild(t *testing.T) {
	g, _ := newGuard(t, fakeState{}, nil)
	c := &InteractionContext{Key: "k", Interaction: &discordgo.Interaction{
		Locale: discordgo.EnglishUS,
		User:   &discordgo.User{ID: "u"},
	}}

	reply := g.Check(context.Background(), c, Policy{OnlyGuild: true})
	require.NotNil(t, reply)
	assert.Equal(t, "Server only", reply.Embed.Title)
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, reply.InteractionResponse().Data.Flags)

	assert.Nil(t, g.Check(context.Background(), interaction("g", "u", 0, 0), Policy{OnlyGuild: true}))
}

func TestCooldownBoundary(t *testing.T) {
	g, now := newGuard(t, fakeState{}, nil)
	p := Policy{Cooldown: 3 * time.Second}
	c := interaction("g", "u", 0, 0)

	require.Nil(t, g.Check(context.Background(), c, p), "first use is always allowed")

	*now = now.Add(2999 * time.Millisecond)
	reply := g.Check(context.Background(), c, p)
	require.NotNil(t, reply)
	assert.Equal(t, "Slow down", reply.Embed.Title)
	assert.Contains(t, reply.Embed.Description, "<t:1700000003:R>")

	*now = now.Add(time.Millisecond)
	assert.Nil(t, g.Check(context.Background(), c, p))
}

func TestCooldownIsPerUserAndKey(t *testing.T) {
	g, _ := newGuard(t, fakeState{}, nil)
	p := Policy{Cooldown: time.Minute}

	require.Nil(t, g.Check(context.Background(), interaction("g", "a", 0, 0), p))
	require.Nil(t, g.Check(context.Background(), interaction("g", "b", 0, 0), p))

	other := interaction("g", "a", 0, 0)
	other.Key = "cmd-2"
	require.Nil(t, g.Check(context.Background(), other, p))
	require.NotNil(t, g.Check(context.Background(), interaction("g", "a", 0, 0), p))
}

func TestBotPermissionsCheckedBeforeUser(t *testing.T) {
	g, _ := newGuard(t, fakeState{}, nil)
	p := Policy{
		BotPermissions:  discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak,
		UserPermissions: discordgo.PermissionManageGuild,
	}

	reply := g.Check(context.Background(), interaction("g", "u", discordgo.PermissionVoiceConnect, 0), p)
	require.NotNil(t, reply)
	assert.Equal(t, "Missing bot permissions", reply.Embed.Title)
	assert.Contains(t, reply.Embed.Description, "`Speak`")
	assert.NotContains(t, reply.Embed.Description, "Connect")

	all := int64(discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak)
	reply = g.Check(context.Background(), interaction("g", "u", all, 0), p)
	require.NotNil(t, reply)
	assert.Equal(t, "Missing permissions", reply.Embed.Title)
	assert.Contains(t, reply.Embed.Description, "`Manage Server`")

	assert.Nil(t, g.Check(context.Background(), interaction("g", "u", all, discordgo.PermissionAdministrator), p))
}

func TestMessageContextUsesState(t *testing.T) {
	g, _ := newGuard(t, fakeState{bot: discordgo.PermissionSendMessages}, nil)
	c := &MessageContext{
		Key:        "ping",
		UserLocale: discordgo.Korean,
		Message: &discordgo.Message{
			GuildID:   "g",
			ChannelID: "c",
			Author:    &discordgo.User{ID: "u"},
		},
	}

	reply := g.Check(context.Background(), c, Policy{BotPermissions: discordgo.PermissionEmbedLinks})
	require.NotNil(t, reply)
	assert.False(t, reply.Ephemeral)
	assert.Equal(t, "봇 권한 부족", reply.Embed.Title)
	assert.Contains(t, reply.Embed.Description, "링크 첨부")
}

func TestBotAdminAndDeveloper(t *testing.T) {
	dir := NewDirectory(func(context.Context) (*AppInfo, error) {
		info := &AppInfo{ID: "app"}
		require.NoError(t, jsonInto(info, `{"id":"app","team":{"members":[
			{"role":"admin","user":{"id":"adm"}},
			{"role":"developer","user":{"id":"dev"}}]}}`))
		return info, nil
	})
	g, _ := newGuard(t, fakeState{}, dir)

	assert.Nil(t, g.Check(context.Background(), interaction("g", "adm", 0, 0), Policy{BotAdmin: true}))
	assert.NotNil(t, g.Check(context.Background(), interaction("g", "dev", 0, 0), Policy{BotAdmin: true}))
	assert.Nil(t, g.Check(context.Background(), interaction("g", "dev", 0, 0), Policy{BotAdmin: true, BotDeveloper: true}))

	reply := g.Check(context.Background(), interaction("g", "x", 0, 0), Policy{BotDeveloper: true})
	require.NotNil(t, reply)
	assert.Equal(t, "Only bot administrators can use this command.", reply.Embed.Description)
}

func TestGuildOwner(t *testing.T) {
	g, _ := newGuard(t, fakeState{owner: "own"}, nil)

	assert.Nil(t, g.Check(context.Background(), interaction("g", "own", 0, 0), Policy{GuildOwner: true}))
	assert.NotNil(t, g.Check(context.Background(), interaction("g", "u", 0, 0), Policy{GuildOwner: true}))
}

func TestCheckOrder(t *testing.T) {
	g, _ := newGuard(t, fakeState{owner: "own"}, NewDirectory(func(context.Context) (*AppInfo, error) {
		return nil, errors.New("offline")
	}))
	c := &InteractionContext{Key: "k", Interaction: &discordgo.Interaction{
		Locale: discordgo.EnglishUS,
		User:   &discordgo.User{ID: "u"},
	}}
	p := Policy{OnlyGuild: true, BotAdmin: true, GuildOwner: true, Cooldown: time.Hour}

	reply := g.Check(context.Background(), c, p)
	require.NotNil(t, reply)
	assert.Equal(t, "Server only", reply.Embed.Title)

	reply = g.Check(context.Background(), interaction("g", "u", 0, 0), p)
	require.NotNil(t, reply)
	assert.Equal(t, "Only bot administrators can use this command.", reply.Embed.Description)
}
