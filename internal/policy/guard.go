package policy

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/keshon/shardbot/internal/config"
	"github.com/keshon/shardbot/internal/locale"
)

// Reply is the user facing answer to a failed check.
type Reply struct {
	Embed     *discordgo.MessageEmbed
	Ephemeral bool
}

// InteractionResponse renders the reply as an interaction response.
func (r *Reply) InteractionResponse() *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Embeds:          []*discordgo.MessageEmbed{r.Embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

// MessageSend renders the reply as a message answering ref.
func (r *Reply) MessageSend(ref *discordgo.MessageReference) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{r.Embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
		Reference:       ref,
	}
}

// Guard evaluates policies. Checks run in a fixed order and the first failing
// one produces the reply.
type Guard struct {
	locale    *locale.Store
	state     State
	directory *Directory
	cooldowns *Cooldowns
	logger    *log.Logger
	now       func() time.Time
}

// NewGuard wires a guard. directory may be nil when no policy uses BotAdmin or
// BotDeveloper.
func NewGuard(store *locale.Store, state State, directory *Directory, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.Default()
	}
	return &Guard{
		locale:    store,
		state:     state,
		directory: directory,
		cooldowns: NewCooldowns(),
		logger:    logger,
		now:       time.Now,
	}
}

// Check returns nil when c satisfies p.
func (g *Guard) Check(ctx context.Context, c Context, p Policy) *Reply {
	loc := c.Locale()
	user := c.User()
	inGuild := c.GuildID() != ""

	if p.OnlyGuild && !inGuild {
		return g.reply(c, "Embed_Warn_OnlyCanUseInGuild")
	}

	if p.Cooldown > 0 {
		if next, ok := g.cooldowns.Try(user.ID, c.CooldownKey(), p.Cooldown, g.now()); !ok {
			return g.reply(c, "Embed_Warn_CommandCooldown", next.Unix())
		}
	}

	if inGuild && (p.BotPermissions != 0 || p.UserPermissions != 0) {
		bot, member, err := c.permissions(g.state)
		if err != nil {
			g.logger.Warn("permission lookup failed", "guild", c.GuildID(), "channel", c.ChannelID(), "err", err)
		}
		if p.BotPermissions != 0 {
			if missing := Missing(bot, p.BotPermissions); len(missing) > 0 {
				return g.reply(c, "Embed_Warn_BotRequirePermission", g.permissionList(loc, missing))
			}
		}
		if p.UserPermissions != 0 {
			if missing := Missing(member, p.UserPermissions); len(missing) > 0 {
				return g.reply(c, "Embed_Warn_UserRequirePermission", g.permissionList(loc, missing))
			}
		}
	}

	if p.BotAdmin || p.BotDeveloper {
		if !g.privileged(ctx, user.ID, p) {
			return g.reply(c, "Embed_Warn_OnlyBotAdminCanUse")
		}
	}

	if p.GuildOwner {
		owner := ""
		if inGuild {
			var err error
			if owner, err = g.state.GuildOwner(c.GuildID()); err != nil {
				g.logger.Warn("guild owner lookup failed", "guild", c.GuildID(), "err", err)
			}
		}
		if owner != user.ID {
			return g.reply(c, "Embed_Warn_OnlyGuildOwnerCanUse")
		}
	}

	return nil
}

func (g *Guard) privileged(ctx context.Context, userID string, p Policy) bool {
	if g.directory == nil {
		return false
	}
	var allowed []string
	if p.BotAdmin {
		ids, err := g.directory.Admins(ctx)
		if err != nil {
			g.logger.Error("application info unavailable", "err", err)
		}
		allowed = append(allowed, ids...)
	}
	if p.BotDeveloper {
		ids, err := g.directory.Developers(ctx)
		if err != nil {
			g.logger.Error("application info unavailable", "err", err)
		}
		allowed = append(allowed, ids...)
	}
	return slices.Contains(allowed, userID)
}

func (g *Guard) permissionList(loc discordgo.Locale, names []string) string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = g.locale.Get(loc, "Permission_"+name)
	}
	return "`" + strings.Join(out, "`, `") + "`"
}

func (g *Guard) reply(c Context, key string, args ...any) *Reply {
	return &Reply{
		Embed:     WarnEmbed(g.locale, c.Locale(), c.User(), key, g.now(), args...),
		Ephemeral: c.Ephemeral(),
	}
}

// WarnEmbed builds the warn coloured embed for the <key>_Title and
// <key>_Description strings.
func WarnEmbed(store *locale.Store, loc discordgo.Locale, user *discordgo.User, key string, now time.Time, args ...any) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       store.Get(loc, key+"_Title"),
		Description: store.Get(loc, key+"_Description", args...),
		Color:       config.WarnColor,
		Timestamp:   now.Format(time.RFC3339),
	}
	if user != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    user.String(),
			IconURL: user.AvatarURL(""),
		}
	}
	return embed
}
