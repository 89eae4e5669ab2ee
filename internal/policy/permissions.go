package policy

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// permissionKeys maps permission bits to the suffix of their Permission_<Name>
// localization key, in display order.
var permissionKeys = []struct {
	Bit  int64
	Name string
}{
	{discordgo.PermissionCreateInstantInvite, "CreateInstantInvite"},
	{discordgo.PermissionKickMembers, "KickMembers"},
	{discordgo.PermissionBanMembers, "BanMembers"},
	{discordgo.PermissionAdministrator, "Administrator"},
	{discordgo.PermissionManageChannels, "ManageChannels"},
	{discordgo.PermissionManageGuild, "ManageGuild"},
	{discordgo.PermissionAddReactions, "AddReactions"},
	{discordgo.PermissionViewAuditLogs, "ViewAuditLog"},
	{discordgo.PermissionVoicePrioritySpeaker, "PrioritySpeaker"},
	{discordgo.PermissionVoiceStreamVideo, "Stream"},
	{discordgo.PermissionViewChannel, "ViewChannel"},
	{discordgo.PermissionSendMessages, "SendMessages"},
	{discordgo.PermissionSendTTSMessages, "SendTTSMessages"},
	{discordgo.PermissionManageMessages, "ManageMessages"},
	{discordgo.PermissionEmbedLinks, "EmbedLinks"},
	{discordgo.PermissionAttachFiles, "AttachFiles"},
	{discordgo.PermissionReadMessageHistory, "ReadMessageHistory"},
	{discordgo.PermissionMentionEveryone, "MentionEveryone"},
	{discordgo.PermissionUseExternalEmojis, "UseExternalEmojis"},
	{discordgo.PermissionVoiceConnect, "Connect"},
	{discordgo.PermissionVoiceSpeak, "Speak"},
	{discordgo.PermissionVoiceMuteMembers, "MuteMembers"},
	{discordgo.PermissionVoiceDeafenMembers, "DeafenMembers"},
	{discordgo.PermissionVoiceMoveMembers, "MoveMembers"},
	{discordgo.PermissionVoiceUseVAD, "UseVAD"},
	{discordgo.PermissionChangeNickname, "ChangeNickname"},
	{discordgo.PermissionManageNicknames, "ManageNicknames"},
	{discordgo.PermissionManageRoles, "ManageRoles"},
	{discordgo.PermissionManageWebhooks, "ManageWebhooks"},
	{discordgo.PermissionUseApplicationCommands, "UseApplicationCommands"},
	{discordgo.PermissionManageThreads, "ManageThreads"},
	{discordgo.PermissionCreatePublicThreads, "CreatePublicThreads"},
	{discordgo.PermissionCreatePrivateThreads, "CreatePrivateThreads"},
	{discordgo.PermissionSendMessagesInThreads, "SendMessagesInThreads"},
	{discordgo.PermissionModerateMembers, "ModerateMembers"},
}

// Missing returns the localization names of the bits in required that are not
// set in has. Administrator implies every permission.
func Missing(has, required int64) []string {
	if has&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var out []string
	for _, p := range permissionKeys {
		if required&p.Bit != 0 && has&p.Bit == 0 {
			out = append(out, p.Name)
		}
	}
	return out
}

// State answers the permission and ownership questions the guard cannot read
// off the event itself.
type State interface {
	GuildOwner(guildID string) (string, error)
	BotPermissions(guildID, channelID string) (int64, error)
	MemberPermissions(guildID, channelID, userID string) (int64, error)
}

// SessionState reads from the state cache of the session owning the guild and
// falls back to REST.
type SessionState struct {
	Session func(guildID string) *discordgo.Session
}

func (st SessionState) GuildOwner(guildID string) (string, error) {
	s := st.Session(guildID)
	guild, err := s.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, err = s.Guild(guildID)
		if err != nil {
			return "", fmt.Errorf("fetch guild %s: %w", guildID, err)
		}
	}
	return guild.OwnerID, nil
}

func (st SessionState) BotPermissions(guildID, channelID string) (int64, error) {
	return st.MemberPermissions(guildID, channelID, st.Session(guildID).State.User.ID)
}

func (st SessionState) MemberPermissions(guildID, channelID, userID string) (int64, error) {
	s := st.Session(guildID)
	perms, err := s.State.UserChannelPermissions(userID, channelID)
	if err == nil {
		return perms, nil
	}
	perms, err = s.UserChannelPermissions(userID, channelID)
	if err != nil {
		return 0, fmt.Errorf("permissions of %s in %s: %w", userID, channelID, err)
	}
	return perms, nil
}
