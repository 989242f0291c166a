package spork

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"sort"
)

// permissionNames are used when reporting missing permissions
var permissionNames = map[int64]string{
	discordgo.PermissionAdministrator:      "Administrator",
	discordgo.PermissionManageChannels:     "Manage Channels",
	discordgo.PermissionManageMessages:     "Manage Messages",
	discordgo.PermissionManageGuild:        "Manage Server",
	discordgo.PermissionManageRoles:        "Manage Roles",
	discordgo.PermissionKickMembers:        "Kick Members",
	discordgo.PermissionBanMembers:         "Ban Members",
	discordgo.PermissionSendMessages:       "Send Messages",
	discordgo.PermissionReadMessageHistory: "Read Message History",
	discordgo.PermissionViewChannel:        "View Channel",
	discordgo.PermissionEmbedLinks:         "Embed Links",
}

// GuildOnly fails with *NoPrivateMessageError outside of a guild
func GuildOnly() Guard {
	return func(_ context.Context, c *Context) error {
		if c.GuildID == "" {
			return &NoPrivateMessageError{}
		}
		return nil
	}
}

// IsOwner fails with *NotOwnerError unless the author owns the bot
func IsOwner() Guard {
	return func(_ context.Context, c *Context) error {
		if !c.IsOwner() {
			return &NotOwnerError{}
		}
		return nil
	}
}

// IsGuildOwner fails with *NotGuildOwnerError unless the author owns
// the guild the command was used in
func IsGuildOwner() Guard {
	return func(_ context.Context, c *Context) error {
		if c.GuildID == "" {
			return &NoPrivateMessageError{}
		}
		guild, err := c.Guild()
		if err != nil {
			return err
		}
		if c.Author == nil || guild.OwnerID != c.Author.ID {
			return &NotGuildOwnerError{}
		}
		return nil
	}
}

// HasPermissions fails with *MissingPermissionsError unless the author has
// every one of perms in the invoking channel. Administrators pass.
func HasPermissions(perms int64) Guard {
	return func(_ context.Context, c *Context) error {
		if c.GuildID == "" {
			return &NoPrivateMessageError{}
		}
		have, err := c.authorPermissions()
		if err != nil {
			return err
		}
		if have&discordgo.PermissionAdministrator != 0 {
			return nil
		}
		if missing := missingPermissions(have, perms); len(missing) > 0 {
			return &MissingPermissionsError{Missing: missing}
		}
		return nil
	}
}

// authorPermissions returns the author's permissions in the invoking
// channel. Interactions carry them already.
func (c *Context) authorPermissions() (int64, error) {
	if c.Interaction != nil && c.Interaction.Member != nil {
		return c.Interaction.Member.Permissions, nil
	}
	return c.Session.UserChannelPermissions(c.Author.ID, c.ChannelID)
}

// missingPermissions names every bit of want that have lacks. Bits
// without a name are reported in hex.
func missingPermissions(have int64, want int64) []string {
	lacking := want &^ have
	var missing []string
	for bit := 0; bit < 63; bit++ {
		perm := int64(1) << bit
		if lacking&perm == 0 {
			continue
		}
		if name, ok := permissionNames[perm]; ok {
			missing = append(missing, name)
		} else {
			missing = append(missing, fmt.Sprintf("0x%x", perm))
		}
	}
	sort.Strings(missing)
	return missing
}
