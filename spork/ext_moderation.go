package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"time"
)

var (
	// clearConfirmTimeout is how long 'clear' waits for a yes/no
	clearConfirmTimeout = 15 * time.Second
	clearNoticeDelay    = 30 * time.Second
)

func init() {
	RegisterExtension(
		"exts/moderation", func() Extension {
			return ExtensionFunc(
				func(bot *Spork) error {
					return bot.AddCommand(
						&Command{
							Name:        "clear",
							Description: "Deletes and recreates a channel",
							Guards: []Guard{
								HasPermissions(discordgo.PermissionManageChannels),
								GuildOnly(),
								IsGuildOwner(),
							},
							Slash:   true,
							Handler: clearChannel,
						},
					)
				},
			)
		},
	)
}

// clearChannel asks the guild owner to confirm, then deletes the channel
// and creates a copy of it in the same position
func clearChannel(ctx context.Context, c *Context) error {
	channel, err := c.Channel()
	if err != nil {
		return err
	}
	if channel.Type != discordgo.ChannelTypeGuildText {
		_, err = c.Send("This can only be used in text channels.")
		return err
	}
	guild, err := c.Guild()
	if err != nil {
		return err
	}

	_, err = c.Send(
		fmt.Sprintf(
			"Are you sure you want to clear %s? This will delete the channel and create a new one in its place.\n"+
				"Please with respond with yes or no.",
			channel.Mention(),
		),
	)
	if err != nil {
		return err
	}

	reply, err := c.Bot.WaitForMessage(
		ctx,
		func(m *discordgo.Message) bool {
			return m.Author != nil && m.Author.ID == guild.OwnerID && m.ChannelID == channel.ID
		},
		clearConfirmTimeout,
	)
	// command_timeout may be shorter than the confirmation window
	if errors.Is(err, ErrWaitExpired) || errors.Is(err, context.DeadlineExceeded) {
		_, err = c.Send("This command has expired!")
		return err
	}
	if err != nil {
		return err
	}

	if strings.ToLower(reply.Content) != "yes" {
		_, err = c.Send("Task cancelled.")
		return err
	}

	c.Logger.InfoContext(ctx, "clearing channel", "channel_id", channel.ID, "channel_name", channel.Name)
	if _, err = c.Session.ChannelDelete(channel.ID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("error deleting channel: %w", err)
	}
	created, err := c.Session.GuildChannelCreateComplex(
		c.GuildID,
		discordgo.GuildChannelCreateData{
			Name:                 channel.Name,
			Type:                 channel.Type,
			Topic:                channel.Topic,
			Bitrate:              channel.Bitrate,
			UserLimit:            channel.UserLimit,
			RateLimitPerUser:     channel.RateLimitPerUser,
			Position:             channel.Position,
			PermissionOverwrites: channel.PermissionOverwrites,
			ParentID:             channel.ParentID,
			NSFW:                 channel.NSFW,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error recreating channel: %w", err)
	}

	notice, err := c.Session.ChannelMessageSendComplex(
		created.ID,
		&discordgo.MessageSend{Content: fmt.Sprintf("Cleared %s!", created.Mention())},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	c.Bot.deleteAfter(c, notice, clearNoticeDelay)
	return nil
}
