package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// sync specs, for when no guild IDs are given
const (
	syncCurrentGuild  = "~"
	syncCopyGlobal    = "*"
	syncClearGuild    = "^"
	syncSpecGlobalMsg = "globally"
	syncSpecGuildMsg  = "to the current guild."
)

func init() {
	RegisterExtension(
		"exts/dev", func() Extension {
			return ExtensionFunc(
				func(bot *Spork) error {
					return bot.AddCommand(
						&Command{
							Name:        "sync",
							Description: "Syncs command tree.",
							Params: []Param{
								{Name: "guilds", Description: "The guilds to sync to"},
								{Name: "spec", Description: "~ current guild, * globals to current guild, ^ clear current guild"},
							},
							Guards:  []Guard{GuildOnly(), IsOwner()},
							Hidden:  true,
							Handler: syncTree,
						},
					)
				},
			)
		},
	)
}

// parseSyncArgs splits the leading guild IDs from an optional trailing spec
func parseSyncArgs(args []string) (guildIDs []string, spec string, err error) {
	i := 0
	for ; i < len(args); i++ {
		if !snowflakePattern.MatchString(args[i]) {
			break
		}
		guildIDs = append(guildIDs, args[i])
	}
	rest := args[i:]
	if len(rest) == 0 {
		return guildIDs, "", nil
	}
	switch rest[0] {
	case syncCurrentGuild, syncCopyGlobal, syncClearGuild:
		spec = rest[0]
	default:
		return guildIDs, "", &BadArgumentError{
			Param: Param{Name: "spec"},
			Value: rest[0],
			Err:   errors.New("spec must be one of ~, *, ^"),
		}
	}
	return guildIDs, spec, nil
}

// syncTree overwrites the application commands registered with discord,
// globally or for the current guild (per spec), or for each guild given
func syncTree(ctx context.Context, c *Context) error {
	guildIDs, spec, err := parseSyncArgs(c.Args)
	if err != nil {
		return err
	}
	bot := c.Bot

	if len(guildIDs) == 0 {
		var synced []*discordgo.ApplicationCommand
		switch spec {
		case syncCurrentGuild:
			synced, err = bot.SyncCommands(ctx, c.GuildID)
		case syncCopyGlobal:
			bot.Tree().CopyGlobalTo(c.GuildID)
			synced, err = bot.SyncCommands(ctx, c.GuildID)
		case syncClearGuild:
			bot.Tree().ClearCommands(c.GuildID)
			_, err = bot.SyncCommands(ctx, c.GuildID)
		default:
			synced, err = bot.SyncCommands(ctx, "")
		}
		if err != nil {
			return err
		}
		where := syncSpecGlobalMsg
		if spec != "" {
			where = syncSpecGuildMsg
		}
		_, err = c.Send(fmt.Sprintf("Synced %d commands %s", len(synced), where))
		return err
	}

	ok := 0
	for _, guildID := range guildIDs {
		if _, syncErr := bot.SyncCommands(ctx, guildID); syncErr != nil {
			var restErr *discordgo.RESTError
			if !errors.As(syncErr, &restErr) {
				return syncErr
			}
			c.Logger.WarnContext(ctx, "error syncing guild", "guild_id", guildID, tint.Err(syncErr))
			continue
		}
		ok++
	}
	_, err = c.Send(fmt.Sprintf("Synced the tree to %d/%d.", ok, len(guildIDs)))
	return err
}
