package spork

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"sort"
	"sync"
)

// CommandTree holds the application commands the bot would register,
// globally and per guild. Nothing is sent to discord until SyncCommands.
type CommandTree struct {
	mu     sync.Mutex
	global map[string]*discordgo.ApplicationCommand
	guilds map[string]map[string]*discordgo.ApplicationCommand
}

func NewCommandTree() *CommandTree {
	return &CommandTree{
		global: map[string]*discordgo.ApplicationCommand{},
		guilds: map[string]map[string]*discordgo.ApplicationCommand{},
	}
}

// AddCommand adds (or replaces) a global command
func (t *CommandTree) AddCommand(cmd *discordgo.ApplicationCommand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global[cmd.Name] = cmd
}

// RemoveCommand removes a global command
func (t *CommandTree) RemoveCommand(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.global, name)
}

// CopyGlobalTo copies every global command into the guild's set, so
// they show up there without waiting on global propagation
func (t *CommandTree) CopyGlobalTo(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cmds, ok := t.guilds[guildID]
	if !ok {
		cmds = map[string]*discordgo.ApplicationCommand{}
		t.guilds[guildID] = cmds
	}
	for name, cmd := range t.global {
		c := *cmd
		c.GuildID = guildID
		cmds[name] = &c
	}
}

// ClearCommands empties the guild's set, or the global set when guildID
// is empty
func (t *CommandTree) ClearCommands(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if guildID == "" {
		t.global = map[string]*discordgo.ApplicationCommand{}
		return
	}
	delete(t.guilds, guildID)
}

// GetCommands returns the commands for the guild (or global, when empty),
// sorted by name. The result is never nil.
func (t *CommandTree) GetCommands(guildID string) []*discordgo.ApplicationCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.global
	if guildID != "" {
		src = t.guilds[guildID]
	}
	cmds := make([]*discordgo.ApplicationCommand, 0, len(src))
	for _, cmd := range src {
		cmds = append(cmds, cmd)
	}
	sort.Slice(
		cmds, func(i, j int) bool {
			return cmds[i].Name < cmds[j].Name
		},
	)
	return cmds
}

// SyncCommands overwrites the application commands registered with
// discord for the guild (or globally, when guildID is empty) with what's
// in the tree
func (s *Spork) SyncCommands(
	ctx context.Context,
	guildID string,
) ([]*discordgo.ApplicationCommand, error) {
	cmds := s.tree.GetCommands(guildID)
	s.logger.InfoContext(ctx, "syncing commands", "guild_id", guildID, "count", len(cmds))
	return s.session.ApplicationCommandBulkOverwrite(
		s.ApplicationID(),
		guildID,
		cmds,
		discordgo.WithContext(ctx),
	)
}

// Tree returns the bot's application command tree
func (s *Spork) Tree() *CommandTree {
	return s.tree
}
