package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// EventName identifies the gateway events listeners can be added for
type EventName string

const (
	// EventMessage listeners receive a *discordgo.MessageCreate
	EventMessage EventName = "message"

	// EventMessageEdit listeners receive a *discordgo.MessageUpdate
	EventMessageEdit EventName = "message_edit"

	// EventReady listeners receive a *discordgo.Ready
	EventReady EventName = "ready"
)

// Listener is an event hook. Every listener added for an event is
// called for it, whether or not any of the others fail.
type Listener func(ctx context.Context, event any) error

type listener struct {
	name      string
	extension string
	fn        Listener
}

// AddCommand registers cmd under its name and aliases. Commands added
// while an extension is loading belong to that extension, and are removed
// with it.
func (s *Spork) AddCommand(cmd *Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := append([]string{cmd.Name}, cmd.Aliases...)
	seen := map[string]bool{}
	for _, name := range names {
		key := s.commandKey(name)
		if _, exists := s.commands[key]; exists || seen[key] {
			return fmt.Errorf("%w: %s", ErrCommandExists, name)
		}
		seen[key] = true
	}

	cmd.extension = s.loading
	if cmd.Cooldown != nil {
		cmd.cooldowns = NewCooldownMapping(*cmd.Cooldown)
	}
	for _, name := range names {
		s.commands[s.commandKey(name)] = cmd
	}
	if cmd.Slash {
		s.tree.AddCommand(cmd.ApplicationCommand())
	}
	s.logger.Debug("added command", "command", cmd.Name, "aliases", cmd.Aliases, "extension", cmd.extension)
	return nil
}

// RemoveCommand removes a command by its name or any alias, returning
// the removed command, or nil if nothing was registered under name.
func (s *Spork) RemoveCommand(name string) *Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[s.commandKey(name)]
	if !ok {
		return nil
	}
	s.unsafeRemoveCommand(cmd)
	return cmd
}

func (s *Spork) unsafeRemoveCommand(cmd *Command) {
	for key, c := range s.commands {
		if c == cmd {
			delete(s.commands, key)
		}
	}
	if cmd.Slash {
		s.tree.RemoveCommand(cmd.Name)
	}
}

// Command returns the command registered under name (or alias)
func (s *Spork) Command(name string) *Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commands[s.commandKey(name)]
}

// Commands returns every registered command once, sorted by name
func (s *Spork) Commands() []*Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[*Command]bool{}
	cmds := make([]*Command, 0, len(s.commands))
	for _, cmd := range s.commands {
		if seen[cmd] {
			continue
		}
		seen[cmd] = true
		cmds = append(cmds, cmd)
	}
	sort.Slice(
		cmds, func(i, j int) bool {
			return cmds[i].Name < cmds[j].Name
		},
	)
	return cmds
}

func (s *Spork) commandKey(name string) string {
	if s.config.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// AddListener adds a hook for the given event
func (s *Spork) AddListener(event EventName, name string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(
		s.listeners[event],
		&listener{name: name, extension: s.loading, fn: fn},
	)
}

// Listeners returns the names of the listeners added for event
func (s *Spork) Listeners(event EventName) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.listeners[event]))
	for _, l := range s.listeners[event] {
		names = append(names, l.name)
	}
	return names
}

// removeExtensionHandlers drops every command and listener the named
// extension added
func (s *Spork) removeExtensionHandlers(extension string) (commands int, listeners int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := map[*Command]bool{}
	for _, cmd := range s.commands {
		if cmd.extension == extension && !removed[cmd] {
			removed[cmd] = true
		}
	}
	for cmd := range removed {
		s.unsafeRemoveCommand(cmd)
	}

	for event, ls := range s.listeners {
		kept := ls[:0]
		for _, l := range ls {
			if l.extension == extension {
				listeners++
				continue
			}
			kept = append(kept, l)
		}
		s.listeners[event] = kept
	}
	return len(removed), listeners
}

func (s *Spork) dispatchEvent(ctx context.Context, event EventName, payload any) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners[event])
	s.mu.RUnlock()

	for _, l := range listeners {
		s.runListener(ctx, event, l, payload)
	}
}

func (s *Spork) runListener(ctx context.Context, event EventName, l *listener, payload any) {
	logger := s.logger.With("event", event, "listener", l.name)
	defer func() {
		if rc := recover(); rc != nil {
			s.handleRecover(WithLogger(ctx, logger), rc)
		}
	}()
	if err := l.fn(ctx, payload); err != nil {
		logger.ErrorContext(ctx, "listener error", tint.Err(err))
	}
}

// Prefixes returns the configured prefixes, plus both forms of the
// bot's mention once the bot user is known.
func (s *Spork) Prefixes() []string {
	prefixes := slices.Clone(s.config.Prefixes)
	if u := s.user.Load(); u != nil {
		prefixes = append(prefixes, "<@"+u.ID+"> ", "<@!"+u.ID+"> ")
	}
	return prefixes
}

// matchPrefix returns the longest prefix content starts with, as it was
// written in content.
func (s *Spork) matchPrefix(content string) (string, bool) {
	best := ""
	for _, p := range s.Prefixes() {
		if p == "" || len(p) > len(content) || len(p) <= len(best) {
			continue
		}
		head := content[:len(p)]
		if head == p || (s.config.CaseInsensitive && strings.EqualFold(head, p)) {
			best = head
		}
	}
	return best, best != ""
}

// splitArgs splits s on whitespace, keeping double-quoted runs together
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	hasToken := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case unicode.IsSpace(r) && !inQuotes:
			if hasToken {
				args = append(args, current.String())
				current.Reset()
				hasToken = false
			}
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}
	if hasToken {
		args = append(args, current.String())
	}
	return args
}

func (s *Spork) handleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Message == nil {
		return
	}
	s.notifyWaiters(m.Message)
	s.dispatchEvent(ctx, EventMessage, m)
	s.processCommands(ctx, m.Message, false)
}

// handleMessageUpdate re-runs command processing when a message's
// content changes, so fixing a typo in a command invokes it.
func (s *Spork) handleMessageUpdate(ctx context.Context, m *discordgo.MessageUpdate) {
	if m.Message == nil {
		return
	}
	s.dispatchEvent(ctx, EventMessageEdit, m)
	if m.BeforeUpdate != nil && m.BeforeUpdate.Content == m.Content {
		return
	}
	s.processCommands(ctx, m.Message, true)
}

// processCommands resolves a message to a command, and runs it
func (s *Spork) processCommands(ctx context.Context, m *discordgo.Message, edited bool) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if u := s.user.Load(); u != nil && m.Author.ID == u.ID {
		return
	}

	prefix, ok := s.matchPrefix(m.Content)
	if !ok {
		return
	}
	tokens := splitArgs(m.Content[len(prefix):])
	if len(tokens) == 0 {
		return
	}

	c := &Context{
		Bot:         s,
		Session:     s.session,
		Message:     m,
		Prefix:      prefix,
		InvokedWith: tokens[0],
		Args:        tokens[1:],
		Author:      m.Author,
		Member:      m.Member,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		Edited:      edited,
		Logger: s.logger.With(
			slog.Group("message", messageLogAttrs(m)...),
			"invoked_with", tokens[0],
		),
	}

	c.Command = s.Command(c.InvokedWith)
	if c.Command == nil {
		if edited {
			return
		}
		s.dispatchError(ctx, c, fmt.Errorf("%w: %s", ErrCommandNotFound, c.InvokedWith))
		return
	}
	s.runCommand(ctx, c)
}

func (s *Spork) handleInteractionCreate(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	c := &Context{
		Bot:         s,
		Session:     s.session,
		Interaction: i,
		Prefix:      "/",
		InvokedWith: data.Name,
		Author:      getDiscordUser(i),
		Member:      i.Member,
		ChannelID:   i.ChannelID,
		GuildID:     i.GuildID,
		Logger: s.logger.With(
			slog.Group("interaction", interactionLogAttrs(*i)...),
			"invoked_with", data.Name,
		),
	}

	c.Command = s.Command(data.Name)
	if c.Command == nil || !c.Command.Slash {
		c.Command = nil
		s.dispatchError(ctx, c, fmt.Errorf("%w: %s", ErrCommandNotFound, data.Name))
		return
	}
	c.Args = optionArgs(c.Command, data.Options)
	s.runCommand(ctx, c)
}

// optionArgs maps application command options onto the command's params,
// in param order. Trailing unset options are dropped.
func optionArgs(cmd *Command, options []*discordgo.ApplicationCommandInteractionDataOption) []string {
	byName := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		byName[opt.Name] = opt
	}

	args := make([]string, len(cmd.Params))
	last := -1
	for i, p := range cmd.Params {
		opt, ok := byName[p.Name]
		if !ok {
			continue
		}
		switch opt.Type {
		case discordgo.ApplicationCommandOptionInteger:
			args[i] = strconv.FormatInt(opt.IntValue(), 10)
		case discordgo.ApplicationCommandOptionString:
			args[i] = opt.StringValue()
		default:
			args[i] = fmt.Sprint(opt.Value)
		}
		last = i
	}
	return args[:last+1]
}

// runCommand invokes a resolved command, records the outcome, and hands
// any error to the error handler.
func (s *Spork) runCommand(ctx context.Context, c *Context) {
	started := s.now()
	err := s.invoke(ctx, c)
	duration := s.now().Sub(started)

	outcome := classifyOutcome(err)
	logAttrs := []any{
		"command", c.Command.Name,
		"outcome", outcome,
		"duration", duration,
	}
	if err != nil {
		logAttrs = append(logAttrs, tint.Err(err))
	}
	c.Logger.InfoContext(ctx, "command invoked", logAttrs...)

	s.recordCommand(ctx, c, outcome, err, duration)

	if err != nil {
		s.dispatchError(ctx, c, err)
	}
}

// invoke runs guards, the cooldown check, argument checks, then the
// handler. The first failure stops the invocation.
func (s *Spork) invoke(ctx context.Context, c *Context) error {
	cmd := c.Command
	if cmd.Cooldown != nil {
		c.BucketKey = cmd.Cooldown.key(c)
	}

	for _, guard := range cmd.Guards {
		if err := guard(ctx, c); err != nil {
			return err
		}
	}

	if cmd.cooldowns != nil {
		if retryAfter := cmd.cooldowns.Update(c.BucketKey, s.now()); retryAfter > 0 {
			return &CommandOnCooldownError{
				Cooldown:   *cmd.Cooldown,
				RetryAfter: retryAfter,
			}
		}
	}

	args, err := cmd.checkArgs(c.Args)
	if err != nil {
		return err
	}
	c.Args = args

	return s.callHandler(ctx, c)
}

func (s *Spork) callHandler(ctx context.Context, c *Context) (err error) {
	ctx, cancel := context.WithTimeout(WithLogger(ctx, c.Logger), s.config.CommandTimeout)
	defer cancel()

	defer func() {
		if rc := recover(); rc != nil {
			err = &CommandInvokeError{
				Command: c.Command.Name,
				Err:     &PanicError{Value: rc, Stack: string(debug.Stack())},
			}
		}
	}()

	if handlerErr := c.Command.Handler(ctx, c); handlerErr != nil {
		return &CommandInvokeError{Command: c.Command.Name, Err: handlerErr}
	}
	return nil
}

// dispatchError hands err to the command's own OnError if it has one,
// otherwise to the bot's error handler. Nothing escapes this.
func (s *Spork) dispatchError(ctx context.Context, c *Context, err error) {
	defer func() {
		if rc := recover(); rc != nil {
			s.handleRecover(WithLogger(ctx, c.Logger), rc)
		}
	}()

	if c.Command != nil && c.Command.OnError != nil && !errors.Is(err, ErrCommandNotFound) {
		c.Command.OnError(ctx, c, err)
		return
	}

	handler := s.ErrorHandler()
	if c.IsInteraction() {
		handler.HandleAppCommandError(ctx, c, err)
		return
	}
	handler.HandleCommandError(ctx, c, err)
}

// deleteAfter deletes msg once the delay passes, unless the bot is
// shutting down first
func (s *Spork) deleteAfter(c *Context, msg *discordgo.Message, after time.Duration) {
	if msg == nil {
		if c.Interaction == nil || !s.track() {
			return
		}
		go func() {
			defer s.runtimeWG.Done()
			if s.sleep(after) {
				if err := c.Session.InteractionResponseDelete(c.Interaction.Interaction); err != nil {
					c.Logger.Warn("error deleting interaction response", tint.Err(err))
				}
			}
		}()
		return
	}
	if !s.track() {
		return
	}
	go func() {
		defer s.runtimeWG.Done()
		if s.sleep(after) {
			if err := c.Session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
				c.Logger.Warn("error deleting message", tint.Err(err), "message_id", msg.ID)
			}
		}
	}()
}

// sleep waits for d, returning false if the bot stopped first
func (s *Spork) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stopping:
		return false
	}
}
