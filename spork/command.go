package spork

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// HandlerFunc is the body of a command
type HandlerFunc func(ctx context.Context, c *Context) error

// Guard is run before a command's handler. A non-nil error vetoes the
// invocation. Guards should return a CheckFailure.
type Guard func(ctx context.Context, c *Context) error

type ParamType int

const (
	ParamString ParamType = iota
	ParamInteger
	ParamUser
	ParamChannel
)

func (p ParamType) optionType() discordgo.ApplicationCommandOptionType {
	switch p {
	case ParamInteger:
		return discordgo.ApplicationCommandOptionInteger
	case ParamUser:
		return discordgo.ApplicationCommandOptionUser
	case ParamChannel:
		return discordgo.ApplicationCommandOptionChannel
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

// Param describes one positional argument of a command
type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool

	// Greedy consumes the rest of the message. Only valid on the last param.
	Greedy bool
}

// Command is a prefix command, optionally also exposed as an application
// (slash) command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Params      []Param

	// RejectExtra returns a TooManyArgumentsError when more arguments are
	// given than there are params. Otherwise, extras are ignored.
	RejectExtra bool

	// Guards run in order, and the first failure stops the invocation
	Guards []Guard

	Cooldown *Cooldown

	// Slash also registers this command as an application command
	Slash bool

	// Hidden commands are left out of help and API listings
	Hidden bool

	Handler HandlerFunc

	// OnError, if set, receives this command's errors instead of the
	// bot's error handler
	OnError func(ctx context.Context, c *Context, err error)

	extension string
	cooldowns *CooldownMapping
}

func (cmd *Command) validate() error {
	if cmd.Name == "" || strings.ContainsAny(cmd.Name, " \t\n") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}
	for i, p := range cmd.Params {
		if p.Greedy && i != len(cmd.Params)-1 {
			return fmt.Errorf("command %q: greedy param %q must be last", cmd.Name, p.Name)
		}
	}
	if cmd.Cooldown != nil {
		if cmd.Cooldown.Rate < 1 || cmd.Cooldown.Per <= 0 {
			return fmt.Errorf("command %q: invalid cooldown %+v", cmd.Name, *cmd.Cooldown)
		}
	}
	return nil
}

// checkArgs verifies the number of arguments given against Params, and
// collapses any greedy remainder into the last argument.
func (cmd *Command) checkArgs(args []string) ([]string, error) {
	for i, p := range cmd.Params {
		if !p.Required {
			continue
		}
		if i >= len(args) || args[i] == "" {
			return args, &MissingRequiredArgumentError{Param: p}
		}
	}
	n := len(cmd.Params)
	if n > 0 && cmd.Params[n-1].Greedy && len(args) > n {
		collapsed := append([]string{}, args[:n-1]...)
		collapsed = append(collapsed, strings.Join(args[n-1:], " "))
		return collapsed, nil
	}
	if len(args) > n && cmd.RejectExtra {
		return args, &TooManyArgumentsError{Given: len(args), Max: n}
	}
	return args, nil
}

// ApplicationCommand returns the application command definition for a
// Slash command
func (cmd *Command) ApplicationCommand() *discordgo.ApplicationCommand {
	description := cmd.Description
	if description == "" {
		description = cmd.Name
	}
	ac := &discordgo.ApplicationCommand{
		Name:        cmd.Name,
		Type:        discordgo.ChatApplicationCommand,
		Description: truncate(description, 100),
	}
	for _, p := range cmd.Params {
		pd := p.Description
		if pd == "" {
			pd = p.Name
		}
		ac.Options = append(
			ac.Options, &discordgo.ApplicationCommandOption{
				Type:        p.Type.optionType(),
				Name:        p.Name,
				Description: truncate(pd, 100),
				Required:    p.Required,
			},
		)
	}
	return ac
}

// Context is the per-invocation state handed to guards and handlers.
// It's discarded once the invocation completes.
type Context struct {
	Bot     *Spork
	Session DiscordSessionHandler

	// Message is the invoking message, for prefix invocations
	Message *discordgo.Message

	// Interaction is the invoking interaction, for application commands
	Interaction *discordgo.InteractionCreate

	Command     *Command
	Prefix      string
	InvokedWith string
	Args        []string

	Author    *discordgo.User
	Member    *discordgo.Member
	ChannelID string
	GuildID   string

	// BucketKey is the cooldown bucket this invocation is counted against.
	// It's set from the command's Cooldown before guards run, and guards
	// may change it.
	BucketKey string

	// Edited is true when the invocation came from an edited message
	Edited bool

	Logger *slog.Logger

	responded atomic.Bool
}

// IsInteraction reports whether this is an application command invocation
func (c *Context) IsInteraction() bool {
	return c.Interaction != nil
}

// QualifiedName is the name the command is registered under
func (c *Context) QualifiedName() string {
	if c.Command == nil {
		return c.InvokedWith
	}
	return c.Command.Name
}

// Arg returns the i'th argument, or an empty string
func (c *Context) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// IntArg converts the i'th argument to an int, returning def when the
// argument is absent.
func (c *Context) IntArg(i int, def int) (int, error) {
	s := c.Arg(i)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def, &BadArgumentError{Param: c.param(i), Value: s, Err: err}
	}
	return v, nil
}

// UserArg resolves the i'th argument (mention or ID) to a user. When the
// argument is absent, the author is returned.
func (c *Context) UserArg(i int) (*discordgo.User, error) {
	s := c.Arg(i)
	if s == "" {
		return c.Author, nil
	}
	userID, ok := parseUserID(s)
	if !ok {
		return nil, &BadArgumentError{Param: c.param(i), Value: s, Err: fmt.Errorf("not a user")}
	}
	if c.Message != nil {
		for _, u := range c.Message.Mentions {
			if u.ID == userID {
				return u, nil
			}
		}
	}
	if c.Interaction != nil {
		data := c.Interaction.ApplicationCommandData()
		if data.Resolved != nil {
			if u, found := data.Resolved.Users[userID]; found {
				return u, nil
			}
		}
	}
	u, err := c.Session.User(userID)
	if err != nil {
		return nil, &BadArgumentError{Param: c.param(i), Value: s, Err: err}
	}
	return u, nil
}

func (c *Context) param(i int) Param {
	if c.Command != nil && i < len(c.Command.Params) {
		return c.Command.Params[i]
	}
	return Param{Name: fmt.Sprintf("arg%d", i)}
}

// Guild returns the guild the command was invoked in
func (c *Context) Guild() (*discordgo.Guild, error) {
	if c.GuildID == "" {
		return nil, &NoPrivateMessageError{}
	}
	return c.Session.Guild(c.GuildID)
}

func (c *Context) Channel() (*discordgo.Channel, error) {
	return c.Session.Channel(c.ChannelID)
}

// Typing triggers the typing indicator in the invoking channel
func (c *Context) Typing() error {
	return c.Session.ChannelTyping(c.ChannelID)
}

// Send sends content to the invoking channel, or responds to the
// invoking interaction.
func (c *Context) Send(content string) (*discordgo.Message, error) {
	return c.SendComplex(&discordgo.MessageSend{Content: content})
}

func (c *Context) SendEmbed(embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return c.SendComplex(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

// Reply sends content as a reply to the invoking message
func (c *Context) Reply(content string) (*discordgo.Message, error) {
	data := &discordgo.MessageSend{Content: content}
	if c.Message != nil {
		data.Reference = c.Message.Reference()
		data.AllowedMentions = &discordgo.MessageAllowedMentions{RepliedUser: false}
	}
	return c.SendComplex(data)
}

// SendComplex sends data to the invoking channel. For interactions, the
// first call is the interaction response, and later calls are followups.
// A nil message with a nil error is returned for the initial interaction
// response.
func (c *Context) SendComplex(data *discordgo.MessageSend) (*discordgo.Message, error) {
	if c.Interaction == nil {
		c.responded.Store(true)
		return c.Session.ChannelMessageSendComplex(c.ChannelID, data)
	}
	if c.responded.CompareAndSwap(false, true) {
		err := c.Session.InteractionRespond(
			c.Interaction.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content:         data.Content,
					Embeds:          data.Embeds,
					AllowedMentions: data.AllowedMentions,
				},
			},
		)
		return nil, err
	}
	return c.Session.FollowupMessageCreate(
		c.Interaction.Interaction,
		true,
		&discordgo.WebhookParams{
			Content:         data.Content,
			Embeds:          data.Embeds,
			AllowedMentions: data.AllowedMentions,
		},
	)
}

// SendTemporary sends content, and deletes it after the given delay
func (c *Context) SendTemporary(content string, after time.Duration) (*discordgo.Message, error) {
	msg, err := c.Send(content)
	if err != nil {
		return msg, err
	}
	c.Bot.deleteAfter(c, msg, after)
	return msg, nil
}

// Responded reports whether anything has been sent for this invocation
func (c *Context) Responded() bool {
	return c.responded.Load()
}

// IsOwner reports whether the author is one of the bot's owners
func (c *Context) IsOwner() bool {
	return c.Author != nil && c.Bot.IsOwner(c.Author.ID)
}
