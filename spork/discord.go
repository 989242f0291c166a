package spork

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"time"
)

const (
	discordMaxMessageLength = 2000

	// discordBulkDeleteLimit is the most messages the bulk delete endpoint
	// accepts at once, and the most ChannelMessages returns per page
	discordBulkDeleteLimit = 100

	// discordBulkDeleteMaxAge is the oldest a message can be and still be
	// bulk deleted
	discordBulkDeleteMaxAge = 14 * 24 * time.Hour
)

// DiscordSessionHandler defines the interface for handling Discord sessions.
// This is basically defines methods from `discordgo.Session` which are
// used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// State returns the session's guild/member/presence cache
	State() *discordgo.State

	// HeartbeatLatency is the latency between the last heartbeat and its ack
	HeartbeatLatency() time.Duration

	Application(appID string, options ...discordgo.RequestOption) (*discordgo.Application, error)

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error

	// ChannelMessages returns up to 100 messages from the channel, newest
	// first, before/after/around the given message IDs
	ChannelMessages(
		channelID string,
		limit int,
		beforeID, afterID, aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error

	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)

	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)

	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)

	// UserChannelPermissions returns the permission bitset the user has
	// in the given channel
	UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error)

	InviteComplex(
		inviteID, guildScheduledEventID string,
		withCounts, withExpiration bool,
		options ...discordgo.RequestOption,
	) (*discordgo.Invite, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseDelete deletes the given interaction
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// FollowupMessageCreate sends an additional message for an interaction
	// that's already been responded to
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	// An empty guildID overwrites global commands.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

// newDiscordSession initializes a new discordgo session wrapped in
// DiscordSession.
func newDiscordSession(config *DiscordConfig, logger *slog.Logger) (DiscordSessionHandler, error) {
	session := DiscordSession{logger: logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	disc.Identify.Intents = config.GatewayIntents
	session.session = disc
	if config.httpClient != nil {
		session.SetHTTPClient(config.httpClient)
	}

	if err = session.SetLogLevel(config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

// SetIdentify replaces the session's identify payload. Token, properties,
// compression and the large threshold are kept from the current payload
// when i leaves them unset.
func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	current := d.session.Identify
	if i.Token == "" {
		i.Token = current.Token
	}
	if i.Properties == (discordgo.IdentifyProperties{}) {
		i.Properties = current.Properties
	}
	if i.LargeThreshold == 0 {
		i.LargeThreshold = current.LargeThreshold
	}
	i.Compress = i.Compress || current.Compress
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) State() *discordgo.State {
	return d.session.State
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) Application(
	appID string,
	options ...discordgo.RequestOption,
) (*discordgo.Application, error) {
	return d.session.Application(appID, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, options...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
			"content", data.Content,
		)
	} else {
		d.logger.Debug("sent message", "channel_id", channelID, "message_id", msg.ID)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageDelete(
	channelID, messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID, afterID, aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

func (d DiscordSession) ChannelMessagesBulkDelete(
	channelID string,
	messages []string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.ChannelMessagesBulkDelete(channelID, messages, options...)
	if err != nil {
		d.logger.Error(
			"error bulk deleting messages",
			tint.Err(err),
			"channel_id", channelID,
			"count", len(messages),
		)
	}
	return err
}

func (d DiscordSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	if ch, err := d.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) ChannelDelete(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.ChannelDelete(channelID, options...)
	if err != nil {
		d.logger.Error("error deleting channel", tint.Err(err), "channel_id", channelID)
	} else {
		d.logger.Info("deleted channel", "channel_id", channelID, "name", ch.Name)
	}
	return ch, err
}

func (d DiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, data, options...)
	if err != nil {
		d.logger.Error("error creating channel", tint.Err(err), "guild_id", guildID, "name", data.Name)
	} else {
		d.logger.Info("created channel", "guild_id", guildID, "channel_id", ch.ID, "name", ch.Name)
	}
	return ch, err
}

func (d DiscordSession) Guild(
	guildID string,
	options ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	if g, err := d.session.State.Guild(guildID); err == nil {
		return g, nil
	}
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) GuildMember(
	guildID, userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	if m, err := d.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) User(
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.User, error) {
	return d.session.User(userID, options...)
}

func (d DiscordSession) UserChannelPermissions(
	userID, channelID string,
	options ...discordgo.RequestOption,
) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID, options...)
}

func (d DiscordSession) InviteComplex(
	inviteID, guildScheduledEventID string,
	withCounts, withExpiration bool,
	options ...discordgo.RequestOption,
) (*discordgo.Invite, error) {
	return d.session.InviteComplex(inviteID, guildScheduledEventID, withCounts, withExpiration, options...)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.FollowupMessageCreate(interaction, wait, data, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "guild_id", guildID)
	}
	return created, nil
}
