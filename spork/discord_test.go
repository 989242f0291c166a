package spork

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"
)

const (
	testGuildID      = "111111111111111111"
	testChannelID    = "222222222222222222"
	testGuildOwnerID = "333333333333333333"
	testBotOwnerID   = "444444444444444444"
	testBotID        = "555555555555555555"
	testUserID       = "666666666666666666"
	testAppID        = "777777777777777777"
)

// sentMessage is a message sent through mockDiscordSession, by any route
// (channel message, interaction response, or followup)
type sentMessage struct {
	ChannelID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Reference *discordgo.MessageReference
	Message   *discordgo.Message
}

// mockDiscordSession is an in-memory DiscordSessionHandler. Guilds,
// channels, members and messages are seeded by the test, and every write
// is recorded.
type mockDiscordSession struct {
	mu     sync.Mutex
	t      testing.TB
	nextID int64

	identify discordgo.Identify
	handlers int
	opened   int
	closed   int

	guilds      map[string]*discordgo.Guild
	channels    map[string]*discordgo.Channel
	members     map[string]*discordgo.Member
	users       map[string]*discordgo.User
	permissions map[string]int64
	messages    map[string][]*discordgo.Message
	invites     map[string]*discordgo.Invite
	application *discordgo.Application

	sent                 []sentMessage
	sentCh               chan sentMessage
	deletedMessages      []string
	bulkDeleted          [][]string
	deletedChannels      []string
	createdChannels      []discordgo.GuildChannelCreateData
	interactionResponses []*discordgo.InteractionResponse
	deletedResponses     int
	typing               int
	overwrites           map[string][]*discordgo.ApplicationCommand

	sendErr      error
	deleteErr    error
	overwriteErr map[string]error
}

func newMockDiscordSession(t testing.TB) *mockDiscordSession {
	t.Helper()
	return &mockDiscordSession{
		t:            t,
		nextID:       900000000000000000,
		guilds:       map[string]*discordgo.Guild{},
		channels:     map[string]*discordgo.Channel{},
		members:      map[string]*discordgo.Member{},
		users:        map[string]*discordgo.User{},
		permissions:  map[string]int64{},
		messages:     map[string][]*discordgo.Message{},
		invites:      map[string]*discordgo.Invite{},
		sentCh:       make(chan sentMessage, 100),
		overwrites:   map[string][]*discordgo.ApplicationCommand{},
		overwriteErr: map[string]error{},
	}
}

func (m *mockDiscordSession) newID() string {
	m.nextID++
	return fmt.Sprintf("%d", m.nextID)
}

func notFound(kind, id string) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: 10000, Message: "Unknown " + kind + " " + id},
	}
}

func (m *mockDiscordSession) record(msg sentMessage) {
	m.sent = append(m.sent, msg)
	m.sentCh <- msg
}

// waitForSent returns the next message sent, failing the test if nothing
// is sent in time
func (m *mockDiscordSession) waitForSent(t testing.TB) sentMessage {
	t.Helper()
	select {
	case msg := <-m.sentCh:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a message to be sent")
		return sentMessage{}
	}
}

func (m *mockDiscordSession) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockDiscordSession) AddHandler(_ any) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers--
	}
}

func (m *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identify = i
}

func (m *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

func (m *mockDiscordSession) SetHTTPClient(_ *http.Client) {}

func (m *mockDiscordSession) State() *discordgo.State {
	return nil
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (m *mockDiscordSession) Application(_ string, _ ...discordgo.RequestOption) (*discordgo.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.application == nil {
		return nil, notFound("application", "@me")
	}
	return m.application, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	msg := &discordgo.Message{
		ID:        m.newID(),
		ChannelID: channelID,
		Content:   data.Content,
		Embeds:    data.Embeds,
		Author:    &discordgo.User{ID: testBotID, Bot: true},
		Timestamp: time.Now(),
	}
	m.record(
		sentMessage{
			ChannelID: channelID,
			Content:   data.Content,
			Embeds:    data.Embeds,
			Reference: data.Reference,
			Message:   msg,
		},
	)
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedMessages = append(m.deletedMessages, messageID)
	m.removeMessages(channelID, messageID)
	return nil
}

func (m *mockDiscordSession) removeMessages(channelID string, ids ...string) {
	m.messages[channelID] = slices.DeleteFunc(
		m.messages[channelID], func(msg *discordgo.Message) bool {
			return slices.Contains(ids, msg.ID)
		},
	)
}

// ChannelMessages pages through the seeded messages, which are stored
// newest first
func (m *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID, _, _ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[channelID]
	start := 0
	if beforeID != "" {
		start = len(msgs)
		for i, msg := range msgs {
			if msg.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(msgs))
	return slices.Clone(msgs[start:end]), nil
}

func (m *mockDiscordSession) ChannelMessagesBulkDelete(
	channelID string,
	messages []string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.bulkDeleted = append(m.bulkDeleted, slices.Clone(messages))
	m.removeMessages(channelID, messages...)
	return nil
}

func (m *mockDiscordSession) ChannelTyping(_ string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

func (m *mockDiscordSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, notFound("channel", channelID)
	}
	return ch, nil
}

func (m *mockDiscordSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, notFound("channel", channelID)
	}
	delete(m.channels, channelID)
	m.deletedChannels = append(m.deletedChannels, channelID)
	return ch, nil
}

func (m *mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdChannels = append(m.createdChannels, data)
	ch := &discordgo.Channel{
		ID:       m.newID(),
		GuildID:  guildID,
		Name:     data.Name,
		Type:     data.Type,
		Topic:    data.Topic,
		Position: data.Position,
		ParentID: data.ParentID,
	}
	m.channels[ch.ID] = ch
	return ch, nil
}

func (m *mockDiscordSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return nil, notFound("guild", guildID)
	}
	return g, nil
}

func (m *mockDiscordSession) GuildMember(
	guildID, userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[guildID+"/"+userID]
	if !ok {
		return nil, notFound("member", userID)
	}
	return member, nil
}

func (m *mockDiscordSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, notFound("user", userID)
	}
	return u, nil
}

func (m *mockDiscordSession) UserChannelPermissions(
	userID, channelID string,
	_ ...discordgo.RequestOption,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissions[userID+"/"+channelID], nil
}

func (m *mockDiscordSession) InviteComplex(
	inviteID, _ string,
	_, _ bool,
	_ ...discordgo.RequestOption,
) (*discordgo.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.invites[inviteID]
	if !ok {
		return nil, notFound("invite", inviteID)
	}
	return invite, nil
}

func (m *mockDiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactionResponses = append(m.interactionResponses, resp)
	msg := sentMessage{ChannelID: interaction.ChannelID}
	if resp.Data != nil {
		msg.Content = resp.Data.Content
		msg.Embeds = resp.Data.Embeds
	}
	m.record(msg)
	return nil
}

func (m *mockDiscordSession) InteractionResponseDelete(_ *discordgo.Interaction, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedResponses++
	return nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &discordgo.Message{
		ID:        m.newID(),
		ChannelID: interaction.ChannelID,
		Content:   data.Content,
		Embeds:    data.Embeds,
	}
	m.record(
		sentMessage{
			ChannelID: interaction.ChannelID,
			Content:   data.Content,
			Embeds:    data.Embeds,
			Message:   msg,
		},
	)
	return msg, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.overwriteErr[guildID]; err != nil {
		return nil, err
	}
	m.overwrites[guildID] = commands
	return commands, nil
}

func TestDiscordSession_SetIdentify(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "abc123"

	handler, err := newDiscordSession(cfg.Discord, slog.Default())
	require.NoError(t, err)
	session := handler.(DiscordSession)
	session.session.Identify.Compress = true
	session.session.Identify.LargeThreshold = 250

	handler.SetIdentify(discordgo.Identify{Intents: DefaultDiscordGatewayIntent})

	identify := session.session.Identify
	assert.Equal(t, "Bot abc123", identify.Token)
	assert.Equal(t, DefaultDiscordGatewayIntent, identify.Intents)
	assert.True(t, identify.Compress)
	assert.Equal(t, 250, identify.LargeThreshold)
}

func TestDiscordSession_SetLogLevel(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "abc123"

	handler, err := newDiscordSession(cfg.Discord, slog.Default())
	require.NoError(t, err)
	session := handler.(DiscordSession)

	require.NoError(t, handler.SetLogLevel(slog.LevelDebug))
	assert.Equal(t, discordgo.LogDebug, session.session.LogLevel)

	require.NoError(t, handler.SetLogLevel(slog.LevelError))
	assert.Equal(t, discordgo.LogError, session.session.LogLevel)

	assert.Error(t, handler.SetLogLevel(slog.Level(3)))
}
