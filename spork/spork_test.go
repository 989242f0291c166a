package spork

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Errors(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord = nil
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err = New(cfg)
	assert.ErrorContains(t, err, "invalid database type")
}

func TestNew_InvalidDatabaseType(t *testing.T) {
	bot, _ := newTestSpork(t)
	bot.config.DatabaseType = "mysql"
	assert.ErrorContains(t, bot.initDB(context.Background()), "unsupported database type")
}

func TestHandleReady(t *testing.T) {
	bot, mock := newTestSpork(t)
	ctx := context.Background()

	var readyEvents []any
	bot.AddListener(
		EventReady, "record", func(_ context.Context, event any) error {
			readyEvents = append(readyEvents, event)
			return nil
		},
	)
	bot.AddListener(
		EventReady, "broken", func(context.Context, any) error {
			panic("listener panic")
		},
	)

	bot.ownerMu.Lock()
	bot.appID = ""
	bot.ownerIDs = nil
	bot.ownerMu.Unlock()

	mock.application = &discordgo.Application{
		ID: testAppID,
		Team: &discordgo.Team{
			Members: []*discordgo.TeamMember{
				{User: &discordgo.User{ID: testGuildOwnerID}},
				{User: &discordgo.User{ID: testBotOwnerID}},
			},
		},
	}

	self := &discordgo.User{ID: testBotID, Username: "Spork", Bot: true}
	ready := &discordgo.Ready{
		SessionID:   "abc",
		User:        self,
		Application: &discordgo.Application{ID: testAppID},
	}
	bot.handleReady(ctx, ready)

	assert.Same(t, self, bot.User())
	assert.Equal(t, testAppID, bot.ApplicationID())
	assert.True(t, bot.IsOwner(testGuildOwnerID))
	assert.True(t, bot.IsOwner(testBotOwnerID))
	assert.False(t, bot.IsOwner(testUserID))
	require.Len(t, readyEvents, 1)
	assert.Same(t, ready, readyEvents[0])
}

func TestHandleReady_Owner(t *testing.T) {
	bot, mock := newTestSpork(t)

	bot.ownerMu.Lock()
	bot.appID = ""
	bot.ownerIDs = nil
	bot.ownerMu.Unlock()
	mock.application = &discordgo.Application{Owner: &discordgo.User{ID: testUserID}}

	// without an application, the bot's user ID is the application ID
	bot.handleReady(context.Background(), &discordgo.Ready{User: &discordgo.User{ID: testBotID}})
	assert.Equal(t, testBotID, bot.ApplicationID())
	assert.True(t, bot.IsOwner(testUserID))
}

func TestHandleReady_ConfiguredOwners(t *testing.T) {
	bot, mock := newTestSpork(t)

	// never fetched when configured
	mock.application = &discordgo.Application{Owner: &discordgo.User{ID: testUserID}}
	bot.handleReady(context.Background(), &discordgo.Ready{User: &discordgo.User{ID: testBotID}})
	assert.Equal(t, testAppID, bot.ApplicationID())
	assert.True(t, bot.IsOwner(testBotOwnerID))
	assert.False(t, bot.IsOwner(testUserID))
}

func TestInitDiscordSession(t *testing.T) {
	bot, mock := newTestSpork(t)
	bot.config.Discord.Activity = "the tests"

	require.NoError(t, bot.initDiscordSession(context.Background()))
	assert.Equal(t, 6, mock.handlers)
	assert.Equal(t, bot.config.Discord.GatewayIntents, mock.identify.Intents)
	assert.Equal(t, "the tests", mock.identify.Presence.Game.Name)
	assert.Equal(t, discordgo.ActivityTypeWatching, mock.identify.Presence.Game.Type)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), mock.identify.Presence.Status)

	// handlers from a previous call are removed first
	require.NoError(t, bot.initDiscordSession(context.Background()))
	assert.Equal(t, 6, mock.handlers)
}

func TestGoEvent(t *testing.T) {
	bot, _ := newTestSpork(t)
	ctx := context.Background()

	var calls atomic.Int64
	bot.goEvent(ctx, func(context.Context) { calls.Add(1) })
	bot.goEvent(ctx, func(context.Context) { panic(errors.New("event panic")) })
	bot.runtimeWG.Wait()
	assert.Equal(t, int64(1), calls.Load())

	bot.stop()
	bot.goEvent(ctx, func(context.Context) { calls.Add(1) })
	bot.runtimeWG.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestGoEvent_ConcurrentStop(t *testing.T) {
	bot, _ := newTestSpork(t)
	ctx := context.Background()

	var calls atomic.Int64
	var senders sync.WaitGroup
	for i := 0; i < 20; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()
			for j := 0; j < 50; j++ {
				bot.goEvent(ctx, func(context.Context) { calls.Add(1) })
			}
		}()
	}

	bot.stop()
	bot.runtimeWG.Wait()
	afterStop := calls.Load()

	// nothing started once stop returned, so nothing runs after the wait
	senders.Wait()
	bot.runtimeWG.Wait()
	assert.Equal(t, afterStop, calls.Load())
	assert.False(t, bot.track())

	// stopping twice is fine
	bot.stop()
}

func TestHandlerConnect(t *testing.T) {
	bot, _ := newTestSpork(t)

	bot.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, bot.Connected())
	bot.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, bot.Connected())
	assert.Equal(t, int64(1), bot.metricConnects.Load())
	assert.Equal(t, int64(1), bot.metricDisconnects.Load())
}

func TestRun(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"

	bot, err := New(cfg)
	require.NoError(t, err)
	mock := newMockDiscordSession(t)
	bot.session = mock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- bot.Run(ctx)
	}()

	require.Eventually(
		t, func() bool {
			mock.mu.Lock()
			defer mock.mu.Unlock()
			return mock.opened == 1
		}, 10*time.Second, 10*time.Millisecond,
	)
	assert.Len(t, bot.Extensions(), 5)
	assert.Len(t, bot.LoadResults(), 5)
	assert.NotNil(t, bot.Command("jsk"))

	cancel()
	select {
	case err = <-runErr:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, 1, mock.closed)
	assert.Equal(t, 0, mock.handlers)

	var loads int64
	require.Error(t, bot.db.Model(&ExtensionLoad{}).Count(&loads).Error, "database should be closed")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	bot, err := New(cfg)
	require.NoError(t, err)
	bot.session = newMockDiscordSession(t)
	cfg.Prefixes = nil

	assert.Error(t, bot.Run(context.Background()))
}

func TestRun_MissingExtensionRoot(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.ExtensionRoots = []string{"cogs"}
	bot, err := New(cfg)
	require.NoError(t, err)
	mock := newMockDiscordSession(t)
	bot.session = mock

	err = bot.Run(context.Background())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrExtensionNotFound)
	assert.Equal(t, 0, mock.opened)
}
