package spork

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func newModerationBot(t *testing.T) (*Spork, *mockDiscordSession) {
	t.Helper()
	bot, mock := newTestSpork(t)
	seedGuild(mock)
	ctx := context.Background()
	require.NoError(t, bot.LoadExtension(ctx, "exts/errorhandler"))
	require.NoError(t, bot.LoadExtension(ctx, "exts/moderation"))
	return bot, mock
}

// sendMessageAsync is sendMessage, for commands that block waiting on
// a later message
func sendMessageAsync(bot *Spork, authorID string, content string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sendMessage(bot, authorID, content)
	}()
	return done
}

func waitDone(t testing.TB, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command to finish")
	}
}

func TestClear_Confirmed(t *testing.T) {
	bot, mock := newModerationBot(t)

	done := sendMessageAsync(bot, testGuildOwnerID, ",,clear")
	prompt := mock.waitForSent(t)
	assert.Equal(
		t,
		"Are you sure you want to clear <#"+testChannelID+">? This will delete the channel and create a "+
			"new one in its place.\nPlease with respond with yes or no.",
		prompt.Content,
	)
	waitForWaiters(t, bot, 1)

	// only the guild owner's answer, in the same channel, counts
	sendMessage(bot, testUserID, "yes")
	elsewhere := newTestMessage(testGuildOwnerID, "yes")
	elsewhere.ChannelID = "121212121212121212"
	bot.handleMessageCreate(context.Background(), &discordgo.MessageCreate{Message: elsewhere})
	assert.Equal(t, 1, bot.pendingWaiters())

	sendMessage(bot, testGuildOwnerID, "YES")
	waitDone(t, done)

	assert.Equal(t, []string{testChannelID}, mock.deletedChannels)
	require.Len(t, mock.createdChannels, 1)
	created := mock.createdChannels[0]
	assert.Equal(t, "general", created.Name)
	assert.Equal(t, "general chat", created.Topic)
	assert.Equal(t, 3, created.Position)
	assert.Equal(t, discordgo.ChannelTypeGuildText, created.Type)

	notice := mock.waitForSent(t)
	assert.NotEqual(t, testChannelID, notice.ChannelID)
	assert.Equal(t, "Cleared <#"+notice.ChannelID+">!", notice.Content)

	var log CommandLog
	require.NoError(t, bot.db.Last(&log).Error)
	assert.Equal(t, "clear", log.Command)
	assert.Equal(t, OutcomeSuccess, log.Outcome)
}

func TestClear_Cancelled(t *testing.T) {
	bot, mock := newModerationBot(t)

	done := sendMessageAsync(bot, testGuildOwnerID, ",,clear")
	mock.waitForSent(t)
	waitForWaiters(t, bot, 1)

	sendMessage(bot, testGuildOwnerID, "no")
	waitDone(t, done)

	assert.Equal(t, "Task cancelled.", mock.waitForSent(t).Content)
	assert.Empty(t, mock.deletedChannels)
	assert.Empty(t, mock.createdChannels)
}

func TestClear_Expired(t *testing.T) {
	original := clearConfirmTimeout
	clearConfirmTimeout = 50 * time.Millisecond
	t.Cleanup(func() { clearConfirmTimeout = original })

	bot, mock := newModerationBot(t)

	sendMessage(bot, testGuildOwnerID, ",,clear")
	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "This command has expired!", sent[1].Content)
	assert.Empty(t, mock.deletedChannels)
	assert.Equal(t, 0, bot.pendingWaiters())
}

func TestClear_CommandTimeoutExpires(t *testing.T) {
	bot, mock := newModerationBot(t)
	bot.config.CommandTimeout = 50 * time.Millisecond

	sendMessage(bot, testGuildOwnerID, ",,clear")
	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "This command has expired!", sent[1].Content)
	assert.Empty(t, mock.deletedChannels)
	assert.Equal(t, 0, bot.pendingWaiters())

	var log CommandLog
	require.NoError(t, bot.db.Last(&log).Error)
	assert.Equal(t, OutcomeSuccess, log.Outcome)
}

func TestClear_Guards(t *testing.T) {
	bot, mock := newModerationBot(t)

	// missing Manage Channels, and the default policy is silent
	sendMessage(bot, testUserID, ",,clear")
	assert.Empty(t, mock.Sent())

	mock.mu.Lock()
	mock.permissions[testUserID+"/"+testChannelID] = discordgo.PermissionManageChannels
	mock.mu.Unlock()

	sendMessage(bot, testUserID, ",,clear")
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "The command `clear` can only be used by the server owner.", sent[0].Content)

	var log CommandLog
	require.NoError(t, bot.db.Last(&log).Error)
	assert.Equal(t, OutcomeCheckFailure, log.Outcome)
}

func TestClear_NotTextChannel(t *testing.T) {
	bot, mock := newModerationBot(t)
	mock.mu.Lock()
	mock.channels[testChannelID].Type = discordgo.ChannelTypeGuildVoice
	mock.mu.Unlock()

	sendMessage(bot, testGuildOwnerID, ",,clear")
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "This can only be used in text channels.", sent[0].Content)
	assert.Equal(t, 0, bot.pendingWaiters())
}
