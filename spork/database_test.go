package spork

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateDB(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "spork.sqlite3")

	db, err := CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			_ = sqlDB.Close()
		},
	)
	assert.True(t, db.Migrator().HasTable(&CommandLog{}))
	assert.True(t, db.Migrator().HasTable(&ExtensionLoad{}))

	// migrating again is a no-op
	db, err = CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = CreateDB(ctx, "mysql", dbPath)
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestRecordCommand(t *testing.T) {
	bot, mock := newTestSpork(t)
	ctx := context.Background()

	cmd := &Command{Name: "ping", extension: "exts/test"}
	prefixCtx := &Context{
		Command:     cmd,
		InvokedWith: "p",
		Prefix:      ",,",
		Message:     newTestMessage(testUserID, ",,p"),
		Author:      &discordgo.User{ID: testUserID, Username: "someone"},
		GuildID:     testGuildID,
		ChannelID:   testChannelID,
		Edited:      true,
		Logger:      bot.logger,
	}
	bot.recordCommand(ctx, prefixCtx, OutcomeError, errors.New("oops"), 1500*time.Millisecond)

	slashCtx := &Context{
		Command:     cmd,
		InvokedWith: "ping",
		Interaction: newInteraction(testUserID, "ping"),
		Author:      &discordgo.User{ID: testUserID, Username: "someone"},
		ChannelID:   testChannelID,
		Session:     mock,
		Logger:      bot.logger,
	}
	// already past its deadline
	expired, cancel := context.WithTimeout(ctx, -time.Second)
	defer cancel()
	bot.recordCommand(expired, slashCtx, OutcomeSuccess, nil, time.Millisecond)

	logs, err := bot.RecentCommandLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	slash, prefix := logs[0], logs[1]
	assert.Equal(t, CommandSourceSlash, slash.Source)
	assert.Equal(t, slashCtx.Interaction.ID, slash.InteractionID)
	assert.Empty(t, slash.MessageID)
	assert.Equal(t, OutcomeSuccess, slash.Outcome)

	assert.Equal(t, CommandSourcePrefix, prefix.Source)
	assert.Equal(t, "ping", prefix.Command)
	assert.Equal(t, "p", prefix.InvokedWith)
	assert.Equal(t, ",,", prefix.Prefix)
	assert.Equal(t, "exts/test", prefix.Extension)
	assert.Equal(t, prefixCtx.Message.ID, prefix.MessageID)
	assert.True(t, prefix.Edited)
	assert.Equal(t, "oops", prefix.Error)
	assert.Equal(t, int64(1500), prefix.DurationMS)
	assert.NotZero(t, prefix.CreatedAt)

	logs, err = bot.RecentCommandLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, slash.ID, logs[0].ID)
}

func TestCommandUsageCounts(t *testing.T) {
	bot, _ := newTestSpork(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c", "c", "b", "c"} {
		c := &Context{Command: &Command{Name: name}, Logger: bot.logger}
		bot.recordCommand(ctx, c, OutcomeSuccess, nil, 0)
	}

	usage, err := bot.CommandUsageCounts(ctx)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]CommandUsage{{Command: "c", Count: 3}, {Command: "b", Count: 2}, {Command: "a", Count: 1}},
		usage,
	)
}

func TestNoDatabase(t *testing.T) {
	t.Parallel()
	bot := &Spork{}
	ctx := context.Background()

	logs, err := bot.RecentCommandLogs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, logs)

	usage, err := bot.CommandUsageCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, usage)

	// no-ops without a database
	bot.recordCommand(ctx, &Context{Command: &Command{Name: "x"}}, OutcomeSuccess, nil, 0)
	bot.recordExtensionLoad(ctx, LoadResult{Extension: "exts/x"})
	assert.NoError(t, bot.closeDB())
}
