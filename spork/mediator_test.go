package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestMediator_CommandErrorReply(t *testing.T) {
	t.Parallel()
	c := &Context{InvokedWith: "cu"}
	amount := Param{Name: "amount", Type: ParamInteger}

	tests := []struct {
		name     string
		policy   GuardFailurePolicy
		err      error
		expected string
		reply    bool
	}{
		{
			name: "not found",
			err:  fmt.Errorf("%w: cu", ErrCommandNotFound),
		},
		{
			name: "not owner",
			err:  &NotOwnerError{},
		},
		{
			name: "not owner reply policy",
			err:  &NotOwnerError{}, policy: GuardFailureReply,
		},
		{
			name:     "cooldown",
			err:      &CommandOnCooldownError{RetryAfter: 3 * time.Second},
			expected: "You can do `cu` again in 3 seconds",
			reply:    true,
		},
		{
			name:     "cooldown fractional",
			err:      &CommandOnCooldownError{RetryAfter: 4129 * time.Millisecond},
			expected: "You can do `cu` again in 4.12 seconds",
			reply:    true,
		},
		{
			name:     "cooldown one second",
			err:      &CommandOnCooldownError{RetryAfter: time.Second},
			expected: "You can do `cu` again in 1 second",
			reply:    true,
		},
		{
			name:     "too many arguments",
			err:      &TooManyArgumentsError{Given: 3, Max: 1},
			expected: "The command `cu` was used with too many arguments",
			reply:    true,
		},
		{
			name:     "missing argument",
			err:      &MissingRequiredArgumentError{Param: amount},
			expected: "You're missing the required argument `amount`",
			reply:    true,
		},
		{
			name:     "bad argument",
			err:      &BadArgumentError{Param: amount, Value: "lots", Err: errors.New("invalid syntax")},
			expected: "The command `cu` was used incorrectly",
			reply:    true,
		},
		{
			name: "bad argument from handler",
			err: &CommandInvokeError{
				Command: "cleanup",
				Err:     &BadArgumentError{Param: amount, Value: "lots"},
			},
			expected: "The command `cu` was used incorrectly",
			reply:    true,
		},
		{
			name:     "not guild owner",
			err:      &NotGuildOwnerError{},
			expected: "The command `cu` can only be used by the server owner.",
			reply:    true,
		},
		{
			name: "guard failure silent",
			err:  &GuardError{Guard: "is_nsfw"},
		},
		{
			name: "missing permissions silent",
			err:  &MissingPermissionsError{Missing: []string{"Manage Channels"}},
		},
		{
			name: "no private message silent",
			err:  &NoPrivateMessageError{},
		},
		{
			name:     "guard failure reply",
			policy:   GuardFailureReply,
			err:      &MissingPermissionsError{Missing: []string{"Manage Channels"}},
			expected: "You can't use `cu` here.",
			reply:    true,
		},
		{
			name: "unexpected",
			err:  &CommandInvokeError{Command: "cleanup", Err: errors.New("oops")},
		},
		{
			name: "panic",
			err:  &CommandInvokeError{Command: "cleanup", Err: &PanicError{Value: "oh no"}},
		},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				m := NewMediator(tc.policy)
				reply, ok := m.CommandErrorReply(c, tc.err)
				assert.Equal(t, tc.reply, ok)
				assert.Equal(t, tc.expected, reply)
			},
		)
	}
}

func TestNewMediator(t *testing.T) {
	t.Parallel()
	assert.Equal(t, GuardFailureSilent, NewMediator("").GuardFailurePolicy)
	assert.Equal(t, GuardFailureReply, NewMediator(GuardFailureReply).GuardFailurePolicy)
}

func newMediatorContext(t testing.TB) (*Context, *mockDiscordSession) {
	t.Helper()
	mock := newMockDiscordSession(t)
	return &Context{
		Session:     mock,
		InvokedWith: "cleanup",
		ChannelID:   testChannelID,
		GuildID:     testGuildID,
		Author:      &discordgo.User{ID: testUserID},
		Logger:      slog.Default(),
	}, mock
}

func TestMediator_HandleCommandError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMediator(GuardFailureSilent)

	c, mock := newMediatorContext(t)
	m.HandleCommandError(ctx, c, &CommandOnCooldownError{RetryAfter: 2500 * time.Millisecond})
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "You can do `cleanup` again in 2.5 seconds", sent[0].Content)
	assert.Equal(t, testChannelID, sent[0].ChannelID)

	c, mock = newMediatorContext(t)
	m.HandleCommandError(ctx, c, &CommandInvokeError{Command: "cleanup", Err: errors.New("oops")})
	m.HandleCommandError(ctx, c, fmt.Errorf("%w: nope", ErrCommandNotFound))
	m.HandleCommandError(ctx, c, &GuardError{Guard: "x"})
	assert.Empty(t, mock.Sent())

	// send failures are logged, not raised
	c, mock = newMediatorContext(t)
	mock.sendErr = errors.New("missing access")
	m.HandleCommandError(ctx, c, &NotGuildOwnerError{})
	assert.Empty(t, mock.Sent())
}

func TestMediator_HandleAppCommandError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMediator(GuardFailureReply)

	c, mock := newMediatorContext(t)
	c.Interaction = newInteraction(testUserID, "cleanup")
	m.HandleAppCommandError(ctx, c, &CommandOnCooldownError{RetryAfter: 3 * time.Second})

	require.Len(t, mock.interactionResponses, 1)
	resp := mock.interactionResponses[0]
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, "This command is on cooldown for another 3 seconds!", resp.Data.Content)

	// the rest of the taxonomy replies through the interaction too
	replies := map[string]error{
		"The command `cleanup` can only be used by the server owner.": &NotGuildOwnerError{},
		"You're missing the required argument `amount`":              &MissingRequiredArgumentError{Param: Param{Name: "amount"}},
		"The command `cleanup` was used incorrectly": &CommandInvokeError{
			Command: "cleanup",
			Err:     &BadArgumentError{Param: Param{Name: "amount"}, Err: errors.New("not a number")},
		},
		"You can't use `cleanup` here.": &MissingPermissionsError{Missing: []string{"Manage Messages"}},
	}
	for expected, err := range replies {
		c, mock = newMediatorContext(t)
		c.Interaction = newInteraction(testUserID, "cleanup")
		m.HandleAppCommandError(ctx, c, err)
		require.Len(t, mock.interactionResponses, 1, expected)
		assert.Equal(t, expected, mock.interactionResponses[0].Data.Content)
	}

	// a handler that already responded gets a followup instead
	c, mock = newMediatorContext(t)
	c.Interaction = newInteraction(testUserID, "cleanup")
	_, err := c.Send("working on it")
	require.NoError(t, err)
	m.HandleAppCommandError(ctx, c, &NotGuildOwnerError{})
	assert.Len(t, mock.interactionResponses, 1)
	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "The command `cleanup` can only be used by the server owner.", sent[1].Content)

	// unclassified errors, not-found and not-owner are only logged
	c, mock = newMediatorContext(t)
	c.Interaction = newInteraction(testUserID, "cleanup")
	m.HandleAppCommandError(ctx, c, &CommandInvokeError{Command: "cleanup", Err: errors.New("oops")})
	m.HandleAppCommandError(ctx, c, fmt.Errorf("%w: nope", ErrCommandNotFound))
	m.HandleAppCommandError(ctx, c, &NotOwnerError{})
	assert.Empty(t, mock.interactionResponses)
	assert.Empty(t, mock.Sent())
}

func TestMediator_SlashGuildOwnerGuard(t *testing.T) {
	bot, mock := newTestSpork(t)
	seedGuild(mock)
	require.NoError(t, bot.LoadExtension(context.Background(), "exts/errorhandler"))

	var calls []*Context
	cmd := testCommand("reset", &calls)
	cmd.Slash = true
	cmd.Guards = []Guard{IsGuildOwner()}
	require.NoError(t, bot.AddCommand(cmd))

	bot.handleInteractionCreate(context.Background(), newInteraction(testUserID, "reset"))
	assert.Empty(t, calls)
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "The command `reset` can only be used by the server owner.", sent[0].Content)
	assert.Len(t, mock.interactionResponses, 1)
}

func TestClassifyOutcome(t *testing.T) {
	t.Parallel()
	tests := map[string]error{
		OutcomeSuccess:      nil,
		OutcomeNotFound:     fmt.Errorf("%w: x", ErrCommandNotFound),
		OutcomeCooldown:     &CommandOnCooldownError{RetryAfter: time.Second},
		OutcomeCheckFailure: &NotOwnerError{},
		OutcomeUserInput:    &MissingRequiredArgumentError{},
		OutcomeError:        &CommandInvokeError{Command: "x", Err: errors.New("x")},
	}
	for expected, err := range tests {
		assert.Equal(t, expected, classifyOutcome(err), "%v", err)
	}
	assert.Equal(
		t,
		OutcomeUserInput,
		classifyOutcome(&CommandInvokeError{Command: "x", Err: &BadArgumentError{}}),
	)
}

func TestErrorHandlerExtension(t *testing.T) {
	bot, _ := newTestSpork(t)
	ctx := context.Background()

	assert.IsType(t, logErrorHandler{}, bot.ErrorHandler())

	custom := &recordingErrorHandler{}
	prev := bot.SetErrorHandler(custom)
	assert.IsType(t, logErrorHandler{}, prev)

	require.NoError(t, bot.LoadExtension(ctx, "exts/errorhandler"))
	mediator, ok := bot.ErrorHandler().(*Mediator)
	require.True(t, ok)
	assert.Equal(t, GuardFailureSilent, mediator.GuardFailurePolicy)

	require.NoError(t, bot.UnloadExtension(ctx, "exts/errorhandler"))
	assert.Same(t, custom, bot.ErrorHandler())

	bot.SetErrorHandler(nil)
	assert.IsType(t, logErrorHandler{}, bot.ErrorHandler())
}

func TestMediator_EndToEnd(t *testing.T) {
	bot, mock := newTestSpork(t)
	clock := newFakeClock()
	bot.now = clock.Now
	require.NoError(t, bot.LoadExtension(context.Background(), "exts/errorhandler"))

	var calls []*Context
	cmd := testCommand("limited", &calls)
	cmd.Aliases = []string{"lim"}
	cmd.Cooldown = &Cooldown{Rate: 1, Per: 5 * time.Second}
	require.NoError(t, bot.AddCommand(cmd))

	sendMessage(bot, testUserID, ",,lim")
	clock.Advance(2 * time.Second)
	sendMessage(bot, testUserID, ",,lim")

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "You can do `lim` again in 3 seconds", sent[0].Content)

	// not found is never replied to
	sendMessage(bot, testUserID, ",,nothing")
	assert.Len(t, mock.Sent(), 1)
}
