package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
)

// Command outcomes, as recorded on CommandLog
const (
	OutcomeSuccess      = "success"
	OutcomeNotFound     = "not_found"
	OutcomeCooldown     = "cooldown"
	OutcomeCheckFailure = "check_failure"
	OutcomeUserInput    = "user_input"
	OutcomeError        = "error"
)

// ErrorHandler receives every error raised while dispatching a command.
// Prefix commands and application commands are reported separately.
type ErrorHandler interface {
	HandleCommandError(ctx context.Context, c *Context, err error)
	HandleAppCommandError(ctx context.Context, c *Context, err error)
}

// SetErrorHandler replaces the bot's error handler, returning the previous
// one. A nil handler restores the default, which only logs.
func (s *Spork) SetErrorHandler(h ErrorHandler) ErrorHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.errorHandler
	if h == nil {
		h = logErrorHandler{}
	}
	s.errorHandler = h
	return prev
}

func (s *Spork) ErrorHandler() ErrorHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorHandler
}

// logErrorHandler is used until something installs a Mediator
type logErrorHandler struct{}

func (logErrorHandler) HandleCommandError(ctx context.Context, c *Context, err error) {
	logCommandError(ctx, c, err)
}

func (logErrorHandler) HandleAppCommandError(ctx context.Context, c *Context, err error) {
	logCommandError(ctx, c, err)
}

func logCommandError(ctx context.Context, c *Context, err error) {
	if errors.Is(err, ErrCommandNotFound) {
		return
	}
	attrs := []any{tint.Err(err), "command", c.QualifiedName()}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		attrs = append(attrs, "stack_trace", panicErr.Stack)
	}
	c.Logger.ErrorContext(ctx, "ignoring exception in command", attrs...)
}

// classifyOutcome maps a dispatch error to a CommandLog outcome
func classifyOutcome(err error) string {
	var (
		cooldown  *CommandOnCooldownError
		userInput UserInputError
		check     CheckFailure
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrCommandNotFound):
		return OutcomeNotFound
	case errors.As(err, &cooldown):
		return OutcomeCooldown
	case errors.As(err, &check):
		return OutcomeCheckFailure
	case errors.As(err, &userInput):
		return OutcomeUserInput
	default:
		return OutcomeError
	}
}

// Mediator turns a failed dispatch into at most one reply. Anything it
// doesn't reply to is logged, or dropped.
type Mediator struct {
	// GuardFailurePolicy decides whether generic guard failures get a
	// reply. NotGuildOwnerError always does.
	GuardFailurePolicy GuardFailurePolicy
}

func NewMediator(policy GuardFailurePolicy) *Mediator {
	if policy == "" {
		policy = DefaultGuardFailurePolicy
	}
	return &Mediator{GuardFailurePolicy: policy}
}

// CommandErrorReply returns the reply for a prefix command error, and
// false if there shouldn't be one
func (m *Mediator) CommandErrorReply(c *Context, err error) (string, bool) {
	// unwrap handler errors, so a BadArgumentError raised by the handler
	// is treated the same as one raised while checking arguments
	var invokeErr *CommandInvokeError
	if errors.As(err, &invokeErr) {
		err = invokeErr.Err
	}
	used := c.InvokedWith

	var (
		notOwner      *NotOwnerError
		cooldown      *CommandOnCooldownError
		tooMany       *TooManyArgumentsError
		missing       *MissingRequiredArgumentError
		userInput     UserInputError
		notGuildOwner *NotGuildOwnerError
		checkFailure  CheckFailure
	)

	switch {
	case errors.Is(err, ErrCommandNotFound), errors.As(err, &notOwner):
		return "", false
	case errors.As(err, &cooldown):
		wait := floorHundredths(cooldown.RetryAfter)
		return fmt.Sprintf("You can do `%s` again in %s", used, pluralCount(wait, "second")), true
	case errors.As(err, &tooMany):
		return fmt.Sprintf("The command `%s` was used with too many arguments", used), true
	case errors.As(err, &missing):
		return fmt.Sprintf("You're missing the required argument `%s`", missing.Param.Name), true
	case errors.As(err, &userInput):
		return fmt.Sprintf("The command `%s` was used incorrectly", used), true
	case errors.As(err, &notGuildOwner):
		return fmt.Sprintf("The command `%s` can only be used by the server owner.", used), true
	case errors.As(err, &checkFailure):
		if m.GuardFailurePolicy == GuardFailureReply {
			return fmt.Sprintf("You can't use `%s` here.", used), true
		}
		return "", false
	default:
		return "", false
	}
}

func (m *Mediator) HandleCommandError(ctx context.Context, c *Context, err error) {
	if reply, ok := m.CommandErrorReply(c, err); ok {
		if _, sendErr := c.Send(reply); sendErr != nil {
			c.Logger.ErrorContext(ctx, "error sending error reply", tint.Err(sendErr))
		}
		return
	}
	m.logUnreplied(ctx, c, err)
}

// HandleAppCommandError replies through the interaction, the same way
// HandleCommandError does for messages. Cooldowns get their own wording.
func (m *Mediator) HandleAppCommandError(ctx context.Context, c *Context, err error) {
	var (
		cooldown *CommandOnCooldownError
		reply    string
		ok       bool
	)
	if errors.As(err, &cooldown) {
		wait := floorHundredths(cooldown.RetryAfter)
		reply = fmt.Sprintf("This command is on cooldown for another %s!", pluralCount(wait, "second"))
		ok = true
	} else {
		reply, ok = m.CommandErrorReply(c, err)
	}
	if !ok {
		m.logUnreplied(ctx, c, err)
		return
	}
	if _, sendErr := c.Send(reply); sendErr != nil {
		c.Logger.ErrorContext(ctx, "error responding to interaction", tint.Err(sendErr))
	}
}

// logUnreplied logs guard failures at info, and everything unexpected at
// error, with the stack when there is one. Not-found and not-owner are
// dropped.
func (m *Mediator) logUnreplied(ctx context.Context, c *Context, err error) {
	var (
		notOwner     *NotOwnerError
		checkFailure CheckFailure
		userInput    UserInputError
	)
	switch {
	case errors.Is(err, ErrCommandNotFound), errors.As(err, &notOwner):
		return
	case errors.As(err, &checkFailure), errors.As(err, &userInput):
		c.Logger.InfoContext(ctx, err.Error(), "command", c.QualifiedName())
	default:
		logCommandError(ctx, c, err)
	}
}
