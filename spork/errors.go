package spork

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCommandNotFound is returned when a message starts with a prefix,
	// but the word after it isn't a registered command or alias.
	ErrCommandNotFound = errors.New("command not found")

	// ErrExtensionNotFound is returned when loading a name that isn't in
	// the registry.
	ErrExtensionNotFound = errors.New("extension not found")

	ErrExtensionAlreadyLoaded = errors.New("extension already loaded")
	ErrExtensionNotLoaded     = errors.New("extension not loaded")

	// ErrCommandExists is returned when a command name or alias is
	// registered twice.
	ErrCommandExists = errors.New("command or alias already registered")

	// ErrWaitExpired is returned by WaitForMessage when nothing matched
	// before the timeout.
	ErrWaitExpired = errors.New("wait expired")
)

// ConfigError prevents startup, ex: an extension root that can't be found.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExtensionLoadError is returned when an extension fails to register.
type ExtensionLoadError struct {
	Extension string
	Err       error
}

func (e *ExtensionLoadError) Error() string {
	return fmt.Sprintf("extension %q failed to load: %s", e.Extension, e.Err)
}

func (e *ExtensionLoadError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panic, along with the stack
// at the time of the panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// CommandInvokeError wraps an error returned (or panicked) by a command's
// handler, as opposed to one raised while resolving the command.
type CommandInvokeError struct {
	Command string
	Err     error
}

func (e *CommandInvokeError) Error() string {
	return fmt.Sprintf("command %q raised an error: %s", e.Command, e.Err)
}

func (e *CommandInvokeError) Unwrap() error { return e.Err }

// CommandOnCooldownError is returned when a command's cooldown bucket
// is exhausted.
type CommandOnCooldownError struct {
	Cooldown   Cooldown
	RetryAfter time.Duration
}

func (e *CommandOnCooldownError) Error() string {
	return fmt.Sprintf("you are on cooldown, try again in %.2fs", e.RetryAfter.Seconds())
}

// UserInputError is implemented by argument parsing errors
type UserInputError interface {
	error
	userInput()
}

type MissingRequiredArgumentError struct {
	Param Param
}

func (e *MissingRequiredArgumentError) Error() string {
	return fmt.Sprintf("%s is a required argument that is missing", e.Param.Name)
}

func (*MissingRequiredArgumentError) userInput() {}

type TooManyArgumentsError struct {
	Given int
	Max   int
}

func (e *TooManyArgumentsError) Error() string {
	return fmt.Sprintf("too many arguments: got %d, expected at most %d", e.Given, e.Max)
}

func (*TooManyArgumentsError) userInput() {}

// BadArgumentError is returned when an argument can't be converted to
// the type a command expects.
type BadArgumentError struct {
	Param Param
	Value string
	Err   error
}

func (e *BadArgumentError) Error() string {
	return fmt.Sprintf("converting %q for argument %s: %s", e.Value, e.Param.Name, e.Err)
}

func (e *BadArgumentError) Unwrap() error { return e.Err }

func (*BadArgumentError) userInput() {}

// CheckFailure is implemented by every error a Guard returns.
type CheckFailure interface {
	error
	checkFailure()
}

// GuardError is a generic guard failure. Guards that don't need their own
// type return this.
type GuardError struct {
	Guard string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("the check %s failed", e.Guard)
}

func (*GuardError) checkFailure() {}

type NoPrivateMessageError struct{}

func (*NoPrivateMessageError) Error() string {
	return "this command cannot be used in private messages"
}

func (*NoPrivateMessageError) checkFailure() {}

type NotOwnerError struct{}

func (*NotOwnerError) Error() string { return "you do not own this bot" }

func (*NotOwnerError) checkFailure() {}

type NotGuildOwnerError struct{}

func (*NotGuildOwnerError) Error() string { return "you do not own this guild" }

func (*NotGuildOwnerError) checkFailure() {}

// MissingPermissionsError is returned when the invoking user lacks
// any of the listed permissions.
type MissingPermissionsError struct {
	Missing []string
}

func (e *MissingPermissionsError) Error() string {
	return fmt.Sprintf("you are missing permission(s) to run this command: %v", e.Missing)
}

func (*MissingPermissionsError) checkFailure() {}
