// Package spork implements a Discord bot built around pluggable
// extensions, a prefix and slash command router, and a single error
// handler that turns command failures into (at most) one reply.
//
// Key components of the package include:
//
//   - Spork: The bot itself, owning the discord session and the command
//     and listener tables.
//   - Registry: The set of extensions compiled into the bot, and
//     discovery of the ones to load at startup.
//   - LoadAll, LoadExtension, UnloadExtension: Loading extensions, each
//     in isolation, so one failing doesn't stop the rest.
//   - Command, Context, Guard, Cooldown: Command definitions, and the
//     per-invocation state handed to guards and handlers.
//   - Mediator: Maps command errors to replies.
//   - API: A read-only HTTP status API.
//
// Extensions built in:
//
//   - exts/general: about, whois, serverinfo, inviteinfo, cleanup, and
//     a responder for bare mentions of the bot.
//   - exts/moderation: clear, which deletes and recreates a channel.
//   - exts/dev: sync, for application commands.
//   - exts/errorhandler: installs the Mediator.
//   - diagnostics: jsk, always loaded last.
package spork
