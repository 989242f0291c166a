package spork

func init() {
	RegisterExtension(
		"exts/errorhandler", func() Extension {
			return &errorHandlerExtension{}
		},
	)
}

// errorHandlerExtension installs a Mediator as the bot's error handler,
// and puts the previous handler back when unloaded
type errorHandlerExtension struct {
	previous ErrorHandler
}

func (e *errorHandlerExtension) Register(bot *Spork) error {
	e.previous = bot.SetErrorHandler(NewMediator(bot.config.GuardFailurePolicy))
	return nil
}

func (e *errorHandlerExtension) Unload(bot *Spork) error {
	bot.SetErrorHandler(e.previous)
	return nil
}
