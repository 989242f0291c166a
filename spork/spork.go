package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/HumbleToS/SuperiorSpork/spork.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Spork is the bot. It owns the discord session, the command and
// listener tables, loaded extensions, and the status API.
//
// Extensions are loaded (see LoadAll) before the gateway session is
// opened, so every command is registered before the first event
// arrives. After that, each gateway event is handled in its own
// goroutine, tracked so shutdown can wait on in-flight commands.
type Spork struct {
	config *Config

	// Standard logger, and the handler it writes to
	logger     *slog.Logger
	logHandler slog.Handler
	logSink    logSink

	session DiscordSessionHandler

	// registry supplies extension constructors. This is DefaultRegistry
	// unless replaced before Run.
	registry *Registry

	// read connection
	db *gorm.DB

	// gorm.DB wrapper for writes. With sqlite, writes are serialized.
	writeDB DBI

	api *API

	// mu guards commands, listeners, loading and errorHandler
	mu           sync.RWMutex
	commands     map[string]*Command
	listeners    map[EventName][]*listener
	loading      string
	errorHandler ErrorHandler

	// extMu guards extensions and loadResults, and is held for the
	// duration of a load/unload
	extMu       sync.Mutex
	extensions  map[string]Extension
	loadResults []LoadResult

	waitersMu sync.Mutex
	waiters   []*messageWaiter

	tree *CommandTree

	// the bot's own user, set on Ready
	user atomic.Pointer[discordgo.User]

	ownerMu  sync.RWMutex
	appID    string
	ownerIDs []string

	startedAt time.Time

	// tracks event handler goroutines
	runtimeWG sync.WaitGroup

	removeHandlers []func()

	connected         atomic.Bool
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	messagesHandled   atomic.Int64

	// stopping is closed when shutdown starts. stopMu is held while
	// closing it, and while adding to runtimeWG, so nothing is added once
	// shutdown may be waiting.
	stopping chan struct{}
	stopOnce sync.Once
	stopMu   sync.Mutex

	now func() time.Time

	// prevents Run from executing concurrently
	runMu sync.Mutex
}

// New validates the parts of config needed to build the bot, sets up
// logging, and creates (but doesn't open) the discord session.
func New(config *Config) (*Spork, error) {
	if config.Discord == nil || config.API == nil {
		return nil, errors.New("discord and api configs are required")
	}

	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	s := &Spork{
		config:       config,
		registry:     DefaultRegistry,
		commands:     map[string]*Command{},
		listeners:    map[EventName][]*listener{},
		errorHandler: logErrorHandler{},
		extensions:   map[string]Extension{},
		tree:         NewCommandTree(),
		appID:        config.Discord.ApplicationID,
		ownerIDs:     slices.Clone(config.Discord.OwnerIDs),
		stopping:     make(chan struct{}),
		now:          time.Now,
	}

	s.logSink = newLogSink(config.Testing, config.LogFile, defaultLogWriter)
	s.logHandler = s.logSink.handler(config.LogLevel)
	s.logger = slog.New(s.logHandler)
	slog.SetDefault(s.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		s.logSink.handler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	config.Discord.httpClient = config.HTTPClient
	session, err := newDiscordSession(
		config.Discord,
		slog.New(s.logSink.handler(config.Discord.LogLevel)),
	)
	if err != nil {
		errs = append(errs, err)
	}
	s.session = session

	api, err := newAPI(s, config.API)
	errs = append(errs, err)
	s.api = api

	return s, errors.Join(errs...)
}

func (s *Spork) ValidateConfig() error {
	return structValidator.Struct(s.config)
}

// Config returns the bot's configuration. It must not be modified.
func (s *Spork) Config() *Config {
	return s.config
}

func (s *Spork) Logger() *slog.Logger {
	return s.logger
}

func (s *Spork) Session() DiscordSessionHandler {
	return s.session
}

// SetRegistry replaces the registry extensions are discovered in and
// constructed from
func (s *Spork) SetRegistry(r *Registry) {
	s.registry = r
}

func (s *Spork) Registry() *Registry {
	return s.registry
}

// User returns the bot's own user, or nil before Ready
func (s *Spork) User() *discordgo.User {
	return s.user.Load()
}

// ApplicationID is the configured application ID, or the one reported
// on Ready
func (s *Spork) ApplicationID() string {
	s.ownerMu.RLock()
	defer s.ownerMu.RUnlock()
	return s.appID
}

// IsOwner reports whether userID is one of the bot's owners
func (s *Spork) IsOwner(userID string) bool {
	s.ownerMu.RLock()
	defer s.ownerMu.RUnlock()
	return slices.Contains(s.ownerIDs, userID)
}

// Uptime is the time since Run was called
func (s *Spork) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return s.now().Sub(s.startedAt)
}

func (s *Spork) StartedAt() time.Time {
	return s.startedAt
}

// Run loads extensions, connects to discord, and serves the status API
// (if enabled) until ctx is canceled. Startup (database, extension
// loading, connecting) must finish within Config.StartupTimeout.
func (s *Spork) Run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.startedAt = s.now()
	logger := s.logger

	if err := s.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", s.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, s.config.StartupTimeout)
	defer startCancel()

	if err := s.initRun(startCtx, ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		if closeErr := s.closeDB(); closeErr != nil {
			logger.ErrorContext(ctx, "error closing database", tint.Err(closeErr))
		}
		return err
	}
	logger.InfoContext(ctx, "init complete", "extensions", len(s.Extensions()))

	g, gctx := errgroup.WithContext(ctx)
	if s.config.API.Enabled {
		g.Go(
			func() error {
				httpErr := s.api.Serve(gctx)
				if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
					return fmt.Errorf("error serving api: %w", httpErr)
				}
				return nil
			},
		)
	}

	// block until something cancels the runtime context (generally an
	// interrupt) or the API fails
	g.Go(
		func() error {
			<-gctx.Done()
			return s.shutdown(ctx)
		},
	)

	return g.Wait()
}

// initRun connects to the database, discovers and loads extensions, then
// opens the discord session.
func (s *Spork) initRun(startCtx context.Context, ctx context.Context) error {
	s.logger.Debug("initializing DB...")
	if err := s.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	descriptors, err := s.registry.Discover(s.config.ExtensionRoots...)
	if err != nil {
		return err
	}
	s.logger.InfoContext(startCtx, "discovered extensions", "count", len(descriptors))

	if _, err = s.LoadAll(startCtx, descriptors); err != nil {
		return err
	}

	if err = s.initDiscordSession(ctx); err != nil {
		return fmt.Errorf("error creating discord session: %w", err)
	}

	s.logger.InfoContext(startCtx, "connecting to discord")
	openErr := make(chan error, 1)
	go func() {
		openErr <- s.session.Open()
	}()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err = <-openErr:
		if err != nil {
			return fmt.Errorf("error connecting to discord: %w", err)
		}
	}
	return nil
}

// initDiscordSession sets the identify payload (intents and presence),
// and adds the gateway event handlers
func (s *Spork) initDiscordSession(ctx context.Context) error {
	if s.session == nil {
		return errors.New("no discord session")
	}
	for _, remove := range s.removeHandlers {
		remove()
	}

	// in-flight commands are drained on shutdown, rather than canceled
	eventCtx := context.WithoutCancel(ctx)

	s.session.SetIdentify(
		discordgo.Identify{
			Intents: s.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusDoNotDisturb),
				Game: discordgo.Activity{
					Name: s.config.Discord.Activity,
					Type: discordgo.ActivityTypeWatching,
				},
			},
		},
	)

	s.removeHandlers = []func(){
		s.session.AddHandler(s.handlerConnect()),
		s.session.AddHandler(s.handlerDisconnect()),
		s.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				s.goEvent(eventCtx, func(ctx context.Context) {
					s.handleReady(ctx, r)
				})
			},
		),
		s.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				s.messagesHandled.Add(1)
				s.goEvent(eventCtx, func(ctx context.Context) {
					s.handleMessageCreate(ctx, m)
				})
			},
		),
		s.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
				s.goEvent(eventCtx, func(ctx context.Context) {
					s.handleMessageUpdate(ctx, m)
				})
			},
		),
		s.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				s.goEvent(eventCtx, func(ctx context.Context) {
					s.handleInteractionCreate(ctx, i)
				})
			},
		),
	}
	return nil
}

// goEvent runs fn in a goroutine tracked by runtimeWG, recovering from
// any panic. Events arriving after shutdown starts are dropped.
func (s *Spork) goEvent(ctx context.Context, fn func(ctx context.Context)) {
	if !s.track() {
		return
	}
	go func() {
		defer s.runtimeWG.Done()
		defer func() {
			if rc := recover(); rc != nil {
				s.handleRecover(ctx, rc)
			}
		}()
		fn(ctx)
	}()
}

// track adds one to runtimeWG, unless shutdown has started. Every
// goroutine that runtimeWG waits on is started through this.
func (s *Spork) track() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	select {
	case <-s.stopping:
		return false
	default:
	}
	s.runtimeWG.Add(1)
	return true
}

// stop closes stopping. Safe to call more than once.
func (s *Spork) stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	s.stopOnce.Do(func() { close(s.stopping) })
}

func (s *Spork) handleReady(ctx context.Context, r *discordgo.Ready) {
	if r.User != nil {
		s.user.Store(r.User)
	}
	logAttrs := []any{"session_id", r.SessionID, "guilds", len(r.Guilds)}
	if r.User != nil {
		logAttrs = append(logAttrs, slog.Group("user", "id", r.User.ID, "username", r.User.Username))
	}
	s.logger.InfoContext(ctx, "Ready", logAttrs...)

	s.ownerMu.Lock()
	if s.appID == "" {
		if r.Application != nil && r.Application.ID != "" {
			s.appID = r.Application.ID
		} else if r.User != nil {
			s.appID = r.User.ID
		}
	}
	needOwners := len(s.ownerIDs) == 0
	s.ownerMu.Unlock()

	if needOwners {
		if err := s.fetchOwners(ctx); err != nil {
			s.logger.ErrorContext(ctx, "error fetching application owners", tint.Err(err))
		}
	}

	s.dispatchEvent(ctx, EventReady, r)
}

// fetchOwners sets the owner IDs to the application's owner, or its
// team members when the application belongs to a team
func (s *Spork) fetchOwners(ctx context.Context) error {
	app, err := s.session.Application("@me", discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	var owners []string
	if app.Team != nil {
		for _, member := range app.Team.Members {
			if member.User != nil {
				owners = append(owners, member.User.ID)
			}
		}
	} else if app.Owner != nil {
		owners = append(owners, app.Owner.ID)
	}

	s.ownerMu.Lock()
	s.ownerIDs = owners
	s.ownerMu.Unlock()
	s.logger.InfoContext(ctx, "fetched application owners", "owner_ids", owners)
	return nil
}

func (s *Spork) handlerConnect() func(*discordgo.Session, *discordgo.Connect) {
	return func(ds *discordgo.Session, _ *discordgo.Connect) {
		s.metricConnects.Add(1)
		s.connected.Store(true)
		var sessionID string
		if ds != nil && ds.State != nil {
			sessionID = ds.State.SessionID
		}
		s.logger.Info("Connected", "session_id", sessionID)
	}
}

func (s *Spork) handlerDisconnect() func(*discordgo.Session, *discordgo.Disconnect) {
	return func(ds *discordgo.Session, _ *discordgo.Disconnect) {
		s.connected.Store(false)
		s.metricDisconnects.Add(1)
		var sessionID string
		if ds != nil && ds.State != nil {
			sessionID = ds.State.SessionID
		}
		s.logger.Info("disconnected", "session_id", sessionID)
	}
}

// Connected reports whether the gateway session is currently connected
func (s *Spork) Connected() bool {
	return s.connected.Load()
}

// shutdown closes the gateway session and the status API, then waits up
// to Config.ShutdownTimeout for in-flight events to finish
func (s *Spork) shutdown(ctx context.Context) error {
	s.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	s.stop()

	var errs []error
	if s.session != nil {
		for _, remove := range s.removeHandlers {
			remove()
		}
		s.removeHandlers = nil
		if err := s.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer closeCancel()

	if s.config.API.Enabled && s.api != nil {
		if err := s.api.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.runtimeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		s.logger.WarnContext(ctx, "in-flight events did not finish in time")
		errs = append(errs, errors.New("in-flight events did not finish in time"))
	}

	if err := s.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("error closing database: %w", err))
	}

	s.logger.InfoContext(
		ctx,
		"shutdown complete",
		"shutdown_duration", time.Since(shutdownStart),
	)
	if err := s.logSink.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// handleRecover logs a recovered panic, with the stack at the time it
// was recovered
func (*Spork) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
