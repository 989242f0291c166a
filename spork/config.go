//nolint:lll // struct tags can't be split
package spork

import (
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix           = "SPORK_ENV_PREFIX"
	DefaultEnvPrefix             = "SPORK"
	DefaultPrefix                = ",,"
	DefaultTestingPrefix         = "t,"
	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "spork.sqlite3"
	DefaultLogFile               = "logs/superior-spork.log"
	DefaultLogFileMaxSizeMB      = 4
	DefaultLogFileMaxBackups     = 10
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultCommandTimeout        = 60 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultDiscordLogLevel       = slog.LevelInfo
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordActivity       = "my bad code | ,,help"
	DefaultAPIListen             = "127.0.0.1:5000"
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultReadTimeout           = 5 * time.Second
	DefaultReadHeaderTimeout     = 5 * time.Second
	DefaultWriteTimeout          = 10 * time.Second
	DefaultIdleTimeout           = 30 * time.Second
	DefaultCORSMaxAge            = 12 * time.Hour
	defaultListenNetwork         = "tcp"
)

// DefaultDiscordGatewayIntent is what the bot needs to see messages (and
// their content), members, presences and invites
const DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildEmojis |
	discordgo.IntentsGuildInvites |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

// GuardFailurePolicy decides whether a failed guard is reported back to
// the invoking user, or only logged.
type GuardFailurePolicy string

const (
	GuardFailureSilent GuardFailurePolicy = "silent"
	GuardFailureReply  GuardFailurePolicy = "reply"
)

var DefaultGuardFailurePolicy = GuardFailureSilent

// DefaultExtensionRoots are the namespaces searched for extensions when
// none are configured.
var DefaultExtensionRoots = []string{"exts"}

var (
	DefaultCORSAllowMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	DefaultCORSAllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Accept", xRequestIDHeader}
)

var structValidator = validator.New()

type Config struct {
	// Prefixes are the literal command prefixes. The bot's own mention is
	// always accepted in addition to these.
	Prefixes []string `yaml:"prefixes" mapstructure:"prefixes" json:"prefixes" binding:"required,min=1,dive,required"`

	// CaseInsensitive applies to both prefix matching and command names
	CaseInsensitive bool `yaml:"case_insensitive" mapstructure:"case_insensitive" json:"case_insensitive"`

	// Testing sends logs to the console instead of LogFile
	Testing bool `yaml:"testing" mapstructure:"testing" json:"testing"`

	// LogFile is the rotating log file used when Testing is false
	LogFile string `yaml:"log_file" mapstructure:"log_file" json:"log_file" binding:"required_if=Testing false"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Database connection string, or sqlite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"omitempty,oneof=sqlite postgres"`

	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// CommandTimeout bounds how long a single command invocation may run
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout" json:"command_timeout" binding:"min=1s"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// load extensions and connect. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow in-flight events to finish
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// GuardFailurePolicy controls whether generic guard failures are
	// replied to, or only logged
	GuardFailurePolicy GuardFailurePolicy `yaml:"guard_failure_policy" mapstructure:"guard_failure_policy" json:"guard_failure_policy" binding:"oneof=silent reply"`

	// ExtensionRoots are the namespaces searched for extensions on startup
	ExtensionRoots []string `yaml:"extension_roots" mapstructure:"extension_roots" json:"extension_roots" binding:"required,min=1"`

	// Discord configures the bot's connection to discord
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// API configures the read-only status API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	HTTPClient *http.Client `mapstructure:"-" json:"-" log:"[redacted]" binding:"-"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID. If empty, it's taken from the Ready event.
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// OwnerIDs are the users allowed to run owner-only commands. If empty,
	// the application owner is looked up on startup.
	OwnerIDs []string `yaml:"owner_ids" mapstructure:"owner_ids" json:"owner_ids"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Activity is shown as "Watching <activity>"
	Activity string `yaml:"activity" mapstructure:"activity" json:"activity"`

	httpClient *http.Client
}

// APIConfig configures the status API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Development mounts pprof handlers under /debug
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       c.MaxAge,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	methods := make([]string, len(DefaultCORSAllowMethods))
	copy(methods, DefaultCORSAllowMethods)

	headers := make([]string, len(DefaultCORSAllowHeaders))
	copy(headers, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: methods,
		AllowHeaders: headers,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	roots := make([]string, len(DefaultExtensionRoots))
	copy(roots, DefaultExtensionRoots)

	return &Config{
		Prefixes:              []string{DefaultPrefix},
		CaseInsensitive:       true,
		LogFile:               DefaultLogFile,
		LogLevel:              mainLogLevel,
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		CommandTimeout:        DefaultCommandTimeout,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		GuardFailurePolicy:    DefaultGuardFailurePolicy,
		ExtensionRoots:        roots,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			Activity:          DefaultDiscordActivity,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
