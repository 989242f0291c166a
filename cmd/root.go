package cmd

import (
	"context"
	"fmt"
	"github.com/HumbleToS/SuperiorSpork/spork"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = spork.DefaultConfig()
	configFile string
)

// logLevelKeys are decoded into *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

// stringSliceKeys are space-separated when set from the environment
var stringSliceKeys = []string{
	"prefixes",
	"extension_roots",
	"discord.owner_ids",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
}

var rootCmd = &cobra.Command{
	Use:   "spork [flags]",
	Short: "SuperiorSpork, a discord bot",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names ("INFO", "warn", "DEBUG-2")
// into a *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr || t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDefaults() {
	defaults := spork.DefaultConfig()

	viper.SetDefault("prefixes", defaults.Prefixes)
	viper.SetDefault("case_insensitive", defaults.CaseInsensitive)
	viper.SetDefault("testing", false)
	viper.SetDefault("log_file", spork.DefaultLogFile)
	viper.SetDefault("log_level", spork.DefaultLogLevel.String())

	viper.SetDefault("database", spork.DefaultDatabase)
	viper.SetDefault("database_type", spork.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", spork.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", spork.DefaultDatabaseLogLevel.String())

	viper.SetDefault("command_timeout", spork.DefaultCommandTimeout)
	viper.SetDefault("startup_timeout", spork.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", spork.DefaultShutdownTimeout)
	viper.SetDefault("guard_failure_policy", string(spork.DefaultGuardFailurePolicy))
	viper.SetDefault("extension_roots", defaults.ExtensionRoots)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.owner_ids", []string{})
	viper.SetDefault("discord.log_level", spork.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", spork.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", int(spork.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.activity", spork.DefaultDiscordActivity)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", spork.DefaultAPIListen)
	viper.SetDefault("api.listen_network", defaults.API.ListenNetwork)
	viper.SetDefault("api.log_level", spork.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", spork.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", spork.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", spork.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", spork.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.allow_methods", spork.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.allow_headers", spork.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.max_age", spork.DefaultCORSMaxAge)
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load env file %s: %v", configFile, err)
		}
	}

	setDefaults()

	envPrefix := os.Getenv(spork.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = spork.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}
	for _, key := range logLevelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"env file to load configuration from",
	)
}
