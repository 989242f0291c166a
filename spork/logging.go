package spork

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm/logger"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	loggerNameKey = "logger"
	logTimeFormat = "2006-01-02 15:04:05"
)

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// logSink is the single destination all of the bot's handlers write to.
// When testing, that's the console. Otherwise, it's a size-rotated file.
type logSink struct {
	w       io.Writer
	noColor bool
	closer  io.Closer
}

func (s logSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// newLogSink returns the console sink when testing is set, otherwise a
// lumberjack-rotated file at logFile.
func newLogSink(testing bool, logFile string, console io.Writer) logSink {
	if testing || logFile == "" {
		noColor := true
		if f, ok := console.(*os.File); ok {
			noColor = !term.IsTerminal(int(f.Fd()))
		}
		return logSink{w: console, noColor: noColor}
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    DefaultLogFileMaxSizeMB,
		MaxBackups: DefaultLogFileMaxBackups,
	}
	return logSink{w: rotator, noColor: true, closer: rotator}
}

func (s logSink) handler(level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		s.w, &tint.Options{
			Level:      level,
			AddSource:  true,
			NoColor:    s.noColor,
			TimeFormat: logTimeFormat,
		},
	)
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

type gormStructuredLogger struct {
	logger        *slog.Logger
	handler       slog.Handler
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		handler:       handler,
		SlowThreshold: slowThreshold,
	}
}

func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	var rows any = rowsAffected
	if rowsAffected == -1 {
		rows = "-"
	}

	if g.SlowThreshold != 0 && elapsed > g.SlowThreshold {
		g.logger.WarnContext(
			ctx,
			"slow sql",
			"elapsed", elapsed,
			"threshold", g.SlowThreshold,
			"rows", rows,
			"sql", s,
			tint.Err(err),
		)
		return
	}
	g.logger.DebugContext(
		ctx,
		"sql completed",
		"elapsed", elapsed,
		"rows", rows,
		"sql", s,
		tint.Err(err),
	)
}
