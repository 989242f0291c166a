package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

const (
	CommandSourcePrefix = "prefix"
	CommandSourceSlash  = "slash"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with millisecond unix timestamps
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// CommandLog records one command invocation, prefix or slash, and how
// it turned out.
//
//nolint:lll // struct tags can't be split
type CommandLog struct {
	ModelUintID
	ModelUnixTime

	Command       string `json:"command" gorm:"index;not null"`
	InvokedWith   string `json:"invoked_with"`
	Prefix        string `json:"prefix"`
	Source        string `json:"source" gorm:"not null;check:source in ('prefix', 'slash')"`
	Extension     string `json:"extension"`
	UserID        string `json:"user_id" gorm:"index"`
	Username      string `json:"username"`
	GuildID       string `json:"guild_id,omitempty"`
	ChannelID     string `json:"channel_id"`
	MessageID     string `json:"message_id,omitempty"`
	InteractionID string `json:"interaction_id,omitempty"`
	Edited        bool   `json:"edited"`
	Outcome       string `json:"outcome" gorm:"index;not null"`
	Error         string `json:"error,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
}

// ExtensionLoad records one attempt to load an extension
type ExtensionLoad struct {
	ModelUintID
	ModelUnixTime

	Extension  string `json:"extension" gorm:"index;not null"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// DBI defines the interface for database writes. [database] implements
// it for 'real' DB operations.
type DBI interface {
	Lock()
	Unlock()

	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
}

// database wraps a gorm connection. When concurrent writes are disabled
// (sqlite), every write holds mu.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// withTimeout applies dbOperationTimeout, unless ctx already has a deadline
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

// migrate creates or updates every table, in a single transaction
func migrate(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if err := txn.Migrator().AutoMigrate(&CommandLog{}, &ExtensionLoad{}); err != nil {
		txn.Rollback()
		return fmt.Errorf("error migrating database: %w", err)
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// CreateDB opens the database and runs migrations.
//
// Parameters:
//   - ctx: The context for the database operations.
//   - databaseType: The type of the database, must be 'sqlite' or 'postgres'.
//   - database: The database connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, DefaultDatabaseSlowThreshold)
	slog.New(handler).InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}
	return db, migrate(ctx, db)
}

// getDB opens a gorm connection for the given database type
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, err
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// initDB connects to the configured database, and migrates it
func (s *Spork) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = s.logger
	}

	gormLogger := newGORMLogger(
		s.logSink.handler(s.config.DatabaseLogLevel),
		s.config.DatabaseSlowThreshold,
	)
	db, err := getDB(s.config.DatabaseType, s.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	s.db = db
	s.writeDB = NewDatabase(db, logger, s.config.DatabaseType == dbTypePostgres)

	if s.config.DatabaseType == dbTypeSQLite {
		sqlDB, e := db.DB()
		if e != nil {
			return fmt.Errorf("error getting database connection: %w", e)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	if err = migrate(ctx, db); err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return err
	}
	logger.Debug("finished migrating database")
	return nil
}

func (s *Spork) closeDB() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// recordCommand saves a CommandLog for the invocation. Failures are
// logged, never returned.
func (s *Spork) recordCommand(
	ctx context.Context,
	c *Context,
	outcome string,
	cmdErr error,
	duration time.Duration,
) {
	if s.writeDB == nil {
		return
	}
	rec := &CommandLog{
		Command:     c.Command.Name,
		InvokedWith: c.InvokedWith,
		Prefix:      c.Prefix,
		Source:      CommandSourcePrefix,
		Extension:   c.Command.extension,
		GuildID:     c.GuildID,
		ChannelID:   c.ChannelID,
		Edited:      c.Edited,
		Outcome:     outcome,
		DurationMS:  duration.Milliseconds(),
	}
	if c.Author != nil {
		rec.UserID = c.Author.ID
		rec.Username = c.Author.Username
	}
	if c.Message != nil {
		rec.MessageID = c.Message.ID
	}
	if c.Interaction != nil {
		rec.Source = CommandSourceSlash
		rec.InteractionID = c.Interaction.ID
	}
	if cmdErr != nil {
		rec.Error = cmdErr.Error()
	}

	// the invocation context may already be past its deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dbOperationTimeout)
	defer cancel()
	if _, err := s.writeDB.Create(ctx, rec); err != nil {
		c.Logger.ErrorContext(ctx, "error saving command log", tint.Err(err))
	}
}

func (s *Spork) recordExtensionLoad(ctx context.Context, result LoadResult) {
	if s.writeDB == nil {
		return
	}
	rec := &ExtensionLoad{
		Extension:  result.Extension,
		Success:    result.Success,
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	if _, err := s.writeDB.Create(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "error saving extension load", tint.Err(err), "extension", result.Extension)
	}
}

// RecentCommandLogs returns up to limit CommandLog rows, newest first
func (s *Spork) RecentCommandLogs(ctx context.Context, limit int) ([]CommandLog, error) {
	if s.db == nil {
		return []CommandLog{}, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var logs []CommandLog
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// CommandUsage is the number of times a command has been invoked
type CommandUsage struct {
	Command string `json:"command"`
	Count   int64  `json:"count"`
}

// CommandUsageCounts returns invocation counts per command, most used
// first
func (s *Spork) CommandUsageCounts(ctx context.Context) ([]CommandUsage, error) {
	if s.db == nil {
		return []CommandUsage{}, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var usage []CommandUsage
	err := s.db.WithContext(ctx).
		Model(&CommandLog{}).
		Select("command, count(*) as count").
		Group("command").
		Order("count desc, command").
		Scan(&usage).Error
	return usage, err
}
