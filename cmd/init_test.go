package cmd

import (
	"github.com/HumbleToS/SuperiorSpork/spork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"os"
	"path/filepath"
	"testing"
)

func TestInitCommand(t *testing.T) {
	clearEnv(t)
	dbPath := filepath.Join(t.TempDir(), "data", "test.db")

	require.NoError(t, os.Setenv("SPORK_DATABASE_TYPE", "sqlite"))
	require.NoError(t, os.Setenv("SPORK_DATABASE", dbPath))

	output, err := executeRoot(t, "init")
	require.NoError(t, err)
	t.Logf("output: %s", output)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	assert.Contains(t, output, "Database ready (sqlite): 0 command logs, 0 extension loads")
	assert.Contains(t, output, "Initialization complete")

	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&spork.CommandLog{}))
	assert.True(t, mg.HasTable(&spork.ExtensionLoad{}))
}
