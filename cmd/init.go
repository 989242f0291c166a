package cmd

import (
	"fmt"
	"github.com/HumbleToS/SuperiorSpork/spork"
	"github.com/spf13/cobra"
	"log"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable SPORK_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable SPORK_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := spork.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("Error getting database connection: %v", err)
		}
		defer func() {
			_ = sqlDB.Close()
		}()

		var commands, loads int64
		if err = db.Model(&spork.CommandLog{}).Count(&commands).Error; err != nil {
			log.Fatalf("Error counting command logs: %v", err)
		}
		if err = db.Model(&spork.ExtensionLoad{}).Count(&loads).Error; err != nil {
			log.Fatalf("Error counting extension loads: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database ready (%s): %d command logs, %d extension loads\n", cfg.DatabaseType, commands, loads)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
