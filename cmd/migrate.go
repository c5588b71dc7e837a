package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/behzadon/flashpoll/internal/config"
	"github.com/behzadon/flashpoll/internal/logging"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const migrationsDir = "migrations"

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Create and run database migrations. Postgres uses the SQL files in
./migrations; sqlite and mysql are migrated from the store's model and
mongo gets its indexes.`,
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations("up")
		},
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Rollback the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations("down")
		},
	}

	migrateCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createMigration(args[0])
		},
	}
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateCreateCmd)
}

func runMigrations(direction string) error {
	cfg := GetConfig()

	zapLogger, err := logging.New(cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger := logging.NewLogger(zapLogger)
	defer logger.Sync()

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
	case config.DriverSQLite, config.DriverMySQL:
		if direction != "up" {
			return fmt.Errorf("%s schemas only migrate up", cfg.Storage.Driver)
		}
		var cleanup closers
		defer cleanup.closeAll()
		store, err := openGormStore(cfg, zapLogger, &cleanup)
		if err != nil {
			return err
		}
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate %s schema: %w", cfg.Storage.Driver, err)
		}
		logger.Info("Schema migrated", zap.String("driver", cfg.Storage.Driver))
		return nil
	case config.DriverMongo:
		if direction != "up" {
			return fmt.Errorf("mongo indexes only migrate up")
		}
		var cleanup closers
		defer cleanup.closeAll()
		store, err := openMongoStore(cfg, zapLogger, &cleanup)
		if err != nil {
			return err
		}
		if err := store.EnsureIndexes(context.Background(), cfg.Mongo.TTLIndex); err != nil {
			return fmt.Errorf("create mongo indexes: %w", err)
		}
		logger.Info("Indexes created", zap.String("driver", cfg.Storage.Driver))
		return nil
	default:
		return fmt.Errorf("storage driver %q has no schema to migrate", cfg.Storage.Driver)
	}

	db, err := connectPostgres(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	return runPostgresMigrations(db, direction, zapLogger)
}

func runPostgresMigrations(db *sqlx.DB, direction string, logger *zap.Logger) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := getMigrationFiles()
	if err != nil {
		return fmt.Errorf("get migration files: %w", err)
	}

	applied, err := getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	if direction == "up" {
		for _, file := range files {
			if !applied[filepath.Base(file)] {
				if err := runMigration(db, file, "up", logger); err != nil {
					return fmt.Errorf("run migration %s: %w", file, err)
				}
			}
		}
		return nil
	}

	var lastMigration string
	for _, file := range files {
		if applied[filepath.Base(file)] {
			lastMigration = file
		}
	}
	if lastMigration == "" {
		logger.Info("No migrations to rollback")
		return nil
	}

	if err := runMigration(db, lastMigration, "down", logger); err != nil {
		return fmt.Errorf("rollback migration %s: %w", lastMigration, err)
	}
	return nil
}

func createMigration(name string) error {
	if err := os.MkdirAll(migrationsDir, 0755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}

	now := time.Now().UTC()
	filename := fmt.Sprintf("%s_%s.sql", now.Format("20060102150405"), strings.ToLower(name))
	path := filepath.Join(migrationsDir, filename)

	content := fmt.Sprintf(`-- Migration: %s
-- Created at: %s

-- Up Migration

-- Down Migration
`, name, now.Format(time.RFC3339))

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write migration file: %w", err)
	}

	fmt.Printf("Created migration: %s\n", path)
	return nil
}

func createMigrationsTable(db *sqlx.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`
	_, err := db.Exec(query)
	return err
}

func getMigrationFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func getAppliedMigrations(db *sqlx.DB) (map[string]bool, error) {
	var names []string
	if err := db.Select(&names, `SELECT name FROM migrations ORDER BY applied_at`); err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}

func rollbackTx(tx *sqlx.Tx, logger *zap.Logger) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Error("Failed to rollback transaction", zap.Error(err))
	}
}

// splitMigration returns the up and down halves of a migration file.
func splitMigration(content string) (string, string, error) {
	parts := strings.Split(content, "-- Down Migration")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid migration file format")
	}

	up := parts[0]
	if i := strings.Index(up, "-- Up Migration"); i >= 0 {
		up = up[i+len("-- Up Migration"):]
	}
	return strings.TrimSpace(up), strings.TrimSpace(parts[1]), nil
}

func runMigration(db *sqlx.DB, filename string, direction string, logger *zap.Logger) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	upMigration, downMigration, err := splitMigration(string(content))
	if err != nil {
		return err
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(tx, logger)

	var migrationSQL string
	if direction == "up" {
		migrationSQL = upMigration
		_, err = tx.Exec("INSERT INTO migrations (name) VALUES ($1)", filepath.Base(filename))
	} else {
		migrationSQL = downMigration
		_, err = tx.Exec("DELETE FROM migrations WHERE name = $1", filepath.Base(filename))
	}
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	if migrationSQL != "" {
		if _, err := tx.Exec(migrationSQL); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	logger.Info("Executed migration",
		zap.String("direction", direction),
		zap.String("file", filepath.Base(filename)),
	)
	return nil
}
