package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"storelens.app/cloud/internal/logger"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// migrateUp applies all pending migrations for the given dialect
// ("sqlite" or "postgres"). Safe to call on every startup.
func migrateUp(db *sql.DB, dialect string) error {
	source, err := iofs.New(migrationFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	var m *migrate.Migrate
	switch dialect {
	case "sqlite":
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("create sqlite migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite3", driver)
		if err != nil {
			return fmt.Errorf("init migrate instance: %w", err)
		}
	case "postgres":
		driver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return fmt.Errorf("create postgres migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "postgres", driver)
		if err != nil {
			return fmt.Errorf("init migrate instance: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration dialect %q", dialect)
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			logger.Debug("Database schema up to date", map[string]interface{}{
				"dialect": dialect,
			})
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	if v, _, verr := m.Version(); verr == nil {
		logger.Info("Database migrations applied", map[string]interface{}{
			"dialect": dialect,
			"version": v,
		})
	}

	return nil
}
