package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

// MigrationsDir returns the directory holding the scripts for a dialect:
// <root>/<dialect>.
func MigrationsDir(root string, dialect datasource.Dialect) string {
	return filepath.Join(root, string(dialect))
}

// RunMigrations executes pending migrations for the dialect from
// <migrationsPath>/<dialect>. It is idempotent and safe to call multiple
// times - only pending migrations will be executed.
func RunMigrations(db *sql.DB, dialect datasource.Dialect, migrationsPath string, logger *zap.Logger) error {
	driver, err := migrationDriver(db, dialect)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", MigrationsDir(migrationsPath, dialect)),
		string(dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)", zap.String("dialect", string(dialect)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations successfully",
		zap.String("dialect", string(dialect)),
		zap.Uint("version", newVersion))
	return nil
}

func migrationDriver(db *sql.DB, dialect datasource.Dialect) (migratedb.Driver, error) {
	var (
		driver migratedb.Driver
		err    error
	)
	switch dialect {
	case datasource.DialectPostgreSQL:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case datasource.DialectMySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{})
	case datasource.DialectSQLServer:
		driver, err = sqlserver.WithInstance(db, &sqlserver.Config{})
	default:
		return nil, fmt.Errorf("migrations for %q: %w", dialect, apperrors.ErrUnsupportedDialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	return driver, nil
}
