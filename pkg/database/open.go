package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver for golang-migrate

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	mssqladapter "github.com/ppcxy/cyfm-engine/pkg/adapters/datasource/mssql"
	mysqladapter "github.com/ppcxy/cyfm-engine/pkg/adapters/datasource/mysql"
	pgadapter "github.com/ppcxy/cyfm-engine/pkg/adapters/datasource/postgres"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

// OpenMigrationDB opens a single-purpose database/sql connection for running
// migrations against spec. It is separate from the switchable pools so a
// migration never holds a serving pool in-flight.
func OpenMigrationDB(ctx context.Context, spec datasource.PoolSpec) (*sql.DB, error) {
	spec, err := spec.Resolve()
	if err != nil {
		return nil, err
	}

	driverName, dsn, err := migrationDSN(spec)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", spec.Dialect, err)
	}
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", spec.Dialect, err)
	}
	return db, nil
}

func migrationDSN(spec datasource.PoolSpec) (driverName, dsn string, err error) {
	switch spec.Dialect {
	case datasource.DialectPostgreSQL:
		dsn, err = pgadapter.BuildConnectionString(spec)
		return "postgres", dsn, err
	case datasource.DialectMySQL:
		cfg, cfgErr := mysqladapter.NewDriverConfig(spec)
		if cfgErr != nil {
			return "", "", cfgErr
		}
		// Migration files hold several statements each.
		cfg.MultiStatements = true
		return "mysql", cfg.FormatDSN(), nil
	case datasource.DialectSQLServer:
		dsn, err = mssqladapter.BuildConnectionString(spec)
		return "sqlserver", dsn, err
	default:
		return "", "", fmt.Errorf("migrations for %q: %w", spec.Dialect, apperrors.ErrUnsupportedDialect)
	}
}
