package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
)

// Open creates a database/sql pool for SQL Server sized from the pool spec.
func Open(ctx context.Context, spec datasource.PoolSpec) (datasource.PoolConnector, error) {
	connStr, err := BuildConnectionString(spec)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(datasource.DialectSQLServer.DriverName(), connStr)
	if err != nil {
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
	}
	if spec.MaxConns > 0 {
		db.SetMaxOpenConns(int(spec.MaxConns))
	}
	if spec.MinConns > 0 {
		db.SetMaxIdleConns(int(spec.MinConns))
	}
	if spec.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(spec.MaxConnIdleTime)
	}

	return datasource.NewSQLPoolWrapper(db, datasource.DialectSQLServer.DriverName(), "mssql"), nil
}
