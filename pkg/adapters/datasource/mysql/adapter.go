package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
)

// Open creates a database/sql pool for MySQL sized from the pool spec.
func Open(ctx context.Context, spec datasource.PoolSpec) (datasource.PoolConnector, error) {
	cfg, err := NewDriverConfig(spec)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if spec.MaxConns > 0 {
		db.SetMaxOpenConns(int(spec.MaxConns))
	}
	if spec.MinConns > 0 {
		db.SetMaxIdleConns(int(spec.MinConns))
	}
	if spec.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(spec.MaxConnIdleTime)
	}

	return datasource.NewSQLPoolWrapper(db, datasource.DialectMySQL.DriverName(), "mysql"), nil
}
