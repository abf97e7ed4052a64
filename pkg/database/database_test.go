package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/config"
)

func TestMigrationsDir(t *testing.T) {
	assert.Equal(t, filepath.Join("migrations", "postgresql"), MigrationsDir("migrations", datasource.DialectPostgreSQL))
	assert.Equal(t, filepath.Join("/opt/cyfm/migrations", "mysql"), MigrationsDir("/opt/cyfm/migrations", datasource.DialectMySQL))
}

func TestRunMigrations_UnsupportedDialect(t *testing.T) {
	err := RunMigrations(nil, datasource.DialectOracle, "migrations", zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDialect)
}

func TestMigrationDSN(t *testing.T) {
	t.Run("postgres uses lib/pq", func(t *testing.T) {
		spec, err := datasource.PoolSpec{URL: "jdbc:postgresql://db1:5432/cyfm", User: "cy", Password: "p@ss"}.Resolve()
		require.NoError(t, err)

		driverName, dsn, err := migrationDSN(spec)
		require.NoError(t, err)
		assert.Equal(t, "postgres", driverName)
		assert.True(t, strings.HasPrefix(dsn, "postgres://cy:p%40ss@"), dsn)
		assert.Contains(t, dsn, "/cyfm")
	})

	t.Run("mysql enables multi statements", func(t *testing.T) {
		spec, err := datasource.PoolSpec{URL: "jdbc:mysql://db2:3306/report", User: "root"}.Resolve()
		require.NoError(t, err)

		driverName, dsn, err := migrationDSN(spec)
		require.NoError(t, err)
		assert.Equal(t, "mysql", driverName)
		assert.Contains(t, dsn, "multiStatements=true")
		assert.Contains(t, dsn, "/report")
	})

	t.Run("sqlserver", func(t *testing.T) {
		spec, err := datasource.PoolSpec{URL: "jdbc:sqlserver://db3:1433;databaseName=cyfm", User: "sa"}.Resolve()
		require.NoError(t, err)

		driverName, _, err := migrationDSN(spec)
		require.NoError(t, err)
		assert.Equal(t, "sqlserver", driverName)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, _, err := migrationDSN(datasource.PoolSpec{Dialect: datasource.DialectH2})
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedDialect)
	})
}

func TestOpenMigrationDB_Unresolvable(t *testing.T) {
	_, err := OpenMigrationDB(context.Background(), datasource.PoolSpec{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialect or url is required")
}

func TestNewRedisClient_NotSelected(t *testing.T) {
	client, err := NewRedisClient(context.Background(), &config.CacheConfig{Backend: config.CacheBackendMemory, RedisHost: "localhost"})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_MissingHost(t *testing.T) {
	_, err := NewRedisClient(context.Background(), &config.CacheConfig{Backend: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no redis host")
}
