package testhelpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/database"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"

	testUser     = "cyfm"
	testPassword = "test_password"
)

// TestDB is a shared PostgreSQL container. Primary has the migrations
// applied; Secondary is a second, equally migrated database in the same
// server, used to switch between two live datasources.
type TestDB struct {
	Container testcontainers.Container
	Primary   datasource.PoolSpec
	Secondary datasource.PoolSpec
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "cyfm_primary",
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The server restarts once after initdb; wait for the second start.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	spec := func(name, db string) datasource.PoolSpec {
		return datasource.PoolSpec{
			Name:     name,
			Dialect:  datasource.DialectPostgreSQL,
			Host:     host,
			Port:     port.Int(),
			User:     testUser,
			Password: testPassword,
			Database: db,
			SSLMode:  "disable",
			MaxConns: 5,
		}
	}
	testDB := &TestDB{
		Container: container,
		Primary:   spec("primary", "cyfm_primary"),
		Secondary: spec("secondary", "cyfm_secondary"),
	}

	admin, err := database.OpenMigrationDB(ctx, testDB.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	defer admin.Close()

	if _, err := admin.ExecContext(ctx, "CREATE DATABASE cyfm_secondary"); err != nil {
		return nil, fmt.Errorf("failed to create secondary database: %w", err)
	}

	for _, s := range []datasource.PoolSpec{testDB.Primary, testDB.Secondary} {
		if err := migrate(ctx, s); err != nil {
			return nil, err
		}
	}

	return testDB, nil
}

func migrate(ctx context.Context, spec datasource.PoolSpec) error {
	db, err := database.OpenMigrationDB(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to open %s for migrations: %w", spec.Database, err)
	}
	defer db.Close()

	if err := database.RunMigrations(db, spec.Dialect, MigrationsRoot(), zap.NewNop()); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", spec.Database, err)
	}
	return nil
}

// MigrationsRoot locates the repository's migrations directory by walking
// up from the working directory to the module root.
func MigrationsRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "migrations"
		}
		dir = parent
	}
}

// TestRedis is a shared Redis container.
type TestRedis struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

// Addr returns host:port for go-redis.
func (r *TestRedis) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

var (
	sharedRedis     *TestRedis
	sharedRedisOnce sync.Once
	sharedRedisErr  error
)

// GetTestRedis returns a shared Redis container for integration tests.
func GetTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedRedisOnce.Do(func() {
		sharedRedis, sharedRedisErr = setupTestRedis()
	})

	if sharedRedisErr != nil {
		t.Fatalf("Failed to setup test redis: %v", sharedRedisErr)
	}

	return sharedRedis
}

func setupTestRedis() (*TestRedis, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &TestRedis{Container: container, Host: host, Port: port.Int()}, nil
}
