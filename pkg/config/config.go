package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Retirement policies for superseded connection pools.
const (
	RetirementManual    = "manual"
	RetirementDeferred  = "deferred"
	RetirementImmediate = "immediate"
)

// Second-level cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Config holds all configuration for cyfm-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Connection pools the engine may switch between
	Datasource DatasourceConfig `yaml:"datasource"`

	// Second-level entity/query cache
	Cache CacheConfig `yaml:"cache"`

	// Device-class skin cookie
	Skin SkinConfig `yaml:"skin"`
}

// DatasourceConfig holds datasource switching and pool settings.
type DatasourceConfig struct {
	// CatalogPath points at the YAML file listing switchable datasources.
	CatalogPath string `yaml:"catalog_path" env:"DATASOURCE_CATALOG" env-default:"datasources.yaml"`
	// Initial is the catalog entry bound at startup. Empty starts UNBOUND.
	Initial string `yaml:"initial" env:"DATASOURCE_INITIAL" env-default:""`
	// RetirementPolicy is one of manual, deferred or immediate.
	RetirementPolicy string `yaml:"retirement_policy" env:"DATASOURCE_RETIREMENT_POLICY" env-default:"manual"`
	// RetireGraceSeconds is how long a superseded pool lives before the
	// deferred reaper (or an immediate retirement) gives up waiting on it.
	RetireGraceSeconds int `yaml:"retire_grace_seconds" env:"DATASOURCE_RETIRE_GRACE_SECONDS" env-default:"30"`
	// ValidateOnSwitch pings the new pool before it is installed.
	ValidateOnSwitch bool `yaml:"validate_on_switch" env:"DATASOURCE_VALIDATE_ON_SWITCH" env-default:"true"`
	// SwitchTimeoutSeconds bounds pool opening and validation.
	SwitchTimeoutSeconds int `yaml:"switch_timeout_seconds" env:"DATASOURCE_SWITCH_TIMEOUT_SECONDS" env-default:"5"`
	// LazyInit defers executor initialization until the first query.
	LazyInit bool `yaml:"lazy_init" env:"DATASOURCE_LAZY_INIT" env-default:"false"`
	// ConnectionTTLMinutes is how long idle pooled connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the default maximum number of connections per pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the default minimum number of connections per pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"DATASOURCE_MIGRATIONS_PATH" env-default:"migrations"`
	// CredentialsKey decrypts catalog passwords written as "enc:<ciphertext>".
	// Only read from the environment.
	CredentialsKey string `yaml:"-" env:"DATASOURCE_CREDENTIALS_KEY" env-default:""`
}

// RetireGrace returns RetireGraceSeconds as a duration.
func (c *DatasourceConfig) RetireGrace() time.Duration {
	return time.Duration(c.RetireGraceSeconds) * time.Second
}

// SwitchTimeout returns SwitchTimeoutSeconds as a duration.
func (c *DatasourceConfig) SwitchTimeout() time.Duration {
	return time.Duration(c.SwitchTimeoutSeconds) * time.Second
}

// ConnectionTTL returns ConnectionTTLMinutes as a duration.
func (c *DatasourceConfig) ConnectionTTL() time.Duration {
	return time.Duration(c.ConnectionTTLMinutes) * time.Minute
}

// CacheConfig selects and configures the second-level cache backend.
type CacheConfig struct {
	Backend       string `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"`
	RedisHost     string `yaml:"redis_host" env:"CACHE_REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `yaml:"redis_port" env:"CACHE_REDIS_PORT" env-default:"6379"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB" env-default:"0"`
	RedisPassword string `yaml:"-" env:"CACHE_REDIS_PASSWORD"` // Secret - not in YAML
	KeyPrefix     string `yaml:"key_prefix" env:"CACHE_KEY_PREFIX" env-default:"cyfm"`
	TTLSeconds    int    `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"600"`
}

// TTL returns TTLSeconds as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SkinConfig holds the skin cookie settings.
type SkinConfig struct {
	CookieName string `yaml:"cookie_name" env:"SKIN_COOKIE_NAME" env-default:"skin"`
	// CookieDomain is optional. If empty, it is derived from BaseURL.
	CookieDomain string `yaml:"cookie_domain" env:"SKIN_COOKIE_DOMAIN" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validateDatasource(); err != nil {
		return nil, fmt.Errorf("invalid datasource configuration: %w", err)
	}

	if err := cfg.validateCache(); err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validateDatasource() error {
	ds := &c.Datasource
	ds.RetirementPolicy = strings.ToLower(strings.TrimSpace(ds.RetirementPolicy))

	switch ds.RetirementPolicy {
	case RetirementManual, RetirementDeferred, RetirementImmediate:
	default:
		return fmt.Errorf("unknown retirement_policy %q (want manual, deferred or immediate)", ds.RetirementPolicy)
	}

	if ds.RetireGraceSeconds < 0 {
		return fmt.Errorf("retire_grace_seconds must not be negative")
	}
	if ds.SwitchTimeoutSeconds <= 0 {
		return fmt.Errorf("switch_timeout_seconds must be positive")
	}
	if ds.PoolMaxConns < 1 {
		return fmt.Errorf("pool_max_conns must be at least 1")
	}
	if ds.PoolMinConns < 0 || ds.PoolMinConns > ds.PoolMaxConns {
		return fmt.Errorf("pool_min_conns must be between 0 and pool_max_conns")
	}
	return nil
}

func (c *Config) validateCache() error {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendNone:
		return nil
	default:
		return fmt.Errorf("unknown cache backend %q (want memory, redis or none)", c.Cache.Backend)
	}
}
