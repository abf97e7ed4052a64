package mysql

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/config"
)

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// NewDriverConfig maps a resolved spec onto the driver's config. JDBC-only
// properties (useUnicode, characterEncoding) are dropped; everything else is
// forwarded as a session parameter.
func NewDriverConfig(spec datasource.PoolSpec) (*mysql.Config, error) {
	if spec.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if spec.Database == "" {
		return nil, fmt.Errorf("database is required")
	}

	port := spec.Port
	if port == 0 {
		port = DefaultPort()
	}

	cfg := mysql.NewConfig()
	cfg.User = spec.User
	cfg.Passwd = spec.Password
	cfg.Net = "tcp"
	cfg.Addr = config.ResolveHostForDocker(spec.Host) + ":" + strconv.Itoa(port)
	cfg.DBName = spec.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 30 * time.Second

	for k, v := range spec.Params {
		switch k {
		case "useUnicode", "characterEncoding", "useSSL", "serverTimezone", "parseTime":
			continue
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		cfg.Params[k] = v
	}
	return cfg, nil
}
