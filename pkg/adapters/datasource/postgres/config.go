package postgres

import (
	"fmt"
	"net/url"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/config"
)

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "disable"
}

// BuildConnectionString builds a PostgreSQL URL from a resolved spec.
// User, password and database are escaped so passwords containing @, / or #
// survive URL parsing. Loopback hosts are rewritten when running in Docker.
func BuildConnectionString(spec datasource.PoolSpec) (string, error) {
	if spec.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	if spec.Database == "" {
		return "", fmt.Errorf("database is required")
	}

	port := spec.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	sslMode := spec.SSLMode
	if v, ok := spec.Params["sslmode"]; ok && sslMode == "" {
		sslMode = v
	}
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	query.Set("sslmode", sslMode)
	for k, v := range spec.Params {
		if k != "sslmode" {
			query.Set(k, v)
		}
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(spec.Host), port),
		Path:     "/" + spec.Database,
		RawQuery: query.Encode(),
	}
	if spec.User != "" {
		u.User = url.UserPassword(spec.User, spec.Password)
	}
	return u.String(), nil
}
