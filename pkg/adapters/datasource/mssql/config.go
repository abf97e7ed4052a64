package mssql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/config"
)

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// BuildConnectionString builds a go-mssqldb sqlserver:// URL using SQL
// Server authentication. JDBC properties such as encrypt and
// trustServerCertificate carried in spec.Params are passed through.
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
	query.Add("database", spec.Database)

	encrypt := "true"
	timeout := strconv.Itoa(DefaultConnectionTimeout())
	for k, v := range spec.Params {
		switch strings.ToLower(k) {
		case "encrypt":
			encrypt = v
		case "trustservercertificate":
			query.Add("TrustServerCertificate", v)
		case "logintimeout", "connection timeout":
			timeout = v
		default:
			query.Add(k, v)
		}
	}
	query.Add("encrypt", encrypt)
	query.Add("connection timeout", timeout)

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(spec.Host), port),
		RawQuery: query.Encode(),
	}
	if spec.User != "" {
		u.User = url.UserPassword(spec.User, spec.Password)
	}
	return u.String(), nil
}
