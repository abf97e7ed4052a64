package datasource

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// PoolSpec describes how to open a connection pool.
type PoolSpec struct {
	Name     string
	URL      string
	Dialect  Dialect
	Host     string
	Port     int
	User     string
	Password string `json:"-"`
	Database string
	SSLMode  string
	Params   map[string]string

	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// PoolDefaults fill in sizing a PoolSpec leaves unset.
type PoolDefaults struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// WithDefaults returns a copy of s with unset sizing taken from d.
func (s PoolSpec) WithDefaults(d PoolDefaults) PoolSpec {
	if s.MaxConns <= 0 {
		s.MaxConns = d.MaxConns
	}
	if s.MinConns <= 0 {
		s.MinConns = d.MinConns
	}
	if s.MinConns > s.MaxConns {
		s.MinConns = s.MaxConns
	}
	if s.MaxConnIdleTime <= 0 {
		s.MaxConnIdleTime = d.MaxConnIdleTime
	}
	return s
}

// Resolve returns a copy of s with the dialect determined and any fields the
// URL carries filled in. Explicit fields take precedence over the URL.
func (s PoolSpec) Resolve() (PoolSpec, error) {
	if s.Dialect == "" {
		if s.URL == "" {
			return s, fmt.Errorf("datasource %q: dialect or url is required", s.Name)
		}
		d, err := DialectFor(s.URL)
		if err != nil {
			return s, err
		}
		s.Dialect = d
	} else {
		d, err := ParseDialect(string(s.Dialect))
		if err != nil {
			return s, err
		}
		s.Dialect = d
	}

	if s.URL == "" {
		return s, nil
	}

	parsed, err := ParseSpecURL(s.Dialect, s.URL)
	if err != nil {
		return s, fmt.Errorf("datasource %q: %w", s.Name, err)
	}
	if s.Host == "" {
		s.Host = parsed.Host
	}
	if s.Port == 0 {
		s.Port = parsed.Port
	}
	if s.Database == "" {
		s.Database = parsed.Database
	}
	if s.User == "" {
		s.User = parsed.User
	}
	if s.Password == "" {
		s.Password = parsed.Password
	}
	if len(parsed.Params) > 0 {
		merged := make(map[string]string, len(parsed.Params)+len(s.Params))
		for k, v := range parsed.Params {
			merged[k] = v
		}
		for k, v := range s.Params {
			merged[k] = v
		}
		s.Params = merged
	}
	return s, nil
}

// Summary renders the pool spec for logs and the admin API, never the password.
func (s PoolSpec) Summary() string {
	if s.Host == "" {
		return fmt.Sprintf("%s %s", s.Dialect, s.Database)
	}
	return fmt.Sprintf("%s %s:%d/%s", s.Dialect, s.Host, s.Port, s.Database)
}

// SpecURL holds the pieces of a datasource URL.
type SpecURL struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Params   map[string]string
}

// ParseSpecURL splits a JDBC-style URL (jdbc:postgresql://...,
// jdbc:sqlserver://host;databaseName=...) or a native driver DSN into its
// parts.
func ParseSpecURL(dialect Dialect, raw string) (SpecURL, error) {
	rest := strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:")

	switch dialect {
	case DialectH2:
		// h2:mem:name, h2:file:/path, h2:tcp://host/path
		return SpecURL{Database: strings.TrimPrefix(rest, "h2:")}, nil
	case DialectOracle:
		return parseOracleURL(rest)
	case DialectSQLServer:
		if strings.Contains(rest, ";") {
			return parseSQLServerJDBC(rest)
		}
		return parseHierarchicalURL(rest, 1433)
	case DialectMySQL:
		if !strings.Contains(rest, "://") {
			return parseMySQLDSN(rest)
		}
		return parseHierarchicalURL(rest, 3306)
	case DialectPostgreSQL:
		return parseHierarchicalURL(rest, 5432)
	}
	return SpecURL{}, fmt.Errorf("cannot parse url for dialect %q", dialect)
}

func parseHierarchicalURL(raw string, defaultPort int) (SpecURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return SpecURL{}, fmt.Errorf("invalid datasource url: %w", err)
	}

	out := SpecURL{
		Host:     u.Hostname(),
		Port:     defaultPort,
		Database: strings.TrimPrefix(u.Path, "/"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return SpecURL{}, fmt.Errorf("invalid port %q", p)
		}
		out.Port = port
	}
	if u.User != nil {
		out.User = u.User.Username()
		out.Password, _ = u.User.Password()
	}

	params := make(map[string]string)
	for k, v := range u.Query() {
		switch strings.ToLower(k) {
		case "user":
			out.User = v[0]
		case "password":
			out.Password = v[0]
		case "database", "databasename":
			out.Database = v[0]
		default:
			params[k] = v[0]
		}
	}
	if len(params) > 0 {
		out.Params = params
	}
	return out, nil
}

// parseSQLServerJDBC handles sqlserver://host[:port][;key=value]*.
func parseSQLServerJDBC(raw string) (SpecURL, error) {
	parts := strings.Split(raw, ";")
	out, err := parseHierarchicalURL(parts[0], 1433)
	if err != nil {
		return SpecURL{}, err
	}

	for _, prop := range parts[1:] {
		key, value, ok := strings.Cut(prop, "=")
		if !ok || key == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "databasename", "database":
			out.Database = value
		case "user", "username":
			out.User = value
		case "password":
			out.Password = value
		default:
			if out.Params == nil {
				out.Params = make(map[string]string)
			}
			out.Params[key] = value
		}
	}
	return out, nil
}

// parseOracleURL handles oracle:thin:@host:port:SID and
// oracle:thin:@//host:port/service.
func parseOracleURL(raw string) (SpecURL, error) {
	_, target, ok := strings.Cut(raw, "@")
	if !ok {
		return SpecURL{}, fmt.Errorf("invalid oracle url")
	}
	target = strings.TrimPrefix(target, "//")

	out := SpecURL{Port: 1521}
	hostPort, db, found := strings.Cut(target, "/")
	if !found {
		// host:port:SID
		fields := strings.Split(target, ":")
		switch len(fields) {
		case 3:
			hostPort, db = fields[0]+":"+fields[1], fields[2]
		case 2:
			hostPort, db = fields[0], fields[1]
		default:
			return SpecURL{}, fmt.Errorf("invalid oracle url")
		}
	}

	host, port, hasPort := strings.Cut(hostPort, ":")
	out.Host = host
	out.Database = db
	if hasPort {
		p, err := strconv.Atoi(port)
		if err != nil {
			return SpecURL{}, fmt.Errorf("invalid port %q", port)
		}
		out.Port = p
	}
	return out, nil
}

func parseMySQLDSN(raw string) (SpecURL, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return SpecURL{}, fmt.Errorf("invalid mysql dsn: %w", err)
	}

	out := SpecURL{
		User:     cfg.User,
		Password: cfg.Passwd,
		Database: cfg.DBName,
		Port:     3306,
		Params:   cfg.Params,
	}
	host, port, found := strings.Cut(cfg.Addr, ":")
	out.Host = host
	if found {
		if p, err := strconv.Atoi(port); err == nil {
			out.Port = p
		}
	}
	return out, nil
}
