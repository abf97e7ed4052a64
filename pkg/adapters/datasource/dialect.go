package datasource

import (
	"fmt"
	"strings"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/logging"
)

// Dialect identifies a database family.
type Dialect string

const (
	DialectH2         Dialect = "h2"
	DialectMySQL      Dialect = "mysql"
	DialectOracle     Dialect = "oracle"
	DialectPostgreSQL Dialect = "postgresql"
	DialectSQLServer  Dialect = "sqlserver"
)

// dialectMarkers is checked in order; the first marker contained in the URL wins.
var dialectMarkers = []struct {
	marker  string
	dialect Dialect
}{
	{":h2:", DialectH2},
	{":mysql:", DialectMySQL},
	{":oracle:", DialectOracle},
	{":postgresql:", DialectPostgreSQL},
	{":sqlserver:", DialectSQLServer},
}

// DialectFor derives the dialect from a JDBC-style URL by substring match.
// URLs that match none of the known markers fail with
// apperrors.ErrUnsupportedDialect.
func DialectFor(url string) (Dialect, error) {
	for _, m := range dialectMarkers {
		if strings.Contains(url, m.marker) {
			return m.dialect, nil
		}
	}
	return "", fmt.Errorf("unknown database of %s: %w", logging.SanitizeConnectionString(url), apperrors.ErrUnsupportedDialect)
}

// ParseDialect accepts a dialect name as written in configuration, including
// the common driver aliases.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h2":
		return DialectH2, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "oracle":
		return DialectOracle, nil
	case "postgresql", "postgres", "pgx":
		return DialectPostgreSQL, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	}
	return "", fmt.Errorf("dialect %q: %w", name, apperrors.ErrUnsupportedDialect)
}

func (d Dialect) String() string {
	return string(d)
}

// GoquDialect returns the goqu dialect name used to render SQL. Dialects goqu
// has no dedicated support for render with its default (ANSI) dialect.
func (d Dialect) GoquDialect() string {
	switch d {
	case DialectPostgreSQL:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectSQLServer:
		return "sqlserver"
	default:
		return "default"
	}
}

// SupportsReturning reports whether INSERT ... RETURNING is available.
func (d Dialect) SupportsReturning() bool {
	return d == DialectPostgreSQL
}

// DriverName is the database/sql driver name used for the dialect, which is
// also what sqlx keys its bind-variable style on.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgreSQL:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	case DialectSQLServer:
		return "sqlserver"
	}
	return ""
}
