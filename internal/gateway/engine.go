package gateway

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql:// and mariadb:// URLs
	_ "github.com/jackc/pgx/v5/stdlib" // postgres:// URLs
	_ "github.com/mattn/go-sqlite3"    // sqlite:// URLs and file paths
)

// Engine identifies a supported SQL engine. The set is closed; each engine
// owns one decode table and one catalog/reset strategy.
type Engine int

const (
	// Postgres covers postgres:// and postgresql:// URLs via pgx.
	Postgres Engine = iota + 1
	// MySQL covers mysql:// and mariadb:// URLs (MariaDB speaks the same
	// protocol and reports the same column-type names).
	MySQL
	// SQLite covers sqlite:// URLs and plain file paths.
	SQLite
)

// String returns the engine name as used in logs.
func (e Engine) String() string {
	switch e {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("engine(%d)", int(e))
	}
}

func (e Engine) decodeTable() map[string]decodeFunc {
	switch e {
	case Postgres:
		return postgresDecode
	case MySQL:
		return mysqlDecode
	default:
		return sqliteDecode
	}
}

// engineForURL infers the engine from the connection URL scheme and
// translates the URL into the driver name and DSN the engine's driver wants.
func engineForURL(raw string) (Engine, string, string, error) {
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		// pgx's database/sql driver accepts the URL form directly.
		return Postgres, "pgx", raw, nil

	case strings.HasPrefix(raw, "mysql://"), strings.HasPrefix(raw, "mariadb://"):
		dsn, err := mysqlDSN(raw)
		if err != nil {
			return 0, "", "", err
		}
		return MySQL, "mysql", dsn, nil

	case strings.HasPrefix(raw, "sqlite://"):
		dsn := strings.TrimPrefix(raw, "sqlite://")
		if dsn == "" {
			dsn = ":memory:"
		}
		return SQLite, "sqlite3", dsn, nil

	case strings.Contains(raw, "://"):
		return 0, "", "", fmt.Errorf("unsupported database URL scheme in %q", raw)

	default:
		// No scheme: treat as a SQLite file path (or ":memory:").
		return SQLite, "sqlite3", raw, nil
	}
}

// mysqlDSN rewrites a mysql:// URL into the go-sql-driver DSN form
// (user:pass@tcp(host:port)/db). parseTime is forced on so temporal columns
// scan as time.Time instead of raw text.
func mysqlDSN(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql URL: %w", err)
	}

	var sb strings.Builder
	if u.User != nil {
		sb.WriteString(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			sb.WriteString(":")
			sb.WriteString(pass)
		}
		sb.WriteString("@")
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":3306"
	}
	fmt.Fprintf(&sb, "tcp(%s)", host)

	sb.WriteString("/")
	sb.WriteString(strings.TrimPrefix(u.Path, "/"))

	params := u.Query()
	params.Set("parseTime", "true")
	params.Set("multiStatements", "true")
	sb.WriteString("?")
	sb.WriteString(params.Encode())

	return sb.String(), nil
}
