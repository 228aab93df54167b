package db

import (
	"fmt"
	"net/url"
	"strings"
)

// WithDatabase returns dsn with its database path replaced. Supports
// postgres:// and postgresql:// URLs; a bare host DSN gets postgres://.
func WithDatabase(dsn, database string) (string, error) {
	u, err := parseURL(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// DatabaseName extracts the database from a URL DSN, for logging.
func DatabaseName(dsn string) string {
	u, err := parseURL(dsn)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func parseURL(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	return u, nil
}
