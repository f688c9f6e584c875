// Package dbconfig resolves the archive database's connection settings from
// the environment. A full DATABASE_URL wins; otherwise the URL is assembled
// from the individual DB_* variables with credentials escaped.
package dbconfig

import (
	"net"
	"net/url"
	"os"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string

	raw string // verbatim DATABASE_URL, when provided
}

// NewConfigFromEnv resolves connection settings. DATABASE_URL, when set, is
// used verbatim and the DB_* variables are ignored.
func NewConfigFromEnv() Config {
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		return Config{raw: raw}
	}
	return Config{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     envOr("DB_PORT", "5432"),
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "tabletop"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	if c.raw != "" {
		return c.raw
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
