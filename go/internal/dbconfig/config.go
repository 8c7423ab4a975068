package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config describes the optional Postgres snapshot database.
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads DATABASE_URL, or the DB_* variables when DB_HOST is
// set. With neither, the config is disabled.
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     os.Getenv("DB_HOST"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "cuecast"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// Enabled reports whether a database was configured at all.
func (c Config) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the connection URL. DATABASE_URL wins over the DB_* parts.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Redacted is DSN without the password, for logs.
func (c Config) Redacted() string {
	u, err := url.Parse(c.DSN())
	if err != nil {
		return "<invalid database url>"
	}
	return u.Redacted()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
