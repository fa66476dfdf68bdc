package store

import (
	"fmt"
	"net/url"
)

// Config selects and parameterizes a Store backend.
type Config struct {
	Type     string `mapstructure:"type"`     // "sqlite" (default) or "postgres"
	Path     string `mapstructure:"path"`     // sqlite database file
	Host     string `mapstructure:"host"`     // postgres
	Port     int    `mapstructure:"port"`     // postgres
	Database string `mapstructure:"database"` // postgres
	Username string `mapstructure:"username"` // postgres
	Password string `mapstructure:"password"` // postgres
	SSLMode  string `mapstructure:"ssl_mode"` // postgres, default "disable"
}

// Open builds the Store named by cfg.Type.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres", "postgresql":
		return NewPostgresStore(cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// DSN renders the postgres connection string for cfg.
func (c Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}
