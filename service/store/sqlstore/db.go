package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// Config holds database connection configuration.
type Config struct {
	Driver   string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	MaxConns int    `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`
	MinConns int    `json:"minConns,omitempty" yaml:"minConns,omitempty"`
}

// Dialect returns goose dialect for configured driver
func (c *Config) Dialect() (string, error) {
	switch strings.ToLower(c.Driver) {
	case DriverSQLite, "sqlite3", "":
		return "sqlite3", nil
	case DriverPgx, DriverPostgres:
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported sql driver: %v", c.Driver)
}

func (c *Config) driver() string {
	switch strings.ToLower(c.Driver) {
	case "", "sqlite3":
		return DriverSQLite
	}
	return strings.ToLower(c.Driver)
}

// OpenDB opens and pings a database connection pool.
func OpenDB(ctx context.Context, cfg *Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sql dsn cannot be empty")
	}
	driver := cfg.driver()
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		} else {
			db.SetMaxOpenConns(10)
		}
		if cfg.MinConns > 0 {
			db.SetMaxIdleConns(cfg.MinConns)
		} else {
			db.SetMaxIdleConns(2)
		}
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

var migrateMu sync.Mutex

// Migrate applies embedded schema migrations.
func Migrate(db *sqlx.DB, dialect string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}
