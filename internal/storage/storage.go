// Package storage keeps guild and user rows in Postgres (pgx) or libsql.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Dialect selects SQL flavour and goose dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DB is a database handle that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// DriverFor maps a connection URL onto a database/sql driver and dialect.
func DriverFor(url string) (driver string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", Postgres, nil
	case strings.HasPrefix(url, "libsql://"), strings.HasPrefix(url, "file:"),
		strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return "libsql", SQLite, nil
	}
	return "", "", fmt.Errorf("storage: unsupported database url scheme in %q", redact(url))
}

func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	return "..."
}

// Open connects and checks the connection within 5 seconds.
func Open(ctx context.Context, url string) (*DB, error) {
	driver, dialect, err := DriverFor(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, err
	}
	if dialect == Postgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// Migrate applies the embedded migrations.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(string(db.Dialect)); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Guilds returns the guild table.
func (db *DB) Guilds() *Repo { return &Repo{db: db, table: "guilds", now: time.Now} }

// Users returns the user table.
func (db *DB) Users() *Repo { return &Repo{db: db, table: "users", now: time.Now} }
