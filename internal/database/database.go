package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	// Register pgx as database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

const (
	connectionSetupTimeout   = 10 * time.Second
	defaultBusyTimeoutMillis = 5000
)

// DB wraps a *sql.DB together with the SQL dialect it speaks.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Options selects and tunes the storage engine.
type Options struct {
	Engine       string // sqlite|postgres
	Driver       string // postgres only: pgx|pq
	DSN          string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
}

var driverInit sync.Once

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA foreign_keys = ON",
				fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis),
			}
			for _, pragma := range pragmas {
				if _, err := conn.ExecContext(ctx, pragma, nil); err != nil {
					return fmt.Errorf("connection hook exec %q: %w", pragma, err)
				}
			}
			return nil
		})
	})
}

// Open connects to the configured engine and verifies the connection.
func Open(opts Options) (*DB, error) {
	dialect, err := ParseDialect(opts.Engine)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectSQLite:
		return openSQLite(opts)
	default:
		return openPostgres(opts)
	}
}

func openSQLite(opts Options) (*DB, error) {
	path := strings.TrimSpace(opts.SQLitePath)
	if path == "" {
		return nil, errors.New("sqlite database path is required")
	}
	log.Info().Str("path", path).Msg("opening sqlite database")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// sqlite allows a single writer; serialize through one connection so
	// conditional updates never race on SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{DB: conn, dialect: DialectSQLite}
	if err := db.ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func openPostgres(opts Options) (*DB, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return nil, errors.New("postgres requires database.dsn or DATABASE_URL")
	}

	driver := "pgx"
	if strings.EqualFold(strings.TrimSpace(opts.Driver), "pq") {
		driver = "postgres"
	}
	log.Info().Str("driver", driver).Msg("opening postgres database")

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{DB: conn, dialect: DialectPostgres}
	if err := db.ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}
	return nil
}

// Dialect reports the SQL dialect of the connection.
func (db *DB) Dialect() Dialect {
	if db == nil || db.dialect == "" {
		return DialectSQLite
	}
	return db.dialect
}

// Rebind rewrites '?' placeholders for the connection's dialect.
func (db *DB) Rebind(query string) string {
	if db.Dialect() != DialectPostgres {
		return query
	}
	return rebindQuestionToDollar(query)
}
