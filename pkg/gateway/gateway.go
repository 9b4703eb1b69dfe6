// Package gateway is the Persistence Gateway: typed access to the durable
// relational store, atomic row updates, and snake_case<->camelCase
// normalization at the row-scan boundary. It does not interpret work-item
// or worker semantics — that lives in pkg/queue and pkg/supervisor, which
// depend only on this package's typed accessor methods.
//
// Grounded on rezkam-mono's internal/storage/sql connection/migration
// bootstrap (pgx/stdlib over database/sql, goose with an embedded
// migration FS), adapted from its repository.Store/sqlc layer to hand
// written named SQL constants per spec.md §9's explicit guidance.
package gateway

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config configures the connection pool backing a Gateway.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Gateway is the pgx-backed Persistence Gateway.
type Gateway struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to cfg.DSN, applies embedded migrations, and returns a
// ready Gateway.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Gateway, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("gateway: open: %w", err)
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 1 * time.Minute
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: migrate: %w", err)
	}

	return &Gateway{db: db, logger: logger.With().Str("component", "gateway").Logger()}, nil
}

func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	return goose.Up(db, "migrations")
}

// Migrate runs a goose subcommand (up, down, status, redo, version)
// against dsn using the embedded migration set, independent of Open/
// Gateway. It exists for the standalone migration CLI, which needs to
// drive schema changes without constructing a full Gateway.
func Migrate(ctx context.Context, dsn, command string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("gateway: migrate: open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("gateway: migrate: ping: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("gateway: migrate: set dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)

	switch command {
	case "up":
		return goose.UpContext(ctx, db, "migrations")
	case "down":
		return goose.DownContext(ctx, db, "migrations")
	case "status":
		return goose.StatusContext(ctx, db, "migrations")
	case "redo":
		return goose.RedoContext(ctx, db, "migrations")
	case "version":
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return err
		}
		fmt.Printf("current version: %d\n", v)
		return nil
	default:
		return fmt.Errorf("gateway: migrate: unknown command %q", command)
	}
}

// Close releases the connection pool.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Ping verifies the connection is alive, used by the HTTP readiness probe.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}
