package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultApplicationName = "carelink"

// PoolOptions sizes the shared pool used by the chat, notification and
// read-view repositories. Zero values keep the pgx defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ApplicationName string
}

func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	setApplicationName(cfg.ConnConfig, opts.ApplicationName)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ListenConn opens a standalone connection with the pool's settings. LISTEN
// sessions last as long as their change stream, so they stay out of the pool.
func ListenConn(ctx context.Context, pool *pgxpool.Pool) (*pgx.Conn, error) {
	cfg := pool.Config().ConnConfig.Copy()
	cfg.RuntimeParams["application_name"] = applicationName(cfg) + "-listen"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open listen connection: %w", err)
	}
	return conn, nil
}

// setApplicationName fills application_name unless the URL already set one.
func setApplicationName(cfg *pgx.ConnConfig, name string) {
	if _, ok := cfg.RuntimeParams["application_name"]; ok {
		return
	}
	if name == "" {
		name = defaultApplicationName
	}
	cfg.RuntimeParams["application_name"] = name
}

func applicationName(cfg *pgx.ConnConfig) string {
	if name := cfg.RuntimeParams["application_name"]; name != "" {
		return name
	}
	return defaultApplicationName
}
