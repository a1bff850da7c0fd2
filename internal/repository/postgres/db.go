package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PoolOptions sizes the connection pool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxIdleTime time.Duration
}

// connectTimeout bounds the initial ping.
const connectTimeout = 5 * time.Second

// Connect opens a connection pool to the PostgreSQL database and checks it
// answers.
func Connect(ctx context.Context, databaseURL string, opts PoolOptions) (*sql.DB, error) {
	if opts.MaxOpen == 0 {
		opts.MaxOpen = 25
	}
	if opts.MaxIdle == 0 {
		opts.MaxIdle = 5
	}
	if opts.MaxIdleTime == 0 {
		opts.MaxIdleTime = 5 * time.Minute
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxIdleTime(opts.MaxIdleTime)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
