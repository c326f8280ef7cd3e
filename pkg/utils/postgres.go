package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresPoolConfig controls the database/sql pool and the startup connect loop.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	// ConnectAttempts bounds the startup ping loop; the database container may still be
	// starting when the service boots.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 25
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = out.MaxOpenConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	if out.ConnectAttempts <= 0 {
		out.ConnectAttempts = 5
	}
	if out.ConnectBackoff <= 0 {
		out.ConnectBackoff = time.Second
	}
	return out
}

// OpenPostgres opens a pool through database/sql (driverName "pgx" for the pgx stdlib
// driver) and waits for the server to answer, doubling the backoff between pings.
// The DSN carries the password and is never logged.
func OpenPostgres(ctx context.Context, driverName, dsn string, pool PostgresPoolConfig, log *slog.Logger) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	err = waitReady(ctx, "postgres", pool.ConnectAttempts, pool.ConnectBackoff, log, func(ctx context.Context) error {
		return HealthCheck(ctx, db, pool.PingTimeout)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

const txAttempts = 3

// WithTx runs fn inside a transaction and commits it. fn is run again, in a fresh
// transaction, when Postgres aborts it with a serialization failure or a deadlock, so fn
// must not have side effects outside tx. A panic rolls back and is re-raised.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = runTx(ctx, db, opts, fn)
		if err == nil || !IsRetryableTxError(err) {
			return err
		}
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}

// IsRetryableTxError reports whether Postgres aborted the transaction for a reason a
// retry can fix (SQLSTATE 40001 serialization_failure, 40P01 deadlock_detected).
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
