package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

type Config struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ConfigFrom maps the application database settings.
func ConfigFrom(c common.DatabaseConfig) Config {
	return Config{
		Driver:           c.Driver,
		DSN:              c.DSN,
		MaxConns:         c.MaxConns,
		MinConns:         c.MinConns,
		MaxConnLifetime:  c.MaxConnLifetime,
		MaxConnIdleTime:  c.MaxConnIdleTime,
		DialTimeout:      c.DialTimeout,
		StatementTimeout: c.StatementTimeout,
	}
}

// DB is an Ent SQL driver over either a pgx pool or a SQLite handle.
type DB struct {
	drv  *entsql.Driver
	pool *pgxpool.Pool
	sql  *sql.DB
}

func (db *DB) Driver() *entsql.Driver { return db.drv }

// Dialect returns the ent dialect name, used to build queries.
func (db *DB) Dialect() string { return db.drv.Dialect() }

func (db *DB) builder() *entsql.DialectBuilder { return entsql.Dialect(db.drv.Dialect()) }

// Open connects to the configured database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", cfg.Driver)
	var (
		db  *DB
		err error
	)
	switch cfg.Driver {
	case "postgres", "":
		db, err = openPostgres(ctx, cfg)
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	default:
		err = fmt.Errorf("%w: unsupported database driver %q", common.ErrInvalidInput, cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}
	logger.Info("successfully connected to database", "driver", cfg.Driver)
	return db, nil
}

func openPostgres(ctx context.Context, cfg Config) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "esg-compliance"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	// Wrap pool as *sql.DB for Ent
	sqldb := stdlib.OpenDBFromPool(pool)
	return &DB{drv: entsql.OpenDB(dialect.Postgres, sqldb), pool: pool, sql: sqldb}, nil
}

func openSQLite(ctx context.Context, cfg Config) (*DB, error) {
	sqldb, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One writer; concurrent branches queue on the pool instead of failing with SQLITE_BUSY.
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return &DB{drv: entsql.OpenDB(dialect.SQLite, sqldb), sql: sqldb}, nil
}

// Close closes the database connections gracefully
func (db *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("closing database connections")
	if err := db.drv.Close(); err != nil {
		logger.Error("failed to close database driver", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if db.pool != nil {
		if err := db.pool.Ping(ctx); err != nil {
			return fmt.Errorf("%w: ping: %v", common.ErrDatabase, err)
		}
	} else if err := db.sql.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", common.ErrDatabase, err)
	}
	logger.Debug("database ping successful")
	return nil
}

// Count returns the number of rows in table.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	q, args := db.builder().Select(entsql.Count("*")).From(entsql.Table(table)).Query()
	var n int
	err := db.queryRows(ctx, q, args, func(rows *entsql.Rows) error {
		return rows.Scan(&n)
	})
	return n, err
}

// exec runs a statement and returns the affected row count.
func exec(ctx context.Context, ex dialect.ExecQuerier, q string, args []any) (int64, error) {
	var res sql.Result
	if err := ex.Exec(ctx, q, args, &res); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	return n, nil
}

// query runs q and calls scan for every row.
func query(ctx context.Context, ex dialect.ExecQuerier, q string, args []any, scan func(*entsql.Rows) error) error {
	var rows entsql.Rows
	if err := ex.Query(ctx, q, args, &rows); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(&rows); err != nil {
			return fmt.Errorf("%w: scan: %v", common.ErrDatabase, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

func (db *DB) queryRows(ctx context.Context, q string, args []any, scan func(*entsql.Rows) error) error {
	return query(ctx, db.drv, q, args, scan)
}

// withTx runs fn in a transaction and commits when it returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := db.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	return nil
}
