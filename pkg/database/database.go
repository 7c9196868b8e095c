package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/craftledger/craftledger-backend/pkg/config"
	"github.com/craftledger/craftledger-backend/pkg/logger"
)

// DB wraps sqlx.DB with transaction-aware query helpers
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &DB{
		DB:     db,
		logger: log,
	}, nil
}

// NewWithDSN creates a new database connection with a DSN string
func NewWithDSN(dsn string, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:     db,
		logger: log,
	}, nil
}

// Wrap wraps an existing sqlx.DB (used by tests)
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	return &DB{DB: db, logger: log}
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

type txKey struct{}

// Transaction executes a function within a transaction. The open
// transaction is stored in the context so that repository calls made
// through GetCtx/SelectCtx/ExecCtx/QueryRowCtx join it. On any error
// the transaction is rolled back and nothing is applied.
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		// Already inside a unit of work; join it.
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func txFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// GetCtx runs sqlx Get through the open transaction if one is present.
func (db *DB) GetCtx(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.GetContext(ctx, dest, query, args...)
	}
	return db.GetContext(ctx, dest, query, args...)
}

// SelectCtx runs sqlx Select through the open transaction if one is present.
func (db *DB) SelectCtx(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.SelectContext(ctx, dest, query, args...)
	}
	return db.SelectContext(ctx, dest, query, args...)
}

// ExecCtx runs Exec through the open transaction if one is present.
func (db *DB) ExecCtx(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

// QueryRowCtx runs QueryRowx through the open transaction if one is present.
func (db *DB) QueryRowCtx(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRowxContext(ctx, query, args...)
	}
	return db.QueryRowxContext(ctx, query, args...)
}
