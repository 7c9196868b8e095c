// Package testutil provides testing utilities for CraftLedger services.
// It includes testcontainers for PostgreSQL, mock factories, and common
// test fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "craftledger_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "craftledger_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// lotTableDDL builds the schema for a ledger lot table. The stock and
// product tables are structurally identical.
func lotTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id UUID PRIMARY KEY,
			item_id UUID NOT NULL REFERENCES inventory_items(id),
			org_id VARCHAR(100) NOT NULL,
			change_kind VARCHAR(50) NOT NULL,
			quantity_change NUMERIC(14,4) NOT NULL,
			remaining_quantity NUMERIC(14,4) NOT NULL,
			unit_cost NUMERIC(14,4) NOT NULL DEFAULT 0,
			expiration_date DATE,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			lot_code VARCHAR(50) NOT NULL,
			source_lot_id UUID,
			CONSTRAINT %[1]s_remaining_nonneg CHECK (remaining_quantity >= 0),
			CONSTRAINT %[1]s_change_kind_valid CHECK (change_kind IN (
				'restock', 'batch', 'recount', 'refund_credit',
				'use', 'sale', 'reserved', 'returned',
				'spoil', 'trash', 'expired_disposal'
			))
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_item_order
			ON %[1]s (org_id, item_id, occurred_at, id);
	`, table)
}

// CreateLedgerSchema creates the full ledger schema in the container
func (c *PostgresContainer) CreateLedgerSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS inventory_items (
			id UUID PRIMARY KEY,
			org_id VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(50) NOT NULL,
			unit VARCHAR(50) NOT NULL,
			quantity NUMERIC(14,4) NOT NULL DEFAULT 0,
			cost_per_unit NUMERIC(14,4) NOT NULL DEFAULT 0,
			is_perishable BOOLEAN NOT NULL DEFAULT FALSE,
			shelf_life_days INTEGER,
			density NUMERIC(14,6),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT inventory_items_category_valid CHECK (category IN (
				'ingredient', 'container', 'product'
			))
		);

		CREATE TABLE IF NOT EXISTS reservations (
			id UUID PRIMARY KEY,
			org_id VARCHAR(100) NOT NULL,
			item_id UUID NOT NULL REFERENCES inventory_items(id),
			order_id VARCHAR(100) NOT NULL,
			quantity NUMERIC(14,4) NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'active',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_reservations_due
			ON reservations (status, expires_at);

		CREATE TABLE IF NOT EXISTS reservation_lines (
			id UUID PRIMARY KEY,
			reservation_id UUID NOT NULL REFERENCES reservations(id),
			source_lot_id UUID NOT NULL,
			entry_id UUID NOT NULL,
			quantity NUMERIC(14,4) NOT NULL
		);

		CREATE TABLE IF NOT EXISTS unit_mappings (
			org_id VARCHAR(100) NOT NULL,
			from_unit VARCHAR(100) NOT NULL,
			to_unit VARCHAR(100) NOT NULL,
			factor NUMERIC(18,8) NOT NULL CHECK (factor > 0),
			PRIMARY KEY (org_id, from_unit, to_unit)
		);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	for _, table := range []string{"stock_lots", "product_lots"} {
		if _, err := db.ExecContext(ctx, lotTableDDL(table)); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return nil
}
