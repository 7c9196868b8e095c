package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/pkg/database"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// LotSelector picks which additive lots a ledger query covers
type LotSelector int

const (
	// SelectFresh covers additive lots with a remainder that are not expired
	SelectFresh LotSelector = iota
	// SelectExpired covers additive lots with a remainder that are expired
	SelectExpired
	// SelectAll covers all additive lots with a remainder, fresh and expired
	SelectAll
)

// LotRepository is the read/write layer over per-item lots. Ingredient
// and container items live in stock_lots; product items live in the
// structurally identical product_lots table. Callers obtain the right
// implementation through LotStore and never branch on category.
type LotRepository interface {
	Insert(ctx context.Context, org orgctx.Org, lot *domain.StockLot) error
	GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.StockLot, error)
	ListWithRemainder(ctx context.Context, org orgctx.Org, itemID string, sel LotSelector, today time.Time) ([]*domain.StockLot, error)
	Total(ctx context.Context, org orgctx.Org, itemID string, sel LotSelector, today time.Time) (decimal.Decimal, error)
	DecrementRemaining(ctx context.Context, org orgctx.Org, lotID string, take decimal.Decimal) error
	CreditRemaining(ctx context.Context, org orgctx.Org, lotID string, amount decimal.Decimal) error
	ListExpiringWithin(ctx context.Context, org orgctx.Org, itemID string, days int, today time.Time) ([]*domain.StockLot, error)
}

// sqlLotRepository implements LotRepository over one lot table
type sqlLotRepository struct {
	db    *database.DB
	table string
}

// NewStockLotRepository returns the lot repository for ingredient and
// container items.
func NewStockLotRepository(db *database.DB) LotRepository {
	return &sqlLotRepository{db: db, table: "stock_lots"}
}

// NewProductLotRepository returns the lot repository for product items.
func NewProductLotRepository(db *database.DB) LotRepository {
	return &sqlLotRepository{db: db, table: "product_lots"}
}

// LotStore routes to the lot table for an item's category
type LotStore struct {
	stock   LotRepository
	product LotRepository
}

// NewLotStore creates a lot store over both lot tables
func NewLotStore(db *database.DB) *LotStore {
	return &LotStore{
		stock:   NewStockLotRepository(db),
		product: NewProductLotRepository(db),
	}
}

// NewLotStoreWith creates a lot store from explicit repositories (tests)
func NewLotStoreWith(stock, product LotRepository) *LotStore {
	return &LotStore{stock: stock, product: product}
}

// ForItem returns the lot repository backing the item's category
func (s *LotStore) ForItem(item *domain.InventoryItem) LotRepository {
	if item.Category == domain.CategoryProduct {
		return s.product
	}
	return s.stock
}

func (r *sqlLotRepository) Insert(ctx context.Context, org orgctx.Org, lot *domain.StockLot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.OrgID = org.ID
	if lot.OccurredAt.IsZero() {
		lot.OccurredAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, item_id, org_id, change_kind, quantity_change, remaining_quantity,
			unit_cost, expiration_date, occurred_at, lot_code, source_lot_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.table)

	_, err := r.db.ExecCtx(ctx, query,
		lot.ID, lot.ItemID, lot.OrgID, lot.ChangeKind, lot.QuantityChange,
		lot.RemainingQuantity, lot.UnitCost, lot.ExpirationDate,
		lot.OccurredAt, lot.LotCode, lot.SourceLotID,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

func (r *sqlLotRepository) GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.StockLot, error) {
	var lot domain.StockLot
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 AND org_id = $2`, r.table)
	if err := r.db.GetCtx(ctx, &lot, query, id, org.ID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// expirationClause returns the SQL predicate for the selector. Expiration
// is compared at date granularity: a lot expiring today is still fresh.
func expirationClause(sel LotSelector) string {
	switch sel {
	case SelectFresh:
		return "AND (expiration_date IS NULL OR expiration_date >= $3)"
	case SelectExpired:
		return "AND expiration_date < $3"
	default:
		return "AND $3::date IS NOT NULL"
	}
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r *sqlLotRepository) ListWithRemainder(ctx context.Context, org orgctx.Org, itemID string, sel LotSelector, today time.Time) ([]*domain.StockLot, error) {
	lots := []*domain.StockLot{}
	query := fmt.Sprintf(`
		SELECT * FROM %s
		WHERE item_id = $1 AND org_id = $2
		AND quantity_change > 0 AND remaining_quantity > 0
		%s
		ORDER BY occurred_at, id
	`, r.table, expirationClause(sel))

	if err := r.db.SelectCtx(ctx, &lots, query, itemID, org.ID, utcDate(today)); err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *sqlLotRepository) Total(ctx context.Context, org orgctx.Org, itemID string, sel LotSelector, today time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := fmt.Sprintf(`
		SELECT SUM(remaining_quantity) FROM %s
		WHERE item_id = $1 AND org_id = $2
		AND quantity_change > 0 AND remaining_quantity > 0
		%s
	`, r.table, expirationClause(sel))

	if err := r.db.GetCtx(ctx, &total, query, itemID, org.ID, utcDate(today)); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// DecrementRemaining decreases a lot's remainder by take. The guard in
// the WHERE clause refuses a decrement that would go negative; zero rows
// affected aborts the caller's unit of work.
func (r *sqlLotRepository) DecrementRemaining(ctx context.Context, org orgctx.Org, lotID string, take decimal.Decimal) error {
	query := fmt.Sprintf(`
		UPDATE %s SET remaining_quantity = remaining_quantity - $3
		WHERE id = $1 AND org_id = $2 AND remaining_quantity >= $3
	`, r.table)

	result, err := r.db.ExecCtx(ctx, query, lotID, org.ID, take)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("lot remainder changed concurrently or would go negative")
	}
	return nil
}

// CreditRemaining increases a lot's remainder. The guard refuses a credit
// that would push the remainder above the lot's original size.
func (r *sqlLotRepository) CreditRemaining(ctx context.Context, org orgctx.Org, lotID string, amount decimal.Decimal) error {
	query := fmt.Sprintf(`
		UPDATE %s SET remaining_quantity = remaining_quantity + $3
		WHERE id = $1 AND org_id = $2 AND remaining_quantity + $3 <= quantity_change
	`, r.table)

	result, err := r.db.ExecCtx(ctx, query, lotID, org.ID, amount)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("credit would exceed the lot's original quantity")
	}
	return nil
}

func (r *sqlLotRepository) ListExpiringWithin(ctx context.Context, org orgctx.Org, itemID string, days int, today time.Time) ([]*domain.StockLot, error) {
	lots := []*domain.StockLot{}
	query := fmt.Sprintf(`
		SELECT * FROM %s
		WHERE item_id = $1 AND org_id = $2
		AND quantity_change > 0 AND remaining_quantity > 0
		AND expiration_date IS NOT NULL
		AND expiration_date >= $3 AND expiration_date <= $3 + $4 * INTERVAL '1 day'
		ORDER BY expiration_date, id
	`, r.table)

	if err := r.db.SelectCtx(ctx, &lots, query, itemID, org.ID, utcDate(today), days); err != nil {
		return nil, err
	}
	return lots, nil
}
