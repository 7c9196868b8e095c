package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/pkg/database"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// ItemRepository handles inventory item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create creates a new inventory item
func (r *ItemRepository) Create(ctx context.Context, org orgctx.Org, item *domain.InventoryItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.OrgID = org.ID

	query := `
		INSERT INTO inventory_items (
			id, org_id, name, category, unit, quantity, cost_per_unit,
			is_perishable, shelf_life_days, density
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowCtx(ctx, query,
		item.ID, item.OrgID, item.Name, item.Category, item.Unit,
		item.Quantity, item.CostPerUnit, item.IsPerishable,
		item.ShelfLifeDays, item.Density,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets an item by ID within the organization scope
func (r *ItemRepository) GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	query := `SELECT * FROM inventory_items WHERE id = $1 AND org_id = $2`
	if err := r.db.GetCtx(ctx, &item, query, id, org.ID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory item")
		}
		return nil, err
	}
	return &item, nil
}

// LockForUpdate loads an item and takes a row lock on it for the duration
// of the enclosing transaction. All lots for an item are one logical
// resource; every read-plan-execute sequence must hold this lock so two
// concurrent deductions cannot both read the same available total.
func (r *ItemRepository) LockForUpdate(ctx context.Context, org orgctx.Org, id string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	query := `SELECT * FROM inventory_items WHERE id = $1 AND org_id = $2 FOR UPDATE`
	if err := r.db.GetCtx(ctx, &item, query, id, org.ID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory item")
		}
		return nil, err
	}
	return &item, nil
}

// UpdateQuantity sets the cached total quantity for an item
func (r *ItemRepository) UpdateQuantity(ctx context.Context, org orgctx.Org, id string, quantity decimal.Decimal) error {
	query := `UPDATE inventory_items SET quantity = $3, updated_at = NOW() WHERE id = $1 AND org_id = $2`
	result, err := r.db.ExecCtx(ctx, query, id, org.ID, quantity)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("inventory item")
	}
	return nil
}

// UpdateQuantityAndCost sets the cached total quantity and the
// weighted-average cost in one statement
func (r *ItemRepository) UpdateQuantityAndCost(ctx context.Context, org orgctx.Org, id string, quantity, costPerUnit decimal.Decimal) error {
	query := `
		UPDATE inventory_items SET quantity = $3, cost_per_unit = $4, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
	`
	result, err := r.db.ExecCtx(ctx, query, id, org.ID, quantity, costPerUnit)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("inventory item")
	}
	return nil
}
