package units

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/pkg/database"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// MappingRepository stores org-defined unit mappings
type MappingRepository struct {
	db *database.DB
}

func NewMappingRepository(db *database.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// ListMappings returns every custom mapping of the organization
func (r *MappingRepository) ListMappings(ctx context.Context, org orgctx.Org) ([]Mapping, error) {
	query := `
		SELECT from_unit, to_unit, factor
		FROM unit_mappings
		WHERE org_id = $1
		ORDER BY from_unit, to_unit`

	var mappings []Mapping
	if err := r.db.SelectCtx(ctx, &mappings, query, org.ID); err != nil {
		return nil, err
	}
	return mappings, nil
}

// Upsert creates or replaces a mapping. Factors must be positive.
func (r *MappingRepository) Upsert(ctx context.Context, org orgctx.Org, m Mapping) error {
	if !m.Factor.IsPositive() {
		return errors.BadRequest("mapping factor must be positive")
	}

	query := `
		INSERT INTO unit_mappings (org_id, from_unit, to_unit, factor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, from_unit, to_unit)
		DO UPDATE SET factor = EXCLUDED.factor`

	if _, err := r.db.ExecCtx(ctx, query, org.ID, m.FromUnit, m.ToUnit, m.Factor); err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// Delete removes a mapping; missing mappings are not an error
func (r *MappingRepository) Delete(ctx context.Context, org orgctx.Org, fromUnit, toUnit string) error {
	query := `DELETE FROM unit_mappings WHERE org_id = $1 AND from_unit = $2 AND to_unit = $3`
	if _, err := r.db.ExecCtx(ctx, query, org.ID, fromUnit, toUnit); err != nil {
		return err
	}
	return nil
}

// ItemDensityResolver reads stored ingredient densities for cross-type
// conversions
type ItemDensityResolver struct {
	db *database.DB
}

func NewItemDensityResolver(db *database.DB) *ItemDensityResolver {
	return &ItemDensityResolver{db: db}
}

func (r *ItemDensityResolver) ItemDensity(ctx context.Context, org orgctx.Org, itemID string) (decimal.Decimal, bool, error) {
	query := `SELECT density FROM inventory_items WHERE org_id = $1 AND id = $2`

	var density decimal.NullDecimal
	err := r.db.GetCtx(ctx, &density, query, org.ID, itemID)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, errors.NotFound("inventory item")
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	if !density.Valid {
		return decimal.Zero, false, nil
	}
	return density.Decimal, true, nil
}
