package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Item creates an inventory item fixture with defaults
func (f *FixtureFactory) Item(opts ...func(*domain.InventoryItem)) *domain.InventoryItem {
	seq := f.nextSeq()

	item := &domain.InventoryItem{
		ID:          uuid.New().String(),
		OrgID:       "org-test",
		Name:        fmt.Sprintf("Item %d", seq),
		Category:    domain.CategoryIngredient,
		Unit:        "g",
		Quantity:    decimal.Zero,
		CostPerUnit: decimal.Zero,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(item)
	}

	return item
}

// WithCategory sets the item category
func WithCategory(category domain.Category) func(*domain.InventoryItem) {
	return func(i *domain.InventoryItem) {
		i.Category = category
	}
}

// WithQuantity sets the item quantity and unit cost
func WithQuantity(quantity, costPerUnit decimal.Decimal) func(*domain.InventoryItem) {
	return func(i *domain.InventoryItem) {
		i.Quantity = quantity
		i.CostPerUnit = costPerUnit
	}
}

// WithShelfLife marks the item perishable with the given shelf life
func WithShelfLife(days int) func(*domain.InventoryItem) {
	return func(i *domain.InventoryItem) {
		i.IsPerishable = true
		i.ShelfLifeDays = &days
	}
}

// WithDensity sets the item density in g/ml
func WithDensity(density decimal.Decimal) func(*domain.InventoryItem) {
	return func(i *domain.InventoryItem) {
		i.Density = &density
	}
}

// Lot creates an additive stock lot fixture with defaults
func (f *FixtureFactory) Lot(itemID string, opts ...func(*domain.StockLot)) *domain.StockLot {
	seq := f.nextSeq()

	qty := decimal.NewFromInt(100)
	lot := &domain.StockLot{
		ID:                uuid.New().String(),
		ItemID:            itemID,
		OrgID:             "org-test",
		ChangeKind:        domain.KindRestock,
		QuantityChange:    qty,
		RemainingQuantity: qty,
		UnitCost:          decimal.NewFromInt(1),
		OccurredAt:        time.Now().UTC(),
		LotCode:           fmt.Sprintf("LOT-TEST%04d", seq),
	}

	for _, opt := range opts {
		opt(lot)
	}

	return lot
}

// WithLotQuantity sets the lot's original and remaining quantity
func WithLotQuantity(quantity decimal.Decimal) func(*domain.StockLot) {
	return func(l *domain.StockLot) {
		l.QuantityChange = quantity
		l.RemainingQuantity = quantity
	}
}

// WithRemaining sets the lot's remaining quantity only
func WithRemaining(remaining decimal.Decimal) func(*domain.StockLot) {
	return func(l *domain.StockLot) {
		l.RemainingQuantity = remaining
	}
}

// WithUnitCost sets the lot's unit cost
func WithUnitCost(cost decimal.Decimal) func(*domain.StockLot) {
	return func(l *domain.StockLot) {
		l.UnitCost = cost
	}
}

// WithOccurredAt sets when the lot entered the ledger
func WithOccurredAt(at time.Time) func(*domain.StockLot) {
	return func(l *domain.StockLot) {
		l.OccurredAt = at
	}
}

// WithExpiration sets the lot's expiration date
func WithExpiration(date time.Time) func(*domain.StockLot) {
	return func(l *domain.StockLot) {
		l.ExpirationDate = &date
	}
}

// Reservation creates an active reservation fixture with defaults
func (f *FixtureFactory) Reservation(itemID string, opts ...func(*domain.Reservation)) *domain.Reservation {
	seq := f.nextSeq()

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		OrgID:     "org-test",
		ItemID:    itemID,
		OrderID:   fmt.Sprintf("order-%04d", seq),
		Quantity:  decimal.NewFromInt(10),
		Status:    domain.ReservationActive,
		ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(res)
	}

	return res
}

// WithExpiresAt sets the reservation expiry
func WithExpiresAt(at time.Time) func(*domain.Reservation) {
	return func(r *domain.Reservation) {
		r.ExpiresAt = at
	}
}

// WithStatus sets the reservation status
func WithStatus(status domain.ReservationStatus) func(*domain.Reservation) {
	return func(r *domain.Reservation) {
		r.Status = status
	}
}
