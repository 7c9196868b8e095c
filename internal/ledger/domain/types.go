// Package domain defines the lot-based FIFO ledger model. Additive
// ledger entries are "lots" carrying an independently tracked remaining
// quantity; deductive entries reference the lot they drew from and always
// have a zero remainder.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies an inventory item
type Category string

const (
	CategoryIngredient Category = "ingredient"
	CategoryContainer  Category = "container"
	CategoryProduct    Category = "product"
)

// ChangeKind identifies why a ledger entry was written
type ChangeKind string

const (
	// Additive kinds
	KindRestock      ChangeKind = "restock"
	KindBatch        ChangeKind = "batch"
	KindRecount      ChangeKind = "recount"
	KindRefundCredit ChangeKind = "refund_credit"

	// Ordinary deductive kinds (fresh stock only)
	KindUse      ChangeKind = "use"
	KindSale     ChangeKind = "sale"
	KindReserved ChangeKind = "reserved"
	KindReturned ChangeKind = "returned"

	// Disposal kinds (expired stock only)
	KindSpoil           ChangeKind = "spoil"
	KindTrash           ChangeKind = "trash"
	KindExpiredDisposal ChangeKind = "expired_disposal"
)

// IsDisposal reports whether the kind may only consume expired lots.
func (k ChangeKind) IsDisposal() bool {
	switch k {
	case KindSpoil, KindTrash, KindExpiredDisposal:
		return true
	}
	return false
}

// IsAdditive reports whether the kind creates a lot with a remainder.
func (k ChangeKind) IsAdditive() bool {
	switch k {
	case KindRestock, KindBatch, KindRecount, KindRefundCredit:
		return true
	}
	return false
}

// Prefix returns the lot code prefix for the kind. Additive entries all
// share the LOT prefix except recounts and refund credits, which keep
// their own tags for traceability.
func (k ChangeKind) Prefix() string {
	switch k {
	case KindRestock, KindBatch:
		return "LOT"
	case KindRecount:
		return "RCN"
	case KindRefundCredit:
		return "REF"
	case KindSale:
		return "SLD"
	case KindSpoil:
		return "SPL"
	case KindTrash:
		return "TRS"
	case KindExpiredDisposal:
		return "EXP"
	case KindReserved:
		return "RSV"
	case KindReturned:
		return "RTN"
	case KindUse:
		return "USE"
	default:
		return "LOT"
	}
}

// InventoryItem is an organization-owned item tracked by the ledger.
// Quantity is a cached total and must equal the sum of remaining
// quantities over all additive lots for the item.
type InventoryItem struct {
	ID            string           `db:"id" json:"id"`
	OrgID         string           `db:"org_id" json:"org_id"`
	Name          string           `db:"name" json:"name"`
	Category      Category         `db:"category" json:"category"`
	Unit          string           `db:"unit" json:"unit"`
	Quantity      decimal.Decimal  `db:"quantity" json:"quantity"`
	CostPerUnit   decimal.Decimal  `db:"cost_per_unit" json:"cost_per_unit"`
	IsPerishable  bool             `db:"is_perishable" json:"is_perishable"`
	ShelfLifeDays *int             `db:"shelf_life_days" json:"shelf_life_days,omitempty"`
	Density       *decimal.Decimal `db:"density" json:"density,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// StockLot is one append-only ledger entry. QuantityChange is signed:
// positive on additive entries, negative on deductive ones. A lot is
// created once and only ever has RemainingQuantity decreased (deduction)
// or credited back up to QuantityChange (reservation release); it is
// never physically deleted.
type StockLot struct {
	ID                string          `db:"id" json:"id"`
	ItemID            string          `db:"item_id" json:"item_id"`
	OrgID             string          `db:"org_id" json:"org_id"`
	ChangeKind        ChangeKind      `db:"change_kind" json:"change_kind"`
	QuantityChange    decimal.Decimal `db:"quantity_change" json:"quantity_change"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity" json:"remaining_quantity"`
	UnitCost          decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ExpirationDate    *time.Time      `db:"expiration_date" json:"expiration_date,omitempty"`
	OccurredAt        time.Time       `db:"occurred_at" json:"occurred_at"`
	LotCode           string          `db:"lot_code" json:"lot_code"`
	SourceLotID       *string         `db:"source_lot_id" json:"source_lot_id,omitempty"`
}

// Expired reports whether the lot's expiration date is strictly before
// the given day. Expiration is compared at UTC date granularity; a lot
// expiring today is still consumable.
func (l *StockLot) Expired(today time.Time) bool {
	if l.ExpirationDate == nil {
		return false
	}
	y, m, d := today.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return l.ExpirationDate.Before(day)
}

// ReservationStatus is the reservation state machine.
// active is the only non-terminal state.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConverted ReservationStatus = "converted_to_sale"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a deduction held against future fulfillment, reversible
// via credit-back to the lots it drew from.
type Reservation struct {
	ID        string            `db:"id" json:"id"`
	OrgID     string            `db:"org_id" json:"org_id"`
	ItemID    string            `db:"item_id" json:"item_id"`
	OrderID   string            `db:"order_id" json:"order_id"`
	Quantity  decimal.Decimal   `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	ExpiresAt time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`

	Lines []ReservationLine `db:"-" json:"lines,omitempty"`
}

// ReservationLine records which lot a reservation drew from, and how
// much, so release can credit the exact source lots.
type ReservationLine struct {
	ID            string          `db:"id" json:"id"`
	ReservationID string          `db:"reservation_id" json:"reservation_id"`
	SourceLotID   string          `db:"source_lot_id" json:"source_lot_id"`
	EntryID       string          `db:"entry_id" json:"entry_id"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
}
