package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// LotRouter resolves the lot repository backing an item's category
type LotRouter interface {
	ForItem(item *domain.InventoryItem) repository.LotRepository
}

// PlanLine is one lot consumption within a deduction plan
type PlanLine struct {
	LotID    string          `json:"lot_id"`
	Take     decimal.Decimal `json:"take"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Plan is an ordered FIFO consumption plan. It is a pure value: building
// a plan never mutates the ledger, so planning is safe to repeat.
type Plan struct {
	ItemID     string            `json:"item_id"`
	ChangeKind domain.ChangeKind `json:"change_kind"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Lines      []PlanLine        `json:"lines"`
}

// TotalCost returns the cost of the planned consumption
func (p *Plan) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Take.Mul(line.UnitCost))
	}
	return total
}

// DeductionPlanner builds FIFO consumption plans over an item's lots.
// Ordinary kinds draw from fresh stock only; disposal kinds draw from
// expired stock only and never spill into fresh lots.
type DeductionPlanner struct {
	lots LotRouter
	now  func() time.Time
}

// NewDeductionPlanner creates a new deduction planner
func NewDeductionPlanner(lots LotRouter) *DeductionPlanner {
	return &DeductionPlanner{
		lots: lots,
		now:  time.Now,
	}
}

// WithClock overrides the planner's clock, for tests
func (p *DeductionPlanner) WithClock(now func() time.Time) *DeductionPlanner {
	p.now = now
	return p
}

// Plan builds a consumption plan for quantity against the item's lots.
// Lots are consumed oldest-first by occurred_at, with the lot id as a
// stable tie-break so replays are deterministic.
func (p *DeductionPlanner) Plan(ctx context.Context, org orgctx.Org, item *domain.InventoryItem, quantity decimal.Decimal, kind domain.ChangeKind) (*Plan, error) {
	if kind.IsAdditive() {
		return nil, errors.BadRequest("cannot plan a deduction with an additive change kind")
	}
	if !quantity.IsPositive() {
		return nil, errors.BadRequest("deduction quantity must be positive")
	}

	repo := p.lots.ForItem(item)
	today := p.now()

	sel := repository.SelectFresh
	if kind.IsDisposal() {
		sel = repository.SelectExpired
	}

	lots, err := repo.ListWithRemainder(ctx, org, item.ID, sel, today)
	if err != nil {
		return nil, err
	}

	if !kind.IsDisposal() {
		// The fresh query already excludes expired lots; an expired lot
		// showing up here means the ledger is corrupt, not that the
		// caller asked for something unreasonable.
		for _, lot := range lots {
			if lot.Expired(today) {
				return nil, errors.ExpiredLeakage(item.ID, lot.ID)
			}
		}
	}

	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.RemainingQuantity)
	}
	if available.LessThan(quantity) {
		return nil, errors.InsufficientStock(item.ID, quantity.String(), available.String())
	}

	plan := &Plan{
		ItemID:     item.ID,
		ChangeKind: kind,
		Quantity:   quantity,
	}

	left := quantity
	for _, lot := range lots {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(lot.RemainingQuantity, left)
		plan.Lines = append(plan.Lines, PlanLine{
			LotID:    lot.ID,
			Take:     take,
			UnitCost: lot.UnitCost,
		})
		left = left.Sub(take)
	}

	return plan, nil
}
