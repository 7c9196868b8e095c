package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/pkg/lotcode"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// PlanExecutor applies deduction plans to the ledger. The caller is
// responsible for running Execute inside one unit of work with the item
// row locked; the executor itself only performs the guarded decrements
// and writes the paired deductive entries.
type PlanExecutor struct {
	lots  LotRouter
	codes *lotcode.Generator
	now   func() time.Time
}

// NewPlanExecutor creates a new plan executor
func NewPlanExecutor(lots LotRouter, codes *lotcode.Generator) *PlanExecutor {
	return &PlanExecutor{
		lots:  lots,
		codes: codes,
		now:   time.Now,
	}
}

// WithClock overrides the executor's clock, for tests
func (e *PlanExecutor) WithClock(now func() time.Time) *PlanExecutor {
	e.now = now
	return e
}

// Execute decrements each planned lot and inserts one deductive entry per
// line, returning the entries written. Every decrement is guarded against
// going negative; the first failure aborts with nothing applied, because
// the caller's transaction rolls back.
func (e *PlanExecutor) Execute(ctx context.Context, org orgctx.Org, item *domain.InventoryItem, plan *Plan) ([]*domain.StockLot, error) {
	repo := e.lots.ForItem(item)
	occurredAt := e.now().UTC()

	entries := make([]*domain.StockLot, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		if err := repo.DecrementRemaining(ctx, org, line.LotID, line.Take); err != nil {
			return nil, err
		}

		sourceLotID := line.LotID
		entry := &domain.StockLot{
			ItemID:            item.ID,
			ChangeKind:        plan.ChangeKind,
			QuantityChange:    line.Take.Neg(),
			RemainingQuantity: decimal.Zero,
			UnitCost:          line.UnitCost,
			OccurredAt:        occurredAt,
			LotCode:           e.codes.Generate(plan.ChangeKind.Prefix(), item.ID),
			SourceLotID:       &sourceLotID,
		}
		if err := repo.Insert(ctx, org, entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
