package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/logger"
	"github.com/craftledger/craftledger-backend/pkg/lotcode"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
	"github.com/craftledger/craftledger-backend/pkg/validate"
)

// RecountReconciler reconciles a physical count against the ledger. A
// physical count is ground truth: unlike ordinary deductions, a recount
// decrease consumes expired lots too.
type RecountReconciler struct {
	db        TxRunner
	items     ItemStore
	lots      LotRouter
	codes     *lotcode.Generator
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewRecountReconciler creates a new recount reconciler
func NewRecountReconciler(
	db TxRunner,
	items ItemStore,
	lots LotRouter,
	codes *lotcode.Generator,
	publisher EventPublisher,
	log *logger.Logger,
) *RecountReconciler {
	return &RecountReconciler{
		db:        db,
		items:     items,
		lots:      lots,
		codes:     codes,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the reconciler's clock, for tests
func (r *RecountReconciler) WithClock(now func() time.Time) *RecountReconciler {
	r.now = now
	return r
}

// RecountRequest reconciles an item to a physically counted quantity
type RecountRequest struct {
	ItemID string          `json:"item_id" validate:"required,uuid"`
	Target decimal.Decimal `json:"target"`
}

// RecountResult reports a committed reconciliation
type RecountResult struct {
	ItemID   string             `json:"item_id"`
	Previous decimal.Decimal    `json:"previous"`
	Target   decimal.Decimal    `json:"target"`
	NewLot   *domain.StockLot   `json:"new_lot,omitempty"`
	Entries  []*domain.StockLot `json:"entries,omitempty"`
}

// Reconcile drives the item's cached quantity to the counted target.
// Reconciling to the current total is a no-op, so the operation is
// idempotent. An increase always opens a new recount lot; a decrease
// consumes oldest-first across all lots, expired included.
func (r *RecountReconciler) Reconcile(ctx context.Context, org orgctx.Org, req RecountRequest) (*RecountResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Target.IsNegative() {
		return nil, errors.BadRequest("recount target must not be negative")
	}

	var result *RecountResult
	err := r.db.Transaction(ctx, func(ctx context.Context) error {
		item, err := r.items.LockForUpdate(ctx, org, req.ItemID)
		if err != nil {
			return err
		}

		result = &RecountResult{
			ItemID:   item.ID,
			Previous: item.Quantity,
			Target:   req.Target,
		}

		switch req.Target.Cmp(item.Quantity) {
		case 0:
			return nil
		case 1:
			return r.increase(ctx, org, item, req.Target, result)
		default:
			return r.decrease(ctx, org, item, req.Target, result)
		}
	})
	if err != nil {
		return nil, err
	}

	if r.publisher != nil && !result.Target.Equal(result.Previous) {
		r.publisher.StockRecounted(ctx, org, result.ItemID, result.Previous, result.Target)
	}
	return result, nil
}

// increase opens one new recount lot for the whole delta. The lot carries
// the item's current cost so downstream consumption stays priced.
func (r *RecountReconciler) increase(ctx context.Context, org orgctx.Org, item *domain.InventoryItem, target decimal.Decimal, result *RecountResult) error {
	delta := target.Sub(item.Quantity)

	lot := &domain.StockLot{
		ItemID:            item.ID,
		ChangeKind:        domain.KindRecount,
		QuantityChange:    delta,
		RemainingQuantity: delta,
		UnitCost:          item.CostPerUnit,
		OccurredAt:        r.now().UTC(),
		LotCode:           r.codes.Generate(domain.KindRecount.Prefix(), item.ID),
	}
	if err := r.lots.ForItem(item).Insert(ctx, org, lot); err != nil {
		return err
	}
	result.NewLot = lot

	return r.items.UpdateQuantity(ctx, org, item.ID, target)
}

// decrease consumes the delta oldest-first across all lots with a
// remainder, fresh and expired. A shortfall means the cached total and
// the lot remainders disagree; that is ledger corruption, surfaced as a
// hard RecountUnderflow rather than silently clamped.
func (r *RecountReconciler) decrease(ctx context.Context, org orgctx.Org, item *domain.InventoryItem, target decimal.Decimal, result *RecountResult) error {
	delta := item.Quantity.Sub(target)
	repo := r.lots.ForItem(item)
	today := r.now()

	lots, err := repo.ListWithRemainder(ctx, org, item.ID, repository.SelectAll, today)
	if err != nil {
		return err
	}

	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.RemainingQuantity)
	}
	if available.LessThan(delta) {
		return errors.RecountUnderflow(item.ID, delta.String(), available.String())
	}

	occurredAt := r.now().UTC()
	left := delta
	for _, lot := range lots {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(lot.RemainingQuantity, left)

		if err := repo.DecrementRemaining(ctx, org, lot.ID, take); err != nil {
			return err
		}

		sourceLotID := lot.ID
		entry := &domain.StockLot{
			ItemID:            item.ID,
			ChangeKind:        domain.KindRecount,
			QuantityChange:    take.Neg(),
			RemainingQuantity: decimal.Zero,
			UnitCost:          lot.UnitCost,
			OccurredAt:        occurredAt,
			LotCode:           r.codes.Generate(domain.KindRecount.Prefix(), item.ID),
			SourceLotID:       &sourceLotID,
		}
		if err := repo.Insert(ctx, org, entry); err != nil {
			return err
		}
		result.Entries = append(result.Entries, entry)

		left = left.Sub(take)
	}

	return r.items.UpdateQuantity(ctx, org, item.ID, target)
}
