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

// ItemStore is the persistence surface the ledger needs for items
type ItemStore interface {
	GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.InventoryItem, error)
	LockForUpdate(ctx context.Context, org orgctx.Org, id string) (*domain.InventoryItem, error)
	UpdateQuantity(ctx context.Context, org orgctx.Org, id string, quantity decimal.Decimal) error
	UpdateQuantityAndCost(ctx context.Context, org orgctx.Org, id string, quantity, costPerUnit decimal.Decimal) error
}

// TxRunner runs a function inside one all-or-nothing unit of work
type TxRunner interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher publishes ledger events after state changes commit.
// Publish failures never fail the operation that triggered them.
type EventPublisher interface {
	StockRestocked(ctx context.Context, org orgctx.Org, lot *domain.StockLot)
	StockDeducted(ctx context.Context, org orgctx.Org, itemID string, kind domain.ChangeKind, quantity decimal.Decimal, lotCount int)
	StockRecounted(ctx context.Context, org orgctx.Org, itemID string, previous, target decimal.Decimal)
	ReservationChanged(ctx context.Context, org orgctx.Org, res *domain.Reservation, eventType string)
}

// CostPolicy selects how additive operations affect item cost
type CostPolicy string

const (
	// CostPolicyAverage recomputes the item's weighted-average cost on
	// every additive operation.
	CostPolicyAverage CostPolicy = "average"
	// CostPolicyFIFO leaves the item cost untouched; cost flows through
	// the per-lot unit costs instead.
	CostPolicyFIFO CostPolicy = "fifo"
)

// LedgerService is the transactional facade over the FIFO lot ledger
type LedgerService struct {
	db        TxRunner
	items     ItemStore
	lots      LotRouter
	planner   *DeductionPlanner
	executor  *PlanExecutor
	codes     *lotcode.Generator
	publisher EventPublisher
	policy    CostPolicy
	logger    *logger.Logger
	now       func() time.Time
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	db TxRunner,
	items ItemStore,
	lots LotRouter,
	codes *lotcode.Generator,
	publisher EventPublisher,
	policy CostPolicy,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		db:        db,
		items:     items,
		lots:      lots,
		planner:   NewDeductionPlanner(lots),
		executor:  NewPlanExecutor(lots, codes),
		codes:     codes,
		publisher: publisher,
		policy:    policy,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the service clock and the clocks of its planner and
// executor, for tests.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	s.planner.WithClock(now)
	s.executor.WithClock(now)
	return s
}

// Planner exposes the service's deduction planner for collaborators that
// share its semantics (reservations).
func (s *LedgerService) Planner() *DeductionPlanner {
	return s.planner
}

// Executor exposes the service's plan executor.
func (s *LedgerService) Executor() *PlanExecutor {
	return s.executor
}

// DeductRequest asks for a FIFO deduction from an item's lots
type DeductRequest struct {
	ItemID     string            `json:"item_id" validate:"required,uuid"`
	Quantity   decimal.Decimal   `json:"quantity" validate:"required"`
	ChangeKind domain.ChangeKind `json:"change_kind" validate:"required,oneof=use sale reserved returned spoil trash expired_disposal"`
}

// DeductionResult reports a committed deduction
type DeductionResult struct {
	Plan        *Plan             `json:"plan"`
	Entries     []*domain.StockLot `json:"entries"`
	NewQuantity decimal.Decimal   `json:"new_quantity"`
}

// PlanDeduction builds a consumption plan without mutating the ledger.
// The plan reflects the ledger at read time; executing it later re-checks
// every decrement against the then-current remainders.
func (s *LedgerService) PlanDeduction(ctx context.Context, org orgctx.Org, req DeductRequest) (*Plan, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	item, err := s.items.GetByID(ctx, org, req.ItemID)
	if err != nil {
		return nil, err
	}

	return s.planner.Plan(ctx, org, item, req.Quantity, req.ChangeKind)
}

// Deduct plans and executes a deduction in a single unit of work with the
// item row locked for the whole read-plan-execute sequence.
func (s *LedgerService) Deduct(ctx context.Context, org orgctx.Org, req DeductRequest) (*DeductionResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var result *DeductionResult
	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		item, err := s.items.LockForUpdate(ctx, org, req.ItemID)
		if err != nil {
			return err
		}

		plan, err := s.planner.Plan(ctx, org, item, req.Quantity, req.ChangeKind)
		if err != nil {
			return err
		}

		res, err := s.applyPlan(ctx, org, item, plan)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishDeducted(ctx, org, result)
	return result, nil
}

// ExecuteDeduction applies a previously built plan inside one unit of
// work. Guarded decrements reject the plan if any lot was consumed in the
// meantime, so a stale plan fails cleanly instead of double-spending.
func (s *LedgerService) ExecuteDeduction(ctx context.Context, org orgctx.Org, plan *Plan) (*DeductionResult, error) {
	if plan == nil || len(plan.Lines) == 0 {
		return nil, errors.BadRequest("empty deduction plan")
	}

	var result *DeductionResult
	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		item, err := s.items.LockForUpdate(ctx, org, plan.ItemID)
		if err != nil {
			return err
		}

		res, err := s.applyPlan(ctx, org, item, plan)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishDeducted(ctx, org, result)
	return result, nil
}

// applyPlan executes the plan and refreshes the item's cached quantity.
// Must run inside a transaction with the item locked.
func (s *LedgerService) applyPlan(ctx context.Context, org orgctx.Org, item *domain.InventoryItem, plan *Plan) (*DeductionResult, error) {
	entries, err := s.executor.Execute(ctx, org, item, plan)
	if err != nil {
		return nil, err
	}

	newQuantity, err := s.refreshQuantity(ctx, org, item)
	if err != nil {
		return nil, err
	}

	return &DeductionResult{
		Plan:        plan,
		Entries:     entries,
		NewQuantity: newQuantity,
	}, nil
}

// refreshQuantity recomputes the cached item total from the lot
// remainders (fresh and expired) and persists it.
func (s *LedgerService) refreshQuantity(ctx context.Context, org orgctx.Org, item *domain.InventoryItem) (decimal.Decimal, error) {
	total, err := s.lots.ForItem(item).Total(ctx, org, item.ID, repository.SelectAll, s.now())
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.items.UpdateQuantity(ctx, org, item.ID, total); err != nil {
		return decimal.Zero, err
	}
	item.Quantity = total
	return total, nil
}

func (s *LedgerService) publishDeducted(ctx context.Context, org orgctx.Org, result *DeductionResult) {
	if s.publisher == nil || result == nil {
		return
	}
	s.publisher.StockDeducted(ctx, org, result.Plan.ItemID, result.Plan.ChangeKind, result.Plan.Quantity, len(result.Plan.Lines))
}

// RestockRequest adds stock as a new lot
type RestockRequest struct {
	ItemID         string            `json:"item_id" validate:"required,uuid"`
	Quantity       decimal.Decimal   `json:"quantity" validate:"required"`
	UnitCost       decimal.Decimal   `json:"unit_cost"`
	ChangeKind     domain.ChangeKind `json:"change_kind" validate:"omitempty,oneof=restock batch"`
	ExpirationDate *time.Time        `json:"expiration_date,omitempty"`
}

// Restock creates a new additive lot for the item. For perishable items
// without an explicit expiration date, the date is derived from the
// item's shelf life. Under the average costing policy the item's
// weighted-average cost is recomputed; under fifo it is left untouched.
func (s *LedgerService) Restock(ctx context.Context, org orgctx.Org, req RestockRequest) (*domain.StockLot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, errors.BadRequest("restock quantity must be positive")
	}
	if req.UnitCost.IsNegative() {
		return nil, errors.BadRequest("unit cost must not be negative")
	}

	kind := req.ChangeKind
	if kind == "" {
		kind = domain.KindRestock
	}

	var lot *domain.StockLot
	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		item, err := s.items.LockForUpdate(ctx, org, req.ItemID)
		if err != nil {
			return err
		}

		expiration := req.ExpirationDate
		if expiration == nil && item.IsPerishable && item.ShelfLifeDays != nil {
			exp := s.now().UTC().AddDate(0, 0, *item.ShelfLifeDays)
			exp = time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC)
			expiration = &exp
		}

		lot = &domain.StockLot{
			ItemID:            item.ID,
			ChangeKind:        kind,
			QuantityChange:    req.Quantity,
			RemainingQuantity: req.Quantity,
			UnitCost:          req.UnitCost,
			ExpirationDate:    expiration,
			OccurredAt:        s.now().UTC(),
			LotCode:           s.codes.Generate(kind.Prefix(), item.ID),
		}
		if err := s.lots.ForItem(item).Insert(ctx, org, lot); err != nil {
			return err
		}

		newQuantity := item.Quantity.Add(req.Quantity)
		if s.policy == CostPolicyAverage {
			cost := weightedAverageCost(item.Quantity, item.CostPerUnit, req.Quantity, req.UnitCost)
			return s.items.UpdateQuantityAndCost(ctx, org, item.ID, newQuantity, cost)
		}
		return s.items.UpdateQuantity(ctx, org, item.ID, newQuantity)
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		s.publisher.StockRestocked(ctx, org, lot)
	}
	return lot, nil
}

// weightedAverageCost blends the current holding with an addition.
// A zero combined quantity falls back to the incoming cost.
func weightedAverageCost(currentQty, currentCost, addQty, addCost decimal.Decimal) decimal.Decimal {
	combined := currentQty.Add(addQty)
	if !combined.IsPositive() {
		return addCost
	}
	blended := currentQty.Mul(currentCost).Add(addQty.Mul(addCost))
	return blended.DivRound(combined, 4)
}

// ExpiringSoon lists lots with a remainder that expire within the given
// number of days, for early-warning callers. Read-only.
func (s *LedgerService) ExpiringSoon(ctx context.Context, org orgctx.Org, itemID string, days int) ([]*domain.StockLot, error) {
	item, err := s.items.GetByID(ctx, org, itemID)
	if err != nil {
		return nil, err
	}
	return s.lots.ForItem(item).ListExpiringWithin(ctx, org, item.ID, days, s.now())
}
