package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
	"github.com/craftledger/craftledger-backend/pkg/testutil"
)

func newPlannerFixture(t *testing.T) (*DeductionPlanner, *fakeLots, *domain.InventoryItem) {
	t.Helper()
	fx := testutil.NewFixtureFactory()
	item := fx.Item(testutil.WithQuantity(dec("150"), dec("1.00")))
	lots := newFakeLots()
	planner := NewDeductionPlanner(repository.NewLotStoreWith(lots, newFakeLots())).WithClock(fixedClock)
	return planner, lots, item
}

func TestPlanConsumesOldestFirst(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	lotA := lots.add(&domain.StockLot{
		ID: "lot-a", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("100"), RemainingQuantity: dec("100"),
		UnitCost: dec("1.00"), OccurredAt: daysAgo(2),
	})
	lotB := lots.add(&domain.StockLot{
		ID: "lot-b", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("50"), RemainingQuantity: dec("50"),
		UnitCost: dec("1.50"), OccurredAt: daysAgo(1),
	})

	plan, err := planner.Plan(context.Background(), testOrg, item, dec("120"), domain.KindUse)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 2)
	assert.Equal(t, lotA.ID, plan.Lines[0].LotID)
	assert.True(t, plan.Lines[0].Take.Equal(dec("100")))
	assert.Equal(t, lotB.ID, plan.Lines[1].LotID)
	assert.True(t, plan.Lines[1].Take.Equal(dec("20")))
	assert.True(t, plan.TotalCost().Equal(dec("130")))

	// Planning never mutates the ledger.
	assert.True(t, lotA.RemainingQuantity.Equal(dec("100")))
	assert.True(t, lotB.RemainingQuantity.Equal(dec("50")))
}

func TestPlanTieBreaksOnLotID(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	same := daysAgo(3)
	lots.add(&domain.StockLot{
		ID: "lot-b", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("10"), RemainingQuantity: dec("10"),
		UnitCost: dec("1"), OccurredAt: same,
	})
	lots.add(&domain.StockLot{
		ID: "lot-a", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("10"), RemainingQuantity: dec("10"),
		UnitCost: dec("1"), OccurredAt: same,
	})

	plan, err := planner.Plan(context.Background(), testOrg, item, dec("15"), domain.KindUse)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "lot-a", plan.Lines[0].LotID)
	assert.Equal(t, "lot-b", plan.Lines[1].LotID)
}

func TestPlanSkipsDepletedLots(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	lots.add(&domain.StockLot{
		ID: "lot-empty", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("40"), RemainingQuantity: dec("0"),
		UnitCost: dec("1"), OccurredAt: daysAgo(5),
	})
	lots.add(&domain.StockLot{
		ID: "lot-live", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("30"), RemainingQuantity: dec("30"),
		UnitCost: dec("1"), OccurredAt: daysAgo(1),
	})

	plan, err := planner.Plan(context.Background(), testOrg, item, dec("10"), domain.KindSale)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "lot-live", plan.Lines[0].LotID)
}

func TestPlanInsufficientStock(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	lots.add(&domain.StockLot{
		ID: "lot-a", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("10"), RemainingQuantity: dec("10"),
		UnitCost: dec("1"), OccurredAt: daysAgo(1),
	})

	_, err := planner.Plan(context.Background(), testOrg, item, dec("25"), domain.KindUse)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestPlanOrdinaryKindIgnoresExpiredStock(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	expired := dateIn(-1)
	lots.add(&domain.StockLot{
		ID: "lot-expired", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("100"), RemainingQuantity: dec("100"),
		UnitCost: dec("1"), OccurredAt: daysAgo(10), ExpirationDate: &expired,
	})

	// The only stock is expired, so an ordinary deduction finds nothing.
	_, err := planner.Plan(context.Background(), testOrg, item, dec("5"), domain.KindUse)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	// A disposal of the same quantity succeeds against the expired lot.
	plan, err := planner.Plan(context.Background(), testOrg, item, dec("5"), domain.KindTrash)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "lot-expired", plan.Lines[0].LotID)
}

func TestPlanDisposalIgnoresFreshStock(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	fresh := dateIn(30)
	lots.add(&domain.StockLot{
		ID: "lot-fresh", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("100"), RemainingQuantity: dec("100"),
		UnitCost: dec("1"), OccurredAt: daysAgo(1), ExpirationDate: &fresh,
	})

	_, err := planner.Plan(context.Background(), testOrg, item, dec("5"), domain.KindSpoil)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestPlanLotExpiringTodayIsFresh(t *testing.T) {
	planner, lots, item := newPlannerFixture(t)

	today := dateIn(0)
	lots.add(&domain.StockLot{
		ID: "lot-today", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("10"), RemainingQuantity: dec("10"),
		UnitCost: dec("1"), OccurredAt: daysAgo(1), ExpirationDate: &today,
	})

	plan, err := planner.Plan(context.Background(), testOrg, item, dec("10"), domain.KindUse)
	require.NoError(t, err)
	assert.Len(t, plan.Lines, 1)
}

func TestPlanRejectsBadRequests(t *testing.T) {
	planner, _, item := newPlannerFixture(t)

	_, err := planner.Plan(context.Background(), testOrg, item, dec("10"), domain.KindRestock)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	_, err = planner.Plan(context.Background(), testOrg, item, dec("0"), domain.KindUse)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	_, err = planner.Plan(context.Background(), testOrg, item, dec("-3"), domain.KindUse)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

// leakyLots simulates a corrupt fresh query that lets an expired lot
// through, to exercise the planner's leakage guard.
type leakyLots struct {
	*fakeLots
	leak *domain.StockLot
}

func (l *leakyLots) ListWithRemainder(ctx context.Context, org orgctx.Org, itemID string, sel repository.LotSelector, today time.Time) ([]*domain.StockLot, error) {
	return []*domain.StockLot{l.leak}, nil
}

func TestPlanDetectsExpiredLeakage(t *testing.T) {
	fx := testutil.NewFixtureFactory()
	item := fx.Item()

	expired := dateIn(-2)
	leak := &domain.StockLot{
		ID: "lot-leak", ItemID: item.ID, ChangeKind: domain.KindRestock,
		QuantityChange: dec("50"), RemainingQuantity: dec("50"),
		UnitCost: dec("1"), OccurredAt: daysAgo(9), ExpirationDate: &expired,
	}
	lots := &leakyLots{fakeLots: newFakeLots(), leak: leak}
	planner := NewDeductionPlanner(repository.NewLotStoreWith(lots, newFakeLots())).WithClock(fixedClock)

	_, err := planner.Plan(context.Background(), testOrg, item, dec("5"), domain.KindUse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExpiredLeakage))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.Fatal())
}
