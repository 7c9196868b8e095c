package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/testutil"
)

func lotRepo() repository.LotRepository {
	return repository.NewStockLotRepository(testDB)
}

func insertLot(t *testing.T, ctx context.Context, repo repository.LotRepository, lot *domain.StockLot) *domain.StockLot {
	t.Helper()
	require.NoError(t, repo.Insert(ctx, testOrg, lot))
	return lot
}

func TestLotRepository_InsertAndGet(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	exp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lot := insertLot(t, ctx, repo, fixtures.Lot(item.ID,
		testutil.WithLotQuantity(dec("40.5")),
		testutil.WithUnitCost(dec("2.25")),
		testutil.WithExpiration(exp),
	))

	got, err := repo.GetByID(ctx, testOrg, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindRestock, got.ChangeKind)
	assert.True(t, got.QuantityChange.Equal(dec("40.5")))
	assert.True(t, got.RemainingQuantity.Equal(dec("40.5")))
	assert.True(t, got.UnitCost.Equal(dec("2.25")))
	require.NotNil(t, got.ExpirationDate)
	assert.Equal(t, exp.Format("2006-01-02"), got.ExpirationDate.Format("2006-01-02"))
	assert.Equal(t, lot.LotCode, got.LotCode)
}

func TestLotRepository_InsertRejectsUnknownChangeKind(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	lot := fixtures.Lot(item.ID)
	lot.ChangeKind = domain.ChangeKind("teleport")

	err := repo.Insert(ctx, testOrg, lot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestLotRepository_ListWithRemainderSelectors(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	today := time.Now().UTC()
	expired := today.AddDate(0, 0, -2)
	fresh := today.AddDate(0, 0, 30)

	oldLot := insertLot(t, ctx, repo, fixtures.Lot(item.ID,
		testutil.WithOccurredAt(today.AddDate(0, 0, -10)),
		testutil.WithExpiration(expired),
	))
	newLot := insertLot(t, ctx, repo, fixtures.Lot(item.ID,
		testutil.WithOccurredAt(today.AddDate(0, 0, -1)),
		testutil.WithExpiration(fresh),
	))
	// Depleted lots never show up.
	insertLot(t, ctx, repo, fixtures.Lot(item.ID, testutil.WithRemaining(dec("0"))))

	freshLots, err := repo.ListWithRemainder(ctx, testOrg, item.ID, repository.SelectFresh, today)
	require.NoError(t, err)
	require.Len(t, freshLots, 1)
	assert.Equal(t, newLot.ID, freshLots[0].ID)

	expiredLots, err := repo.ListWithRemainder(ctx, testOrg, item.ID, repository.SelectExpired, today)
	require.NoError(t, err)
	require.Len(t, expiredLots, 1)
	assert.Equal(t, oldLot.ID, expiredLots[0].ID)

	allLots, err := repo.ListWithRemainder(ctx, testOrg, item.ID, repository.SelectAll, today)
	require.NoError(t, err)
	require.Len(t, allLots, 2)
	// Oldest first.
	assert.Equal(t, oldLot.ID, allLots[0].ID)
	assert.Equal(t, newLot.ID, allLots[1].ID)
}

func TestLotRepository_Total(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	today := time.Now().UTC()

	total, err := repo.Total(ctx, testOrg, item.ID, repository.SelectAll, today)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	insertLot(t, ctx, repo, fixtures.Lot(item.ID, testutil.WithLotQuantity(dec("10.5"))))
	insertLot(t, ctx, repo, fixtures.Lot(item.ID, testutil.WithLotQuantity(dec("4.5"))))

	total, err = repo.Total(ctx, testOrg, item.ID, repository.SelectAll, today)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("15")))
}

func TestLotRepository_DecrementRemainingGuard(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	lot := insertLot(t, ctx, repo, fixtures.Lot(item.ID, testutil.WithLotQuantity(dec("20"))))

	require.NoError(t, repo.DecrementRemaining(ctx, testOrg, lot.ID, dec("15")))

	got, err := repo.GetByID(ctx, testOrg, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("5")))

	// Taking more than remains is refused, not clamped.
	err = repo.DecrementRemaining(ctx, testOrg, lot.ID, dec("6"))
	assert.True(t, errors.Is(err, errors.ErrConflict))

	got, err = repo.GetByID(ctx, testOrg, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("5")))
}

func TestLotRepository_CreditRemainingGuard(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	lot := insertLot(t, ctx, repo, fixtures.Lot(item.ID, testutil.WithLotQuantity(dec("20"))))
	require.NoError(t, repo.DecrementRemaining(ctx, testOrg, lot.ID, dec("12")))

	require.NoError(t, repo.CreditRemaining(ctx, testOrg, lot.ID, dec("12")))

	got, err := repo.GetByID(ctx, testOrg, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("20")))

	// Crediting past the original size is refused.
	err = repo.CreditRemaining(ctx, testOrg, lot.ID, dec("1"))
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestLotRepository_ListExpiringWithin(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := lotRepo()
	item := createTestItem(t, ctx)

	today := time.Now().UTC()

	soon := insertLot(t, ctx, repo, fixtures.Lot(item.ID,
		testutil.WithExpiration(today.AddDate(0, 0, 2))))
	insertLot(t, ctx, repo, fixtures.Lot(item.ID,
		testutil.WithExpiration(today.AddDate(0, 0, 45))))
	insertLot(t, ctx, repo, fixtures.Lot(item.ID,
		testutil.WithExpiration(today.AddDate(0, 0, -1))))

	lots, err := repo.ListExpiringWithin(ctx, testOrg, item.ID, 7, today)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, soon.ID, lots[0].ID)
}

func TestLotRepository_ProductTableIsSeparate(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	item := createTestItem(t, ctx, testutil.WithCategory(domain.CategoryProduct))

	stock := repository.NewStockLotRepository(testDB)
	product := repository.NewProductLotRepository(testDB)

	lot := fixtures.Lot(item.ID)
	require.NoError(t, product.Insert(ctx, testOrg, lot))

	_, err := stock.GetByID(ctx, testOrg, lot.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	got, err := product.GetByID(ctx, testOrg, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.ID, got.ID)

	store := repository.NewLotStore(testDB)
	assert.Equal(t, product, store.ForItem(item))
}
