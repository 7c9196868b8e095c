package units_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/internal/units"
	"github.com/craftledger/craftledger-backend/pkg/database"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/logger"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
	"github.com/craftledger/craftledger-backend/pkg/testutil"
)

var (
	testDB  *database.DB
	testOrg = orgctx.Org{ID: "org-units"}
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		// Integration tests skip themselves; no container needed.
		os.Exit(m.Run())
	}

	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	db, err := container.Connect(ctx)
	if err != nil {
		container.Terminate(ctx)
		log.Fatalf("failed to connect to test database: %v", err)
	}

	if err := container.CreateLedgerSchema(ctx, db); err != nil {
		container.Terminate(ctx)
		log.Fatalf("failed to create schema: %v", err)
	}

	testDB = database.Wrap(db, logger.New("units-test", "test"))

	code := m.Run()

	db.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMappingRepositoryRoundTrip(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := units.NewMappingRepository(testDB)

	require.NoError(t, repo.Upsert(ctx, testOrg, units.Mapping{FromUnit: "scoop", ToUnit: "g", Factor: dec("30")}))
	require.NoError(t, repo.Upsert(ctx, testOrg, units.Mapping{FromUnit: "bag", ToUnit: "scoop", Factor: dec("10")}))

	mappings, err := repo.ListMappings(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "bag", mappings[0].FromUnit)
	assert.Equal(t, "scoop", mappings[1].FromUnit)
	assert.True(t, mappings[1].Factor.Equal(dec("30")))

	// Upsert replaces the factor in place.
	require.NoError(t, repo.Upsert(ctx, testOrg, units.Mapping{FromUnit: "scoop", ToUnit: "g", Factor: dec("35")}))
	mappings, err = repo.ListMappings(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.True(t, mappings[1].Factor.Equal(dec("35")))

	require.NoError(t, repo.Delete(ctx, testOrg, "bag", "scoop"))
	mappings, err = repo.ListMappings(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "scoop", mappings[0].FromUnit)
}

func TestMappingRepositoryRejectsNonPositiveFactor(t *testing.T) {
	skipIfShort(t)
	repo := units.NewMappingRepository(testDB)

	err := repo.Upsert(context.Background(), testOrg, units.Mapping{FromUnit: "scoop", ToUnit: "g", Factor: dec("0")})
	assert.ErrorIs(t, err, errors.ErrBadRequest)
}

func TestMappingRepositoryScopesByOrg(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	repo := units.NewMappingRepository(testDB)
	otherOrg := orgctx.Org{ID: "org-units-other"}

	require.NoError(t, repo.Upsert(ctx, otherOrg, units.Mapping{FromUnit: "crate", ToUnit: "each", Factor: dec("24")}))

	mappings, err := repo.ListMappings(ctx, testOrg)
	require.NoError(t, err)
	for _, m := range mappings {
		assert.NotEqual(t, "crate", m.FromUnit)
	}
}

func TestItemDensityResolverReadsStoredDensity(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	items := repository.NewItemRepository(testDB)
	resolver := units.NewItemDensityResolver(testDB)
	fixtures := testutil.NewFixtureFactory()

	dense := fixtures.Item(testutil.WithDensity(dec("0.91")))
	require.NoError(t, items.Create(ctx, testOrg, dense))

	density, ok, err := resolver.ItemDensity(ctx, testOrg, dense.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, density.Equal(dec("0.91")))

	plain := fixtures.Item()
	require.NoError(t, items.Create(ctx, testOrg, plain))

	_, ok, err = resolver.ItemDensity(ctx, testOrg, plain.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = resolver.ItemDensity(ctx, testOrg, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestConvertThroughStoredMappingsAndDensity(t *testing.T) {
	skipIfShort(t)
	ctx := context.Background()
	items := repository.NewItemRepository(testDB)
	mappings := units.NewMappingRepository(testDB)
	fixtures := testutil.NewFixtureFactory()

	org := orgctx.Org{ID: "org-units-engine"}
	engine := units.NewEngine(units.DefaultCatalog(), mappings, units.NewItemDensityResolver(testDB))

	require.NoError(t, mappings.Upsert(ctx, org, units.Mapping{FromUnit: "scoop", ToUnit: "g", Factor: dec("30")}))

	got, err := engine.Convert(ctx, org, units.ConvertRequest{Amount: dec("2"), FromUnit: "scoop", ToUnit: "g"})
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("60")), "got %s", got.Amount)
	assert.Equal(t, units.KindCustom, got.Kind)

	item := fixtures.Item(testutil.WithDensity(dec("0.91")))
	require.NoError(t, items.Create(ctx, org, item))

	got, err = engine.Convert(ctx, org, units.ConvertRequest{Amount: dec("100"), FromUnit: "ml", ToUnit: "g", ItemID: item.ID})
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("91")), "got %s", got.Amount)
	assert.Equal(t, units.KindDensity, got.Kind)
}
