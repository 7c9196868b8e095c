package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

var (
	testOrg = orgctx.Org{ID: "org-test"}
	testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return testNow }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func daysAgo(n int) time.Time { return testNow.AddDate(0, 0, -n) }

func dateIn(days int) time.Time {
	d := testNow.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// fakeLots is an in-memory LotRepository with the same guard semantics
// as the SQL implementation.
type fakeLots struct {
	lots map[string]*domain.StockLot

	// failDecrement, when set, fails the nth decrement (1-based).
	failDecrement int
	decrements    int
	// failInsert, when set, fails the nth insert (1-based).
	failInsert int
	inserts    int
}

func newFakeLots() *fakeLots {
	return &fakeLots{lots: make(map[string]*domain.StockLot)}
}

func (f *fakeLots) add(lot *domain.StockLot) *domain.StockLot {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	f.lots[lot.ID] = lot
	return lot
}

func (f *fakeLots) Insert(ctx context.Context, org orgctx.Org, lot *domain.StockLot) error {
	f.inserts++
	if f.failInsert > 0 && f.inserts == f.failInsert {
		return errors.Internal("insert failed")
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.OrgID = org.ID
	f.lots[lot.ID] = lot
	return nil
}

func (f *fakeLots) GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.StockLot, error) {
	lot, ok := f.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	return lot, nil
}

func (f *fakeLots) matches(lot *domain.StockLot, sel repository.LotSelector, today time.Time) bool {
	if !lot.QuantityChange.IsPositive() || !lot.RemainingQuantity.IsPositive() {
		return false
	}
	switch sel {
	case repository.SelectFresh:
		return !lot.Expired(today)
	case repository.SelectExpired:
		return lot.Expired(today)
	default:
		return true
	}
}

func (f *fakeLots) ListWithRemainder(ctx context.Context, org orgctx.Org, itemID string, sel repository.LotSelector, today time.Time) ([]*domain.StockLot, error) {
	var out []*domain.StockLot
	for _, lot := range f.lots {
		if lot.ItemID == itemID && f.matches(lot, sel, today) {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeLots) Total(ctx context.Context, org orgctx.Org, itemID string, sel repository.LotSelector, today time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, lot := range f.lots {
		if lot.ItemID == itemID && f.matches(lot, sel, today) {
			total = total.Add(lot.RemainingQuantity)
		}
	}
	return total, nil
}

func (f *fakeLots) DecrementRemaining(ctx context.Context, org orgctx.Org, lotID string, take decimal.Decimal) error {
	f.decrements++
	if f.failDecrement > 0 && f.decrements == f.failDecrement {
		return errors.Conflict("lot remainder changed concurrently or would go negative")
	}
	lot, ok := f.lots[lotID]
	if !ok || lot.RemainingQuantity.LessThan(take) {
		return errors.Conflict("lot remainder changed concurrently or would go negative")
	}
	lot.RemainingQuantity = lot.RemainingQuantity.Sub(take)
	return nil
}

func (f *fakeLots) CreditRemaining(ctx context.Context, org orgctx.Org, lotID string, amount decimal.Decimal) error {
	lot, ok := f.lots[lotID]
	if !ok || lot.RemainingQuantity.Add(amount).GreaterThan(lot.QuantityChange) {
		return errors.Conflict("credit would exceed the lot's original quantity")
	}
	lot.RemainingQuantity = lot.RemainingQuantity.Add(amount)
	return nil
}

func (f *fakeLots) ListExpiringWithin(ctx context.Context, org orgctx.Org, itemID string, days int, today time.Time) ([]*domain.StockLot, error) {
	cutoff := today.AddDate(0, 0, days)
	var out []*domain.StockLot
	for _, lot := range f.lots {
		if lot.ItemID != itemID || lot.ExpirationDate == nil {
			continue
		}
		if !lot.QuantityChange.IsPositive() || !lot.RemainingQuantity.IsPositive() {
			continue
		}
		if lot.Expired(today) || lot.ExpirationDate.After(cutoff) {
			continue
		}
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpirationDate.Equal(*out[j].ExpirationDate) {
			return out[i].ExpirationDate.Before(*out[j].ExpirationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// fakeItems is an in-memory ItemStore
type fakeItems struct {
	items map[string]*domain.InventoryItem
	locks int
}

func newFakeItems(items ...*domain.InventoryItem) *fakeItems {
	f := &fakeItems{items: make(map[string]*domain.InventoryItem)}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeItems) GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.InventoryItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, errors.NotFound("item")
	}
	return item, nil
}

func (f *fakeItems) LockForUpdate(ctx context.Context, org orgctx.Org, id string) (*domain.InventoryItem, error) {
	f.locks++
	return f.GetByID(ctx, org, id)
}

func (f *fakeItems) UpdateQuantity(ctx context.Context, org orgctx.Org, id string, quantity decimal.Decimal) error {
	item, ok := f.items[id]
	if !ok {
		return errors.NotFound("item")
	}
	item.Quantity = quantity
	return nil
}

func (f *fakeItems) UpdateQuantityAndCost(ctx context.Context, org orgctx.Org, id string, quantity, costPerUnit decimal.Decimal) error {
	item, ok := f.items[id]
	if !ok {
		return errors.NotFound("item")
	}
	item.Quantity = quantity
	item.CostPerUnit = costPerUnit
	return nil
}

// fakeTx runs the unit of work inline. Rollback semantics are covered by
// the repository integration tests; these tests assert on returned
// errors instead.
type fakeTx struct{}

func (fakeTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingPublisher captures published event types in order
type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) StockRestocked(ctx context.Context, org orgctx.Org, lot *domain.StockLot) {
	p.events = append(p.events, "stock.restocked")
}

func (p *recordingPublisher) StockDeducted(ctx context.Context, org orgctx.Org, itemID string, kind domain.ChangeKind, quantity decimal.Decimal, lotCount int) {
	p.events = append(p.events, "stock.deducted")
}

func (p *recordingPublisher) StockRecounted(ctx context.Context, org orgctx.Org, itemID string, previous, target decimal.Decimal) {
	p.events = append(p.events, "stock.recounted")
}

func (p *recordingPublisher) ReservationChanged(ctx context.Context, org orgctx.Org, res *domain.Reservation, eventType string) {
	p.events = append(p.events, eventType)
}

// fakeReservations is an in-memory ReservationStore with the same
// guarded transition semantics as the SQL implementation. Access is
// mutex-guarded so sweeper tests can poll it from another goroutine.
type fakeReservations struct {
	mu           sync.Mutex
	reservations map[string]*domain.Reservation
}

func newFakeReservations() *fakeReservations {
	return &fakeReservations{reservations: make(map[string]*domain.Reservation)}
}

func (f *fakeReservations) status(id string) domain.ReservationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return ""
	}
	return res.Status
}

func (f *fakeReservations) Create(ctx context.Context, org orgctx.Org, res *domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res.OrgID = org.ID
	for i := range res.Lines {
		if res.Lines[i].ID == "" {
			res.Lines[i].ID = uuid.New().String()
		}
		res.Lines[i].ReservationID = res.ID
	}
	f.reservations[res.ID] = res
	return nil
}

func (f *fakeReservations) GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return nil, errors.NotFound("reservation")
	}
	return res, nil
}

func (f *fakeReservations) TransitionStatus(ctx context.Context, org orgctx.Org, id string, from, to domain.ReservationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return errors.NotFound("reservation")
	}
	if res.Status != from {
		return errors.Conflict("reservation is not in the expected status")
	}
	res.Status = to
	return nil
}

func (f *fakeReservations) ListDue(ctx context.Context, org orgctx.Org, now time.Time) ([]*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Reservation
	for _, res := range f.reservations {
		if res.Status == domain.ReservationActive && res.ExpiresAt.Before(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeReservations) ListOrgsWithDue(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, res := range f.reservations {
		if res.Status == domain.ReservationActive && res.ExpiresAt.Before(now) && !seen[res.OrgID] {
			seen[res.OrgID] = true
			out = append(out, res.OrgID)
		}
	}
	sort.Strings(out)
	return out, nil
}
