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
	"github.com/craftledger/craftledger-backend/pkg/messaging"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
	"github.com/craftledger/craftledger-backend/pkg/validate"
)

// ReservationStore is the persistence surface for reservations
type ReservationStore interface {
	Create(ctx context.Context, org orgctx.Org, res *domain.Reservation) error
	GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.Reservation, error)
	TransitionStatus(ctx context.Context, org orgctx.Org, id string, from, to domain.ReservationStatus) error
	ListDue(ctx context.Context, org orgctx.Org, now time.Time) ([]*domain.Reservation, error)
}

// ReservationManager holds deductions against future fulfillment. A
// reservation is an ordinary FIFO deduction with the reserved kind whose
// deductive entries are retained as credit-back targets, so release can
// restore exactly the lots it drew from.
type ReservationManager struct {
	db           TxRunner
	items        ItemStore
	lots         LotRouter
	reservations ReservationStore
	planner      *DeductionPlanner
	executor     *PlanExecutor
	codes        *lotcode.Generator
	publisher    EventPublisher
	logger       *logger.Logger
	now          func() time.Time
}

// NewReservationManager creates a new reservation manager
func NewReservationManager(
	db TxRunner,
	items ItemStore,
	lots LotRouter,
	reservations ReservationStore,
	codes *lotcode.Generator,
	publisher EventPublisher,
	log *logger.Logger,
) *ReservationManager {
	return &ReservationManager{
		db:           db,
		items:        items,
		lots:         lots,
		reservations: reservations,
		planner:      NewDeductionPlanner(lots),
		executor:     NewPlanExecutor(lots, codes),
		codes:        codes,
		publisher:    publisher,
		logger:       log,
		now:          time.Now,
	}
}

// WithClock overrides the manager's clock, for tests
func (m *ReservationManager) WithClock(now func() time.Time) *ReservationManager {
	m.now = now
	m.planner.WithClock(now)
	m.executor.WithClock(now)
	return m
}

// ReserveRequest holds stock against an order
type ReserveRequest struct {
	ItemID    string          `json:"item_id" validate:"required,uuid"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	OrderID   string          `json:"order_id" validate:"required"`
	ExpiresAt time.Time       `json:"expires_at" validate:"required"`
}

// Reserve deducts fresh stock with the reserved kind and records which
// lots the deduction drew from.
func (m *ReservationManager) Reserve(ctx context.Context, org orgctx.Org, req ReserveRequest) (*domain.Reservation, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var reservation *domain.Reservation
	err := m.db.Transaction(ctx, func(ctx context.Context) error {
		item, err := m.items.LockForUpdate(ctx, org, req.ItemID)
		if err != nil {
			return err
		}

		plan, err := m.planner.Plan(ctx, org, item, req.Quantity, domain.KindReserved)
		if err != nil {
			return err
		}

		entries, err := m.executor.Execute(ctx, org, item, plan)
		if err != nil {
			return err
		}

		if err := m.refreshQuantity(ctx, org, item); err != nil {
			return err
		}

		reservation = &domain.Reservation{
			ItemID:    item.ID,
			OrderID:   req.OrderID,
			Quantity:  req.Quantity,
			Status:    domain.ReservationActive,
			ExpiresAt: req.ExpiresAt,
		}
		for _, entry := range entries {
			reservation.Lines = append(reservation.Lines, domain.ReservationLine{
				SourceLotID: *entry.SourceLotID,
				EntryID:     entry.ID,
				Quantity:    entry.QuantityChange.Neg(),
			})
		}
		return m.reservations.Create(ctx, org, reservation)
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, org, reservation, messaging.EventReservationCreated)
	return reservation, nil
}

// Release credits a reservation's quantity back onto the lots it drew
// from and transitions it to released.
func (m *ReservationManager) Release(ctx context.Context, org orgctx.Org, reservationID string) (*domain.Reservation, error) {
	return m.release(ctx, org, reservationID, domain.ReservationReleased, messaging.EventReservationReleased)
}

// ConvertToSale marks a reservation fulfilled. Inventory was already
// deducted at reserve time, so this is a pure state transition.
func (m *ReservationManager) ConvertToSale(ctx context.Context, org orgctx.Org, reservationID string) (*domain.Reservation, error) {
	var reservation *domain.Reservation
	err := m.db.Transaction(ctx, func(ctx context.Context) error {
		res, err := m.reservations.GetByID(ctx, org, reservationID)
		if err != nil {
			return err
		}
		if err := m.reservations.TransitionStatus(ctx, org, res.ID, domain.ReservationActive, domain.ReservationConverted); err != nil {
			return err
		}
		res.Status = domain.ReservationConverted
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, org, reservation, messaging.EventReservationConverted)
	return reservation, nil
}

// ExpireReport collects the outcome of an expiry sweep
type ExpireReport struct {
	Expired []string         `json:"expired"`
	Failed  map[string]error `json:"-"`
}

// ExpireDue releases every active reservation past its expiry. One
// reservation failing must not block the rest: failures are collected
// and reported alongside the successes.
func (m *ReservationManager) ExpireDue(ctx context.Context, org orgctx.Org, now time.Time) (*ExpireReport, error) {
	due, err := m.reservations.ListDue(ctx, org, now)
	if err != nil {
		return nil, err
	}

	report := &ExpireReport{Failed: make(map[string]error)}
	for _, res := range due {
		if _, err := m.release(ctx, org, res.ID, domain.ReservationExpired, messaging.EventReservationExpired); err != nil {
			m.logger.Error().Err(err).
				Str("reservation_id", res.ID).
				Str("org_id", org.ID).
				Msg("failed to expire reservation")
			report.Failed[res.ID] = err
			continue
		}
		report.Expired = append(report.Expired, res.ID)
	}

	return report, nil
}

// release credits the reservation back and moves it to the given
// terminal status, inside one unit of work.
func (m *ReservationManager) release(ctx context.Context, org orgctx.Org, reservationID string, to domain.ReservationStatus, eventType string) (*domain.Reservation, error) {
	var reservation *domain.Reservation
	err := m.db.Transaction(ctx, func(ctx context.Context) error {
		res, err := m.reservations.GetByID(ctx, org, reservationID)
		if err != nil {
			return err
		}

		item, err := m.items.LockForUpdate(ctx, org, res.ItemID)
		if err != nil {
			return err
		}

		// Guard the transition first so a reservation in a terminal
		// state can never be credited twice.
		if err := m.reservations.TransitionStatus(ctx, org, res.ID, domain.ReservationActive, to); err != nil {
			return err
		}

		if err := m.creditBack(ctx, org, item, res); err != nil {
			return err
		}

		if err := m.refreshQuantity(ctx, org, item); err != nil {
			return err
		}

		res.Status = to
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, org, reservation, eventType)
	return reservation, nil
}

// creditBack restores each reserved take onto its original source lot,
// capped at the lot's original size. Quantity that cannot be restored to
// its source lot, because the lot is unfindable or already full, is
// preserved as a new excess-credit lot rather than lost.
func (m *ReservationManager) creditBack(ctx context.Context, org orgctx.Org, item *domain.InventoryItem, res *domain.Reservation) error {
	repo := m.lots.ForItem(item)
	occurredAt := m.now().UTC()
	excess := decimal.Zero

	for _, line := range res.Lines {
		lot, err := repo.GetByID(ctx, org, line.SourceLotID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				m.logger.Warn().
					Str("reservation_id", res.ID).
					Str("source_lot_id", line.SourceLotID).
					Msg("source lot unfindable on release, crediting as excess")
				excess = excess.Add(line.Quantity)
				continue
			}
			return err
		}

		capacity := lot.QuantityChange.Sub(lot.RemainingQuantity)
		credit := decimal.Min(line.Quantity, capacity)

		if credit.IsPositive() {
			if err := repo.CreditRemaining(ctx, org, lot.ID, credit); err != nil {
				return err
			}

			sourceLotID := lot.ID
			entry := &domain.StockLot{
				ItemID:            item.ID,
				ChangeKind:        domain.KindRefundCredit,
				QuantityChange:    credit,
				RemainingQuantity: decimal.Zero,
				UnitCost:          lot.UnitCost,
				OccurredAt:        occurredAt,
				LotCode:           m.codes.Generate(domain.KindRefundCredit.Prefix(), item.ID),
				SourceLotID:       &sourceLotID,
			}
			if err := repo.Insert(ctx, org, entry); err != nil {
				return err
			}
		}

		if leftover := line.Quantity.Sub(credit); leftover.IsPositive() {
			excess = excess.Add(leftover)
		}
	}

	if excess.IsPositive() {
		lot := &domain.StockLot{
			ItemID:            item.ID,
			ChangeKind:        domain.KindRefundCredit,
			QuantityChange:    excess,
			RemainingQuantity: excess,
			UnitCost:          item.CostPerUnit,
			OccurredAt:        occurredAt,
			LotCode:           m.codes.Generate(domain.KindRefundCredit.Prefix(), item.ID),
		}
		if err := repo.Insert(ctx, org, lot); err != nil {
			return err
		}
	}

	return nil
}

func (m *ReservationManager) refreshQuantity(ctx context.Context, org orgctx.Org, item *domain.InventoryItem) error {
	total, err := m.lots.ForItem(item).Total(ctx, org, item.ID, repository.SelectAll, m.now())
	if err != nil {
		return err
	}
	if err := m.items.UpdateQuantity(ctx, org, item.ID, total); err != nil {
		return err
	}
	item.Quantity = total
	return nil
}

func (m *ReservationManager) publish(ctx context.Context, org orgctx.Org, res *domain.Reservation, eventType string) {
	if m.publisher == nil || res == nil {
		return
	}
	m.publisher.ReservationChanged(ctx, org, res, eventType)
}
