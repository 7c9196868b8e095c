package events

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/pkg/logger"
	"github.com/craftledger/craftledger-backend/pkg/messaging"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// LedgerEventPublisher publishes ledger events
type LedgerEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewLedgerEventPublisher creates a new ledger event publisher
func NewLedgerEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*LedgerEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeLedgerEvents, "ledger-service", log)
	if err != nil {
		return nil, err
	}

	return &LedgerEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// StockRestocked publishes a stock restocked event
func (p *LedgerEventPublisher) StockRestocked(ctx context.Context, org orgctx.Org, lot *domain.StockLot) {
	if p == nil {
		return
	}
	data := messaging.StockRestockedEvent{
		ItemID:   lot.ItemID,
		OrgID:    org.ID,
		LotID:    lot.ID,
		LotCode:  lot.LotCode,
		Quantity: lot.QuantityChange.String(),
		UnitCost: lot.UnitCost.String(),
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockRestocked, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", lot.ItemID).Msg("failed to publish stock restocked event")
	}
}

// StockDeducted publishes a stock deducted event
func (p *LedgerEventPublisher) StockDeducted(ctx context.Context, org orgctx.Org, itemID string, kind domain.ChangeKind, quantity decimal.Decimal, lotCount int) {
	if p == nil {
		return
	}
	data := messaging.StockDeductedEvent{
		ItemID:     itemID,
		OrgID:      org.ID,
		ChangeKind: string(kind),
		Quantity:   quantity.String(),
		LotCount:   lotCount,
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockDeducted, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock deducted event")
	}
}

// StockRecounted publishes a stock recounted event
func (p *LedgerEventPublisher) StockRecounted(ctx context.Context, org orgctx.Org, itemID string, previous, target decimal.Decimal) {
	if p == nil {
		return
	}
	data := messaging.StockRecountedEvent{
		ItemID:   itemID,
		OrgID:    org.ID,
		Previous: previous.String(),
		Target:   target.String(),
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockRecounted, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock recounted event")
	}
}

// ReservationChanged publishes a reservation state transition event
func (p *LedgerEventPublisher) ReservationChanged(ctx context.Context, org orgctx.Org, res *domain.Reservation, eventType string) {
	if p == nil {
		return
	}
	data := messaging.ReservationEvent{
		ReservationID: res.ID,
		ItemID:        res.ItemID,
		OrgID:         org.ID,
		OrderID:       res.OrderID,
		Quantity:      res.Quantity.String(),
		Status:        string(res.Status),
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to publish reservation event")
	}
}
