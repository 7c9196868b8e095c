package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Ledger events
	EventStockRestocked = "ledger.stock.restocked"
	EventStockDeducted  = "ledger.stock.deducted"
	EventStockRecounted = "ledger.stock.recounted"

	// Reservation events
	EventReservationCreated   = "ledger.reservation.created"
	EventReservationReleased  = "ledger.reservation.released"
	EventReservationConverted = "ledger.reservation.converted"
	EventReservationExpired   = "ledger.reservation.expired"
)

// Exchange names
const (
	ExchangeLedgerEvents = "ledger.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          raw,
	}, nil
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation ID to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return uuid.New().String()
}

// StockDeductedEvent is emitted after a deduction plan commits
type StockDeductedEvent struct {
	ItemID     string `json:"item_id"`
	OrgID      string `json:"org_id"`
	ChangeKind string `json:"change_kind"`
	Quantity   string `json:"quantity"`
	LotCount   int    `json:"lot_count"`
}

// StockRestockedEvent is emitted after an additive lot is created
type StockRestockedEvent struct {
	ItemID   string `json:"item_id"`
	OrgID    string `json:"org_id"`
	LotID    string `json:"lot_id"`
	LotCode  string `json:"lot_code"`
	Quantity string `json:"quantity"`
	UnitCost string `json:"unit_cost"`
}

// StockRecountedEvent is emitted after a recount reconciliation commits
type StockRecountedEvent struct {
	ItemID   string `json:"item_id"`
	OrgID    string `json:"org_id"`
	Previous string `json:"previous"`
	Target   string `json:"target"`
}

// ReservationEvent is emitted on reservation state transitions
type ReservationEvent struct {
	ReservationID string `json:"reservation_id"`
	ItemID        string `json:"item_id"`
	OrgID         string `json:"org_id"`
	OrderID       string `json:"order_id"`
	Quantity      string `json:"quantity"`
	Status        string `json:"status"`
}
