package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/craftledger/craftledger-backend/internal/ledger/domain"
	"github.com/craftledger/craftledger-backend/pkg/database"
	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// ReservationRepository handles reservation persistence
type ReservationRepository struct {
	db *database.DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *database.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create inserts a reservation together with its lines
func (r *ReservationRepository) Create(ctx context.Context, org orgctx.Org, res *domain.Reservation) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res.OrgID = org.ID

	query := `
		INSERT INTO reservations (
			id, org_id, item_id, order_id, quantity, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowCtx(ctx, query,
		res.ID, res.OrgID, res.ItemID, res.OrderID, res.Quantity,
		res.Status, res.ExpiresAt,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	lineQuery := `
		INSERT INTO reservation_lines (
			id, reservation_id, source_lot_id, entry_id, quantity
		) VALUES ($1, $2, $3, $4, $5)
	`
	for i := range res.Lines {
		line := &res.Lines[i]
		if line.ID == "" {
			line.ID = uuid.New().String()
		}
		line.ReservationID = res.ID
		if _, err := r.db.ExecCtx(ctx, lineQuery,
			line.ID, line.ReservationID, line.SourceLotID, line.EntryID, line.Quantity,
		); err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
	}

	return nil
}

// GetByID loads a reservation and its lines
func (r *ReservationRepository) GetByID(ctx context.Context, org orgctx.Org, id string) (*domain.Reservation, error) {
	var res domain.Reservation
	query := `SELECT * FROM reservations WHERE id = $1 AND org_id = $2`
	if err := r.db.GetCtx(ctx, &res, query, id, org.ID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("reservation")
		}
		return nil, err
	}

	lines := []domain.ReservationLine{}
	lineQuery := `SELECT * FROM reservation_lines WHERE reservation_id = $1 ORDER BY id`
	if err := r.db.SelectCtx(ctx, &lines, lineQuery, id); err != nil {
		return nil, err
	}
	res.Lines = lines

	return &res, nil
}

// TransitionStatus moves a reservation from one status to another. The
// guard on the current status makes transitions idempotence-safe: a
// reservation already released cannot be released again.
func (r *ReservationRepository) TransitionStatus(ctx context.Context, org orgctx.Org, id string, from, to domain.ReservationStatus) error {
	query := `
		UPDATE reservations SET status = $4, updated_at = NOW()
		WHERE id = $1 AND org_id = $2 AND status = $3
	`
	result, err := r.db.ExecCtx(ctx, query, id, org.ID, from, to)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("reservation is not in status " + string(from))
	}
	return nil
}

// ListDue lists active reservations whose expiry has passed
func (r *ReservationRepository) ListDue(ctx context.Context, org orgctx.Org, now time.Time) ([]*domain.Reservation, error) {
	reservations := []*domain.Reservation{}
	query := `
		SELECT * FROM reservations
		WHERE org_id = $1 AND status = $2 AND expires_at < $3
		ORDER BY expires_at, id
	`
	if err := r.db.SelectCtx(ctx, &reservations, query, org.ID, domain.ReservationActive, now); err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListOrgsWithDue returns the organizations that have active reservations
// past their expiry, for the background sweeper to fan out over.
func (r *ReservationRepository) ListOrgsWithDue(ctx context.Context, now time.Time) ([]string, error) {
	orgIDs := []string{}
	query := `
		SELECT DISTINCT org_id FROM reservations
		WHERE status = $1 AND expires_at < $2
	`
	if err := r.db.SelectCtx(ctx, &orgIDs, query, domain.ReservationActive, now); err != nil {
		return nil, err
	}
	return orgIDs, nil
}
