package service

import (
	"context"
	"time"

	"github.com/craftledger/craftledger-backend/pkg/logger"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// OrgLister finds organizations that currently have work for the sweeper
type OrgLister interface {
	ListOrgsWithDue(ctx context.Context, now time.Time) ([]string, error)
}

// ReservationSweeper periodically expires overdue reservations across all
// organizations.
type ReservationSweeper struct {
	manager  *ReservationManager
	orgs     OrgLister
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
}

// NewReservationSweeper creates a new reservation sweeper
func NewReservationSweeper(manager *ReservationManager, orgs OrgLister, interval time.Duration, log *logger.Logger) *ReservationSweeper {
	return &ReservationSweeper{
		manager:  manager,
		orgs:     orgs,
		interval: interval,
		logger:   log,
	}
}

// Start starts the sweeper in a background goroutine. An initial sweep
// runs immediately, then once per interval.
func (s *ReservationSweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("reservation sweeper started")

		s.runSweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("reservation sweeper stopped")
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop stops the sweeper goroutine
func (s *ReservationSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// runSweep expires due reservations per organization. A failing
// organization does not block the remaining ones.
func (s *ReservationSweeper) runSweep(ctx context.Context) {
	now := time.Now().UTC()

	orgIDs, err := s.orgs.ListOrgsWithDue(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list organizations with due reservations")
		return
	}

	for _, orgID := range orgIDs {
		org := orgctx.Org{ID: orgID}

		report, err := s.manager.ExpireDue(ctx, org, now)
		if err != nil {
			s.logger.Error().Err(err).Str("org_id", orgID).Msg("reservation sweep failed")
			continue
		}

		s.logger.Info().
			Str("org_id", orgID).
			Int("expired", len(report.Expired)).
			Int("failed", len(report.Failed)).
			Msg("reservation sweep completed")
	}
}
