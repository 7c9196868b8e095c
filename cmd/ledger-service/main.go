package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/craftledger/craftledger-backend/internal/ledger/events"
	"github.com/craftledger/craftledger-backend/internal/ledger/repository"
	"github.com/craftledger/craftledger-backend/internal/ledger/service"
	"github.com/craftledger/craftledger-backend/pkg/config"
	"github.com/craftledger/craftledger-backend/pkg/database"
	"github.com/craftledger/craftledger-backend/pkg/httputil"
	"github.com/craftledger/craftledger-backend/pkg/logger"
	"github.com/craftledger/craftledger-backend/pkg/lotcode"
	"github.com/craftledger/craftledger-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("ledger-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("ledger-service", cfg.Server.Environment)
	log.Info().Msg("starting Ledger Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewLedgerEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(db)
	lotStore := repository.NewLotStore(db)
	reservationRepo := repository.NewReservationRepository(db)

	// The deduction and recount services are embedded by collaborating
	// applications; this daemon only drives reservation expiry.
	codes := lotcode.New()
	reservations := service.NewReservationManager(db, itemRepo, lotStore, reservationRepo, codes, publisher, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start reservation-expiry sweeper
	var sweeper *service.ReservationSweeper
	if cfg.Sweeper.Enabled {
		sweeper = service.NewReservationSweeper(reservations, reservationRepo, cfg.Sweeper.Interval, log)
		sweeper.Start(ctx)
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "ledger-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Cancel context to stop the sweeper
	cancel()
	if sweeper != nil {
		sweeper.Stop()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
