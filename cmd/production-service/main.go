package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/consumers"
	"github.com/bakeflow/bakeflow-backend/internal/production/events"
	"github.com/bakeflow/bakeflow-backend/internal/production/handler"
	"github.com/bakeflow/bakeflow-backend/internal/production/repository"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/database"
	"github.com/bakeflow/bakeflow-backend/pkg/httputil"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "production-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Production Service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Minute)
		if err := db.Migrate(migrateCtx); err != nil {
			migrateCancel()
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		migrateCancel()

		version, err := db.MigrationVersion(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read schema version")
		}
		log.Info().Int64("schema_version", version).Msg("database migrated")
	}

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	publisher, err := events.NewProductionEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	stores := service.Stores{
		Batches: repository.NewBatchRepository(db),
		Recipes: repository.NewRecipeRepository(db),
		Runs:    repository.NewRunRepository(db),
		UoW:     repository.NewTxManager(db),
	}
	productionService := service.NewProductionService(stores, publisher, cfg.Production, log)
	productionHandler := handler.NewProductionHandler(productionService, log)

	stockConsumer, err := consumers.NewStockEventConsumer(rmq, productionService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stock event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stockConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start stock event consumer")
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Tenant-Slug"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.TenantMiddleware) // Extract tenant context from headers
	r.Use(httputil.Logger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	r.Route("/api/v1/production", productionHandler.Routes)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers before draining HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
