// Package app wires configuration, storage, the provider client and the
// coordinators into one object shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/simaogato/navmetrics-backend/internal/adapter/provider/mfapi"
	"github.com/simaogato/navmetrics-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/navmetrics-backend/internal/config"
	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/logging"
	"github.com/simaogato/navmetrics-backend/internal/telemetry"
	"github.com/simaogato/navmetrics-backend/internal/usecase/growth"
	"github.com/simaogato/navmetrics-backend/internal/usecase/ingestion"
	"github.com/simaogato/navmetrics-backend/internal/usecase/metrics"
	"github.com/simaogato/navmetrics-backend/internal/usecase/pipeline"
)

// App holds the process-wide dependencies
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *postgres.DB

	InstrumentRepo domain.InstrumentRepository
	LogRepo        domain.IngestionLogRepository

	Ingestion *ingestion.Service
	Growth    *growth.Calculator
	Metrics   *metrics.Service
	Pipeline  *pipeline.Service

	closers []func(context.Context) error
}

// New builds the App from a loaded configuration
// Logic:
//  1. Logger and telemetry
//  2. Database connection pool
//  3. Repositories (Postgres)
//  4. Provider client and services (use cases)
func New(ctx context.Context, cfg *config.Config, stdout io.Writer) (*App, error) {
	a := &App{Config: cfg}

	logger, logCloser, err := logging.New(cfg.Logging, stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a.Logger = logger
	a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdownTelemetry)

	db, err := postgres.NewDB(ctx, cfg.Database.DSN(), cfg.Database.Pool())
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	a.InstrumentRepo = postgres.NewInstrumentRepository(db)
	a.LogRepo = postgres.NewIngestionLogRepository(db)
	valuationRepo := postgres.NewValuationRepository(db)
	seriesStore := postgres.NewSeriesStore(db)
	metricsRepo := postgres.NewMetricsRepository(db)

	client := mfapi.NewClient(cfg.Provider.Client(), logger.With("component", "mfapi"))

	a.Ingestion = ingestion.NewIngestionService(client, seriesStore, a.LogRepo,
		cfg.Categories.Classifier(), logger.With("component", "ingestion"))
	a.Growth = growth.NewCalculator(valuationRepo, a.InstrumentRepo, cfg.Categories.Returns(),
		logger.With("component", "growth"))
	a.Metrics = metrics.NewMetricsService(a.Growth, a.InstrumentRepo, valuationRepo, metricsRepo,
		logger.With("component", "metrics"))
	a.Pipeline = pipeline.NewPipelineService(a.Ingestion, a.Metrics, a.InstrumentRepo, cfg.Ingestion.Delay,
		logger.With("component", "pipeline"))

	return a, nil
}

// Migrate applies the database schema
func (a *App) Migrate(ctx context.Context) error {
	if err := postgres.Migrate(ctx, a.DB); err != nil {
		return err
	}
	a.Logger.Info("database schema applied")
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
