package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/telemetry"
	"github.com/simaogato/navmetrics-backend/internal/usecase/growth"
	"github.com/simaogato/navmetrics-backend/internal/usecase/validator"
)

// GrowthCalculator computes one tenor's growth rate
type GrowthCalculator interface {
	CAGR(ctx context.Context, code string, years int, asOf time.Time) (growth.Result, error)
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the time source used as reference date and calculation stamp
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracer replaces the tracer that opens the per-instrument span
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// Service recalculates and stores metrics snapshots
type Service struct {
	Calculator     GrowthCalculator
	InstrumentRepo domain.InstrumentRepository
	ValuationRepo  domain.ValuationRepository
	MetricsRepo    domain.MetricsRepository

	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
	refreshes metric.Int64Counter
}

// NewMetricsService creates a new Service instance
func NewMetricsService(
	calculator GrowthCalculator,
	instrumentRepo domain.InstrumentRepository,
	valuationRepo domain.ValuationRepository,
	metricsRepo domain.MetricsRepository,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		Calculator:     calculator,
		InstrumentRepo: instrumentRepo,
		ValuationRepo:  valuationRepo,
		MetricsRepo:    metricsRepo,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		tracer:         telemetry.Tracer("metrics"),
		refreshes: telemetry.Counter(telemetry.Meter("metrics"),
			"navmetrics.metrics.refreshes", "Metrics refreshes by outcome"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshOne recalculates the full snapshot of one instrument
// Logic:
//  1. CAGR for every tenor as of now
//  2. Longest gap across all stored dates and the suspicious count
//  3. Upsert the snapshot stamped with now; nothing is written unless every step succeeded
func (s *Service) RefreshOne(ctx context.Context, code string) bool {
	ctx, span := s.tracer.Start(ctx, "metrics.RefreshOne", trace.WithAttributes(attribute.String("scheme.code", code)))
	defer span.End()

	snapshot, err := s.calculate(ctx, code)
	if err == nil {
		err = s.MetricsRepo.Upsert(ctx, snapshot)
		if err != nil {
			err = fmt.Errorf("failed to store metrics: %w", err)
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "metrics refresh failed", "code", code, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		s.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failed")))
		return false
	}

	s.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	s.logger.InfoContext(ctx, "refreshed metrics",
		"code", code,
		"quality_1y", snapshot.Tenor1Y.Quality.String(),
		"quality_3y", snapshot.Tenor3Y.Quality.String(),
		"quality_5y", snapshot.Tenor5Y.Quality.String(),
		"longest_gap_days", snapshot.LongestGapDays,
		"suspicious", snapshot.SuspiciousCount)
	return true
}

func (s *Service) calculate(ctx context.Context, code string) (*domain.MetricsSnapshot, error) {
	now := s.now()
	snapshot := &domain.MetricsSnapshot{Code: code}

	for _, years := range domain.Tenors {
		res, err := s.Calculator.CAGR(ctx, code, years, now)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate %dY CAGR: %w", years, err)
		}
		rate := res.Rate
		if err := snapshot.SetTenor(domain.TenorMetrics{
			Years:             years,
			Rate:              &rate,
			Quality:           res.Quality,
			DateGapDays:       res.GapDays,
			SufficientHistory: res.Quality != domain.QualityEstimated,
		}); err != nil {
			return nil, err
		}
	}

	dates, err := s.ValuationRepo.ListDates(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list valuation dates: %w", err)
	}
	snapshot.LongestGapDays = validator.LongestGap(dates)

	snapshot.SuspiciousCount, err = s.ValuationRepo.CountSuspicious(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to count suspicious valuations: %w", err)
	}

	snapshot.LastCalculated = now
	return snapshot, nil
}

// RefreshAll refreshes every stored instrument, tolerating individual failures
// Returns the number of successful refreshes
func (s *Service) RefreshAll(ctx context.Context) int {
	codes, err := s.InstrumentRepo.ListCodes(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list instruments", "error", err)
		return 0
	}

	s.logger.InfoContext(ctx, "starting metrics refresh", "instruments", len(codes))
	succeeded := 0
	for i, code := range codes {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "metrics refresh cancelled", "processed", i, "error", ctx.Err())
			break
		}
		if s.RefreshOne(ctx, code) {
			succeeded++
		}
	}
	s.logger.InfoContext(ctx, "metrics refresh complete", "succeeded", succeeded, "total", len(codes))
	return succeeded
}
