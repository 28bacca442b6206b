package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// PopularSchemes are the direct-growth schemes seeded into an empty database
// Large cap, flexi cap, mid cap, small cap, hybrid, debt and ELSS in that order
var PopularSchemes = []string{
	"119597", "120505", "120591",
	"122639", "145552",
	"119598", "120593",
	"119555", "120594",
	"119551",
	"118825",
	"119533",
}

// Ingester ingests a batch of scheme codes
type Ingester interface {
	IngestMany(ctx context.Context, codes []string, delay time.Duration) int
}

// Refresher recalculates metrics for every stored instrument
type Refresher interface {
	RefreshAll(ctx context.Context) int
}

// Report summarizes one pipeline invocation
type Report struct {
	Requested     int
	AlreadyStored int // only set by Seed
	Ingested      int
	Refreshed     int
	Duration      time.Duration
}

// Service sequences ingestion and the metrics refresh that depends on it
type Service struct {
	Ingester       Ingester
	Refresher      Refresher
	InstrumentRepo domain.InstrumentRepository
	Delay          time.Duration

	logger *slog.Logger
}

// NewPipelineService creates a new Service instance
func NewPipelineService(ingester Ingester, refresher Refresher, instrumentRepo domain.InstrumentRepository, delay time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		Ingester:       ingester,
		Refresher:      refresher,
		InstrumentRepo: instrumentRepo,
		Delay:          delay,
		logger:         logger,
	}
}

// Run ingests codes, then refreshes metrics for all stored instruments
// The refresh runs even when some ingestions failed, but not after cancellation
func (s *Service) Run(ctx context.Context, codes []string) Report {
	started := time.Now()
	s.logger.InfoContext(ctx, "starting daily refresh", "schemes", len(codes))

	report := Report{Requested: len(codes)}
	report.Ingested = s.Ingester.IngestMany(ctx, codes, s.Delay)
	s.logger.InfoContext(ctx, "ingestion stage complete", "succeeded", report.Ingested, "requested", report.Requested)

	if ctx.Err() == nil {
		report.Refreshed = s.Refresher.RefreshAll(ctx)
		s.logger.InfoContext(ctx, "metrics stage complete", "refreshed", report.Refreshed)
	}

	report.Duration = time.Since(started)
	s.logger.InfoContext(ctx, "daily refresh complete",
		"requested", report.Requested,
		"ingested", report.Ingested,
		"refreshed", report.Refreshed,
		"duration", report.Duration)
	return report
}

// Seed ingests only the codes not yet stored, then refreshes metrics
// Nothing is fetched when every code is already stored
func (s *Service) Seed(ctx context.Context, codes []string) (Report, error) {
	stored, err := s.InstrumentRepo.ListCodes(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list stored instruments: %w", err)
	}
	existing := make(map[string]bool, len(stored))
	for _, c := range stored {
		existing[c] = true
	}

	missing := make([]string, 0, len(codes))
	for _, c := range codes {
		if !existing[c] {
			missing = append(missing, c)
		}
	}
	s.logger.InfoContext(ctx, "seeding schemes", "requested", len(codes), "already_stored", len(codes)-len(missing), "new", len(missing))

	if len(missing) == 0 {
		return Report{Requested: len(codes), AlreadyStored: len(codes)}, nil
	}

	report := s.Run(ctx, missing)
	report.Requested = len(codes)
	report.AlreadyStored = len(codes) - len(missing)
	return report, nil
}
