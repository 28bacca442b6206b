package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/retry"
	"github.com/simaogato/navmetrics-backend/internal/telemetry"
	"github.com/simaogato/navmetrics-backend/internal/usecase/validator"
)

// DefaultDelay is the pause between provider calls in a batch
const DefaultDelay = 500 * time.Millisecond

// ErrNoValidRecords means every row of a fetched series failed validation
var ErrNoValidRecords = errors.New("no valid valuation records")

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the time source used for log timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSleep replaces the inter-instrument wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithTracer replaces the tracer that opens the per-instrument span
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// Service fetches, validates and stores valuation series
type Service struct {
	Fetcher    domain.SchemeFetcher
	Store      domain.SeriesStore
	LogRepo    domain.IngestionLogRepository
	Classifier *domain.CategoryClassifier
	Validator  *validator.Validator

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	tracer        trace.Tracer
	runs          metric.Int64Counter
	recordsStored metric.Int64Counter
}

// NewIngestionService creates a new Service instance
func NewIngestionService(
	fetcher domain.SchemeFetcher,
	store domain.SeriesStore,
	logRepo domain.IngestionLogRepository,
	classifier *domain.CategoryClassifier,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if classifier == nil {
		classifier = domain.NewCategoryClassifier(nil)
	}
	meter := telemetry.Meter("ingestion")
	s := &Service{
		Fetcher:    fetcher,
		Store:      store,
		LogRepo:    logRepo,
		Classifier: classifier,
		Validator:  validator.NewValidator(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      retry.SleepContext,
		tracer:     telemetry.Tracer("ingestion"),
		runs:       telemetry.Counter(meter, "navmetrics.ingestion.runs", "Ingestion attempts by outcome"),
		recordsStored: telemetry.Counter(meter, "navmetrics.ingestion.records_stored",
			"Valuation records written by successful ingestions"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestOne fetches and stores the full series of one instrument
// Returns true when the new series was committed
func (s *Service) IngestOne(ctx context.Context, code string) bool {
	return s.ingest(ctx, ulid.Make().String(), code)
}

// IngestMany ingests each code in order, waiting delay between provider calls
// Logic:
//  1. All codes of one call share a run ID in the audit log
//  2. A failed instrument never stops the batch
//  3. No wait after the last code; a cancelled context stops before the next code
//
// Returns the number of successful ingestions
func (s *Service) IngestMany(ctx context.Context, codes []string, delay time.Duration) int {
	runID := ulid.Make().String()
	s.logger.InfoContext(ctx, "starting batch ingestion", "run_id", runID, "schemes", len(codes))

	succeeded := 0
	for i, code := range codes {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "batch ingestion cancelled", "run_id", runID, "processed", i, "error", ctx.Err())
			break
		}
		s.logger.InfoContext(ctx, "processing scheme", "run_id", runID, "position", i+1, "total", len(codes), "code", code)
		if s.ingest(ctx, runID, code) {
			succeeded++
		}
		if i < len(codes)-1 && delay > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				s.logger.WarnContext(ctx, "batch ingestion cancelled", "run_id", runID, "processed", i+1, "error", err)
				break
			}
		}
	}

	s.logger.InfoContext(ctx, "batch ingestion complete", "run_id", runID, "succeeded", succeeded, "requested", len(codes))
	return succeeded
}

// ingest runs one attempt
// Logic:
//  1. Fetch before touching storage; a failed fetch only appends a failed log row
//  2. Normalize rows and derive instrument metadata
//  3. Replace instrument, series and success log in one transaction
//  4. On a transaction error nothing from step 3 persists; a failed log row is appended instead
func (s *Service) ingest(ctx context.Context, runID, code string) bool {
	ctx, span := s.tracer.Start(ctx, "ingestion.IngestOne", trace.WithAttributes(
		attribute.String("scheme.code", code),
		attribute.String("run.id", runID),
	))
	defer span.End()

	entry := domain.NewIngestionLog(runID, code, s.now())

	scheme, err := s.Fetcher.FetchHistory(ctx, code)
	if err != nil {
		s.fail(ctx, span, entry, fmt.Errorf("failed to fetch data: %w", err))
		return false
	}

	result := s.Validator.Normalize(ctx, code, scheme.Rows)
	if len(result.Records) == 0 {
		entry.RecordsFetched = len(scheme.Rows)
		s.fail(ctx, span, entry, fmt.Errorf("%w: %d rows fetched", ErrNoValidRecords, len(scheme.Rows)))
		return false
	}

	instrument := s.buildInstrument(code, scheme, result.Records)
	if err := instrument.Validate(); err != nil {
		entry.RecordsFetched = len(scheme.Rows)
		s.fail(ctx, span, entry, fmt.Errorf("invalid instrument metadata: %w", err))
		return false
	}

	dates := make([]time.Time, len(result.Records))
	for i, r := range result.Records {
		dates[i] = r.Date
	}
	if gap := validator.LongestGap(dates); gap > validator.LargeGapDays {
		s.logger.WarnContext(ctx, "large gap in valuation series", "code", code, "gap_days", gap)
	}

	entry.Succeed(len(scheme.Rows), len(result.Records), s.now())
	err = s.Store.ReplaceSeries(ctx, domain.SeriesReplacement{
		Instrument: instrument,
		Records:    result.Records,
		Log:        entry,
	})
	if err != nil {
		s.fail(ctx, span, entry, fmt.Errorf("failed to store series: %w", err))
		return false
	}

	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(domain.IngestionSuccess))))
	s.recordsStored.Add(ctx, int64(len(result.Records)))
	span.SetAttributes(attribute.Int("records.stored", len(result.Records)))
	s.logger.InfoContext(ctx, "ingested scheme",
		"code", code,
		"run_id", runID,
		"category", string(instrument.Category),
		"fetched", len(scheme.Rows),
		"stored", len(result.Records),
		"skipped", len(result.Skipped))
	return true
}

func (s *Service) buildInstrument(code string, scheme *domain.ProviderScheme, records []domain.ValuationRecord) *domain.Instrument {
	isDirect, isGrowth := domain.PlanFlags(scheme.Name)
	launch := records[0].Date
	return &domain.Instrument{
		Code:       code,
		Name:       scheme.Name,
		Category:   s.Classifier.Classify(scheme.SchemeCategory),
		Issuer:     scheme.FundHouse,
		IsDirect:   isDirect,
		IsGrowth:   isGrowth,
		LaunchDate: &launch,
	}
}

// fail records a failed attempt; the audit row is written even when ctx was cancelled
func (s *Service) fail(ctx context.Context, span trace.Span, entry *domain.IngestionLog, cause error) {
	entry.Fail(cause, s.now())
	s.logger.ErrorContext(ctx, "ingestion failed", "code", entry.Code, "run_id", entry.RunID, "error", cause)

	span.RecordError(cause)
	span.SetStatus(codes.Error, "ingestion failed")
	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(domain.IngestionFailed))))

	if err := s.LogRepo.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append ingestion log", "code", entry.Code, "error", err)
	}
}
