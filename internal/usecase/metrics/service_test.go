package metrics

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/logging"
	"github.com/simaogato/navmetrics-backend/internal/usecase/growth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockCalculator is a mock implementation of GrowthCalculator for testing
type MockCalculator struct {
	mock.Mock
}

func (m *MockCalculator) CAGR(ctx context.Context, code string, years int, asOf time.Time) (growth.Result, error) {
	args := m.Called(ctx, code, years, asOf)
	return args.Get(0).(growth.Result), args.Error(1)
}

// MockInstrumentRepository is a mock implementation of InstrumentRepository for testing
type MockInstrumentRepository struct {
	mock.Mock
}

func (m *MockInstrumentRepository) GetByCode(ctx context.Context, code string) (*domain.Instrument, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Instrument), args.Error(1)
}

func (m *MockInstrumentRepository) ListCodes(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockValuationRepository is a mock implementation of ValuationRepository for testing
type MockValuationRepository struct {
	mock.Mock
}

func (m *MockValuationRepository) LatestOnOrBefore(ctx context.Context, code string, date time.Time) (*domain.ValuationRecord, error) {
	args := m.Called(ctx, code, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ValuationRecord), args.Error(1)
}

func (m *MockValuationRepository) ListDates(ctx context.Context, code string) ([]time.Time, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockValuationRepository) CountSuspicious(ctx context.Context, code string) (int, error) {
	args := m.Called(ctx, code)
	return args.Int(0), args.Error(1)
}

// MockMetricsRepository is a mock implementation of MetricsRepository for testing
type MockMetricsRepository struct {
	mock.Mock
}

func (m *MockMetricsRepository) Upsert(ctx context.Context, snapshot *domain.MetricsSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockMetricsRepository) GetByCode(ctx context.Context, code string) (*domain.MetricsSnapshot, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MetricsSnapshot), args.Error(1)
}

var fixedNow = time.Date(2026, time.February, 10, 7, 0, 0, 0, time.UTC)

type fixture struct {
	calc        *MockCalculator
	instruments *MockInstrumentRepository
	valuations  *MockValuationRepository
	metricsRepo *MockMetricsRepository
	service     *Service
}

func newFixture() *fixture {
	f := &fixture{
		calc:        new(MockCalculator),
		instruments: new(MockInstrumentRepository),
		valuations:  new(MockValuationRepository),
		metricsRepo: new(MockMetricsRepository),
	}
	f.service = NewMetricsService(f.calc, f.instruments, f.valuations, f.metricsRepo, nil,
		WithClock(func() time.Time { return fixedNow }))
	return f
}

func (f *fixture) expectCalculation(code string) {
	f.calc.On("CAGR", mock.Anything, code, 1, fixedNow).
		Return(growth.Result{Rate: 14.2, Quality: domain.QualityHistorical, GapDays: 2}, nil)
	f.calc.On("CAGR", mock.Anything, code, 3, fixedNow).
		Return(growth.Result{Rate: 11.8, Quality: domain.QualityApprox, GapDays: 24}, nil)
	f.calc.On("CAGR", mock.Anything, code, 5, fixedNow).
		Return(growth.Result{Rate: 12.0, Quality: domain.QualityEstimated}, nil)
	f.valuations.On("ListDates", mock.Anything, code).Return([]time.Time{
		domain.Date(2024, time.January, 1),
		domain.Date(2024, time.January, 2),
		domain.Date(2024, time.January, 10),
	}, nil)
	f.valuations.On("CountSuspicious", mock.Anything, code).Return(2, nil)
}

func TestRefreshOne_UpsertsFullSnapshot(t *testing.T) {
	f := newFixture()
	f.expectCalculation("119551")

	var stored *domain.MetricsSnapshot
	f.metricsRepo.On("Upsert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*domain.MetricsSnapshot) }).
		Return(nil)

	ok := f.service.RefreshOne(context.Background(), "119551")

	assert.True(t, ok)
	require.NotNil(t, stored)
	assert.Equal(t, "119551", stored.Code)
	assert.Equal(t, fixedNow, stored.LastCalculated)
	assert.Equal(t, 8, stored.LongestGapDays)
	assert.Equal(t, 2, stored.SuspiciousCount)

	require.NotNil(t, stored.Tenor1Y.Rate)
	assert.Equal(t, 14.2, *stored.Tenor1Y.Rate)
	assert.Equal(t, domain.QualityHistorical, stored.Tenor1Y.Quality)
	assert.Equal(t, 2, stored.Tenor1Y.DateGapDays)
	assert.True(t, stored.Tenor1Y.SufficientHistory)

	assert.Equal(t, domain.QualityApprox, stored.Tenor3Y.Quality)
	assert.Equal(t, 24, stored.Tenor3Y.DateGapDays)
	assert.True(t, stored.Tenor3Y.SufficientHistory)

	require.NotNil(t, stored.Tenor5Y.Rate)
	assert.Equal(t, 12.0, *stored.Tenor5Y.Rate)
	assert.Equal(t, domain.QualityEstimated, stored.Tenor5Y.Quality)
	assert.False(t, stored.Tenor5Y.SufficientHistory)

	f.calc.AssertExpectations(t)
	f.valuations.AssertExpectations(t)
}

func TestRefreshOne_CalculationErrorWritesNothing(t *testing.T) {
	f := newFixture()
	f.calc.On("CAGR", mock.Anything, "1", 1, fixedNow).Return(growth.Result{Rate: 10}, nil)
	f.calc.On("CAGR", mock.Anything, "1", 3, fixedNow).Return(growth.Result{}, errors.New("connection reset"))

	assert.False(t, f.service.RefreshOne(context.Background(), "1"))
	f.calc.AssertNotCalled(t, "CAGR", mock.Anything, "1", 5, fixedNow)
	f.metricsRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRefreshOne_SignalErrorWritesNothing(t *testing.T) {
	f := newFixture()
	for _, years := range domain.Tenors {
		f.calc.On("CAGR", mock.Anything, "1", years, fixedNow).Return(growth.Result{Rate: 12, Quality: domain.QualityEstimated}, nil)
	}
	f.valuations.On("ListDates", mock.Anything, "1").Return(nil, errors.New("timeout"))

	assert.False(t, f.service.RefreshOne(context.Background(), "1"))
	f.metricsRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRefreshOne_UpsertErrorReportsFailure(t *testing.T) {
	f := newFixture()
	f.expectCalculation("1")
	f.metricsRepo.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("deadlock detected"))

	assert.False(t, f.service.RefreshOne(context.Background(), "1"))
}

func TestRefreshAll_ToleratesFailures(t *testing.T) {
	f := newFixture()
	f.instruments.On("ListCodes", mock.Anything).Return([]string{"1", "2", "3"}, nil)
	f.expectCalculation("1")
	f.expectCalculation("3")
	f.calc.On("CAGR", mock.Anything, "2", 1, fixedNow).Return(growth.Result{}, errors.New("boom"))
	f.metricsRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	assert.Equal(t, 2, f.service.RefreshAll(context.Background()))
	f.metricsRepo.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestRefreshAll_ListErrorReturnsZero(t *testing.T) {
	f := newFixture()
	f.instruments.On("ListCodes", mock.Anything).Return(nil, errors.New("db down"))

	assert.Equal(t, 0, f.service.RefreshAll(context.Background()))
	f.calc.AssertNotCalled(t, "CAGR", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshAll_StopsWhenContextCancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.instruments.On("ListCodes", mock.Anything).Return([]string{"1", "2"}, nil)
	f.expectCalculation("1")
	f.metricsRepo.On("Upsert", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil)

	assert.Equal(t, 1, f.service.RefreshAll(ctx))
	f.calc.AssertNotCalled(t, "CAGR", mock.Anything, "2", mock.Anything, mock.Anything)
}

func TestRefreshOne_LogsCarryTraceIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(ctx) }()

	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Config{Format: "json"}, &buf)
	require.NoError(t, err)
	service := NewMetricsService(f.calc, f.instruments, f.valuations, f.metricsRepo, logger,
		WithClock(func() time.Time { return fixedNow }),
		WithTracer(tp.Tracer("metrics-test")),
	)

	f.expectCalculation("119551")
	f.metricsRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	assert.True(t, service.RefreshOne(ctx, "119551"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, buf.String(), `"msg":"refreshed metrics"`)
	assert.Contains(t, buf.String(), `"trace_id":"`+spans[0].SpanContext().TraceID().String()+`"`)
}
