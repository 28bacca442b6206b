package growth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

const (
	// DaysPerTenorYear converts a tenor in years to a calendar-day lookback
	DaysPerTenorYear = 365
	// DaysPerElapsedYear is the leap-year-aware divisor for elapsed time
	DaysPerElapsedYear = 365.25
	// SpanToleranceDays is how far short of the full tenor a matched span may fall
	SpanToleranceDays = 30
)

// Result is one tenor's growth rate with its data-quality classification
type Result struct {
	Rate    float64 // annualized percent
	Quality domain.Quality
	GapDays int // distance between the ideal and the matched starting date; 0 when estimated
}

// Calculator computes CAGR from stored valuation series
type Calculator struct {
	ValuationRepo  domain.ValuationRepository
	InstrumentRepo domain.InstrumentRepository
	Returns        domain.ExpectedReturns
	logger         *slog.Logger
}

// NewCalculator creates a new Calculator instance
// A zero ExpectedReturns uses the built-in category table
func NewCalculator(valuationRepo domain.ValuationRepository, instrumentRepo domain.InstrumentRepository, returns domain.ExpectedReturns, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if returns.Table == nil && returns.Fallback == 0 {
		returns = domain.DefaultExpectedReturnTable()
	}
	return &Calculator{
		ValuationRepo:  valuationRepo,
		InstrumentRepo: instrumentRepo,
		Returns:        returns,
		logger:         logger,
	}
}

// CAGR computes the compound annual growth rate over years, as of asOf
// Logic:
//  1. Ending record = latest valuation on or before asOf
//  2. targetStart = endDate - years*365 days; starting record = latest valuation on or before targetStart
//  3. Missing records or a span shorter than years*365-30 days fall back to the category estimate
//  4. rate = ((end/start)^(1/elapsedYears) - 1) * 100 with elapsedYears = days/365.25
//  5. gap = |targetStart - startDate|; gap <= 10 days is historical, otherwise approx
//
// Only storage failures return an error; insufficient history always yields an estimated value
func (c *Calculator) CAGR(ctx context.Context, code string, years int, asOf time.Time) (Result, error) {
	if years <= 0 {
		return Result{}, fmt.Errorf("tenor must be positive, got %d years", years)
	}

	end, err := c.ValuationRepo.LatestOnOrBefore(ctx, code, domain.TruncateDay(asOf))
	if err != nil {
		return Result{}, fmt.Errorf("failed to find ending valuation: %w", err)
	}
	if end == nil {
		return c.estimate(ctx, code, years, "no valuation on or before reference date")
	}

	targetStart := end.Date.AddDate(0, 0, -years*DaysPerTenorYear)
	start, err := c.ValuationRepo.LatestOnOrBefore(ctx, code, targetStart)
	if err != nil {
		return Result{}, fmt.Errorf("failed to find starting valuation: %w", err)
	}
	if start == nil {
		return c.estimate(ctx, code, years, "no valuation on or before target start")
	}

	spanDays := domain.DaysBetween(start.Date, end.Date)
	if spanDays < years*DaysPerTenorYear-SpanToleranceDays || !start.Value.IsPositive() {
		return c.estimate(ctx, code, years, "insufficient history span")
	}

	elapsed := float64(spanDays) / DaysPerElapsedYear
	ratio := end.Value.Div(start.Value).InexactFloat64()
	rate := (math.Pow(ratio, 1/elapsed) - 1) * 100

	gap := domain.DaysBetween(start.Date, targetStart)
	if gap < 0 {
		gap = -gap
	}
	quality := domain.QualityHistorical
	if gap > domain.MaxHistoricalGapDays {
		quality = domain.QualityApprox
	}
	return Result{Rate: rate, Quality: quality, GapDays: gap}, nil
}

// estimate returns the instrument category's expected return
// An unknown instrument or category uses the fallback return
func (c *Calculator) estimate(ctx context.Context, code string, years int, reason string) (Result, error) {
	category := domain.Category("")
	inst, err := c.InstrumentRepo.GetByCode(ctx, code)
	switch {
	case err == nil:
		category = inst.Category
	case errors.Is(err, domain.ErrInstrumentNotFound):
	default:
		return Result{}, fmt.Errorf("failed to get instrument: %w", err)
	}

	rate := c.Returns.For(category)
	c.logger.DebugContext(ctx, "using estimated return",
		"code", code, "years", years, "category", string(category), "rate", rate, "reason", reason)
	return Result{Rate: rate, Quality: domain.QualityEstimated, GapDays: 0}, nil
}
