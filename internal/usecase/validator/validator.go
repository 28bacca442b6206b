package validator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// ProviderDateLayout is the provider's DD-MM-YYYY date format; day and month may be unpadded
const ProviderDateLayout = "2-1-2006"

// JumpThresholdPct is the absolute day-over-day change (percent) above which a valuation is suspicious
// Diversified funds rarely move more than ~20% in a day; 30% still catches corrupted points
const JumpThresholdPct = 30.0

// LargeGapDays is the gap above which an ingestion logs a data-quality warning
const LargeGapDays = 3

var hundred = decimal.NewFromInt(100)

// Skipped describes a raw row that was dropped during normalization
type Skipped struct {
	Index  int
	Raw    domain.ProviderRow
	Reason string
}

// Result is the outcome of normalizing a raw series
type Result struct {
	Records []domain.ValuationRecord // chronologically ordered
	Skipped []Skipped
}

// Validator normalizes raw provider rows and flags anomalies
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a new Validator instance
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{logger: logger}
}

// ParseProviderDate converts a DD-MM-YYYY string to a calendar date at UTC midnight
func ParseProviderDate(s string) (time.Time, error) {
	t, err := time.Parse(ProviderDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid provider date %q: %w", s, err)
	}
	return t, nil
}

// DetectJump compares a valuation with the preceding one
// Returns whether the move is suspicious and the percent change
// A non-positive previous value disables the check
func DetectJump(prev, curr decimal.Decimal) (bool, float64) {
	if prev.LessThanOrEqual(decimal.Zero) {
		return false, 0
	}
	change := curr.Sub(prev).Div(prev).Mul(hundred)
	return change.Abs().GreaterThan(decimal.NewFromFloat(JumpThresholdPct)), change.InexactFloat64()
}

// LongestGap returns the longest gap in calendar days between consecutive dates
// The input is sorted on a copy; fewer than two dates yield 0
func LongestGap(dates []time.Time) int {
	if len(dates) < 2 {
		return 0
	}
	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	maxGap := 0
	for i := 1; i < len(sorted); i++ {
		if gap := domain.DaysBetween(sorted[i-1], sorted[i]); gap > maxGap {
			maxGap = gap
		}
	}
	return maxGap
}

// Normalize turns raw provider rows into a chronological, validated series
// Logic:
//  1. Parse each row's date and value; rows with a bad date, a bad or non-positive value are skipped
//  2. Drop rows whose date was already seen (first occurrence wins)
//  3. Sort by date ascending
//  4. Flag each record against the immediately preceding valid record
func (v *Validator) Normalize(ctx context.Context, code string, raw []domain.ProviderRow) Result {
	var res Result
	seen := make(map[time.Time]bool, len(raw))
	records := make([]domain.ValuationRecord, 0, len(raw))

	for i, row := range raw {
		date, err := ParseProviderDate(row.Date)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Raw: row, Reason: err.Error()})
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(row.Value))
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Raw: row, Reason: fmt.Sprintf("invalid value %q", row.Value)})
			continue
		}
		if value.LessThanOrEqual(decimal.Zero) {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Raw: row, Reason: fmt.Sprintf("non-positive value %s", value)})
			continue
		}
		if seen[date] {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Raw: row, Reason: "duplicate date " + date.Format(time.DateOnly)})
			continue
		}
		seen[date] = true
		records = append(records, domain.ValuationRecord{Code: code, Date: date, Value: value})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	for i := 1; i < len(records); i++ {
		prev, curr := records[i-1], &records[i]
		curr.IsSuspicious, curr.ChangePct = DetectJump(prev.Value, curr.Value)
		if curr.IsSuspicious {
			v.logger.WarnContext(ctx, "suspicious valuation jump",
				"code", code,
				"date", curr.Date.Format(time.DateOnly),
				"previous", prev.Value.String(),
				"current", curr.Value.String(),
				"change_pct", curr.ChangePct)
		}
	}

	for _, s := range res.Skipped {
		v.logger.WarnContext(ctx, "skipping invalid valuation row", "code", code, "index", s.Index, "reason", s.Reason)
	}

	res.Records = records
	return res
}
