package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationRecord is a single daily NAV point for an instrument
// (Code, Date) is unique: a series never holds two records for the same calendar date
type ValuationRecord struct {
	Code         string
	Date         time.Time       // Calendar date at UTC midnight
	Value        decimal.Decimal // NAV, always positive
	IsSuspicious bool            // Change vs previous record exceeded the jump threshold
	ChangePct    float64         // Percent change vs the previous chronological record (0 for the first)
}

// Validate ensures the record adheres to domain rules
func (r *ValuationRecord) Validate() error {
	if r.Code == "" {
		return errors.New("valuation code cannot be empty")
	}
	if r.Date.IsZero() {
		return errors.New("valuation date cannot be empty")
	}
	if r.Value.LessThanOrEqual(decimal.Zero) {
		return errors.New("valuation value must be positive")
	}
	return nil
}

// Date builds a calendar date at UTC midnight
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the time-of-day part of t, keeping its calendar date in UTC
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// DaysBetween returns the number of calendar days from a to b (negative if b is before a)
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}
