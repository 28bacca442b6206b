package domain

import (
	"context"
	"time"
)

// InstrumentRepository defines read operations on stored instruments
type InstrumentRepository interface {
	// GetByCode retrieves an instrument by scheme code
	// Returns an error wrapping ErrInstrumentNotFound if it does not exist
	GetByCode(ctx context.Context, code string) (*Instrument, error)

	// ListCodes returns the scheme codes of all stored instruments, sorted
	ListCodes(ctx context.Context) ([]string, error)
}

// ValuationRepository defines read operations on stored valuation series
type ValuationRepository interface {
	// LatestOnOrBefore returns the most recent valuation dated on or before date
	// Returns nil, nil when no such valuation exists (records after date are never considered)
	LatestOnOrBefore(ctx context.Context, code string, date time.Time) (*ValuationRecord, error)

	// ListDates returns all stored valuation dates for an instrument, oldest first
	ListDates(ctx context.Context, code string) ([]time.Time, error)

	// CountSuspicious returns the number of stored valuations flagged as suspicious
	CountSuspicious(ctx context.Context, code string) (int, error)
}

// SeriesReplacement is everything one successful ingestion writes
type SeriesReplacement struct {
	Instrument *Instrument
	Records    []ValuationRecord
	Log        *IngestionLog
}

// SeriesStore replaces an instrument's stored series as one unit of work
type SeriesStore interface {
	// ReplaceSeries upserts the instrument, deletes all of its valuations,
	// inserts the replacement records and appends the log row in a single transaction.
	// On error nothing is persisted.
	ReplaceSeries(ctx context.Context, r SeriesReplacement) error
}

// IngestionLogRepository defines persistence for the ingestion audit trail
type IngestionLogRepository interface {
	// Append inserts a completed log row; rows are never updated
	Append(ctx context.Context, entry *IngestionLog) error

	// ListByCode returns the most recent log rows for a scheme code, newest first
	ListByCode(ctx context.Context, code string, limit int) ([]*IngestionLog, error)
}

// MetricsRepository defines persistence for metrics snapshots
type MetricsRepository interface {
	// Upsert writes the snapshot as the instrument's only live row in one transaction
	Upsert(ctx context.Context, snapshot *MetricsSnapshot) error

	// GetByCode retrieves the live snapshot of an instrument
	GetByCode(ctx context.Context, code string) (*MetricsSnapshot, error)
}
