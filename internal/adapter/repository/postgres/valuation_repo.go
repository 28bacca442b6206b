package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// valuationRepository implements domain.ValuationRepository and domain.SeriesStore
type valuationRepository struct {
	db *DB
}

// NewValuationRepository creates a new valuation repository
func NewValuationRepository(db *DB) domain.ValuationRepository {
	return &valuationRepository{db: db}
}

// NewSeriesStore creates the store that replaces whole valuation series
func NewSeriesStore(db *DB) domain.SeriesStore {
	return &valuationRepository{db: db}
}

// LatestOnOrBefore returns the most recent valuation dated on or before date, or nil
func (r *valuationRepository) LatestOnOrBefore(ctx context.Context, code string, date time.Time) (*domain.ValuationRecord, error) {
	query := `
		SELECT code, date, value, is_suspicious, change_pct
		FROM valuations
		WHERE code = $1 AND date <= $2::date
		ORDER BY date DESC
		LIMIT 1
	`

	var rec domain.ValuationRecord
	var valueStr string

	err := r.db.QueryRowContext(ctx, query, code, dateParam(date)).Scan(
		&rec.Code,
		&rec.Date,
		&valueStr,
		&rec.IsSuspicious,
		&rec.ChangePct,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get valuation: %w", err)
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse value: %w", err)
	}
	rec.Value = value
	rec.Date = domain.TruncateDay(rec.Date)

	return &rec, nil
}

// ListDates returns all stored valuation dates of an instrument, oldest first
func (r *valuationRepository) ListDates(ctx context.Context, code string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT date FROM valuations WHERE code = $1 ORDER BY date`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list valuation dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan valuation date: %w", err)
		}
		dates = append(dates, domain.TruncateDay(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate valuation dates: %w", err)
	}

	return dates, nil
}

// CountSuspicious returns the number of flagged valuations of an instrument
func (r *valuationRepository) CountSuspicious(ctx context.Context, code string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM valuations WHERE code = $1 AND is_suspicious`, code,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count suspicious valuations: %w", err)
	}
	return count, nil
}

// ReplaceSeries swaps an instrument's whole series in a database transaction
// Logic:
//  1. Take a per-instrument advisory lock so concurrent replacements of one code serialize
//  2. Upsert the instrument row
//  3. Delete every stored valuation of the code, then COPY the replacement set
//  4. Append the ingestion log row
//
// Readers never observe a partially replaced series
func (r *valuationRepository) ReplaceSeries(ctx context.Context, rep domain.SeriesReplacement) error {
	if rep.Instrument == nil || rep.Log == nil {
		return errors.New("series replacement requires an instrument and a log entry")
	}
	inst := rep.Instrument
	for i := range rep.Records {
		if rep.Records[i].Code != inst.Code {
			return fmt.Errorf("record %d belongs to %s, not %s", i, rep.Records[i].Code, inst.Code)
		}
		if err := rep.Records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, inst.Code); err != nil {
		return fmt.Errorf("failed to lock instrument: %w", err)
	}

	var launchDate interface{}
	if inst.LaunchDate != nil {
		launchDate = dateParam(*inst.LaunchDate)
	}

	upsertQuery := `
		INSERT INTO instruments (code, name, category, issuer, is_direct, is_growth, launch_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			issuer = EXCLUDED.issuer,
			is_direct = EXCLUDED.is_direct,
			is_growth = EXCLUDED.is_growth,
			launch_date = EXCLUDED.launch_date,
			updated_at = NOW()
	`
	_, err = tx.ExecContext(ctx, upsertQuery,
		inst.Code,
		inst.Name,
		nullableCategory(inst.Category),
		inst.Issuer,
		inst.IsDirect,
		inst.IsGrowth,
		launchDate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert instrument: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM valuations WHERE code = $1`, inst.Code); err != nil {
		return fmt.Errorf("failed to delete valuations: %w", err)
	}

	if err := copyValuations(ctx, tx, rep.Records); err != nil {
		return err
	}

	if err := insertLog(ctx, tx, rep.Log); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// copyValuations bulk-loads records with COPY FROM STDIN
func copyValuations(ctx context.Context, tx *sql.Tx, records []domain.ValuationRecord) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("valuations", "code", "date", "value", "is_suspicious", "change_pct"))
	if err != nil {
		return fmt.Errorf("failed to prepare valuation copy: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.Code,
			dateParam(rec.Date),
			rec.Value.String(),
			rec.IsSuspicious,
			rec.ChangePct,
		)
		if err != nil {
			return fmt.Errorf("failed to copy valuation %s: %w", dateParam(rec.Date), err)
		}
	}

	// An empty Exec flushes the buffered rows
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to insert valuations: %w", err)
	}
	return nil
}
