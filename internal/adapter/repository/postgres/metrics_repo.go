package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// ErrStaleSnapshot is returned when a stored snapshot is newer than the one being written
var ErrStaleSnapshot = errors.New("a newer metrics snapshot is already stored")

// metricsRepository implements domain.MetricsRepository
type metricsRepository struct {
	db *DB
}

// NewMetricsRepository creates a new metrics repository
func NewMetricsRepository(db *DB) domain.MetricsRepository {
	return &metricsRepository{db: db}
}

// Upsert writes the snapshot as the instrument's only live row
// last_calculated never moves backwards: an older snapshot is rejected with ErrStaleSnapshot
func (r *metricsRepository) Upsert(ctx context.Context, s *domain.MetricsSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO metrics_snapshots (
			code,
			cagr_1y, quality_1y, gap_days_1y, sufficient_1y,
			cagr_3y, quality_3y, gap_days_3y, sufficient_3y,
			cagr_5y, quality_5y, gap_days_5y, sufficient_5y,
			longest_gap_days, suspicious_count, last_calculated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (code) DO UPDATE SET
			cagr_1y = EXCLUDED.cagr_1y,
			quality_1y = EXCLUDED.quality_1y,
			gap_days_1y = EXCLUDED.gap_days_1y,
			sufficient_1y = EXCLUDED.sufficient_1y,
			cagr_3y = EXCLUDED.cagr_3y,
			quality_3y = EXCLUDED.quality_3y,
			gap_days_3y = EXCLUDED.gap_days_3y,
			sufficient_3y = EXCLUDED.sufficient_3y,
			cagr_5y = EXCLUDED.cagr_5y,
			quality_5y = EXCLUDED.quality_5y,
			gap_days_5y = EXCLUDED.gap_days_5y,
			sufficient_5y = EXCLUDED.sufficient_5y,
			longest_gap_days = EXCLUDED.longest_gap_days,
			suspicious_count = EXCLUDED.suspicious_count,
			last_calculated = EXCLUDED.last_calculated
		WHERE metrics_snapshots.last_calculated <= EXCLUDED.last_calculated
	`

	res, err := tx.ExecContext(ctx, query,
		s.Code,
		nullableRate(s.Tenor1Y.Rate), s.Tenor1Y.Quality, s.Tenor1Y.DateGapDays, s.Tenor1Y.SufficientHistory,
		nullableRate(s.Tenor3Y.Rate), s.Tenor3Y.Quality, s.Tenor3Y.DateGapDays, s.Tenor3Y.SufficientHistory,
		nullableRate(s.Tenor5Y.Rate), s.Tenor5Y.Quality, s.Tenor5Y.DateGapDays, s.Tenor5Y.SufficientHistory,
		s.LongestGapDays,
		s.SuspiciousCount,
		s.LastCalculated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics snapshot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("snapshot for %s at %s: %w", s.Code, s.LastCalculated, ErrStaleSnapshot)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByCode retrieves the live snapshot of an instrument
func (r *metricsRepository) GetByCode(ctx context.Context, code string) (*domain.MetricsSnapshot, error) {
	query := `
		SELECT code,
			cagr_1y, quality_1y, gap_days_1y, sufficient_1y,
			cagr_3y, quality_3y, gap_days_3y, sufficient_3y,
			cagr_5y, quality_5y, gap_days_5y, sufficient_5y,
			longest_gap_days, suspicious_count, last_calculated
		FROM metrics_snapshots
		WHERE code = $1
	`

	s := domain.MetricsSnapshot{
		Tenor1Y: domain.TenorMetrics{Years: 1},
		Tenor3Y: domain.TenorMetrics{Years: 3},
		Tenor5Y: domain.TenorMetrics{Years: 5},
	}
	var rate1, rate3, rate5 sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&s.Code,
		&rate1, &s.Tenor1Y.Quality, &s.Tenor1Y.DateGapDays, &s.Tenor1Y.SufficientHistory,
		&rate3, &s.Tenor3Y.Quality, &s.Tenor3Y.DateGapDays, &s.Tenor3Y.SufficientHistory,
		&rate5, &s.Tenor5Y.Quality, &s.Tenor5Y.DateGapDays, &s.Tenor5Y.SufficientHistory,
		&s.LongestGapDays,
		&s.SuspiciousCount,
		&s.LastCalculated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no metrics snapshot for %s: %w", code, domain.ErrInstrumentNotFound)
		}
		return nil, fmt.Errorf("failed to get metrics snapshot: %w", err)
	}

	s.Tenor1Y.Rate = rateFromNull(rate1)
	s.Tenor3Y.Rate = rateFromNull(rate3)
	s.Tenor5Y.Rate = rateFromNull(rate5)

	return &s, nil
}

func nullableRate(rate *float64) sql.NullFloat64 {
	if rate == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *rate, Valid: true}
}

func rateFromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
