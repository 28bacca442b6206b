package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// instrumentRepository implements domain.InstrumentRepository
type instrumentRepository struct {
	db *DB
}

// NewInstrumentRepository creates a new instrument repository
func NewInstrumentRepository(db *DB) domain.InstrumentRepository {
	return &instrumentRepository{db: db}
}

// GetByCode retrieves an instrument by scheme code
func (r *instrumentRepository) GetByCode(ctx context.Context, code string) (*domain.Instrument, error) {
	query := `
		SELECT code, name, category, issuer, is_direct, is_growth, launch_date, created_at, updated_at
		FROM instruments
		WHERE code = $1
	`

	var inst domain.Instrument
	var category sql.NullString
	var launchDate sql.NullTime

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&inst.Code,
		&inst.Name,
		&category,
		&inst.Issuer,
		&inst.IsDirect,
		&inst.IsGrowth,
		&launchDate,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instrument %s: %w", code, domain.ErrInstrumentNotFound)
		}
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}

	if category.Valid {
		inst.Category = domain.Category(category.String)
	}
	if launchDate.Valid {
		d := domain.TruncateDay(launchDate.Time)
		inst.LaunchDate = &d
	}

	return &inst, nil
}

// ListCodes returns all stored scheme codes, sorted
func (r *instrumentRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code FROM instruments ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan instrument code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instruments: %w", err)
	}

	return codes, nil
}

// nullableCategory maps the empty category to NULL
func nullableCategory(c domain.Category) sql.NullString {
	return sql.NullString{String: string(c), Valid: c != ""}
}
