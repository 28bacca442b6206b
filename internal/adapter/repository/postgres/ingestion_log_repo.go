package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ingestionLogRepository implements domain.IngestionLogRepository
type ingestionLogRepository struct {
	db *DB
}

// NewIngestionLogRepository creates a new ingestion log repository
func NewIngestionLogRepository(db *DB) domain.IngestionLogRepository {
	return &ingestionLogRepository{db: db}
}

// Append inserts a completed log row
func (r *ingestionLogRepository) Append(ctx context.Context, entry *domain.IngestionLog) error {
	return insertLog(ctx, r.db, entry)
}

func insertLog(ctx context.Context, ex execer, entry *domain.IngestionLog) error {
	query := `
		INSERT INTO ingestion_logs (id, run_id, code, status, records_fetched, records_stored, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	errorMessage := sql.NullString{String: entry.ErrorMessage, Valid: entry.ErrorMessage != ""}

	_, err := ex.ExecContext(ctx, query,
		entry.ID,
		entry.RunID,
		entry.Code,
		string(entry.Status),
		entry.RecordsFetched,
		entry.RecordsStored,
		errorMessage,
		entry.StartedAt,
		entry.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ingestion log: %w", err)
	}

	return nil
}

// ListByCode returns the most recent log rows of a scheme code, newest first
func (r *ingestionLogRepository) ListByCode(ctx context.Context, code string, limit int) ([]*domain.IngestionLog, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, run_id, code, status, records_fetched, records_stored, error_message, started_at, completed_at
		FROM ingestion_logs
		WHERE code = $1
		ORDER BY started_at DESC, completed_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, code, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.IngestionLog
	for rows.Next() {
		var entry domain.IngestionLog
		var status string
		var errorMessage sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Code,
			&status,
			&entry.RecordsFetched,
			&entry.RecordsStored,
			&errorMessage,
			&entry.StartedAt,
			&entry.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion log: %w", err)
		}

		entry.Status = domain.IngestionStatus(status)
		entry.ErrorMessage = errorMessage.String
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ingestion logs: %w", err)
	}

	return entries, nil
}
