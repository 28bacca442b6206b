package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionStatus is the outcome of one ingestion attempt
type IngestionStatus string

const (
	IngestionSuccess IngestionStatus = "success"
	IngestionFailed  IngestionStatus = "failed"
)

// MaxErrorMessageLength bounds the error text kept in the audit log (in characters)
const MaxErrorMessageLength = 1000

// IngestionLog is an append-only audit row for one ingestion attempt
type IngestionLog struct {
	ID             uuid.UUID
	RunID          string // Identifies the batch invocation that produced this row
	Code           string
	Status         IngestionStatus
	RecordsFetched int
	RecordsStored  int
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    time.Time
}

// NewIngestionLog starts an audit row for a scheme code
func NewIngestionLog(runID, code string, startedAt time.Time) *IngestionLog {
	return &IngestionLog{
		ID:        uuid.New(),
		RunID:     runID,
		Code:      code,
		StartedAt: startedAt,
	}
}

// Succeed marks the attempt as successful
func (l *IngestionLog) Succeed(fetched, stored int, completedAt time.Time) {
	l.Status = IngestionSuccess
	l.RecordsFetched = fetched
	l.RecordsStored = stored
	l.ErrorMessage = ""
	l.CompletedAt = completedAt
}

// Fail marks the attempt as failed, keeping a truncated error text
// Nothing is counted as stored: a failed attempt never leaves partial writes
func (l *IngestionLog) Fail(err error, completedAt time.Time) {
	l.Status = IngestionFailed
	l.RecordsStored = 0
	if err != nil {
		l.ErrorMessage = TruncateMessage(err.Error(), MaxErrorMessageLength)
	}
	l.CompletedAt = completedAt
}

// TruncateMessage cuts s to at most max characters without splitting a rune
func TruncateMessage(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
