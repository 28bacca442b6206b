package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIngestionLog_Fail_TruncatesErrorText(t *testing.T) {
	started := time.Now()
	entry := NewIngestionLog("run-1", "119551", started)
	entry.RecordsFetched = 10

	longErr := errors.New(strings.Repeat("x", MaxErrorMessageLength+250))
	entry.Fail(longErr, started.Add(time.Second))

	assert.Equal(t, IngestionFailed, entry.Status)
	assert.Len(t, entry.ErrorMessage, MaxErrorMessageLength)
	assert.Equal(t, 10, entry.RecordsFetched)
	assert.Equal(t, 0, entry.RecordsStored)
	assert.NotEqual(t, entry.ID.String(), "")
}

func TestIngestionLog_Succeed(t *testing.T) {
	started := time.Now()
	entry := NewIngestionLog("run-1", "119551", started)
	entry.Succeed(120, 118, started.Add(time.Second))

	assert.Equal(t, IngestionSuccess, entry.Status)
	assert.Equal(t, 120, entry.RecordsFetched)
	assert.Equal(t, 118, entry.RecordsStored)
	assert.Empty(t, entry.ErrorMessage)
}

func TestTruncateMessage_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "₹₹", TruncateMessage("₹₹₹", 2))
	assert.Equal(t, "short", TruncateMessage("short", 10))
}

func TestInstrument_Validate(t *testing.T) {
	tests := []struct {
		name       string
		instrument Instrument
		wantErr    string
	}{
		{"Valid instrument", Instrument{Code: "119551", Name: "HDFC Balanced Advantage"}, ""},
		{"Missing code", Instrument{Name: "HDFC Balanced Advantage"}, "instrument code cannot be empty"},
		{"Missing name", Instrument{Code: "119551", Name: "  "}, "instrument name cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.instrument.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestPlanFlags(t *testing.T) {
	isDirect, isGrowth := PlanFlags("HDFC Top 100 Fund - Direct Plan - Growth Option")
	assert.True(t, isDirect)
	assert.True(t, isGrowth)

	isDirect, isGrowth = PlanFlags("HDFC Top 100 Fund - Regular Plan - IDCW")
	assert.False(t, isDirect)
	assert.False(t, isGrowth)
}

func TestValuationRecord_Validate(t *testing.T) {
	record := ValuationRecord{Code: "119551", Date: Date(2026, time.February, 9), Value: decimal.RequireFromString("450.23")}
	assert.NoError(t, record.Validate())

	record.Value = decimal.Zero
	assert.EqualError(t, record.Validate(), "valuation value must be positive")
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 8, DaysBetween(Date(2024, time.January, 2), Date(2024, time.January, 10)))
	assert.Equal(t, -1, DaysBetween(Date(2024, time.March, 1), Date(2024, time.February, 29)))
	assert.Equal(t, 0, DaysBetween(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), Date(2024, time.January, 1)))
}
