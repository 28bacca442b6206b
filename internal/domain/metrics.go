package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Quality classifies how a growth rate was obtained
// The zero value is not a valid quality; every result carries one of the three tiers below
type Quality int

const (
	// QualityHistorical: matched start valuation within MaxHistoricalGapDays of the ideal date
	QualityHistorical Quality = iota + 1
	// QualityApprox: computed from stored data, but the start valuation is further from the ideal date
	QualityApprox
	// QualityEstimated: insufficient history, the category's expected return was used instead
	QualityEstimated
)

// MaxHistoricalGapDays is the largest start-date gap still classified as historical
const MaxHistoricalGapDays = 10

// String returns the persisted tag of the quality
func (q Quality) String() string {
	switch q {
	case QualityHistorical:
		return "historical"
	case QualityApprox:
		return "approx"
	case QualityEstimated:
		return "estimated"
	default:
		return fmt.Sprintf("unknown(%d)", int(q))
	}
}

// ParseQuality converts a persisted tag back into a Quality
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "historical":
		return QualityHistorical, nil
	case "approx":
		return QualityApprox, nil
	case "estimated":
		return QualityEstimated, nil
	}
	return 0, fmt.Errorf("invalid quality tag %q", s)
}

// Value implements driver.Valuer
func (q Quality) Value() (driver.Value, error) {
	if q < QualityHistorical || q > QualityEstimated {
		return nil, fmt.Errorf("invalid quality %d", int(q))
	}
	return q.String(), nil
}

// Scan implements sql.Scanner
func (q *Quality) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Quality", src)
	}
	parsed, err := ParseQuality(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// Tenors are the lookback horizons (in years) computed for every instrument
var Tenors = []int{1, 3, 5}

// TenorMetrics holds the growth result for one tenor
type TenorMetrics struct {
	Years             int
	Rate              *float64 // Percent; nil only when never calculated
	Quality           Quality
	DateGapDays       int  // |ideal start date - matched start date|, 0 for estimated
	SufficientHistory bool // Quality != QualityEstimated
}

// MetricsSnapshot is the single live metrics row of an instrument
type MetricsSnapshot struct {
	Code            string
	Tenor1Y         TenorMetrics
	Tenor3Y         TenorMetrics
	Tenor5Y         TenorMetrics
	LongestGapDays  int // Longest gap between consecutive stored valuation dates
	SuspiciousCount int // Stored valuations flagged as suspicious
	LastCalculated  time.Time
}

// SetTenor stores a tenor result in the matching slot
func (m *MetricsSnapshot) SetTenor(t TenorMetrics) error {
	switch t.Years {
	case 1:
		m.Tenor1Y = t
	case 3:
		m.Tenor3Y = t
	case 5:
		m.Tenor5Y = t
	default:
		return fmt.Errorf("unsupported tenor %d years", t.Years)
	}
	return nil
}
