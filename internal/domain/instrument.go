package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInstrumentNotFound is returned when no instrument exists for a scheme code
var ErrInstrumentNotFound = errors.New("instrument not found")

// Instrument represents a mutual fund scheme tracked by the pipeline
// Code is the provider-assigned scheme code and never changes once stored
type Instrument struct {
	Code       string
	Name       string
	Category   Category // Empty when the provider category is unknown (stored as NULL)
	Issuer     string   // Fund house / asset management company
	IsDirect   bool     // Direct plan (vs regular)
	IsGrowth   bool     // Growth option (vs dividend/IDCW)
	LaunchDate *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate ensures the instrument adheres to domain rules
func (i *Instrument) Validate() error {
	if strings.TrimSpace(i.Code) == "" {
		return errors.New("instrument code cannot be empty")
	}
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("instrument name cannot be empty")
	}
	return nil
}

// PlanFlags derives the direct/growth plan flags from a scheme name
// e.g. "HDFC Top 100 Fund - Direct Plan - Growth" is both direct and growth
func PlanFlags(schemeName string) (isDirect, isGrowth bool) {
	lower := strings.ToLower(schemeName)
	return strings.Contains(lower, "direct"), strings.Contains(lower, "growth")
}

// ProviderRow is one raw daily row exactly as the provider sends it
type ProviderRow struct {
	Date  string // DD-MM-YYYY
	Value string // decimal text
}

// ProviderScheme is a provider's full history for one scheme, before validation
type ProviderScheme struct {
	Code           string
	Name           string
	SchemeCategory string // provider free text, e.g. "Equity Scheme - Large Cap Fund"
	FundHouse      string
	Rows           []ProviderRow
}

// SchemeFetcher retrieves a scheme's full history from the external provider
type SchemeFetcher interface {
	FetchHistory(ctx context.Context, code string) (*ProviderScheme, error)
}
