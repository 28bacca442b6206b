package mfapi

import (
	"bytes"
	"encoding/json"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

// SchemeResponse is the provider payload for one scheme
//
//	{
//	  "meta": {"fund_house": "...", "scheme_category": "...", "scheme_code": 119551, "scheme_name": "..."},
//	  "data": [{"date": "09-02-2026", "nav": "450.23"}, ...]
//	}
type SchemeResponse struct {
	Meta *SchemeMeta `json:"meta"`
	Data []NAVEntry  `json:"data"`
}

// SchemeMeta describes the scheme
type SchemeMeta struct {
	FundHouse      string `json:"fund_house"`
	SchemeType     string `json:"scheme_type"`
	SchemeCategory string `json:"scheme_category"`
	SchemeCode     text   `json:"scheme_code"`
	SchemeName     string `json:"scheme_name"`
}

// NAVEntry is one raw daily row in the provider format
// Fields are decoded leniently so a single odd row is rejected by validation, not by decoding
type NAVEntry struct {
	Date text `json:"date"` // DD-MM-YYYY
	NAV  text `json:"nav"`  // decimal string
}

// UnmarshalJSON keeps a row that is not a JSON object as raw text in Date, so validation reports it
func (e *NAVEntry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*e = NAVEntry{Date: text(b)}
		return nil
	}
	type plain NAVEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = NAVEntry(p)
	return nil
}

// text accepts a JSON string, or keeps any other JSON value as its literal text
// null and missing values decode to ""
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		*t = text(b)
	}
	return nil
}

// String returns the value as text
func (t text) String() string { return string(t) }

// toDomain converts the payload into the provider-neutral scheme model
// The requested code is kept when the payload omits its own
func (r *SchemeResponse) toDomain(requested string) *domain.ProviderScheme {
	out := &domain.ProviderScheme{
		Code: requested,
		Rows: make([]domain.ProviderRow, 0, len(r.Data)),
	}
	if r.Meta != nil {
		if code := r.Meta.SchemeCode.String(); code != "" {
			out.Code = code
		}
		out.Name = r.Meta.SchemeName
		out.SchemeCategory = r.Meta.SchemeCategory
		out.FundHouse = r.Meta.FundHouse
	}
	for _, e := range r.Data {
		out.Rows = append(out.Rows, domain.ProviderRow{Date: e.Date.String(), Value: e.NAV.String()})
	}
	return out
}
