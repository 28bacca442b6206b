package mfapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/retry"
	"github.com/simaogato/navmetrics-backend/internal/usecase/validator"
)

const validPayload = `{
	"meta": {
		"fund_house": "HDFC Mutual Fund",
		"scheme_type": "Open Ended Schemes",
		"scheme_category": "Equity Scheme - Large Cap Fund",
		"scheme_code": 119551,
		"scheme_name": "HDFC Balanced Advantage Fund - Direct Plan - Growth"
	},
	"data": [
		{"date": "09-02-2026", "nav": "450.23"},
		{"date": "08-02-2026", "nav": "449.87"}
	],
	"status": "SUCCESS"
}`

// noSleepPolicy retries like the default policy without actually waiting
func noSleepPolicy(waits *[]time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	return p
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config, waits *[]time.Duration) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL + "/mf/"
	return NewClient(cfg, nil, WithRetryPolicy(noSleepPolicy(waits)))
}

func TestFetchScheme_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/mf/119551", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{}, nil)

	resp, err := client.FetchScheme(context.Background(), "119551")
	require.NoError(t, err)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, "119551", resp.Meta.SchemeCode.String())
	assert.Equal(t, "HDFC Mutual Fund", resp.Meta.FundHouse)
	assert.Equal(t, "Equity Scheme - Large Cap Fund", resp.Meta.SchemeCategory)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, NAVEntry{Date: "09-02-2026", NAV: "450.23"}, resp.Data[0])
}

func TestFetchHistory_MapsToProviderScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{}, nil)

	scheme, err := client.FetchHistory(context.Background(), "119551")
	require.NoError(t, err)
	assert.Equal(t, "119551", scheme.Code)
	assert.Equal(t, "HDFC Balanced Advantage Fund - Direct Plan - Growth", scheme.Name)
	assert.Equal(t, "HDFC Mutual Fund", scheme.FundHouse)
	assert.Equal(t, "Equity Scheme - Large Cap Fund", scheme.SchemeCategory)
	assert.Equal(t, []domain.ProviderRow{
		{Date: "09-02-2026", Value: "450.23"},
		{Date: "08-02-2026", Value: "449.87"},
	}, scheme.Rows)
}

func TestFetchHistory_OddRowsReachValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"meta": {"scheme_name": "Axis Bluechip Fund - Direct Plan - Growth", "scheme_code": "120465"},
			"data": [
				{"date": "04-01-2024", "nav": "103.5"},
				{"date": "03-01-2024", "nav": {"value": 1}},
				{"date": "02-01-2024", "nav": null},
				"garbage",
				{"date": "01-01-2024", "nav": 100.0}
			]
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{}, nil)

	scheme, err := client.FetchHistory(context.Background(), "120465")
	require.NoError(t, err)
	require.Len(t, scheme.Rows, 5)
	assert.Equal(t, domain.ProviderRow{Date: "01-01-2024", Value: "100.0"}, scheme.Rows[4])
	assert.Equal(t, domain.ProviderRow{Date: "02-01-2024", Value: ""}, scheme.Rows[2])

	res := validator.NewValidator(nil).Normalize(context.Background(), scheme.Code, scheme.Rows)
	require.Len(t, res.Records, 2)
	assert.Len(t, res.Skipped, 3)
	assert.Equal(t, domain.Date(2024, time.January, 1), res.Records[0].Date)
	assert.Equal(t, domain.Date(2024, time.January, 4), res.Records[1].Date)
}

func TestFetchScheme_EscapesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mf/1?x=1#y", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{}, nil)

	_, err := client.FetchScheme(context.Background(), "1?x=1#y")
	require.NoError(t, err)
}

func TestFetchScheme_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var waits []time.Duration
	client := newTestClient(t, srv, Config{}, &waits)

	resp, err := client.FetchScheme(context.Background(), "999999")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, waits)
}

func TestFetchScheme_RetriesServerErrorsWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_, _ = w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	var waits []time.Duration
	client := newTestClient(t, srv, Config{}, &waits)

	resp, err := client.FetchScheme(context.Background(), "119551")
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestFetchScheme_GivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{}, nil)

	_, err := client.FetchScheme(context.Background(), "119551")
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchScheme_MalformedResponsesAreTerminal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Missing meta", `{"data": [{"date": "09-02-2026", "nav": "450.23"}]}`},
		{"Empty data", `{"meta": {"scheme_name": "X"}, "data": []}`},
		{"Missing data", `{"meta": {"scheme_name": "X"}}`},
		{"Not JSON", `<html>maintenance</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv, Config{}, nil)

			_, err := client.FetchScheme(context.Background(), "119551")
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestFetchScheme_TimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{Timeout: 50 * time.Millisecond}, nil)

	resp, err := client.FetchScheme(context.Background(), "119551")
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchScheme_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{BreakerThreshold: 2, BreakerCooldown: time.Hour}, nil)
	ctx := context.Background()

	_, err := client.FetchScheme(ctx, "1")
	require.Error(t, err)
	_, err = client.FetchScheme(ctx, "2")
	require.Error(t, err)
	assert.Equal(t, int32(6), hits.Load())

	_, err = client.FetchScheme(ctx, "3")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(6), hits.Load()) // no request while open
}

func TestFetchScheme_NotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{BreakerThreshold: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := client.FetchScheme(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"Not found", ErrNotFound, false},
		{"Malformed", ErrMalformedResponse, false},
		{"Canceled", context.Canceled, false},
		{"Server error", &StatusError{StatusCode: 500}, true},
		{"Rate limited", &StatusError{StatusCode: 429}, true},
		{"Bad request", &StatusError{StatusCode: 400}, false},
		{"Network error", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
