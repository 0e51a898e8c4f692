package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

func testHTTPConfig(client *http.Client) HTTPClientConfig {
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
		Timeout: 5 * time.Second,
	}
}

// recorder serves fixed responses and remembers every query it saw.
type recorder struct {
	hits    atomic.Int32
	queries chan url.Values
	handler func(n int32, w http.ResponseWriter, r *http.Request)
}

func newRecorder(t *testing.T, handler func(n int32, w http.ResponseWriter, r *http.Request)) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{queries: make(chan url.Values, 16), handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := rec.hits.Add(1)
		rec.queries <- r.URL.Query()
		rec.handler(n, w, r)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

const summaryBody = `{
  "version": "1.0.0",
  "warnings": [],
  "errors": [],
  "metadata": {"sources": ["Perez-SUNY/NREL, 2012"]},
  "outputs": {
    "avg_dni": {"annual": 6.06, "monthly": {"jan": 5.0, "feb": 5.3, "mar": 5.8, "apr": 6.2, "may": 6.6, "jun": 7.4, "jul": 7.2, "aug": 6.8, "sep": 6.6, "oct": 5.9, "nov": 5.0, "dec": 4.8}},
    "avg_ghi": {"annual": 4.69, "monthly": {"jan": 2.5, "feb": 3.3, "mar": 4.4, "apr": 5.6, "may": 6.4, "jun": 7.2, "jul": 7.0, "aug": 6.2, "sep": 5.2, "oct": 3.9, "nov": 2.8, "dec": 2.3}},
    "avg_lat_tilt": {"annual": 5.75, "monthly": {"jan": 5.0, "feb": 5.4, "mar": 5.8, "apr": 6.0, "may": 6.0, "jun": 6.2, "jul": 6.2, "aug": 6.2, "sep": 6.3, "oct": 5.9, "nov": 5.3, "dec": 4.9}}
  }
}`

func TestNRELFetch_HighAccuracyAndAttributePolicy(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, summaryBody)
	})
	p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

	coord := solar.Coordinate{Lat: 40, Lon: -105}
	req, err := solar.NewFetchRequest(coord, "high", "", []string{"ghi", "dhi"}, "k1")
	require.NoError(t, err)

	ds, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)

	q := <-rec.queries
	assert.Equal(t, "k1", q.Get("api_key"))
	assert.Equal(t, "40", q.Get("lat"))
	assert.Equal(t, "-105", q.Get("lon"))
	assert.Equal(t, "tmy-2021", q.Get("names"))
	assert.Equal(t, "60", q.Get("interval"))
	assert.Equal(t, "ghi", q.Get("attributes"))
	assert.Equal(t, "false", q.Get("utc"))

	assert.Equal(t, solar.SourceNREL, ds.Source)
	assert.Equal(t, coord, ds.Coordinate)
	assert.InDelta(t, 4.69, ds.Annual["ghi"], 1e-9)
	assert.NotContains(t, ds.Annual, "dhi")
	require.Len(t, ds.Monthly, 12)
	for i, e := range ds.Monthly {
		assert.Equal(t, i+1, e.Month)
	}
	require.NotEmpty(t, ds.Warnings)
	assert.Contains(t, ds.Warnings[0], `"dhi"`)
	assert.False(t, ds.FetchedAt.IsZero())
}

func TestNRELFetch_DefaultAccuracyUsesCoarserDataset(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, summaryBody)
	})
	p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

	req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 40, Lon: -105}, "medium", "", []string{"ghi"}, "k1")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), req)
	require.NoError(t, err)

	q := <-rec.queries
	assert.Equal(t, "tmy-2020", q.Get("names"))
	assert.Equal(t, "120", q.Get("interval"))
}

func TestNRELFetch_OnlyUnknownAttributesIsInvalidInput(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, summaryBody)
	})
	p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

	req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 40, Lon: -105}, "medium", "", []string{"dhi"}, "k1")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, solar.ErrInvalidInput)
	assert.Zero(t, rec.hits.Load())
}

func TestFetch_StatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		body   string
		want   error
		hits   int32
	}{
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":{"code":"API_KEY_INVALID"}}`, want: solar.ErrAuth, hits: 1},
		{name: "unauthorized", status: http.StatusUnauthorized, want: solar.ErrAuth, hits: 1},
		{name: "rate limited is not retried", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "30"}, want: solar.ErrRateLimited, hits: 1},
		{name: "server error retried then transport", status: http.StatusServiceUnavailable, want: solar.ErrTransport, hits: 3},
		{name: "errors payload no data", status: http.StatusBadRequest, body: `{"errors":["No data available at the provided location"]}`, want: solar.ErrNoData, hits: 1},
		{name: "errors payload bad input", status: http.StatusUnprocessableEntity, body: `{"errors":["lat must be a number"]}`, want: solar.ErrInvalidInput, hits: 1},
		{name: "not found", status: http.StatusNotFound, want: solar.ErrNoData, hits: 1},
		{name: "malformed body", status: http.StatusOK, body: `{"outputs": {"avg_ghi": {"monthly": {}}}}`, want: solar.ErrMalformed, hits: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

			req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 40, Lon: -105}, "low", "", []string{"ghi"}, "k1")
			require.NoError(t, err)
			_, err = p.Fetch(context.Background(), req)

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.hits, rec.hits.Load())

			var fe *solar.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, solar.SourceNREL, fe.Provider)
			if tc.header["Retry-After"] != "" {
				assert.Equal(t, "30", fe.RetryAfter)
			}
		})
	}
}

func TestFetch_RetriesServerErrorThenSucceeds(t *testing.T) {
	rec, srv := newRecorder(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, summaryBody)
	})
	p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

	req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 40, Lon: -105}, "low", "", []string{"ghi"}, "k1")
	require.NoError(t, err)
	ds, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(3), rec.hits.Load())
	assert.InDelta(t, 4.69, ds.Annual["ghi"], 1e-9)
}

func TestFetch_TimeoutIsTransportError(t *testing.T) {
	block := make(chan struct{})
	_, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	cfg := testHTTPConfig(srv.Client())
	cfg.Backoff.MaxRetries = 0
	cfg.Timeout = 50 * time.Millisecond
	p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: cfg})

	req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 40, Lon: -105}, "low", "", []string{"ghi"}, "k1")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, solar.ErrTransport)
}

func TestFetch_TransportErrorOmitsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	cfg := testHTTPConfig(http.DefaultClient)
	cfg.Backoff.MaxRetries = 0
	coord := solar.Coordinate{Lat: 40, Lon: -105}

	tests := []struct {
		name     string
		provider solar.Provider
		attr     string
	}{
		{"nrel", NewNRELProvider(NRELConfig{BaseURL: baseURL, HTTP: cfg}), "ghi"},
		{"google", NewGoogleSolarProvider(GoogleSolarConfig{BaseURL: baseURL, HTTP: cfg}), "flux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := solar.NewFetchRequest(coord, "medium", "", []string{tt.attr}, "SUPERSECRETKEY")
			require.NoError(t, err)

			_, err = tt.provider.Fetch(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, solar.ErrTransport)
			assert.NotContains(t, err.Error(), "SUPERSECRETKEY")
			assert.Contains(t, err.Error(), "REDACTED")
		})
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://developer.nrel.gov/api/x.json?api_key=abc&lat=40&key=def")
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "def")
	assert.Contains(t, got, "lat=40")

	plain := errors.New("boom")
	assert.Equal(t, plain, redactURLError(plain))
}

const archiveCSV = "Source,Location ID,City,State,Country,Latitude,Longitude,Time Zone,Elevation\n" +
	"NSRDB,1234567,-,-,-,23.02,72.57,5.5,53\n" +
	"Year,Month,Day,Hour,Minute,GHI,DNI,DHI\n" +
	"2020,1,1,12,0,450,600,120\n"

func TestNSRDBFetch_SendsFullQueryAndParsesCSV(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, archiveCSV)
	})
	p, err := NewNSRDBProvider(NSRDBConfig{
		BaseURL: srv.URL,
		Contact: Contact{
			Email:       "ops@example.com",
			Affiliation: "Example Labs",
			Reason:      "research",
			FullName:    "Ops Team",
		},
		HTTP: testHTTPConfig(srv.Client()),
	})
	require.NoError(t, err)

	coord := solar.Coordinate{Lat: 23.0225, Lon: 72.5714}
	req, err := solar.NewFetchRequest(coord, "2020", "60", []string{"ghi", "dni", "dhi"}, "secret")
	require.NoError(t, err)

	ds, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)

	q := <-rec.queries
	want := url.Values{
		"api_key":      {"secret"},
		"wkt":          {"POINT(72.5714 23.0225)"},
		"names":        {"2020"},
		"interval":     {"60"},
		"attributes":   {"ghi,dni,dhi"},
		"utc":          {"false"},
		"leap_day":     {"false"},
		"email":        {"ops@example.com"},
		"affiliation":  {"Example Labs"},
		"reason":       {"research"},
		"full_name":    {"Ops Team"},
		"mailing_list": {"false"},
	}
	assert.Equal(t, want, q)

	require.Len(t, ds.Monthly, 1)
	jan := ds.Monthly[0]
	assert.Equal(t, 1, jan.Month)
	assert.InDelta(t, 450, jan.Values["ghi"], 1e-9)
	assert.InDelta(t, 600, jan.Values["dni"], 1e-9)
	assert.InDelta(t, 120, jan.Values["dhi"], 1e-9)
	assert.InDelta(t, 450, ds.Annual["ghi"], 1e-9)

	require.Len(t, ds.TimeSeries, 1)
	assert.Equal(t, time.Date(2020, 1, 1, 6, 30, 0, 0, time.UTC), ds.TimeSeries[0].Timestamp)

	meta, ok := ds.RawExtra["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5.5", meta["Time Zone"])
	assert.Equal(t, coord, ds.Coordinate)
}

func TestNSRDBFetch_RejectsUnknownAttribute(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, archiveCSV)
	})
	p, err := NewNSRDBProvider(NSRDBConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})
	require.NoError(t, err)

	req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 23.0225, Lon: 72.5714}, "2020", "60", []string{"ghi", "cloud_type"}, "k")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, solar.ErrInvalidInput)
	assert.Zero(t, rec.hits.Load())
}

func TestNSRDBFetch_RejectsBadIntervalAndYear(t *testing.T) {
	p, err := NewNSRDBProvider(NSRDBConfig{BaseURL: "http://127.0.0.1:0", HTTP: testHTTPConfig(http.DefaultClient)})
	require.NoError(t, err)
	coord := solar.Coordinate{Lat: 23.0225, Lon: 72.5714}

	req, err := solar.NewFetchRequest(coord, "2020", "15", []string{"ghi"}, "k")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, solar.ErrInvalidInput)

	req, err = solar.NewFetchRequest(coord, "20x0", "60", []string{"ghi"}, "k")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, solar.ErrInvalidInput)
}

func TestNewNSRDBProvider_UnknownFormat(t *testing.T) {
	_, err := NewNSRDBProvider(NSRDBConfig{Format: "psm2"})
	assert.Error(t, err)
}

const insightsBody = `{
  "name": "buildings/abc",
  "center": {"latitude": 37.4449, "longitude": -122.1391},
  "imageryQuality": "HIGH",
  "solarPotential": {
    "maxArrayPanelsCount": 64,
    "maxArrayAreaMeters2": 125.6,
    "maxSunshineHoursPerYear": 1802.5,
    "carbonOffsetFactorKgPerMwh": 428.9,
    "monthlyFlux": [
      {"flux": 90, "daylightHours": 300},
      {"flux": 110, "daylightHours": 310},
      {"flux": 150, "daylightHours": 360}
    ],
    "roofSegmentStats": [{"pitchDegrees": 20.5, "azimuthDegrees": 180}]
  }
}`

func TestGoogleSolarFetch(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, insightsBody)
	})
	p := NewGoogleSolarProvider(GoogleSolarConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

	coord := solar.Coordinate{Lat: 37.4419, Lon: -122.1419}
	req, err := solar.NewFetchRequest(coord, "low", "", []string{"flux", "ghi"}, "gkey")
	require.NoError(t, err)

	ds, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)

	q := <-rec.queries
	assert.Equal(t, "gkey", q.Get("key"))
	assert.Equal(t, "37.4419", q.Get("location.latitude"))
	assert.Equal(t, "-122.1419", q.Get("location.longitude"))
	assert.Equal(t, "LOW", q.Get("requiredQuality"))

	assert.InDelta(t, 350, ds.Annual[solar.MetricFlux], 1e-9)
	assert.InDelta(t, 64, ds.Annual[solar.MetricMaxArrayPanels], 1e-9)
	require.Len(t, ds.Monthly, 3)
	assert.NotContains(t, ds.Monthly[0].Values, solar.MetricDaylightHours)
	assert.Contains(t, ds.RawExtra, "roofSegmentStats")
	assert.Contains(t, ds.RawExtra, "center")

	joined := strings.Join(ds.Warnings, "\n")
	assert.Contains(t, joined, `"ghi"`)
	assert.Contains(t, joined, "3 of 12")
}

func TestGoogleSolarFetch_ErrorBodies(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"no building", http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`, solar.ErrNoData},
		{"bad key", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, solar.ErrAuth},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`, solar.ErrAuth},
		{"bad argument", http.StatusBadRequest, `{"error":{"code":400,"message":"Invalid location","status":"INVALID_ARGUMENT"}}`, solar.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			p := NewGoogleSolarProvider(GoogleSolarConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

			req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 1, Lon: 2}, "medium", "", []string{"flux"}, "gkey")
			require.NoError(t, err)
			_, err = p.Fetch(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateKey(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"accepted", http.StatusOK, summaryBody, true},
		{"rejected", http.StatusForbidden, `{}`, false},
		{"accepted but no data", http.StatusOK, `{"outputs": "no data"}`, true},
		{"accepted but rate limited", http.StatusTooManyRequests, ``, true},
		{"upstream down", http.StatusInternalServerError, ``, false},
		{"garbage", http.StatusOK, `not json`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

			assert.Equal(t, tc.want, p.ValidateKey(context.Background(), "k1"))
			q := <-rec.queries
			assert.Equal(t, "40", q.Get("lat"))
			assert.Equal(t, "-105", q.Get("lon"))
		})
	}
}

func TestValidateKey_EmptyKeySkipsUpstreamCall(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, insightsBody)
	})
	p := NewGoogleSolarProvider(GoogleSolarConfig{BaseURL: srv.URL, HTTP: testHTTPConfig(srv.Client())})

	assert.False(t, p.ValidateKey(context.Background(), "  "))
	assert.Zero(t, rec.hits.Load())
	assert.True(t, p.ValidateKey(context.Background(), "gkey"))
}

func TestRateLimiterPacesRequests(t *testing.T) {
	rec, srv := newRecorder(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, summaryBody)
	})
	cfg := testHTTPConfig(srv.Client())
	cfg.RequestsPerSecond = 20
	cfg.Burst = 1
	p := NewNRELProvider(NRELConfig{BaseURL: srv.URL, HTTP: cfg})

	req, err := solar.NewFetchRequest(solar.Coordinate{Lat: 40, Lon: -105}, "low", "", []string{"ghi"}, "k1")
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.Fetch(context.Background(), req)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), rec.hits.Load())
}
