package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

const defaultNSRDBBaseURL = "https://developer.nrel.gov/api/nsrdb/v2/solar/psm3-download.csv"

// Contact identifies the caller to the archive API, which requires it on
// every download.
type Contact struct {
	Email       string
	Affiliation string
	Reason      string
	FullName    string
}

// NSRDBConfig configures the time-series archive provider.
type NSRDBConfig struct {
	BaseURL string
	Contact Contact
	LeapDay bool
	// UTC requests timestamps in UTC instead of local standard time.
	UTC bool
	// Format names the CSV layout version, see solar.ArchiveFormats.
	Format string
	HTTP   HTTPClientConfig
}

// NSRDBProvider implements solar.Provider for the PSM v3 time-series
// archive. Unknown attributes reject the whole request, mirroring the
// upstream behaviour.
type NSRDBProvider struct {
	baseURL  string
	contact  Contact
	leapDay  bool
	utc      bool
	format   solar.ArchiveFormat
	endpoint *endpoint
}

func NewNSRDBProvider(cfg NSRDBConfig) (*NSRDBProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNSRDBBaseURL
	}
	format, err := solar.LookupArchiveFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return &NSRDBProvider{
		baseURL:  cfg.BaseURL,
		contact:  cfg.Contact,
		leapDay:  cfg.LeapDay,
		utc:      cfg.UTC,
		format:   format,
		endpoint: newEndpoint(solar.SourceNSRDB, cfg.HTTP),
	}, nil
}

func (p *NSRDBProvider) Source() solar.Source {
	return solar.SourceNSRDB
}

func (p *NSRDBProvider) Capabilities() solar.Capabilities {
	return solar.Capabilities{
		Attributes:        solar.ArchiveAttributes(),
		Intervals:         []string{"30", "60"},
		DefaultInterval:   "60",
		DefaultAttributes: []string{"ghi", "dni", "dhi"},
		RejectUnknown:     true,
	}
}

func validYear(s string) bool {
	if s == "tmy" {
		return true
	}
	if len(s) != 4 {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func (p *NSRDBProvider) Fetch(ctx context.Context, req solar.FetchRequest) (*solar.SolarDataset, error) {
	caps := p.Capabilities()
	attrs, _, err := caps.FilterAttributes(solar.SourceNSRDB, req.Attributes)
	if err != nil {
		return nil, err
	}
	interval, err := caps.ResolveInterval(solar.SourceNSRDB, req.Interval)
	if err != nil {
		return nil, err
	}
	if !validYear(req.AccuracyOrYear) {
		return nil, &solar.FetchError{
			Kind:     solar.KindInvalidInput,
			Provider: solar.SourceNSRDB,
			Detail:   fmt.Sprintf("year %q must be a four-digit year or \"tmy\"", req.AccuracyOrYear),
		}
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("api_key", req.APIKey)
		values.Set("wkt", fmt.Sprintf("POINT(%s %s)", formatCoord(req.Coordinate.Lon), formatCoord(req.Coordinate.Lat)))
		values.Set("names", req.AccuracyOrYear)
		values.Set("interval", interval)
		values.Set("attributes", strings.Join(attrs, ","))
		values.Set("utc", strconv.FormatBool(p.utc))
		values.Set("leap_day", strconv.FormatBool(p.leapDay))
		values.Set("email", p.contact.Email)
		values.Set("affiliation", p.contact.Affiliation)
		values.Set("reason", p.contact.Reason)
		values.Set("full_name", p.contact.FullName)
		values.Set("mailing_list", "false")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := p.endpoint.do(ctx, buildRequest, errorsPayloadClassifier(solar.SourceNSRDB))
	if err != nil {
		return nil, err
	}

	ds, err := solar.NormalizeArchiveCSV(bytes.NewReader(body), p.format, attrs, p.utc)
	if err != nil {
		return nil, err
	}
	ds.Coordinate = req.Coordinate
	ds.FetchedAt = time.Now().UTC()
	return ds, nil
}

func (p *NSRDBProvider) ValidateKey(ctx context.Context, apiKey string) bool {
	return validateKey(ctx, p, apiKey, nrelProbe, solar.DefaultArchiveYear, "60")
}
