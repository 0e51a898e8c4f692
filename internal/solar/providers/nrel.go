package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/solar-resource-analyzer/internal/common"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

const defaultNRELBaseURL = "https://developer.nrel.gov/api/solar/solar_resource/v1.json"

// nrelProbe is a location the summary dataset is known to cover.
var nrelProbe = solar.Coordinate{Lat: 40.0, Lon: -105.0}

// NRELConfig configures the summary provider.
type NRELConfig struct {
	BaseURL   string
	GapPolicy solar.MonthlyGapPolicy
	HTTP      HTTPClientConfig
}

// NRELProvider implements solar.Provider for the NREL annual/monthly
// solar resource summary.
//
// Attribute policy: unknown attributes are dropped and reported on
// SolarDataset.Warnings; a request left with none is InvalidInput.
type NRELProvider struct {
	baseURL   string
	gapPolicy solar.MonthlyGapPolicy
	endpoint  *endpoint
}

func NewNRELProvider(cfg NRELConfig) *NRELProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNRELBaseURL
	}
	if cfg.GapPolicy == "" {
		cfg.GapPolicy = solar.GapAbsent
	}
	return &NRELProvider{
		baseURL:   cfg.BaseURL,
		gapPolicy: cfg.GapPolicy,
		endpoint:  newEndpoint(solar.SourceNREL, cfg.HTTP),
	}
}

func (p *NRELProvider) Source() solar.Source {
	return solar.SourceNREL
}

func (p *NRELProvider) Capabilities() solar.Capabilities {
	return solar.Capabilities{
		Attributes:        []string{"ghi", "dni", "lat_tilt"},
		Intervals:         []string{"60", "120"},
		DefaultInterval:   "",
		DefaultAttributes: []string{"ghi", "dni"},
	}
}

// datasetFor maps the accuracy level to the dataset vintage and interval.
func (p *NRELProvider) datasetFor(acc solar.Accuracy) (names, interval string) {
	if acc == solar.AccuracyHigh {
		return "tmy-2021", "60"
	}
	return "tmy-2020", "120"
}

func (p *NRELProvider) Fetch(ctx context.Context, req solar.FetchRequest) (*solar.SolarDataset, error) {
	caps := p.Capabilities()
	attrs, warnings, err := caps.FilterAttributes(solar.SourceNREL, req.Attributes)
	if err != nil {
		return nil, err
	}
	acc, err := solar.ParseAccuracy(req.AccuracyOrYear)
	if err != nil {
		return nil, err
	}
	names, interval := p.datasetFor(acc)
	if req.Interval != "" {
		if interval, err = caps.ResolveInterval(solar.SourceNREL, req.Interval); err != nil {
			return nil, err
		}
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("api_key", req.APIKey)
		values.Set("lat", formatCoord(req.Coordinate.Lat))
		values.Set("lon", formatCoord(req.Coordinate.Lon))
		values.Set("names", names)
		values.Set("interval", interval)
		values.Set("attributes", strings.Join(attrs, ","))
		values.Set("utc", "false")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := p.endpoint.do(ctx, buildRequest, errorsPayloadClassifier(solar.SourceNREL))
	if err != nil {
		return nil, err
	}

	ds, err := solar.NormalizeSummary(body, attrs, p.gapPolicy)
	if err != nil {
		return nil, err
	}
	ds.Coordinate = req.Coordinate
	ds.FetchedAt = time.Now().UTC()
	ds.Warnings = append(warnings, ds.Warnings...)
	return ds, nil
}

func (p *NRELProvider) ValidateKey(ctx context.Context, apiKey string) bool {
	return validateKey(ctx, p, apiKey, nrelProbe, string(solar.AccuracyMedium), "")
}

// errorsPayloadClassifier reads the {"errors": [...]} body the NREL family
// of APIs returns with 4xx responses.
func errorsPayloadClassifier(src solar.Source) statusClassifier {
	return func(status int, body []byte) error {
		var payload struct {
			Errors []string `json:"errors"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || len(payload.Errors) == 0 {
			return nil
		}
		joined := strings.Join(payload.Errors, "; ")
		kind := solar.KindInvalidInput
		switch {
		case common.HasAny(joined, "no data", "not available", "outside"):
			kind = solar.KindNoData
		case common.HasAny(joined, "api key", "api_key"):
			kind = solar.KindAuth
		}
		return &solar.FetchError{Kind: kind, Provider: src, StatusCode: status, Detail: joined}
	}
}

// validateKey runs a minimal probe fetch. It recovers from anything the
// provider does wrong and reports false.
func validateKey(ctx context.Context, p solar.Provider, apiKey string, at solar.Coordinate, accuracyOrYear, interval string) (valid bool) {
	if strings.TrimSpace(apiKey) == "" {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			valid = false
		}
	}()

	req, err := solar.NewFetchRequest(at, accuracyOrYear, interval, p.Capabilities().DefaultAttributes, apiKey)
	if err != nil {
		return false
	}
	_, err = p.Fetch(ctx, req)
	return probe(err)
}
