package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/solar-resource-analyzer/internal/common"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

const defaultGoogleSolarBaseURL = "https://solar.googleapis.com/v1/buildingInsights:findClosest"

var googleProbe = solar.Coordinate{Lat: 37.4419, Lon: -122.1419}

// GoogleSolarConfig configures the building insights provider.
type GoogleSolarConfig struct {
	BaseURL string
	HTTP    HTTPClientConfig
}

// GoogleSolarProvider implements solar.Provider for per-building solar
// potential. Attributes are not sent upstream; they only select which
// monthly series are kept. Unknown attributes are dropped with a warning.
type GoogleSolarProvider struct {
	baseURL  string
	endpoint *endpoint
}

func NewGoogleSolarProvider(cfg GoogleSolarConfig) *GoogleSolarProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGoogleSolarBaseURL
	}
	return &GoogleSolarProvider{
		baseURL:  cfg.BaseURL,
		endpoint: newEndpoint(solar.SourceGoogleSolar, cfg.HTTP),
	}
}

func (p *GoogleSolarProvider) Source() solar.Source {
	return solar.SourceGoogleSolar
}

func (p *GoogleSolarProvider) Capabilities() solar.Capabilities {
	return solar.Capabilities{
		Attributes:        solar.InsightsAttributes,
		DefaultAttributes: solar.InsightsAttributes,
	}
}

func requiredQuality(acc solar.Accuracy) string {
	switch acc {
	case solar.AccuracyLow:
		return "LOW"
	case solar.AccuracyHigh:
		return "HIGH"
	default:
		return "MEDIUM"
	}
}

func (p *GoogleSolarProvider) Fetch(ctx context.Context, req solar.FetchRequest) (*solar.SolarDataset, error) {
	attrs, warnings, err := p.Capabilities().FilterAttributes(solar.SourceGoogleSolar, req.Attributes)
	if err != nil {
		return nil, err
	}
	acc, err := solar.ParseAccuracy(req.AccuracyOrYear)
	if err != nil {
		return nil, err
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", req.APIKey)
		values.Set("location.latitude", formatCoord(req.Coordinate.Lat))
		values.Set("location.longitude", formatCoord(req.Coordinate.Lon))
		values.Set("requiredQuality", requiredQuality(acc))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := p.endpoint.do(ctx, buildRequest, classifyGoogleError)
	if err != nil {
		return nil, err
	}

	ds, err := solar.NormalizeBuildingInsights(body, attrs)
	if err != nil {
		return nil, err
	}
	ds.Coordinate = req.Coordinate
	ds.FetchedAt = time.Now().UTC()
	ds.Warnings = append(warnings, ds.Warnings...)
	return ds, nil
}

func (p *GoogleSolarProvider) ValidateKey(ctx context.Context, apiKey string) bool {
	return validateKey(ctx, p, apiKey, googleProbe, string(solar.AccuracyLow), "")
}

// classifyGoogleError handles the {"error": {code, message, status}} body.
// An invalid key comes back as 400 INVALID_ARGUMENT.
func classifyGoogleError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return nil
	}
	msg := payload.Error.Message
	kind := solar.KindInvalidInput
	switch {
	case status == http.StatusNotFound || payload.Error.Status == "NOT_FOUND":
		kind = solar.KindNoData
	case common.HasAny(msg, "api key"):
		kind = solar.KindAuth
	}
	return &solar.FetchError{Kind: kind, Provider: solar.SourceGoogleSolar, StatusCode: status, Detail: msg}
}
