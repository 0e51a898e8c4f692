package solar

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FetchRequest carries everything a provider needs for one fetch.
// AccuracyOrYear is an Accuracy for summary/insight providers and a
// four-digit year (or "tmy") for the archive provider.
type FetchRequest struct {
	Coordinate     Coordinate
	AccuracyOrYear string
	Interval       string
	Attributes     []string `validate:"min=1,dive,required"`
	APIKey         string
}

// NewFetchRequest builds and validates a request. Interval membership is
// checked later by the provider that receives it.
func NewFetchRequest(coord Coordinate, accuracyOrYear, interval string, attributes []string, apiKey string) (FetchRequest, error) {
	if err := coord.Validate(); err != nil {
		return FetchRequest{}, err
	}

	attrs := make([]string, 0, len(attributes))
	for _, a := range attributes {
		attrs = append(attrs, strings.ToLower(strings.TrimSpace(a)))
	}

	req := FetchRequest{
		Coordinate:     coord,
		AccuracyOrYear: strings.TrimSpace(accuracyOrYear),
		Interval:       strings.TrimSpace(interval),
		Attributes:     attrs,
		APIKey:         strings.TrimSpace(apiKey),
	}
	if err := validate.Struct(req); err != nil {
		return FetchRequest{}, NewInvalidInput(err.Error())
	}
	return req, nil
}

// Capabilities describes the vocabulary a provider accepts.
type Capabilities struct {
	Attributes        []string `json:"attributes"`
	Intervals         []string `json:"intervals"`
	DefaultInterval   string   `json:"default_interval"`
	DefaultAttributes []string `json:"default_attributes"`
	// RejectUnknown selects the attribute policy: reject the whole request
	// (true) or drop unknown attributes with a warning (false).
	RejectUnknown bool `json:"reject_unknown"`
}

// FilterAttributes applies the provider's attribute policy and returns the
// accepted attributes plus warnings for dropped ones.
func (c Capabilities) FilterAttributes(src Source, attrs []string) ([]string, []string, error) {
	var (
		kept     []string
		warnings []string
	)
	for _, a := range attrs {
		if slices.Contains(c.Attributes, a) {
			if !slices.Contains(kept, a) {
				kept = append(kept, a)
			}
			continue
		}
		if c.RejectUnknown {
			return nil, nil, &FetchError{
				Kind:     KindInvalidInput,
				Provider: src,
				Detail:   fmt.Sprintf("attribute %q not supported (supported: %s)", a, strings.Join(c.Attributes, ", ")),
			}
		}
		warnings = append(warnings, fmt.Sprintf("attribute %q not supported by %s; dropped", a, src))
	}
	if len(kept) == 0 {
		return nil, nil, &FetchError{
			Kind:     KindInvalidInput,
			Provider: src,
			Detail:   fmt.Sprintf("no supported attributes requested (supported: %s)", strings.Join(c.Attributes, ", ")),
		}
	}
	return kept, warnings, nil
}

// ResolveInterval returns the requested interval, or the default when empty,
// failing when it is not in the provider's enumerated set.
func (c Capabilities) ResolveInterval(src Source, interval string) (string, error) {
	if interval == "" {
		return c.DefaultInterval, nil
	}
	if len(c.Intervals) > 0 && !slices.Contains(c.Intervals, interval) {
		return "", &FetchError{
			Kind:     KindInvalidInput,
			Provider: src,
			Detail:   fmt.Sprintf("interval %q not supported (supported: %s)", interval, strings.Join(c.Intervals, ", ")),
		}
	}
	return interval, nil
}

// Provider abstracts one solar data source.
type Provider interface {
	Source() Source
	Capabilities() Capabilities
	Fetch(ctx context.Context, req FetchRequest) (*SolarDataset, error)
	// ValidateKey probes a known-good coordinate. It never returns an error:
	// any failure reports the key as invalid or unreachable.
	ValidateKey(ctx context.Context, apiKey string) bool
}

// SessionStore is the contract the in-memory session store satisfies.
type SessionStore interface {
	Save(s Session)
	Get(id string) (Session, error)
	Delete(id string)
	Sweep() int
}
