package solar

import (
	"errors"
	"maps"
	"time"
)

// DefaultCoordinate is used when a fetch omits the location.
var DefaultCoordinate = Coordinate{Lat: 37.7749, Lon: -122.4194}

// DefaultAreaM2 is used when a fetch omits the panel area.
const DefaultAreaM2 = 50.0

// DefaultComparePair is the provider pair compared when both are fetched.
var DefaultComparePair = [2]Source{SourceNREL, SourceGoogleSolar}

// SessionParams are the options of the last fetch in a session.
type SessionParams struct {
	AreaM2      float64   `json:"area_m2"`
	Accuracy    Accuracy  `json:"accuracy"`
	Year        string    `json:"year,omitempty"`
	Interval    string    `json:"interval,omitempty"`
	Attributes  []string  `json:"attributes,omitempty"`
	ComparePair [2]Source `json:"compare_pair"`
}

// SourceError is the serializable form of a fetch failure.
type SourceError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ProviderResult is the outcome of one provider fetch. Exactly one of
// Dataset and Err is set.
type ProviderResult struct {
	Source  Source
	Dataset *SolarDataset
	Err     error
}

// Session is one user's analysis state. Values are never mutated in place:
// ApplyResults returns a new Session.
type Session struct {
	ID         string                   `json:"id"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	Coordinate *Coordinate              `json:"coordinate,omitempty"`
	Params     SessionParams            `json:"params"`
	Datasets   map[Source]*SolarDataset `json:"datasets"`
	Errors     map[Source]SourceError   `json:"errors"`
	Comparison *ComparisonResult        `json:"comparison,omitempty"`
}

// NewSession returns an empty session.
func NewSession(id string, now time.Time) Session {
	return Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Params: SessionParams{
			AreaM2:      DefaultAreaM2,
			Accuracy:    AccuracyMedium,
			ComparePair: DefaultComparePair,
		},
		Datasets: map[Source]*SolarDataset{},
		Errors:   map[Source]SourceError{},
	}
}

// ApplyResults folds fetch results into a copy of s. Moving to a new
// coordinate discards datasets fetched for the old one. The comparison is
// rebuilt whenever a dataset in the compare pair changed.
func ApplyResults(s Session, coord Coordinate, params SessionParams, results []ProviderResult, now time.Time) Session {
	next := s
	next.UpdatedAt = now
	next.Datasets = maps.Clone(s.Datasets)
	next.Errors = maps.Clone(s.Errors)
	if next.Datasets == nil {
		next.Datasets = map[Source]*SolarDataset{}
	}
	if next.Errors == nil {
		next.Errors = map[Source]SourceError{}
	}

	if s.Coordinate == nil || *s.Coordinate != coord {
		clear(next.Datasets)
		clear(next.Errors)
		next.Comparison = nil
	}
	c := coord
	next.Coordinate = &c

	if params.ComparePair == [2]Source{} {
		params.ComparePair = DefaultComparePair
	}
	pairChanged := params.ComparePair != s.Params.ComparePair
	next.Params = params

	for _, r := range results {
		if r.Err != nil {
			delete(next.Datasets, r.Source)
			next.Errors[r.Source] = errorView(r.Err)
		} else {
			next.Datasets[r.Source] = r.Dataset
			delete(next.Errors, r.Source)
		}
		if r.Source == params.ComparePair[0] || r.Source == params.ComparePair[1] {
			pairChanged = true
		}
	}

	if pairChanged {
		a := next.Datasets[params.ComparePair[0]]
		b := next.Datasets[params.ComparePair[1]]
		if a == nil && b == nil {
			next.Comparison = nil
		} else {
			cmp := Compare(a, b)
			next.Comparison = &cmp
		}
	}
	return next
}

// Report builds the downloadable bundle for a session.
func (s Session) Report(now time.Time) Report {
	rep := Report{
		GeneratedAt: now,
		Parameters: ReportParameters{
			AreaM2:     s.Params.AreaM2,
			Accuracy:   s.Params.Accuracy,
			Year:       s.Params.Year,
			Interval:   s.Params.Interval,
			Attributes: s.Params.Attributes,
		},
		Datasets:   maps.Clone(s.Datasets),
		Errors:     maps.Clone(s.Errors),
		Comparison: s.Comparison,
	}
	if s.Coordinate != nil {
		rep.Coordinate = *s.Coordinate
	}
	return rep
}

func errorView(err error) SourceError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return SourceError{Kind: fe.Kind, Message: fe.Error()}
	}
	return SourceError{Kind: KindTransport, Message: err.Error()}
}
