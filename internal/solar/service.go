package solar

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/solar-resource-analyzer/internal/logger"
	"github.com/i474232898/solar-resource-analyzer/internal/metrics"
)

// DefaultArchiveYear is requested from the archive provider when a fetch
// names no year.
const DefaultArchiveYear = "2020"

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// FetchOptions are the caller-supplied inputs of one session fetch.
type FetchOptions struct {
	Coordinate *Coordinate
	Params     SessionParams
	// Keys selects the providers to fetch: one entry per source.
	Keys map[Source]string
}

// Service orchestrates provider fetches and session state.
type Service struct {
	store     SessionStore
	providers map[Source]Provider
	now       func() time.Time

	// commitMu serializes the read-apply-save step of FetchIntoSession.
	commitMu sync.Mutex
}

// NewService creates a new Service.
func NewService(store SessionStore, providers []Provider) *Service {
	byName := make(map[Source]Provider, len(providers))
	for _, p := range providers {
		byName[p.Source()] = p
	}
	return &Service{
		store:     store,
		providers: byName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Provider returns the configured provider for src.
func (s *Service) Provider(src Source) (Provider, bool) {
	p, ok := s.providers[src]
	return p, ok
}

// Sources lists the configured providers in canonical order.
func (s *Service) Sources() []Source {
	out := make([]Source, 0, len(s.providers))
	for _, src := range Sources {
		if _, ok := s.providers[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

// CreateSession stores and returns a fresh session.
func (s *Service) CreateSession() Session {
	sess := NewSession(uuid.NewString(), s.now())
	s.store.Save(sess)
	logger.Log.WithField("session", sess.ID).Debug("session created")
	return sess
}

// GetSession delegates to the underlying store.
func (s *Service) GetSession(id string) (Session, error) {
	return s.store.Get(id)
}

// FetchIntoSession fetches every source in opts.Keys in parallel and folds
// the results into the session. Per-source failures are recorded on the
// session, not returned; the error is reserved for bad input and unknown
// sessions.
func (s *Service) FetchIntoSession(ctx context.Context, id string, opts FetchOptions) (Session, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Session{}, err
	}
	if len(opts.Keys) == 0 {
		return Session{}, NewInvalidInput("at least one source key is required")
	}

	coord := DefaultCoordinate
	if opts.Coordinate != nil {
		coord = *opts.Coordinate
	}
	if err := coord.Validate(); err != nil {
		return Session{}, err
	}
	params := withDefaults(opts.Params)
	if params.AreaM2 <= 0 {
		return Session{}, NewInvalidInput(fmt.Sprintf("panel area must be positive, got %g", params.AreaM2))
	}

	results := s.FetchAll(ctx, coord, params, opts.Keys)

	// Fold into the latest stored state: another fetch on the same session
	// may have committed while this one was in flight.
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	sess, err = s.store.Get(id)
	if err != nil {
		return Session{}, err
	}
	next := ApplyResults(sess, coord, params, results, s.now())
	s.store.Save(next)
	return next, nil
}

// FetchAll fetches every source in keys concurrently. Results come back in
// canonical source order and each carries its own error.
func (s *Service) FetchAll(ctx context.Context, coord Coordinate, params SessionParams, keys map[Source]string) []ProviderResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]ProviderResult, 0, len(keys))
	)

	logger.Log.WithFields(logrus.Fields{
		"coordinate": coord.String(),
		"sources":    len(keys),
	}).Debug("fetching solar data")

	for src, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := s.fetchOne(ctx, src, coord, params, key)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b ProviderResult) int {
		return slices.Index(Sources, a.Source) - slices.Index(Sources, b.Source)
	})
	return results
}

func (s *Service) fetchOne(ctx context.Context, src Source, coord Coordinate, params SessionParams, key string) ProviderResult {
	start := time.Now()
	res := ProviderResult{Source: src}

	p, ok := s.providers[src]
	if !ok {
		res.Err = &FetchError{Kind: KindInvalidInput, Provider: src, Detail: "provider not configured"}
		metrics.RecordFetch(string(src), string(KindInvalidInput), time.Since(start))
		return res
	}

	req, err := requestFor(p, coord, params, key)
	if err == nil {
		res.Dataset, err = p.Fetch(ctx, req)
	}

	entry := logger.WithProvider(string(src)).WithField("duration", time.Since(start))
	if err != nil {
		res.Dataset = nil
		res.Err = err
		entry.WithError(err).Warn("fetch failed")
		metrics.RecordFetch(string(src), string(KindOf(err)), time.Since(start))
		return res
	}
	entry.WithField("warnings", len(res.Dataset.Warnings)).Info("fetch succeeded")
	metrics.RecordFetch(string(src), "", time.Since(start))
	return res
}

// requestFor builds the provider-specific request from session params.
// The archive provider takes a year and the session interval; the others
// take the accuracy level and derive their own interval.
func requestFor(p Provider, coord Coordinate, params SessionParams, key string) (FetchRequest, error) {
	caps := p.Capabilities()
	accuracyOrYear := string(params.Accuracy)
	interval := ""
	if p.Source() == SourceNSRDB {
		accuracyOrYear = params.Year
		if accuracyOrYear == "" {
			accuracyOrYear = DefaultArchiveYear
		}
		interval = params.Interval
	}
	return NewFetchRequest(coord, accuracyOrYear, interval, attributesFor(caps, params.Attributes), key)
}

// attributesFor falls back to the provider defaults when the caller asked
// for nothing, or when a lenient provider would otherwise keep nothing.
func attributesFor(caps Capabilities, requested []string) []string {
	if len(requested) == 0 {
		return caps.DefaultAttributes
	}
	if caps.RejectUnknown {
		return requested
	}
	for _, a := range requested {
		if slices.Contains(caps.Attributes, a) {
			return requested
		}
	}
	return caps.DefaultAttributes
}

func withDefaults(p SessionParams) SessionParams {
	if p.AreaM2 == 0 {
		p.AreaM2 = DefaultAreaM2
	}
	if p.Accuracy == "" {
		p.Accuracy = AccuracyMedium
	}
	if p.ComparePair == [2]Source{} {
		p.ComparePair = DefaultComparePair
	}
	return p
}

// ValidateKey probes the provider with apiKey.
func (s *Service) ValidateKey(ctx context.Context, src Source, apiKey string) (bool, error) {
	p, ok := s.providers[src]
	if !ok {
		return false, &FetchError{Kind: KindInvalidInput, Provider: src, Detail: "provider not configured"}
	}
	valid := p.ValidateKey(ctx, apiKey)
	metrics.RecordKeyValidation(string(src), valid)
	return valid, nil
}

// SourceMetrics is the per-source summary shown next to a dataset.
type SourceMetrics struct {
	Source          Source             `json:"source"`
	Derived         DerivedMetrics     `json:"derived"`
	DailyIrradiance float64            `json:"daily_irradiance_kwh_m2"`
	BasisMetric     string             `json:"basis_metric"`
	Summary         map[string]float64 `json:"summary"`
}

// Metrics derives production metrics for one dataset in the session.
// A zero AreaM2 in panel uses the session's area.
func (s *Service) Metrics(id string, src Source, panel PanelParams) (SourceMetrics, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return SourceMetrics{}, err
	}
	ds, ok := sess.Datasets[src]
	if !ok {
		return SourceMetrics{}, NewNoData(src, "no dataset fetched for this source")
	}
	if panel.AreaM2 == 0 {
		panel.AreaM2 = sess.Params.AreaM2
	}

	derived, err := Derive(ds, panel)
	if err != nil {
		return SourceMetrics{}, err
	}
	daily, basis, err := DailyIrradiance(ds)
	if err != nil {
		return SourceMetrics{}, err
	}

	summary := make(map[string]float64, len(ds.Annual))
	for k, v := range ds.Annual {
		summary[k] = v
	}
	return SourceMetrics{
		Source:          src,
		Derived:         derived,
		DailyIrradiance: daily,
		BasisMetric:     basis,
		Summary:         summary,
	}, nil
}
