package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/solar-resource-analyzer/internal/logger"
	"github.com/i474232898/solar-resource-analyzer/internal/metrics"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
	// Timeout bounds one Fetch including retries. Zero means no extra bound.
	Timeout time.Duration
	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// DefaultHTTPClientConfig returns the settings used when none are supplied.
func DefaultHTTPClientConfig(client *http.Client) HTTPClientConfig {
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Timeout: 60 * time.Second,
	}
}

var (
	errServerError   = errors.New("server error")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 64 << 20

type serverError struct {
	status int
	body   []byte
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s: %d", errServerError, e.status)
}

func (e *serverError) Unwrap() error { return errServerError }

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// statusClassifier maps a non-2xx, non-auth, non-429 response to an error.
// Returning nil falls back to the default mapping.
type statusClassifier func(status int, body []byte) error

// endpoint is the resilient transport shared by all providers.
type endpoint struct {
	source  solar.Source
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func newEndpoint(src solar.Source, cfg HTTPClientConfig) *endpoint {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(src),
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &endpoint{
		source:  src,
		httpCfg: cfg,
		circuit: cb,
		limiter: limiter,
	}
}

// do executes the request with pacing, retries, exponential backoff and a
// circuit breaker, and returns the body of a 2xx response. Only transport
// failures and 5xx responses are retried; everything else is classified
// into a *solar.FetchError on first sight.
func (e *endpoint) do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error), classify statusClassifier) ([]byte, error) {
	cfg := e.httpCfg
	if cfg.Client == nil {
		return nil, solar.NewTransport(e.source, errNoHTTPClient)
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, solar.NewTransport(e.source, errInvalidConfig)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := logger.WithProvider(string(e.source))
	var attempt int

	for {
		if err := ctx.Err(); err != nil {
			return nil, solar.NewTransport(e.source, err)
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, solar.NewTransport(e.source, err)
			}
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, solar.NewInvalidInput(err.Error())
		}

		start := time.Now()
		result, err := e.circuit.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, redactURLError(execErr)
			}
			defer resp.Body.Close()

			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if readErr != nil {
				return nil, readErr
			}
			if resp.StatusCode >= 500 {
				return nil, &serverError{status: resp.StatusCode, body: body}
			}
			// 4xx responses are answers, not outages; they do not trip the breaker.
			return &rawResponse{status: resp.StatusCode, header: resp.Header, body: body}, nil
		})

		fields := logrus.Fields{
			"path":     req.URL.Path,
			"attempt":  attempt + 1,
			"duration": time.Since(start),
		}

		if err == nil {
			raw, ok := result.(*rawResponse)
			if !ok {
				return nil, solar.NewTransport(e.source, fmt.Errorf("unexpected result type from circuit breaker"))
			}
			metrics.ProviderHTTPResponses.WithLabelValues(string(e.source), strconv.Itoa(raw.status)).Inc()
			fields["status"] = raw.status
			log.WithFields(fields).Debug("provider response")
			return e.classify(raw, classify)
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.WithFields(fields).Warn("circuit breaker rejected request")
			return nil, solar.NewTransport(e.source, fmt.Errorf("%w: %v", errCircuitOpen, err))
		}

		status := 0
		var se *serverError
		if errors.As(err, &se) {
			status = se.status
			metrics.ProviderHTTPResponses.WithLabelValues(string(e.source), strconv.Itoa(status)).Inc()
			fields["status"] = status
		}
		log.WithFields(fields).WithError(err).Warn("provider request failed")

		if attempt >= cfg.Backoff.MaxRetries {
			fe := solar.NewTransport(e.source, err)
			fe.StatusCode = status
			return nil, fe
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, solar.NewTransport(e.source, ctx.Err())
		case <-timer.C:
		}

		attempt++
	}
}

func (e *endpoint) classify(raw *rawResponse, classify statusClassifier) ([]byte, error) {
	switch {
	case raw.status >= 200 && raw.status < 300:
		return raw.body, nil
	case raw.status == http.StatusUnauthorized || raw.status == http.StatusForbidden:
		fe := &solar.FetchError{Kind: solar.KindAuth, Provider: e.source, StatusCode: raw.status}
		if snippet := bodySnippet(raw.body); snippet != "" {
			fe.Cause = errors.New(snippet)
		}
		return nil, fe
	case raw.status == http.StatusTooManyRequests:
		return nil, &solar.FetchError{
			Kind:       solar.KindRateLimited,
			Provider:   e.source,
			StatusCode: raw.status,
			RetryAfter: raw.header.Get("Retry-After"),
		}
	}

	if classify != nil {
		if err := classify(raw.status, raw.body); err != nil {
			return nil, err
		}
	}

	kind := solar.KindTransport
	switch raw.status {
	case http.StatusNotFound:
		kind = solar.KindNoData
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = solar.KindInvalidInput
	}
	return nil, &solar.FetchError{
		Kind:       kind,
		Provider:   e.source,
		StatusCode: raw.status,
		Detail:     bodySnippet(raw.body),
	}
}

// bodySnippet trims an upstream body for inclusion in error messages.
// credentialParams are query parameters that carry API keys.
var credentialParams = []string{"api_key", "key"}

// redactURLError rewrites the URL inside a *url.Error so that API keys sent
// in the query string never reach logs or callers.
func redactURLError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: redactURL(ue.URL), Err: ue.Err}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	q := u.Query()
	for _, k := range credentialParams {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.Redacted()
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

// probe reports whether a fetch outcome proves the key was accepted.
func probe(err error) bool {
	if err == nil {
		return true
	}
	switch solar.KindOf(err) {
	case solar.KindNoData, solar.KindRateLimited:
		return true
	}
	return false
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
