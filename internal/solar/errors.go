package solar

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the pipeline can return.
type ErrorKind string

const (
	KindAuth         ErrorKind = "auth_error"
	KindRateLimited  ErrorKind = "rate_limited"
	KindNoData       ErrorKind = "no_data_for_location"
	KindTransport    ErrorKind = "transport_error"
	KindMalformed    ErrorKind = "malformed_response"
	KindInvalidInput ErrorKind = "invalid_input"
)

// Sentinels for errors.Is. A *FetchError matches the sentinel of its Kind.
var (
	ErrAuth         = errors.New("api key missing, invalid or unauthorized")
	ErrRateLimited  = errors.New("provider is throttling requests")
	ErrNoData       = errors.New("provider has no data for this location")
	ErrTransport    = errors.New("could not reach provider")
	ErrMalformed    = errors.New("provider response did not match the expected schema")
	ErrInvalidInput = errors.New("invalid input")
)

var kindSentinels = map[ErrorKind]error{
	KindAuth:         ErrAuth,
	KindRateLimited:  ErrRateLimited,
	KindNoData:       ErrNoData,
	KindTransport:    ErrTransport,
	KindMalformed:    ErrMalformed,
	KindInvalidInput: ErrInvalidInput,
}

// FetchError is the single error type returned by providers, normalizers and
// the calculator.
type FetchError struct {
	Kind       ErrorKind
	Provider   Source
	StatusCode int
	RetryAfter string
	Detail     string
	Cause      error
}

func (e *FetchError) Error() string {
	var msg string
	switch e.Kind {
	case KindAuth:
		msg = "authentication failed: " + ErrAuth.Error()
	case KindRateLimited:
		msg = "rate limited by provider"
		if e.RetryAfter != "" {
			msg += "; retry after " + e.RetryAfter
		}
	case KindNoData:
		msg = "no data for location: " + ErrNoData.Error()
	case KindTransport:
		msg = "transport error: " + ErrTransport.Error()
	case KindMalformed:
		msg = "malformed response: " + ErrMalformed.Error()
	case KindInvalidInput:
		msg = "invalid input"
	default:
		msg = "provider error"
	}
	if e.Provider != "" {
		msg = string(e.Provider) + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf returns the ErrorKind of err, or "" when err is not a *FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func NewInvalidInput(detail string) *FetchError {
	return &FetchError{Kind: KindInvalidInput, Detail: detail}
}

func NewMalformed(provider Source, detail string, cause error) *FetchError {
	return &FetchError{Kind: KindMalformed, Provider: provider, Detail: detail, Cause: cause}
}

func NewNoData(provider Source, detail string) *FetchError {
	return &FetchError{Kind: KindNoData, Provider: provider, Detail: detail}
}

func NewTransport(provider Source, cause error) *FetchError {
	return &FetchError{Kind: KindTransport, Provider: provider, Cause: cause}
}
