package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/solar-resource-analyzer/internal/common"
	"github.com/i474232898/solar-resource-analyzer/internal/logger"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

// ErrNotConfigured is returned when no geocoding key was supplied.
var ErrNotConfigured = errors.New("geocoder api key not configured")

// lookupFunc matches geocoder.Geocoding.
type lookupFunc func(geocoder.Address) (geocoder.Location, error)

// keySlot guards geocoder.ApiKey, which the library reads from a package
// variable. Waiters give up when their context ends.
var keySlot = make(chan struct{}, 1)

// Client resolves free-text addresses to coordinates.
type Client struct {
	apiKey string
	lookup lookupFunc
}

func New(apiKey string) *Client {
	return &Client{apiKey: apiKey, lookup: geocoder.Geocoding}
}

// Geocode returns the coordinate of address. ok is false when the address
// matched nothing; err is reserved for bad input and upstream failures.
func (c *Client) Geocode(ctx context.Context, address string) (solar.Coordinate, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return solar.Coordinate{}, false, solar.NewInvalidInput("address is required")
	}
	if c.apiKey == "" {
		return solar.Coordinate{}, false, ErrNotConfigured
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		select {
		case keySlot <- struct{}{}:
		case <-ctx.Done():
			return
		}
		geocoder.ApiKey = c.apiKey
		loc, err := c.lookup(geocoder.Address{Street: address})
		<-keySlot
		done <- result{loc: loc, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return solar.Coordinate{}, false, ctx.Err()
	case r = <-done:
	}

	if r.err != nil {
		if common.HasAny(r.err.Error(), "zero_results", "no results", "not found") {
			return solar.Coordinate{}, false, nil
		}
		logger.Log.WithError(r.err).WithField("address", address).Warn("geocoding failed")
		return solar.Coordinate{}, false, r.err
	}

	coord := solar.Coordinate{Lat: r.loc.Latitude, Lon: r.loc.Longitude}
	if err := coord.Validate(); err != nil {
		return solar.Coordinate{}, false, err
	}
	return coord, true, nil
}
